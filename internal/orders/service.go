package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/internal/catalog"
	"github.com/angelmondragon/campusstore-backend/internal/coupons"
	"github.com/angelmondragon/campusstore-backend/internal/inventory"
	"github.com/angelmondragon/campusstore-backend/internal/payments"
	"github.com/angelmondragon/campusstore-backend/internal/reservations"
	"github.com/angelmondragon/campusstore-backend/internal/saga"
	pkgdb "github.com/angelmondragon/campusstore-backend/pkg/db"
	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
	"github.com/angelmondragon/campusstore-backend/pkg/gateway"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
	"github.com/angelmondragon/campusstore-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/campusstore-backend/pkg/pagination"
)

const (
	defaultCurrency = "inr"
	defaultGuardTTL = 2 * time.Minute

	orderNumberConstraint = "ux_orders_order_number"
	orderNumberAttempts   = 3

	reasonOrderCancelled = "order_cancelled"
	reasonReturn         = "return"
)

var (
	errStatusMoved      = errors.New("order status changed concurrently")
	errOrderNumberTaken = errors.New("order number already taken")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// confirmationGuard drops concurrent confirmations of the same gateway payment.
type confirmationGuard interface {
	ClaimPaymentConfirmation(ctx context.Context, gatewayPaymentID string, ttl time.Duration) (bool, error)
	ReleasePaymentConfirmation(ctx context.Context, gatewayPaymentID string) error
}

type statusNotifier interface {
	OrderStatusChanged(ctx context.Context, change payloads.OrderStatusChangedEvent, actor uuid.UUID)
}

type fulfillmentRecorder interface {
	saga.Observer
	IncConfirmation(result string)
}

// Service drives orders through their lifecycle.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error)
	// VerifyPayment confirms a pending order. Repeated calls for the same
	// gateway payment return the current order unchanged.
	VerifyPayment(ctx context.Context, input VerifyPaymentInput) (*OrderView, error)
	AdvanceStatus(ctx context.Context, input AdvanceInput) (*OrderView, error)
	CancelOrder(ctx context.Context, input CancelInput) (*OrderView, error)
	RequestReturn(ctx context.Context, input ReturnInput) (*ReturnView, error)
	DecideReturn(ctx context.Context, input DecideReturnInput) (*ReturnView, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderView, error)
	ListOrders(ctx context.Context, input ListInput) (*OrderList, error)
}

type ServiceParams struct {
	Repo         Repository
	Tx           txRunner
	Catalog      catalog.Reader
	Coupons      coupons.Service
	Inventory    inventory.Service
	Reservations reservations.Service
	Payments     payments.Service
	Gateway      gateway.Gateway
	Guard        confirmationGuard
	Notifier     statusNotifier
	Metrics      fulfillmentRecorder
	Logger       *logger.Logger
	Currency     string
	GuardTTL     time.Duration
	Now          func() time.Time
}

type service struct {
	repo         Repository
	tx           txRunner
	catalog      catalog.Reader
	coupons      coupons.Service
	inventory    inventory.Service
	reservations reservations.Service
	payments     payments.Service
	gateway      gateway.Gateway
	guard        confirmationGuard
	notifier     statusNotifier
	metrics      fulfillmentRecorder
	logg         *logger.Logger
	currency     string
	guardTTL     time.Duration
	now          func() time.Time
	number       func(at time.Time) string
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Catalog == nil:
		return nil, fmt.Errorf("catalog reader required")
	case params.Coupons == nil:
		return nil, fmt.Errorf("coupons service required")
	case params.Inventory == nil:
		return nil, fmt.Errorf("inventory service required")
	case params.Reservations == nil:
		return nil, fmt.Errorf("reservations service required")
	case params.Payments == nil:
		return nil, fmt.Errorf("payments service required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case params.Guard == nil:
		return nil, fmt.Errorf("confirmation guard required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	guardTTL := params.GuardTTL
	if guardTTL <= 0 {
		guardTTL = defaultGuardTTL
	}
	metrics := params.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:         params.Repo,
		tx:           params.Tx,
		catalog:      params.Catalog,
		coupons:      params.Coupons,
		inventory:    params.Inventory,
		reservations: params.Reservations,
		payments:     params.Payments,
		gateway:      params.Gateway,
		guard:        params.Guard,
		notifier:     params.Notifier,
		metrics:      metrics,
		logg:         params.Logger,
		currency:     currency,
		guardTTL:     guardTTL,
		now:          now,
		number:       func(at time.Time) string { return orderNumber(uuid.New(), at) },
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	actor := input.Actor.ID
	if actor == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	lines, err := normalizeLines(input.Items)
	if err != nil {
		return nil, err
	}
	if err := input.Shipping.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}
	if input.Billing != nil {
		if err := input.Billing.Validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing address")
		}
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = s.currency
	}

	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.catalog.Products(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := &models.Order{
		ID:              uuid.New(),
		CustomerID:      actor,
		Status:          enums.OrderStatusPending,
		Currency:        currency,
		ShippingAddress: input.Shipping,
		BillingAddress:  input.Billing,
		Version:         1,
		CreatedAt:       now,
	}
	order.OrderNumber = s.number(now)
	for _, line := range lines {
		product := products[line.ProductID]
		if !strings.EqualFold(product.Currency, currency) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is priced in another currency").
				WithDetails(map[string]any{"product_id": product.ID.String(), "currency": product.Currency})
		}
		order.Items = append(order.Items, models.OrderItem{
			ProductID:      product.ID,
			ProductName:    product.Name,
			Variant:        line.Variant,
			Quantity:       line.Quantity,
			UnitPriceCents: product.PriceCents,
		})
		order.SubtotalCents += int64(line.Quantity) * product.PriceCents
	}

	var redeem string
	if code := coupons.Normalize(input.CouponCode); code != "" {
		quote, err := s.coupons.Quote(ctx, code, order.SubtotalCents, now)
		if err != nil {
			return nil, err
		}
		if quote.Applied {
			order.DiscountCents = quote.DiscountCents
			order.CouponCode = &quote.Code
			redeem = quote.Code
		}
	}
	order.TotalCents = order.SubtotalCents - order.DiscountCents
	if order.TotalCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be greater than zero")
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	tx := saga.New("create_order", s.logg, saga.WithObserver(s.metrics))

	for _, line := range lines {
		key := reservations.Key{ProductID: line.ProductID, OrderID: order.ID, Variant: line.Variant}
		reserve := reservations.ReserveInput{
			ProductID: line.ProductID,
			OrderID:   order.ID,
			Variant:   line.Variant,
			Quantity:  line.Quantity,
			Actor:     actor,
		}
		err := tx.Do(ctx, "reserve "+line.ProductID.String(),
			func(ctx context.Context) error {
				_, err := s.reservations.Reserve(ctx, reserve)
				return err
			},
			func(ctx context.Context) error {
				return s.reservations.ReleaseItem(ctx, key, actor)
			},
		)
		if err != nil {
			return nil, tx.Abort(ctx, err)
		}
	}

	intent, err := s.gateway.CreateIntent(ctx, order.TotalCents, currency, order.ID.String())
	if err != nil {
		return nil, tx.Abort(ctx, err)
	}

	for attempt := 1; ; attempt++ {
		err = s.persistOrder(ctx, order, intent, redeem, actor, now)
		if !errors.Is(err, errOrderNumberTaken) || attempt == orderNumberAttempts {
			break
		}
		s.logg.Warn(s.logg.WithField(ctx, "order_number", order.OrderNumber), "order number collision, regenerating")
		order.OrderNumber = s.number(now)
	}
	if errors.Is(err, errOrderNumberTaken) {
		err = pkgerrors.Wrap(pkgerrors.CodeConflict, err, "could not allocate an order number")
	}
	if err != nil {
		return nil, tx.Abort(ctx, err)
	}
	tx.Commit()

	s.logg.Info(ctx, "order created")
	s.notify(ctx, order, "", enums.OrderStatusPending, "", actor, now)
	return &CreateOrderResult{Order: newOrderView(*order), PaymentIntent: intent}, nil
}

// persistOrder writes the order, its pending payment, the coupon redemption
// and the first timeline entry in one transaction.
func (s *service) persistOrder(ctx context.Context, order *models.Order, intent gateway.Intent, redeem string, actor uuid.UUID, now time.Time) error {
	return s.tx.WithTx(ctx, func(db *gorm.DB) error {
		repo := s.repo.WithTx(db)
		if err := repo.Create(ctx, order); err != nil {
			if pkgdb.IsUniqueViolation(err, orderNumberConstraint) {
				return errOrderNumberTaken
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if _, err := s.payments.CreatePending(ctx, db, payments.CreatePaymentInput{
			OrderID:        order.ID,
			AmountCents:    order.TotalCents,
			Currency:       order.Currency,
			GatewayOrderID: intent.GatewayOrderID,
		}); err != nil {
			return err
		}
		if redeem != "" {
			if err := s.coupons.Redeem(ctx, db, redeem); err != nil {
				return err
			}
		}
		return s.appendTimeline(ctx, repo, s.entry(order.ID, enums.OrderStatusPending, "order placed", actor, now))
	})
}

func (s *service) VerifyPayment(ctx context.Context, input VerifyPaymentInput) (*OrderView, error) {
	gatewayPaymentID := strings.TrimSpace(input.GatewayPaymentID)
	if input.OrderID == uuid.Nil || gatewayPaymentID == "" || strings.TrimSpace(input.GatewayOrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id, gateway order id and gateway payment id required")
	}
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if err := authorize(order, input.Actor); err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	payment, err := s.payments.GetByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if payment.GatewayOrderID != input.GatewayOrderID ||
		!s.gateway.VerifySignature(input.GatewayOrderID, gatewayPaymentID, input.Signature) {
		s.metrics.IncConfirmation("invalid_signature")
		s.logg.Warn(ctx, "payment signature rejected")
		return nil, pkgerrors.InvalidSignature()
	}
	if payment.GatewayPaymentID != nil && *payment.GatewayPaymentID == gatewayPaymentID {
		s.metrics.IncConfirmation("duplicate")
		return s.detail(ctx, order)
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.InvalidTransition(order.Status.String(), enums.OrderStatusConfirmed.String())
	}
	if order.Status != enums.OrderStatusPending {
		s.metrics.IncConfirmation("duplicate")
		return s.detail(ctx, order)
	}

	guarded := true
	claimed, err := s.guard.ClaimPaymentConfirmation(ctx, gatewayPaymentID, s.guardTTL)
	if err != nil {
		guarded = false
		s.logg.Error(ctx, "payment confirmation guard unavailable", err)
	} else if !claimed {
		s.metrics.IncConfirmation("duplicate")
		return s.reload(ctx, order.ID)
	}

	var snapshots []*inventory.Snapshot
	confirmed := false
	err = s.tx.WithTx(ctx, func(db *gorm.DB) error {
		repo := s.repo.WithTx(db)
		ok, err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusPending, enums.OrderStatusConfirmed, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm order")
		}
		if !ok {
			return nil
		}
		if _, err := s.payments.MarkCompleted(ctx, db, payment.ID, gatewayPaymentID); err != nil {
			return err
		}
		snapshots, err = s.reservations.Convert(ctx, db, order.ID, input.Actor.ID)
		if err != nil {
			return err
		}
		confirmed = true
		return s.appendTimeline(ctx, repo, s.entry(order.ID, enums.OrderStatusConfirmed, "payment verified", input.Actor.ID, s.now()))
	})
	if err != nil {
		if guarded {
			if relErr := s.guard.ReleasePaymentConfirmation(ctx, gatewayPaymentID); relErr != nil {
				s.logg.Error(ctx, "failed to release payment confirmation guard", relErr)
			}
		}
		s.metrics.IncConfirmation("failed")
		return nil, err
	}
	if !confirmed {
		s.metrics.IncConfirmation("duplicate")
		return s.reload(ctx, order.ID)
	}

	s.inventory.Announce(ctx, snapshots...)
	s.metrics.IncConfirmation("confirmed")
	s.logg.Info(ctx, "payment verified")
	s.notify(ctx, order, enums.OrderStatusPending, enums.OrderStatusConfirmed, "", input.Actor.ID, s.now())
	return s.reload(ctx, order.ID)
}

func (s *service) AdvanceStatus(ctx context.Context, input AdvanceInput) (*OrderView, error) {
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	target := input.Status
	if !advanceTargets[target] {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be processing, shipped or delivered").
			WithDetails(map[string]any{"status": target})
	}
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	from := order.Status
	if !CanTransition(from, target) {
		return nil, pkgerrors.InvalidTransition(from.String(), target.String())
	}

	now := s.now()
	updates := map[string]any{}
	switch target {
	case enums.OrderStatusShipped:
		if input.Tracking == nil ||
			strings.TrimSpace(input.Tracking.Carrier) == "" ||
			strings.TrimSpace(input.Tracking.TrackingNumber) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking carrier and number required to ship")
		}
		updates["tracking"] = *input.Tracking
	case enums.OrderStatusDelivered:
		updates["delivered_at"] = now
	}

	note := strings.TrimSpace(input.Note)
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	err = s.tx.WithTx(ctx, func(db *gorm.DB) error {
		repo := s.repo.WithTx(db)
		if err := s.transition(ctx, repo, order.ID, from, target, updates); err != nil {
			return err
		}
		entries := []models.OrderTimelineEntry{s.entry(order.ID, target, note, input.Actor.ID, now)}
		if target == enums.OrderStatusDelivered {
			if err := s.transition(ctx, repo, order.ID, enums.OrderStatusDelivered, enums.OrderStatusCompleted,
				map[string]any{"completed_at": now}); err != nil {
				return err
			}
			// completed sorts after delivered
			entries = append(entries, s.entry(order.ID, enums.OrderStatusCompleted, "completed on delivery", input.Actor.ID, now.Add(time.Microsecond)))
		}
		return s.appendTimeline(ctx, repo, entries...)
	})
	if err != nil {
		return nil, s.raceError(ctx, err, order.ID, target)
	}

	s.notify(ctx, order, from, target, note, input.Actor.ID, now)
	if target == enums.OrderStatusDelivered {
		s.notify(ctx, order, enums.OrderStatusDelivered, enums.OrderStatusCompleted, "", input.Actor.ID, now)
	}
	return s.reload(ctx, order.ID)
}

func (s *service) CancelOrder(ctx context.Context, input CancelInput) (*OrderView, error) {
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if err := authorize(order, input.Actor); err != nil {
		return nil, err
	}
	from := order.Status
	if !IsCancellable(from) {
		return nil, pkgerrors.InvalidTransition(from.String(), enums.OrderStatusCancelled.String())
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "cancelled on request"
	}
	actor := input.Actor.ID
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	tx := saga.New("cancel_order", s.logg, saga.WithObserver(s.metrics))

	if from == enums.OrderStatusPending {
		rows, err := s.reservations.ListByOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.Status != enums.ReservationActive {
				continue
			}
			key := reservations.Key{ProductID: row.ProductID, OrderID: row.OrderID, Variant: row.Variant}
			reserve := reservations.ReserveInput{
				ProductID: row.ProductID,
				OrderID:   row.OrderID,
				Variant:   row.Variant,
				Quantity:  row.Quantity,
				Actor:     actor,
			}
			err := tx.Do(ctx, "release "+row.ProductID.String(),
				func(ctx context.Context) error {
					return s.reservations.ReleaseItem(ctx, key, actor)
				},
				func(ctx context.Context) error {
					_, err := s.reservations.Reserve(ctx, reserve)
					return err
				},
			)
			if err != nil {
				return nil, tx.Abort(ctx, err)
			}
		}
	} else if holdsDeductedStock(from) {
		for _, item := range order.Items {
			change := inventory.StockChangeInput{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Reason:    reasonOrderCancelled,
				Reference: order.OrderNumber,
				Actor:     actor,
			}
			if err := s.restock(ctx, tx, change); err != nil {
				return nil, tx.Abort(ctx, err)
			}
		}
	}

	now := s.now()
	err = s.tx.WithTx(ctx, func(db *gorm.DB) error {
		repo := s.repo.WithTx(db)
		if err := s.transition(ctx, repo, order.ID, from, enums.OrderStatusCancelled, map[string]any{
			"cancel_reason": reason,
			"cancelled_by":  actor,
			"cancelled_at":  now,
		}); err != nil {
			return err
		}
		return s.appendTimeline(ctx, repo, s.entry(order.ID, enums.OrderStatusCancelled, reason, actor, now))
	})
	if err != nil {
		return nil, tx.Abort(ctx, s.raceError(ctx, err, order.ID, enums.OrderStatusCancelled))
	}
	tx.Commit()

	s.logg.Info(ctx, "order cancelled")
	s.notify(ctx, order, from, enums.OrderStatusCancelled, reason, actor, now)
	s.refundCancelled(ctx, order.ID, reason, actor)
	return s.reload(ctx, order.ID)
}

// refundCancelled returns captured money. The cancellation is already
// committed, so a failure is left on the refund row for an admin to retry.
func (s *service) refundCancelled(ctx context.Context, orderID uuid.UUID, reason string, actor uuid.UUID) {
	payment, err := s.payments.GetByOrder(ctx, orderID)
	if err != nil {
		if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			s.logg.Error(ctx, "failed to load payment for cancelled order", err)
		}
		return
	}
	if !payment.Status.IsRefundable() || payment.RefundableCents <= 0 {
		return
	}
	_, err = s.payments.InitiateRefund(ctx, payments.RefundInput{
		PaymentID:   payment.ID,
		AmountCents: payment.RefundableCents,
		Reason:      "order cancelled: " + reason,
		Actor:       actor,
	})
	if err != nil {
		s.logg.Error(ctx, "refund for cancelled order failed", err)
	}
}

func (s *service) RequestReturn(ctx context.Context, input ReturnInput) (*ReturnView, error) {
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != input.Actor.ID {
		return nil, pkgerrors.OrderNotFound(order.ID.String())
	}
	if order.Status != enums.OrderStatusCompleted {
		return nil, pkgerrors.InvalidTransition(order.Status.String(), "return_requested")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return reason required")
	}
	lines, err := normalizeLines(input.Items)
	if err != nil {
		return nil, err
	}

	var request *models.ReturnRequest
	err = s.tx.WithTx(ctx, func(db *gorm.DB) error {
		repo := s.repo.WithTx(db)
		// Rewriting the completed status locks the order row, so concurrent
		// requests see each other's returns before checking quantities.
		if err := s.transition(ctx, repo, order.ID, enums.OrderStatusCompleted, enums.OrderStatusCompleted, nil); err != nil {
			return err
		}
		existing, err := repo.ListReturns(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list returns")
		}
		request, err = buildReturn(order, lines, existing, reason, input.Actor.ID)
		if err != nil {
			return err
		}
		if err := repo.CreateReturn(ctx, request); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create return request")
		}
		note := fmt.Sprintf("return %s requested: %s", request.ID, reason)
		return s.appendTimeline(ctx, repo, s.entry(order.ID, order.Status, note, input.Actor.ID, s.now()))
	})
	if err != nil {
		return nil, s.raceError(ctx, err, order.ID, "return_requested")
	}
	view := newReturnView(*request)
	return &view, nil
}

// buildReturn checks each line against what was purchased minus what pending
// and approved returns already hold.
func buildReturn(order *models.Order, lines []LineItemInput, existing []models.ReturnRequest, reason string, actor uuid.UUID) (*models.ReturnRequest, error) {
	held := map[lineKey]int{}
	for _, rr := range existing {
		if rr.Status == enums.ReturnStatusRejected {
			continue
		}
		for _, item := range rr.Items {
			held[lineKey{item.ProductID, item.Variant}] += item.Quantity
		}
	}
	purchased := map[lineKey]models.OrderItem{}
	for _, item := range order.Items {
		purchased[lineKey{item.ProductID, item.Variant}] = item
	}

	request := &models.ReturnRequest{
		OrderID:     order.ID,
		Status:      enums.ReturnStatusPending,
		Reason:      reason,
		RequestedBy: actor,
	}
	for _, line := range lines {
		key := lineKey{line.ProductID, line.Variant}
		item, ok := purchased[key]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item was not part of the order").
				WithDetails(map[string]any{"product_id": line.ProductID.String(), "variant": line.Variant})
		}
		returnable := item.Quantity - held[key]
		if line.Quantity > returnable {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "return quantity exceeds purchased quantity").
				WithDetails(map[string]any{
					"product_id": line.ProductID.String(),
					"requested":  line.Quantity,
					"returnable": returnable,
				})
		}
		request.Items = append(request.Items, models.ReturnItem{
			ProductID: line.ProductID,
			Variant:   line.Variant,
			Quantity:  line.Quantity,
		})
		request.AmountCents += int64(line.Quantity) * item.UnitPriceCents
	}
	return request, nil
}

func (s *service) DecideReturn(ctx context.Context, input DecideReturnInput) (*ReturnView, error) {
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	request, err := s.repo.FindReturn(ctx, order.ID, input.ReturnID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "return request not found").
				WithDetails(map[string]any{"return_id": input.ReturnID.String()})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load return request")
	}
	if request.Status != enums.ReturnStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "return request already decided").
			WithDetails(map[string]any{"status": request.Status})
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	actor := input.Actor.ID
	note := strings.TrimSpace(input.Note)
	now := s.now()
	decided := map[string]any{"decided_by": actor, "decided_at": now}
	if note != "" {
		decided["decision_note"] = note
	}

	if !input.Approve {
		err := s.tx.WithTx(ctx, func(db *gorm.DB) error {
			repo := s.repo.WithTx(db)
			if err := s.decide(ctx, repo, request.ID, enums.ReturnStatusPending, enums.ReturnStatusRejected, decided); err != nil {
				return err
			}
			return s.appendTimeline(ctx, repo, s.entry(order.ID, order.Status, fmt.Sprintf("return %s rejected", request.ID), actor, now))
		})
		if err != nil {
			return nil, err
		}
		return s.returnView(ctx, order.ID, request.ID)
	}

	tx := saga.New("approve_return", s.logg, saga.WithObserver(s.metrics))
	for _, item := range request.Items {
		change := inventory.StockChangeInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Reason:    reasonReturn,
			Reference: request.ID.String(),
			Actor:     actor,
		}
		if err := s.restock(ctx, tx, change); err != nil {
			return nil, tx.Abort(ctx, err)
		}
	}

	err = tx.Do(ctx, "approve return",
		func(ctx context.Context) error {
			return s.tx.WithTx(ctx, func(db *gorm.DB) error {
				return s.decide(ctx, s.repo.WithTx(db), request.ID, enums.ReturnStatusPending, enums.ReturnStatusApproved, decided)
			})
		},
		func(ctx context.Context) error {
			return s.tx.WithTx(ctx, func(db *gorm.DB) error {
				return s.decide(ctx, s.repo.WithTx(db), request.ID, enums.ReturnStatusApproved, enums.ReturnStatusPending,
					map[string]any{"decided_by": nil, "decided_at": nil, "decision_note": nil})
			})
		},
	)
	if err != nil {
		return nil, tx.Abort(ctx, err)
	}

	payment, err := s.payments.GetByOrder(ctx, order.ID)
	if err != nil {
		return nil, tx.Abort(ctx, err)
	}
	amount := request.AmountCents
	if payment.RefundableCents < amount {
		amount = payment.RefundableCents
	}
	var refundID *uuid.UUID
	if amount > 0 {
		refund, err := s.payments.InitiateRefund(ctx, payments.RefundInput{
			PaymentID:   payment.ID,
			AmountCents: amount,
			Reason:      "return: " + request.Reason,
			Actor:       actor,
		})
		if err != nil {
			return nil, tx.Abort(ctx, err)
		}
		refundID = &refund.ID
	} else {
		s.logg.Warn(ctx, "return approved with nothing left to refund")
	}
	tx.Commit()

	err = s.tx.WithTx(ctx, func(db *gorm.DB) error {
		repo := s.repo.WithTx(db)
		if refundID != nil {
			if _, err := repo.TransitionReturn(ctx, request.ID, enums.ReturnStatusApproved, enums.ReturnStatusApproved,
				map[string]any{"refund_id": *refundID}); err != nil {
				return err
			}
		}
		return s.appendTimeline(ctx, repo, s.entry(order.ID, order.Status, fmt.Sprintf("return %s approved", request.ID), actor, now))
	})
	if err != nil {
		s.logg.Error(ctx, "failed to record approved return", err)
	}
	return s.returnView(ctx, order.ID, request.ID)
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderView, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorize(order, actor); err != nil {
		return nil, err
	}
	return s.detail(ctx, order)
}

func (s *service) ListOrders(ctx context.Context, input ListInput) (*OrderList, error) {
	if input.Actor.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	filter := ListFilter{Status: input.Status}
	if !input.Actor.IsAdmin() {
		customer := input.Actor.ID
		filter.CustomerID = &customer
	}
	if input.Status != nil && !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}
	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(input.Limit)
	rows, err := s.repo.List(ctx, filter, cursor, pagination.LimitWithBuffer(input.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	list := &OrderList{Orders: make([]OrderView, 0, len(rows))}
	if len(rows) > limit {
		last := rows[limit-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		rows = rows[:limit]
	}
	for _, row := range rows {
		list.Orders = append(list.Orders, *newOrderView(row))
	}
	return list, nil
}

// restock adds stock back and records its removal as the compensation.
func (s *service) restock(ctx context.Context, tx *saga.Transaction, change inventory.StockChangeInput) error {
	return tx.Do(ctx, "restock "+change.ProductID.String(),
		func(ctx context.Context) error {
			_, err := s.inventory.AddStock(ctx, change)
			return err
		},
		func(ctx context.Context) error {
			undo := change
			undo.Reason = change.Reason + "_reverted"
			_, err := s.inventory.RemoveStock(ctx, undo)
			return err
		},
	)
}

func (s *service) transition(ctx context.Context, repo Repository, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) error {
	ok, err := repo.TransitionStatus(ctx, orderID, from, to, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !ok {
		return errStatusMoved
	}
	return nil
}

func (s *service) decide(ctx context.Context, repo Repository, returnID uuid.UUID, from, to enums.ReturnStatus, updates map[string]any) error {
	ok, err := repo.TransitionReturn(ctx, returnID, from, to, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update return request")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "return request already decided")
	}
	return nil
}

// raceError turns a lost status race into the transition error the caller would
// have seen had it read the newer status.
func (s *service) raceError(ctx context.Context, err error, orderID uuid.UUID, to enums.OrderStatus) error {
	if !errors.Is(err, errStatusMoved) {
		return err
	}
	current, loadErr := s.loadOrder(ctx, orderID)
	if loadErr != nil {
		return loadErr
	}
	return pkgerrors.InvalidTransition(current.Status.String(), to.String())
}

func (s *service) appendTimeline(ctx context.Context, repo Repository, entries ...models.OrderTimelineEntry) error {
	if err := repo.AppendTimeline(ctx, entries...); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order timeline")
	}
	return nil
}

func (s *service) entry(orderID uuid.UUID, status enums.OrderStatus, note string, actor uuid.UUID, at time.Time) models.OrderTimelineEntry {
	return models.OrderTimelineEntry{
		OrderID:   orderID,
		Status:    status,
		Note:      note,
		ActorID:   actor,
		CreatedAt: at,
	}
}

func (s *service) notify(ctx context.Context, order *models.Order, from, to enums.OrderStatus, note string, actor uuid.UUID, at time.Time) {
	if s.notifier == nil {
		return
	}
	s.notifier.OrderStatusChanged(ctx, payloads.OrderStatusChangedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		From:        from,
		Status:      to,
		Note:        note,
		ChangedAt:   at,
	}, actor)
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.OrderNotFound(orderID.String())
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) reload(ctx context.Context, orderID uuid.UUID) (*OrderView, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, order)
}

// detail assembles the full order view from its sub-records.
func (s *service) detail(ctx context.Context, order *models.Order) (*OrderView, error) {
	view := newOrderView(*order)

	timeline, err := s.repo.ListTimeline(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order timeline")
	}
	for _, e := range timeline {
		view.Timeline = append(view.Timeline, TimelineView{Status: e.Status, Note: e.Note, ActorID: e.ActorID, CreatedAt: e.CreatedAt})
	}

	payment, err := s.payments.GetByOrder(ctx, order.ID)
	switch {
	case err == nil:
		view.Payment = payment
	case !pkgerrors.Is(err, pkgerrors.CodeNotFound):
		return nil, err
	}

	returns, err := s.repo.ListReturns(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load returns")
	}
	for _, rr := range returns {
		view.Returns = append(view.Returns, newReturnView(rr))
	}

	holds, err := s.reservations.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	for _, h := range holds {
		view.Reservations = append(view.Reservations, ReservationView{
			ProductID: h.ProductID,
			Variant:   h.Variant,
			Quantity:  h.Quantity,
			Status:    h.Status,
			ExpiresAt: h.ExpiresAt,
		})
	}
	return view, nil
}

func (s *service) returnView(ctx context.Context, orderID, returnID uuid.UUID) (*ReturnView, error) {
	row, err := s.repo.FindReturn(ctx, orderID, returnID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load return request")
	}
	view := newReturnView(*row)
	return &view, nil
}

// authorize hides orders of other customers behind a not-found error.
func authorize(order *models.Order, actor Actor) error {
	if actor.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	if actor.IsAdmin() || order.CustomerID == actor.ID {
		return nil
	}
	return pkgerrors.OrderNotFound(order.ID.String())
}

type lineKey struct {
	productID uuid.UUID
	variant   string
}

// normalizeLines validates line items and merges repeats of the same product and variant.
func normalizeLines(items []LineItemInput) ([]LineItemInput, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item required")
	}
	merged := map[lineKey]int{}
	var order []lineKey
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero").
				WithDetails(map[string]any{"product_id": item.ProductID.String()})
		}
		key := lineKey{item.ProductID, strings.TrimSpace(item.Variant)}
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] += item.Quantity
	}
	lines := make([]LineItemInput, 0, len(order))
	for _, key := range order {
		lines = append(lines, LineItemInput{ProductID: key.productID, Variant: key.variant, Quantity: merged[key]})
	}
	return lines, nil
}

// orderNumber renders ORD-YYYYMMDD-XXXXXXXX from the leading hex of id.
func orderNumber(id uuid.UUID, at time.Time) string {
	hex := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format("20060102"), hex[:8])
}

type nopRecorder struct{}

func (nopRecorder) RolledBack(string, int, bool) {}
func (nopRecorder) IncConfirmation(string)       {}

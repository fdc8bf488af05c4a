package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/db"
	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
	"github.com/angelmondragon/campusstore-backend/pkg/gateway"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
)

const maxStatusAttempts = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type refundRecorder interface {
	IncRefund(status string)
}

// Service owns payment records and the refund sub-ledger.
type Service interface {
	CreatePending(ctx context.Context, tx *gorm.DB, input CreatePaymentInput) (*models.Payment, error)
	// MarkCompleted captures a pending payment inside the caller's transaction.
	MarkCompleted(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, gatewayPaymentID string) (*models.Payment, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*PaymentView, error)
	InitiateRefund(ctx context.Context, input RefundInput) (*RefundView, error)
	CompleteRefund(ctx context.Context, refundID, actor uuid.UUID) (*RefundView, error)
	ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]RefundView, error)
}

type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Gateway gateway.Gateway
	Logger  *logger.Logger
	Metrics refundRecorder
	Now     func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	gateway gateway.Gateway
	logg    *logger.Logger
	metrics refundRecorder
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		gateway: params.Gateway,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

func (s *service) CreatePending(ctx context.Context, tx *gorm.DB, input CreatePaymentInput) (*models.Payment, error) {
	if input.OrderID == uuid.Nil || strings.TrimSpace(input.GatewayOrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and gateway order id required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be greater than zero")
	}
	payment := &models.Payment{
		OrderID:        input.OrderID,
		AmountCents:    input.AmountCents,
		Currency:       strings.ToLower(strings.TrimSpace(input.Currency)),
		Status:         enums.PaymentStatusPending,
		GatewayOrderID: input.GatewayOrderID,
		Version:        1,
	}
	if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment already exists for order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	return payment, nil
}

func (s *service) MarkCompleted(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, gatewayPaymentID string) (*models.Payment, error) {
	gatewayPaymentID = strings.TrimSpace(gatewayPaymentID)
	if gatewayPaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway payment id required")
	}
	repo := s.repo.WithTx(tx)
	ok, err := repo.MarkCompleted(ctx, paymentID, gatewayPaymentID, s.now())
	if err != nil {
		if db.IsUniqueViolation(err, "ux_payments_gateway_payment") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment already processed")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete payment")
	}
	payment, err := repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, s.notFound(err, "payment not found")
	}
	if ok {
		return payment, nil
	}
	if payment.GatewayPaymentID != nil && *payment.GatewayPaymentID == gatewayPaymentID {
		return payment, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not awaiting capture").
		WithDetails(map[string]any{"status": payment.Status})
}

func (s *service) GetByOrder(ctx context.Context, orderID uuid.UUID) (*PaymentView, error) {
	payment, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, s.notFound(err, "payment not found")
	}
	refunds, err := s.repo.ListRefunds(ctx, payment.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
	}
	return newPaymentView(*payment, refunds), nil
}

func (s *service) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]RefundView, error) {
	rows, err := s.repo.ListRefunds(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
	}
	views := make([]RefundView, 0, len(rows))
	for _, row := range rows {
		views = append(views, newRefundView(row))
	}
	return views, nil
}

func (s *service) InitiateRefund(ctx context.Context, input RefundInput) (*RefundView, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be greater than zero")
	}
	if input.Actor == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	if input.PaymentID == uuid.Nil && input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id or order id required")
	}

	var (
		refund  *models.Refund
		payment *models.Payment
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		payment, err = s.loadPayment(ctx, repo, input)
		if err != nil {
			return err
		}
		if !payment.Status.IsRefundable() || payment.GatewayPaymentID == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment has not been captured").
				WithDetails(map[string]any{"status": payment.Status})
		}
		refunds, err := repo.ListRefunds(ctx, payment.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
		}
		refundable := RefundableAmount(*payment, refunds)
		if input.AmountCents > refundable {
			return pkgerrors.RefundExceedsAmount(input.AmountCents, refundable)
		}

		refund = &models.Refund{
			PaymentID:   payment.ID,
			AmountCents: input.AmountCents,
			Reason:      strings.TrimSpace(input.Reason),
			Status:      enums.RefundStatusPending,
			ActorID:     input.Actor,
		}
		if err := repo.CreateRefund(ctx, refund); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund")
		}
		status := StatusFor(*payment, append(refunds, *refund))
		ok, err := repo.UpdateVersioned(ctx, payment.ID, payment.Version, map[string]any{"status": status})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment changed concurrently, retry the refund")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(enums.RefundStatusPending)

	gatewayRefundID, gwErr := s.gateway.Refund(ctx, payment.GatewayOrderID, input.AmountCents)
	if gwErr != nil {
		return nil, s.failRefund(ctx, refund, gwErr)
	}
	if err := s.repo.SetGatewayRefundID(ctx, refund.ID, gatewayRefundID); err != nil {
		// The provider accepted the refund; the row stays pending and can be completed later.
		s.logg.Error(ctx, "record gateway refund id", err)
	} else {
		refund.GatewayRefundID = &gatewayRefundID
	}
	view := newRefundView(*refund)
	return &view, nil
}

func (s *service) CompleteRefund(ctx context.Context, refundID, actor uuid.UUID) (*RefundView, error) {
	if refundID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund id required")
	}
	if actor == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}

	var (
		refund    *models.Refund
		completed bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()
		ok, err := repo.TransitionRefund(ctx, refundID, enums.RefundStatusPending, map[string]any{
			"status":       enums.RefundStatusCompleted,
			"completed_at": now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete refund")
		}
		refund, err = repo.FindRefund(ctx, refundID)
		if err != nil {
			return s.notFound(err, "refund not found")
		}
		if !ok {
			if refund.Status == enums.RefundStatusCompleted {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund is not pending").
				WithDetails(map[string]any{"status": refund.Status})
		}
		completed = true
		return s.recompute(ctx, repo, refund.PaymentID)
	})
	if err != nil {
		return nil, err
	}
	if completed {
		s.record(enums.RefundStatusCompleted)
	}
	view := newRefundView(*refund)
	return &view, nil
}

// failRefund marks a refund the gateway rejected and frees its share of the bound.
func (s *service) failRefund(ctx context.Context, refund *models.Refund, cause error) error {
	reason := cause.Error()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.TransitionRefund(ctx, refund.ID, enums.RefundStatusPending, map[string]any{
			"status":         enums.RefundStatusFailed,
			"failure_reason": reason,
		}); err != nil {
			return err
		}
		return s.recompute(ctx, repo, refund.PaymentID)
	})
	if err != nil {
		s.logg.Error(ctx, "record failed refund", err)
	}
	refund.Status = enums.RefundStatusFailed
	refund.FailureReason = &reason
	s.record(enums.RefundStatusFailed)

	return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "payment gateway refund failed").
		WithDetails(map[string]any{"refund_id": refund.ID.String()})
}

// recompute rewrites the payment status from its refund rows.
func (s *service) recompute(ctx context.Context, repo Repository, paymentID uuid.UUID) error {
	for attempt := 0; attempt < maxStatusAttempts; attempt++ {
		payment, err := repo.FindByID(ctx, paymentID)
		if err != nil {
			return s.notFound(err, "payment not found")
		}
		refunds, err := repo.ListRefunds(ctx, paymentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
		}
		status := StatusFor(*payment, refunds)
		if status == payment.Status {
			return nil
		}
		ok, err := repo.UpdateVersioned(ctx, paymentID, payment.Version, map[string]any{"status": status})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		if ok {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "payment changed concurrently")
}

func (s *service) loadPayment(ctx context.Context, repo Repository, input RefundInput) (*models.Payment, error) {
	var (
		payment *models.Payment
		err     error
	)
	if input.PaymentID != uuid.Nil {
		payment, err = repo.FindByID(ctx, input.PaymentID)
	} else {
		payment, err = repo.FindByOrderID(ctx, input.OrderID)
	}
	if err != nil {
		return nil, s.notFound(err, "payment not found")
	}
	return payment, nil
}

func (s *service) notFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func (s *service) record(status enums.RefundStatus) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncRefund(status.String())
}

package orders

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusstore-backend/api/middleware"
	"github.com/angelmondragon/campusstore-backend/api/responses"
	"github.com/angelmondragon/campusstore-backend/api/validators"
	internalorders "github.com/angelmondragon/campusstore-backend/internal/orders"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
	"github.com/angelmondragon/campusstore-backend/pkg/pagination"
	"github.com/angelmondragon/campusstore-backend/pkg/types"
)

type lineItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Variant   string    `json:"variant"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
}

type createOrderRequest struct {
	Items           []lineItemRequest `json:"items" validate:"required,min=1,dive"`
	ShippingAddress types.Address     `json:"shipping_address"`
	BillingAddress  *types.Address    `json:"billing_address"`
	CouponCode      string            `json:"coupon_code"`
	Currency        string            `json:"currency"`
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" validate:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" validate:"required"`
	Signature        string `json:"signature" validate:"required"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type returnRequest struct {
	Items  []lineItemRequest `json:"items" validate:"required,min=1,dive"`
	Reason string            `json:"reason" validate:"required,max=500"`
}

type statusRequest struct {
	Status   enums.OrderStatus `json:"status" validate:"required"`
	Tracking *types.Tracking   `json:"tracking"`
	Note     string            `json:"note" validate:"max=500"`
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Note     string `json:"note" validate:"max=500"`
}

// Create places an order for the calling customer.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := currentActor(w, r, logg)
		if !ok {
			return
		}
		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateOrder(r.Context(), internalorders.CreateOrderInput{
			Actor:      actor,
			Items:      lineItems(req.Items),
			Shipping:   req.ShippingAddress,
			Billing:    req.BillingAddress,
			CouponCode: validators.CleanText(req.CouponCode, 64),
			Currency:   strings.ToLower(strings.TrimSpace(req.Currency)),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// List pages through orders. Customers only ever see their own.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := currentActor(w, r, logg)
		if !ok {
			return
		}
		limit, err := validators.QueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internalorders.ListInput{
			Actor:  actor,
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			input.Status = &status
		}

		list, err := svc.ListOrders(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, orderID, ok := actorAndOrder(w, r, logg)
		if !ok {
			return
		}
		view, err := svc.GetOrder(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func VerifyPayment(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, orderID, ok := actorAndOrder(w, r, logg)
		if !ok {
			return
		}
		var req verifyPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.VerifyPayment(r.Context(), internalorders.VerifyPaymentInput{
			OrderID:          orderID,
			GatewayOrderID:   strings.TrimSpace(req.GatewayOrderID),
			GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
			Signature:        strings.TrimSpace(req.Signature),
			Actor:            actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, orderID, ok := actorAndOrder(w, r, logg)
		if !ok {
			return
		}
		var req cancelRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.CancelOrder(r.Context(), internalorders.CancelInput{
			OrderID: orderID,
			Reason:  validators.CleanText(req.Reason, 500),
			Actor:   actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func RequestReturn(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, orderID, ok := actorAndOrder(w, r, logg)
		if !ok {
			return
		}
		var req returnRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.RequestReturn(r.Context(), internalorders.ReturnInput{
			OrderID: orderID,
			Items:   lineItems(req.Items),
			Reason:  validators.CleanText(req.Reason, 500),
			Actor:   actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

// AdvanceStatus moves an order along processing, shipped and delivered.
func AdvanceStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, orderID, ok := actorAndOrder(w, r, logg)
		if !ok {
			return
		}
		var req statusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.AdvanceStatus(r.Context(), internalorders.AdvanceInput{
			OrderID:  orderID,
			Status:   req.Status,
			Tracking: req.Tracking,
			Note:     validators.CleanText(req.Note, 500),
			Actor:    actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func DecideReturn(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, orderID, ok := actorAndOrder(w, r, logg)
		if !ok {
			return
		}
		returnID, err := validators.URLUUID(r, "returnId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req decisionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.DecideReturn(r.Context(), internalorders.DecideReturnInput{
			OrderID:  orderID,
			ReturnID: returnID,
			Approve:  req.Decision == "approve",
			Note:     validators.CleanText(req.Note, 500),
			Actor:    actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func currentActor(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (internalorders.Actor, bool) {
	id, role, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor missing"))
		return internalorders.Actor{}, false
	}
	return internalorders.Actor{ID: id, Role: role}, true
}

func actorAndOrder(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (internalorders.Actor, uuid.UUID, bool) {
	actor, ok := currentActor(w, r, logg)
	if !ok {
		return actor, uuid.Nil, false
	}
	orderID, err := validators.URLUUID(r, "orderId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return actor, uuid.Nil, false
	}
	return actor, orderID, true
}

func lineItems(items []lineItemRequest) []internalorders.LineItemInput {
	out := make([]internalorders.LineItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, internalorders.LineItemInput{
			ProductID: item.ProductID,
			Variant:   strings.TrimSpace(item.Variant),
			Quantity:  item.Quantity,
		})
	}
	return out
}

package refunds

import (
	"net/http"

	"github.com/angelmondragon/campusstore-backend/api/middleware"
	"github.com/angelmondragon/campusstore-backend/api/responses"
	"github.com/angelmondragon/campusstore-backend/api/validators"
	"github.com/angelmondragon/campusstore-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
)

type initiateRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	Reason      string `json:"reason" validate:"max=500"`
}

// Initiate starts a partial or full refund against the order's captured payment.
func Initiate(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor missing"))
			return
		}
		orderID, err := validators.URLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req initiateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refund, err := svc.InitiateRefund(r.Context(), payments.RefundInput{
			OrderID:     orderID,
			AmountCents: req.AmountCents,
			Reason:      validators.CleanText(req.Reason, 500),
			Actor:       actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, refund)
	}
}

// Complete settles a pending refund once the gateway reports it processed.
func Complete(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor missing"))
			return
		}
		refundID, err := validators.URLUUID(r, "refundId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refund, err := svc.CompleteRefund(r.Context(), refundID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refund)
	}
}

package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/campusstore-backend/api/controllers"
	inventorycontrollers "github.com/angelmondragon/campusstore-backend/api/controllers/inventory"
	ordercontrollers "github.com/angelmondragon/campusstore-backend/api/controllers/orders"
	refundcontrollers "github.com/angelmondragon/campusstore-backend/api/controllers/refunds"
	"github.com/angelmondragon/campusstore-backend/api/middleware"
	"github.com/angelmondragon/campusstore-backend/internal/inventory"
	"github.com/angelmondragon/campusstore-backend/internal/orders"
	"github.com/angelmondragon/campusstore-backend/internal/payments"
	"github.com/angelmondragon/campusstore-backend/internal/reservations"
	"github.com/angelmondragon/campusstore-backend/pkg/config"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
	"github.com/angelmondragon/campusstore-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	idempotencyStore redis.IdempotencyStore,
	ordersSvc orders.Service,
	inventorySvc inventory.Service,
	reservationsSvc reservations.Service,
	paymentsSvc payments.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
	)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/health", func(r chi.Router) {
			r.Get("/live", controllers.HealthLive(cfg))
			r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
				"db":    dbP,
				"redis": redisP,
			}))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Actor(cfg.JWT, logg))
			r.Use(middleware.Idempotency(idempotencyStore, logg))

			r.Route("/orders", func(r chi.Router) {
				r.With(middleware.RequireRole(enums.ActorRoleCustomer, logg)).Post("/", ordercontrollers.Create(ordersSvc, logg))
				r.Get("/", ordercontrollers.List(ordersSvc, logg))
				r.Route("/{orderId}", func(r chi.Router) {
					r.Get("/", ordercontrollers.Detail(ordersSvc, logg))
					r.Post("/verify-payment", ordercontrollers.VerifyPayment(ordersSvc, logg))
					r.Post("/cancel", ordercontrollers.Cancel(ordersSvc, logg))
					r.With(middleware.RequireRole(enums.ActorRoleCustomer, logg)).Post("/returns", ordercontrollers.RequestReturn(ordersSvc, logg))

					r.Group(func(r chi.Router) {
						r.Use(middleware.RequireRole(enums.ActorRoleAdmin, logg))
						r.Post("/status", ordercontrollers.AdvanceStatus(ordersSvc, logg))
						r.Post("/returns/{returnId}/decision", ordercontrollers.DecideReturn(ordersSvc, logg))
						r.Post("/refunds", refundcontrollers.Initiate(paymentsSvc, logg))
					})
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(enums.ActorRoleAdmin, logg))

				r.Post("/refunds/{refundId}/complete", refundcontrollers.Complete(paymentsSvc, logg))

				r.Route("/inventory", func(r chi.Router) {
					r.Post("/", inventorycontrollers.CreateLedger(inventorySvc, logg))
					r.Get("/alerts/low-stock", inventorycontrollers.LowStockAlerts(inventorySvc, logg))
					r.Post("/reserve", inventorycontrollers.Reserve(reservationsSvc, logg))
					r.Delete("/reserve/{orderId}", inventorycontrollers.Release(reservationsSvc, logg))
					r.Post("/deduct", inventorycontrollers.Deduct(reservationsSvc, logg))
					r.Route("/{productId}", func(r chi.Router) {
						r.Get("/", inventorycontrollers.Get(inventorySvc, logg))
						r.Get("/movements", inventorycontrollers.Movements(inventorySvc, logg))
						r.Post("/add-stock", inventorycontrollers.AddStock(inventorySvc, logg))
						r.Post("/remove-stock", inventorycontrollers.RemoveStock(inventorySvc, logg))
						r.Post("/adjust-stock", inventorycontrollers.AdjustStock(inventorySvc, logg))
						r.Put("/thresholds", inventorycontrollers.UpdateThresholds(inventorySvc, logg))
					})
				})
			})
		})
	})

	return r
}

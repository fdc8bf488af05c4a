package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/campusstore-backend/api"
	"github.com/angelmondragon/campusstore-backend/api/routes"
	"github.com/angelmondragon/campusstore-backend/internal/catalog"
	"github.com/angelmondragon/campusstore-backend/internal/coupons"
	"github.com/angelmondragon/campusstore-backend/internal/inventory"
	"github.com/angelmondragon/campusstore-backend/internal/notifications"
	"github.com/angelmondragon/campusstore-backend/internal/orders"
	"github.com/angelmondragon/campusstore-backend/internal/payments"
	"github.com/angelmondragon/campusstore-backend/internal/reservations"
	"github.com/angelmondragon/campusstore-backend/pkg/config"
	"github.com/angelmondragon/campusstore-backend/pkg/db"
	"github.com/angelmondragon/campusstore-backend/pkg/gateway"
	"github.com/angelmondragon/campusstore-backend/pkg/gateway/gatewaytest"
	"github.com/angelmondragon/campusstore-backend/pkg/instance"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
	"github.com/angelmondragon/campusstore-backend/pkg/metrics"
	"github.com/angelmondragon/campusstore-backend/pkg/migrate"
	"github.com/angelmondragon/campusstore-backend/pkg/outbox"
	"github.com/angelmondragon/campusstore-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	paymentGateway, err := newGateway(cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}

	fulfillmentMetrics := metrics.NewFulfillmentMetrics(prometheus.DefaultRegisterer)

	notifier, err := notifications.NewOutboxNotifier(dbClient, outbox.NewService(outbox.NewRepository(dbClient.DB()), logg), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifier", err)
		os.Exit(1)
	}

	inventoryService, err := inventory.NewService(inventory.ServiceParams{
		Repo:     inventory.NewRepository(dbClient.DB()),
		Tx:       dbClient,
		Notifier: notifier,
		Metrics:  fulfillmentMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	reservationService, err := reservations.NewService(reservations.ServiceParams{
		Repo:         reservations.NewRepository(dbClient.DB()),
		Inventory:    inventoryService,
		Tx:           dbClient,
		Logger:       logg,
		Metrics:      fulfillmentMetrics,
		TTL:          cfg.Reservations.TTL,
		CleanupBatch: cfg.Reservations.CleanupBatch,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation service", err)
		os.Exit(1)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		Repo:    payments.NewRepository(dbClient.DB()),
		Tx:      dbClient,
		Gateway: paymentGateway,
		Logger:  logg,
		Metrics: fulfillmentMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	couponService, err := coupons.NewService(dbClient.DB())
	if err != nil {
		logg.Error(context.Background(), "failed to create coupon service", err)
		os.Exit(1)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:         orders.NewRepository(dbClient.DB()),
		Tx:           dbClient,
		Catalog:      catalog.NewReader(dbClient.DB()),
		Coupons:      couponService,
		Inventory:    inventoryService,
		Reservations: reservationService,
		Payments:     paymentService,
		Gateway:      paymentGateway,
		Guard:        redisClient,
		Notifier:     notifier,
		Metrics:      fulfillmentMetrics,
		Logger:       logg,
		Currency:     cfg.Gateway.Currency,
		GuardTTL:     cfg.Reservations.ConfirmGuardTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(
		cfg,
		logg,
		dbClient,
		redisClient,
		redisClient,
		orderService,
		inventoryService,
		reservationService,
		paymentService,
	)
	server := api.NewServer(cfg, handler)

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     server.Addr,
		"instance": instance.GetID(),
	})

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), api.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}

func newGateway(cfg *config.Config, logg *logger.Logger) (gateway.Gateway, error) {
	if cfg.Gateway.IsFake() {
		if cfg.App.IsProd() {
			return nil, errors.New("fake payment gateway is not allowed in prod")
		}
		logg.Warn(context.Background(), "using in-process fake payment gateway")
		return gatewaytest.New(cfg.Gateway.SigningSecret), nil
	}
	stripeGateway, err := gateway.NewStripeGateway(context.Background(), cfg.Gateway, logg)
	if err != nil {
		return nil, err
	}
	return gateway.WithTimeout(stripeGateway, cfg.Gateway.Timeout), nil
}

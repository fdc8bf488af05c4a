package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/internal/catalog"
	"github.com/angelmondragon/campusstore-backend/internal/coupons"
	"github.com/angelmondragon/campusstore-backend/internal/inventory"
	"github.com/angelmondragon/campusstore-backend/internal/orders"
	"github.com/angelmondragon/campusstore-backend/internal/payments"
	"github.com/angelmondragon/campusstore-backend/internal/reservations"
	"github.com/angelmondragon/campusstore-backend/pkg/auth"
	"github.com/angelmondragon/campusstore-backend/pkg/config"
	"github.com/angelmondragon/campusstore-backend/pkg/db"
	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
	"github.com/angelmondragon/campusstore-backend/pkg/gateway/gatewaytest"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type openGuard struct{}

func (openGuard) ClaimPaymentConfirmation(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

func (openGuard) ReleasePaymentConfirmation(context.Context, string) error { return nil }

type harness struct {
	router   http.Handler
	conn     *gorm.DB
	gw       *gatewaytest.FakeGateway
	cfg      *config.Config
	admin    uuid.UUID
	customer uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := "file:routes_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))

	client := db.NewWithConn(conn)
	logg := logger.New(logger.Options{ServiceName: "routes-test", Output: io.Discard})
	gw := gatewaytest.New("whsec_routes")

	inv, err := inventory.NewService(inventory.ServiceParams{Repo: inventory.NewRepository(conn), Tx: client, Logger: logg})
	require.NoError(t, err)
	res, err := reservations.NewService(reservations.ServiceParams{Repo: reservations.NewRepository(conn), Inventory: inv, Tx: client, Logger: logg})
	require.NoError(t, err)
	pay, err := payments.NewService(payments.ServiceParams{Repo: payments.NewRepository(conn), Tx: client, Gateway: gw, Logger: logg})
	require.NoError(t, err)
	cps, err := coupons.NewService(conn)
	require.NoError(t, err)
	ord, err := orders.NewService(orders.ServiceParams{
		Repo:         orders.NewRepository(conn),
		Tx:           client,
		Catalog:      catalog.NewReader(conn),
		Coupons:      cps,
		Inventory:    inv,
		Reservations: res,
		Payments:     pay,
		Gateway:      gw,
		Guard:        openGuard{},
		Logger:       logg,
	})
	require.NoError(t, err)

	cfg := &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "campusstore", ExpirationMinutes: 30},
	}
	return &harness{
		router:   NewRouter(cfg, logg, stubPinger{}, stubPinger{}, nil, ord, inv, res, pay),
		conn:     conn,
		gw:       gw,
		cfg:      cfg,
		admin:    uuid.New(),
		customer: uuid.New(),
	}
}

func (h *harness) token(t *testing.T, actor uuid.UUID, role enums.ActorRole) string {
	t.Helper()
	token, err := auth.MintActorToken(h.cfg.JWT, time.Now(), auth.ActorPayload{ActorID: actor, Role: role})
	require.NoError(t, err)
	return token
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)

	var envelope map[string]any
	if resp.Body.Len() > 0 && resp.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	}
	return resp, envelope
}

func TestHealthAndAuthGuards(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, http.MethodGet, "/api/v1/health/live", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	resp, _ = h.do(t, http.MethodGet, "/api/v1/health/ready", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp, _ = h.do(t, http.MethodGet, "/api/v1/orders", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	customer := h.token(t, h.customer, enums.ActorRoleCustomer)
	resp, body := h.do(t, http.MethodGet, "/api/v1/inventory/alerts/low-stock", customer, nil)
	require.Equal(t, http.StatusForbidden, resp.Code)
	require.Equal(t, string(pkgerrors.CodeForbidden), body["error"].(map[string]any)["code"])
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, h.admin, enums.ActorRoleAdmin)
	customer := h.token(t, h.customer, enums.ActorRoleCustomer)

	product := models.Product{ID: uuid.New(), Name: "Drafting kit", PriceCents: 40000, Currency: "inr", IsActive: true}
	require.NoError(t, h.conn.Create(&product).Error)

	resp, _ := h.do(t, http.MethodPost, "/api/v1/inventory", admin, map[string]any{
		"product_id":          product.ID,
		"initial_stock":       3,
		"low_stock_threshold": 1,
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	address := map[string]any{
		"name":        "Kabir Shah",
		"line1":       "Block C, Room 9",
		"city":        "Chennai",
		"state":       "TN",
		"postal_code": "600036",
	}

	resp, body := h.do(t, http.MethodPost, "/api/v1/orders", customer, map[string]any{
		"items":            []map[string]any{{"product_id": product.ID, "quantity": 5}},
		"shipping_address": address,
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	apiErr := body["error"].(map[string]any)
	require.Equal(t, string(pkgerrors.CodeInsufficientStock), apiErr["code"])
	require.EqualValues(t, 3, apiErr["details"].(map[string]any)["available"])

	resp, body = h.do(t, http.MethodPost, "/api/v1/orders", customer, map[string]any{
		"items":            []map[string]any{{"product_id": product.ID, "quantity": 2}},
		"shipping_address": address,
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	data := body["data"].(map[string]any)
	orderID := data["order"].(map[string]any)["id"].(string)
	gatewayOrderID := data["payment_intent"].(map[string]any)["gateway_order_id"].(string)

	resp, _ = h.do(t, http.MethodGet, "/api/v1/inventory/"+product.ID.String(), admin, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp, body = h.do(t, http.MethodPost, "/api/v1/orders/"+orderID+"/verify-payment", customer, map[string]any{
		"gateway_order_id":   gatewayOrderID,
		"gateway_payment_id": "pay_http",
		"signature":          "deadbeef",
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, string(pkgerrors.CodeInvalidSignature), body["error"].(map[string]any)["code"])

	resp, body = h.do(t, http.MethodPost, "/api/v1/orders/"+orderID+"/verify-payment", customer, map[string]any{
		"gateway_order_id":   gatewayOrderID,
		"gateway_payment_id": "pay_http",
		"signature":          h.gw.Sign(gatewayOrderID, "pay_http"),
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, string(enums.OrderStatusConfirmed), body["data"].(map[string]any)["status"])

	// strangers get a 404, not a 403
	stranger := h.token(t, uuid.New(), enums.ActorRoleCustomer)
	resp, _ = h.do(t, http.MethodGet, "/api/v1/orders/"+orderID, stranger, nil)
	require.Equal(t, http.StatusNotFound, resp.Code)

	resp, body = h.do(t, http.MethodPost, "/api/v1/orders/"+orderID+"/refunds", admin, map[string]any{
		"amount_cents": 100000,
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, string(pkgerrors.CodeRefundExceedsAmount), body["error"].(map[string]any)["code"])

	resp, body = h.do(t, http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", customer, map[string]any{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, string(enums.OrderStatusCancelled), body["data"].(map[string]any)["status"])

	resp, body = h.do(t, http.MethodGet, "/api/v1/orders?status=cancelled", customer, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, body["data"].(map[string]any)["orders"], 1)
}

func TestValidationErrorsAreReported(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, h.admin, enums.ActorRoleAdmin)

	resp, body := h.do(t, http.MethodPost, "/api/v1/inventory/"+uuid.NewString()+"/add-stock", admin, map[string]any{"quantity": 0, "reason": "restock"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, string(pkgerrors.CodeValidation), body["error"].(map[string]any)["code"])

	resp, _ = h.do(t, http.MethodGet, "/api/v1/inventory/not-a-uuid", admin, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

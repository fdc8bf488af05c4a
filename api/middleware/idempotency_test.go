package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
)

// memStore keeps idempotency records in a map; SetNX never overwrites.
type memStore map[string]string

func (m memStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m memStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, taken := m[key]; taken {
		return false, nil
	}
	m[key], _ = value.(string)
	return true, nil
}

func (m memStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m, k)
	}
	return nil
}

func (m memStore) IdempotencyKey(scope, id string) string { return scope + "#" + id }

// countingHandler answers every request with status and body and counts hits.
type countingHandler struct {
	status int
	body   string
	hits   int
}

func (c *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	c.hits++
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(c.status)
	_, _ = w.Write([]byte(c.body))
}

func send(h http.Handler, actor uuid.UUID, method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(WithActor(req.Context(), actor, enums.ActorRoleCustomer))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouteTTL(t *testing.T) {
	order := uuid.NewString()
	cases := []struct {
		method, path string
		want         time.Duration
	}{
		{http.MethodPost, "/api/v1/orders", criticalIdempotencyTTL},
		{http.MethodPost, "/api/v1/orders/" + order + "/verify-payment", criticalIdempotencyTTL},
		{http.MethodPost, "/api/v1/orders/" + order + "/refunds", criticalIdempotencyTTL},
		{http.MethodPost, "/api/v1/orders/" + order + "/returns/r1/decision", criticalIdempotencyTTL},
		{http.MethodPost, "/api/v1/orders/" + order + "/returns", defaultIdempotencyTTL},
		{http.MethodPost, "/api/v1/inventory/p1/add-stock", defaultIdempotencyTTL},
		{http.MethodPut, "/api/v1/inventory/p1/thresholds", defaultIdempotencyTTL},
		{http.MethodGet, "/api/v1/orders", 0},
		{http.MethodDelete, "/api/v1/inventory/reserve/" + order, 0},
	}
	for _, tc := range cases {
		ttl, guarded := routeTTL(tc.method, tc.path)
		assert.Equal(t, tc.want != 0, guarded, "%s %s", tc.method, tc.path)
		assert.Equal(t, tc.want, ttl, "%s %s", tc.method, tc.path)
	}
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	store := memStore{}
	inner := &countingHandler{status: http.StatusCreated, body: `{"order_id":"o-1"}`}
	h := Idempotency(store, nil)(inner)
	actor := uuid.New()

	first := send(h, actor, http.MethodPost, "/api/v1/orders", "k1", `{"items":[1]}`)
	again := send(h, actor, http.MethodPost, "/api/v1/orders", "k1", `{"items":[1]}`)

	assert.Equal(t, 1, inner.hits)
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, "application/json", again.Header().Get("Content-Type"))
	assert.Equal(t, first.Body.String(), again.Body.String())

	send(h, uuid.New(), http.MethodPost, "/api/v1/orders", "k1", `{"items":[1]}`)
	assert.Equal(t, 2, inner.hits, "a second actor gets its own scope")
}

func TestIdempotencyPassThrough(t *testing.T) {
	cases := map[string]struct {
		disabled     bool
		method, path string
		key          string
	}{
		"no key":         {false, http.MethodPost, "/api/v1/orders", ""},
		"unguarded":      {false, http.MethodGet, "/api/v1/orders", "k"},
		"disabled store": {true, http.MethodPost, "/api/v1/orders", "k"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			inner := &countingHandler{status: http.StatusOK}
			h := Idempotency(memStore{}, nil)(inner)
			if tc.disabled {
				h = Idempotency(nil, nil)(inner)
			}
			actor := uuid.New()
			send(h, actor, tc.method, tc.path, tc.key, `{}`)
			send(h, actor, tc.method, tc.path, tc.key, `{}`)
			assert.Equal(t, 2, inner.hits)
		})
	}
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	store := memStore{}
	inner := &countingHandler{status: http.StatusServiceUnavailable}
	h := Idempotency(store, nil)(inner)
	actor := uuid.New()

	send(h, actor, http.MethodPost, "/api/v1/orders", "retry-me", `{}`)
	send(h, actor, http.MethodPost, "/api/v1/orders", "retry-me", `{}`)
	assert.Equal(t, 2, inner.hits)
	assert.Empty(t, store)
}

func TestIdempotencyRejectsChangedBody(t *testing.T) {
	h := Idempotency(memStore{}, nil)(&countingHandler{status: http.StatusOK})
	actor := uuid.New()

	send(h, actor, http.MethodPost, "/api/v1/orders/o1/cancel", "xyz", `{"reason":"a"}`)
	rec := send(h, actor, http.MethodPost, "/api/v1/orders/o1/cancel", "xyz", `{"reason":"b"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, string(pkgerrors.CodeIdempotency), envelope.Error.Code)
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"/api/v1/orders", "/api/v1/orders/", true},
		{"/api/v1/orders", "/api/v1/orders/o1", false},
		{"/api/v1/orders/*/cancel", "/api/v1/orders/o1/cancel", true},
		{"/api/v1/orders/*/cancel", "/api/v1/orders/cancel", false},
		{"/api/v1/inventory/**", "/api/v1/inventory", true},
		{"/api/v1/inventory/**", "/api/v1/inventory/p1/add-stock", true},
		{"/api/v1/inventory/**", "/api/v1/inventoryx", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchPattern(tc.pattern, tc.path), "%s vs %s", tc.pattern, tc.path)
	}
}

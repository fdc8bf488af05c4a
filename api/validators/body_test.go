package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
)

type returnRequest struct {
	Reason   string `json:"reason" validate:"required,max=20"`
	Quantity int    `json:"quantity" validate:"gt=0"`
	Decision string `json:"decision" validate:"omitempty,oneof=approve reject"`
}

func decode(body string) (returnRequest, error) {
	var req returnRequest
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	return req, DecodeJSONBody(r, &req)
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	req, err := decode(`{"reason":"torn cover","quantity":2}`)
	require.NoError(t, err)
	assert.Equal(t, returnRequest{Reason: "torn cover", Quantity: 2}, req)
}

func TestDecodeJSONBodyReportsFieldsByJSONName(t *testing.T) {
	_, err := decode(`{"reason":"","quantity":0,"decision":"maybe"}`)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.Equal(t, map[string]string{
		"reason":   "is required",
		"quantity": "must be greater than 0",
		"decision": "must be one of: approve reject",
	}, typed.Details())
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	for name, body := range map[string]string{
		"unknown field": `{"reason":"x","quantity":1,"coupon":"FREE"}`,
		"trailing data": `{"reason":"x","quantity":1} {"reason":"y"}`,
		"not json":      `reason=x`,
		"empty":         ``,
	} {
		_, err := decode(body)
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "%s: %v", name, err)
	}
}

// Package responses writes the JSON envelopes every handler returns:
// {"data": ...} on success and {"error": {code, message, details}} on failure.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
	"github.com/angelmondragon/campusstore-backend/pkg/types"
)

type requestIDKey struct{}

// WithRequestID stores the correlation id that opaque errors echo back.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders err as the error envelope. Internal and dependency
// failures are opaque: the client sees the generic message and the request
// id, and the cause goes to the log at error level. Everything else is a
// warning.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("error written without a cause")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	code := typed.Code()
	meta := pkgerrors.MetadataFor(code)
	opaque := code == pkgerrors.CodeInternal || code == pkgerrors.CodeDependency

	apiErr := types.APIError{Code: string(code), Message: meta.PublicMessage}
	switch {
	case opaque:
		if id := RequestIDFromContext(ctx); id != "" {
			apiErr.Details = map[string]any{"request_id": id}
		}
	default:
		if typed.Message() != "" {
			apiErr.Message = typed.Message()
		}
		if meta.DetailsAllowed {
			apiErr.Details = typed.Details()
		}
	}

	if logg != nil {
		logCtx := logg.WithFields(ctx, pkgerrors.Dump(err).Fields())
		if opaque {
			logg.Error(logCtx, "request failed", err)
		} else {
			logg.Warn(logCtx, "request rejected")
		}
	}
	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// headers are already out, so an encode failure can only be dropped
	_ = json.NewEncoder(w).Encode(payload)
}

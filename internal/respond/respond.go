// Package respond writes the edge's error responses.
package respond

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/nolto/nolto-edge/pkg/domain"
	"github.com/nolto/nolto-edge/pkg/telemetry"
)

// NotFoundBody is the body of every unmatched-path response.
const NotFoundBody = "Path Not Found"

// NotFound writes the plain-text 404 used for unmatched paths.
func NotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(NotFoundBody))
}

// Error writes a JSON ErrorResponse carrying the active trace id.
func Error(ctx context.Context, w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errResp := domain.ErrorResponse{
		Code:    code,
		Message: message,
		TraceID: telemetry.TraceIDFromContext(ctx),
	}

	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to encode error response")
	}
}

// JSON writes v with the given status.
func JSON(ctx context.Context, w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to encode response")
	}
}

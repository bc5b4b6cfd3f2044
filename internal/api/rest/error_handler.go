package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/telemetry"
)

// rateLimitRetryAfter is the Retry-After hint, in seconds, of a 429
const rateLimitRetryAfter = 1

const bearerChallenge = `Bearer realm="evidence-vault"`

// ErrorHandler converts errors into HTTP status codes and error bodies
type ErrorHandler struct {
	logger *slog.Logger
}

func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleError maps err to a status and body. Internal errors never expose
// their message.
func (h *ErrorHandler) HandleError(ctx context.Context, err error) (int, *ErrorResponse) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("error.type", fmt.Sprintf("%T", err))))

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return h.handleAppError(ctx, appErr)
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, &ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: validationErr.Message,
			Fields:  validationErr.Fields,
		}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return http.StatusBadRequest, &ErrorResponse{
			Code:    "INVALID_JSON",
			Message: fmt.Sprintf("invalid JSON at position %d", syntaxErr.Offset),
		}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return http.StatusBadRequest, &ErrorResponse{
			Code:    "TYPE_MISMATCH",
			Message: fmt.Sprintf("invalid type for field '%s'", typeErr.Field),
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, &ErrorResponse{Code: "REQUEST_TIMEOUT", Message: "request timed out"}
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusRequestTimeout, &ErrorResponse{Code: "REQUEST_CANCELED", Message: "request was canceled"}
	}

	telemetry.WithContext(ctx, h.logger).ErrorContext(ctx, "unhandled error", "error", err)
	return http.StatusInternalServerError, &ErrorResponse{Code: "INTERNAL_ERROR", Message: "an internal error occurred"}
}

func (h *ErrorHandler) handleAppError(ctx context.Context, err *errors.AppError) (int, *ErrorResponse) {
	if errors.IsType(err, errors.ErrorTypeInternal) {
		h.logger.ErrorContext(ctx, "internal error", "code", err.Code, "error", err)
		return http.StatusInternalServerError, &ErrorResponse{Code: "INTERNAL_ERROR", Message: "an internal error occurred"}
	}

	resp := &ErrorResponse{
		Code:      err.Code,
		Message:   err.Message,
		Details:   err.Details,
		Retryable: errors.IsRetryable(err),
	}

	switch {
	case errors.IsUnauthorized(err):
		resp.challenge = bearerChallenge
	case errors.IsRateLimited(err):
		resp.RetryAfter = rateLimitRetryAfter
	case errors.IsUpstream(err):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, resp
		}
		h.logger.WarnContext(ctx, "upstream failure", "code", err.Code, "error", err)
	case errors.IsIntegrity(err):
		h.logger.WarnContext(ctx, "integrity failure", "code", err.Code, "error", err)
	}

	status := errors.GetStatusCode(err)
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return status, resp
}

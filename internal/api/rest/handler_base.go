package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
)

const maxBodySize = 1 << 20

// ResponseEnvelope wraps all API responses
type ResponseEnvelope struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Meta    ResponseMeta   `json:"meta"`
}

// ResponseMeta contains response metadata
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse provides error information
type ErrorResponse struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Fields     map[string][]string    `json:"fields,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RetryAfter int                    `json:"retry_after,omitempty"`
	Retryable  bool                   `json:"retryable,omitempty"`

	// challenge is sent as WWW-Authenticate on 401 responses
	challenge string
}

// ValidationError is a malformed request body
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// handlerFunc is the shape of every JSON endpoint
type handlerFunc func(ctx context.Context, r *http.Request) (interface{}, error)

// BaseHandler provides common functionality for all handlers
type BaseHandler struct {
	validator    *validator.Validate
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

func NewBaseHandler(logger *slog.Logger) *BaseHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &BaseHandler{
		validator:    v,
		errorHandler: NewErrorHandler(logger),
		logger:       logger,
	}
}

// Wrap adapts a handlerFunc, writing status on success
func (h *BaseHandler) Wrap(status int, handler handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r.Context(), r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeSuccess(w, r, status, res)
	}
}

// ParseAndValidate decodes a JSON body into v and validates its tags
func (h *BaseHandler) ParseAndValidate(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &ValidationError{Message: fmt.Sprintf("request body too large (max %d bytes)", maxBodySize)}
		}
		return &ValidationError{Message: "failed to read request body"}
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			return err
		}
	}
	if err := h.validator.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Message: err.Error()}
	}
	fields := make(map[string][]string)
	for _, fe := range verrs {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "this field is required"
		case "email":
			msg = "must be a valid email address"
		case "min", "gte":
			msg = fmt.Sprintf("minimum is %s", fe.Param())
		case "max", "lte":
			msg = fmt.Sprintf("maximum is %s", fe.Param())
		case "gt":
			msg = fmt.Sprintf("must be greater than %s", fe.Param())
		case "oneof":
			msg = fmt.Sprintf("must be one of: %s", fe.Param())
		case "gtfield":
			msg = fmt.Sprintf("must be after %s", fe.Param())
		default:
			msg = fmt.Sprintf("failed %s validation", fe.Tag())
		}
		field := strings.TrimPrefix(fe.Namespace(), strings.SplitN(fe.Namespace(), ".", 2)[0]+".")
		fields[field] = append(fields[field], msg)
	}
	return &ValidationError{Message: "request validation failed", Fields: fields}
}

func (h *BaseHandler) writeSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, ResponseEnvelope{
		Success: true,
		Data:    data,
		Meta:    responseMeta(r),
	})
}

func (h *BaseHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := h.errorHandler.HandleError(r.Context(), err)
	if resp.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	if resp.challenge != "" {
		w.Header().Set("WWW-Authenticate", resp.challenge)
	}
	writeJSON(w, status, ResponseEnvelope{
		Error: resp,
		Meta:  responseMeta(r),
	})
}

func responseMeta(r *http.Request) ResponseMeta {
	return ResponseMeta{
		RequestID: requestMetaFrom(r.Context()).RequestID,
		Timestamp: time.Now().UTC(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// pathUUID reads a uuid path value
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, errors.NewValidationError("INVALID_ID", fmt.Sprintf("%s must be a uuid", name))
	}
	return id, nil
}

// queryInt reads a non-negative integer query parameter
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.NewValidationError("INVALID_QUERY", fmt.Sprintf("%s must be a non-negative integer", name))
	}
	return n, nil
}

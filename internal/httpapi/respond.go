package httpapi

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"fleetdesk.org/internal/audit"
	"fleetdesk.org/internal/auth"
	"fleetdesk.org/internal/obs"
)

// Stable machine codes carried by every error envelope.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeTokenExpired     = "TOKEN_EXPIRED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeAlreadyExists    = "ALREADY_EXISTS"
	CodeConflict         = "CONFLICT"
	CodeValidation       = "VALIDATION_ERROR"
	CodeDatabase         = "DATABASE_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
	CodeRateLimited      = "RATE_LIMITED"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Debug     string         `json:"debug,omitempty"`
}

// apiError is an error already classified for the client.
type apiError struct {
	status  int
	code    string
	message string
	details map[string]any
	cause   error
}

func (e *apiError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *apiError) Unwrap() error { return e.cause }

func newAPIError(status int, code, message string) *apiError {
	return &apiError{status: status, code: code, message: message}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data})
}

// responder renders errors; debug output is only attached outside production.
type responder struct {
	debug bool
}

func (rs responder) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := classify(err)
	body := &errorBody{
		Code:      ae.code,
		Message:   ae.message,
		Status:    ae.status,
		Details:   ae.details,
		RequestID: audit.RequestIDFromContext(r.Context()),
	}
	if rs.debug && ae.cause != nil {
		body.Debug = ae.cause.Error()
	}
	if ae.status >= http.StatusInternalServerError {
		obs.Logger().Error("request failed",
			zap.String("request_id", body.RequestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", ae.code),
			zap.Error(err),
		)
	}
	writeJSON(w, ae.status, envelope{Success: false, Error: body})
}

// classify maps domain and store errors onto the client taxonomy.
func classify(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}
	wrap := func(status int, code, message string) *apiError {
		return &apiError{status: status, code: code, message: message, cause: err}
	}
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return wrap(http.StatusUnauthorized, CodeTokenExpired, "token expired")
	case errors.Is(err, auth.ErrRefreshReuse):
		return wrap(http.StatusUnauthorized, CodeUnauthorized, "refresh token reuse detected; all sessions revoked")
	case errors.Is(err, auth.ErrUnauthorized):
		return wrap(http.StatusUnauthorized, CodeUnauthorized, publicMessage(err, "unauthorized"))
	case errors.Is(err, auth.ErrProtectedRole), errors.Is(err, auth.ErrForbidden):
		return wrap(http.StatusForbidden, CodeForbidden, publicMessage(err, "forbidden"))
	case errors.Is(err, auth.ErrNotFound):
		return wrap(http.StatusNotFound, CodeNotFound, publicMessage(err, "resource not found"))
	case errors.Is(err, auth.ErrAlreadyExists):
		return wrap(http.StatusConflict, CodeAlreadyExists, publicMessage(err, "resource already exists"))
	case errors.Is(err, auth.ErrConflict):
		return wrap(http.StatusConflict, CodeConflict, publicMessage(err, "conflict"))
	case errors.Is(err, auth.ErrInvalidInput):
		return wrap(http.StatusUnprocessableEntity, CodeValidation, publicMessage(err, "validation failed"))
	case isDatabaseError(err):
		return wrap(http.StatusInternalServerError, CodeDatabase, "database error")
	default:
		return wrap(http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

// publicMessage returns the wrapped detail of a sentinel-classified error.
// Package prefixes such as "auth: " are stripped.
func publicMessage(err error, def string) string {
	msg := strings.TrimSpace(err.Error())
	msg = strings.TrimPrefix(msg, "auth: ")
	if msg == "" {
		return def
	}
	return msg
}

func isDatabaseError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, sql.ErrTxDone) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// decodeJSON strictly decodes the request body into dst and validates it.
// Malformed JSON yields 400, rule violations 422 with details.fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return newAPIError(http.StatusBadRequest, CodeValidation, "request body is required")
		case errors.As(err, &maxErr):
			return newAPIError(http.StatusRequestEntityTooLarge, CodeValidation, "request body too large")
		default:
			return &apiError{status: http.StatusBadRequest, code: CodeValidation, message: "malformed JSON body", cause: err}
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return newAPIError(http.StatusBadRequest, CodeValidation, "unexpected data after JSON body")
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &apiError{status: http.StatusUnprocessableEntity, code: CodeValidation, message: "validation failed", cause: err}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[fe.Field()] = rule
	}
	return &apiError{
		status:  http.StatusUnprocessableEntity,
		code:    CodeValidation,
		message: "validation failed",
		details: map[string]any{"fields": fields},
	}
}

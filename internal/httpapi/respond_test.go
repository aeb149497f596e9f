package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"fleetdesk.org/internal/auth"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{auth.ErrTokenExpired, http.StatusUnauthorized, CodeTokenExpired},
		{auth.ErrRefreshReuse, http.StatusUnauthorized, CodeUnauthorized},
		{auth.ErrInvalidPassword, http.StatusUnauthorized, CodeUnauthorized},
		{fmt.Errorf("%w: missing permission roles.read", auth.ErrForbidden), http.StatusForbidden, CodeForbidden},
		{auth.ErrProtectedRole, http.StatusForbidden, CodeForbidden},
		{auth.ErrUserNotFound, http.StatusNotFound, CodeNotFound},
		{auth.ErrAlreadyExists, http.StatusConflict, CodeAlreadyExists},
		{auth.ErrLastHolder, http.StatusConflict, CodeConflict},
		{fmt.Errorf("%w: bad code", auth.ErrInvalidInput), http.StatusUnprocessableEntity, CodeValidation},
		{&pgconn.PgError{Code: "40001"}, http.StatusInternalServerError, CodeDatabase},
		{fmt.Errorf("query: %w", context.DeadlineExceeded), http.StatusInternalServerError, CodeDatabase},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
		{newAPIError(http.StatusTeapot, "TEAPOT", "short and stout"), http.StatusTeapot, "TEAPOT"},
	}
	for _, tc := range cases {
		got := classify(tc.err)
		if got.status != tc.status || got.code != tc.code {
			t.Errorf("classify(%v) = %d %s, want %d %s", tc.err, got.status, got.code, tc.status, tc.code)
		}
	}
}

func TestPublicMessageStripsPackagePrefix(t *testing.T) {
	got := classify(fmt.Errorf("%w: missing permission roles.read", auth.ErrForbidden)).message
	if got != "forbidden: missing permission roles.read" {
		t.Fatalf("message = %q", got)
	}
}

func TestDebugOnlyOutsideProduction(t *testing.T) {
	cause := errors.New("pq: relation does not exist")
	for _, tc := range []struct {
		debug bool
		want  string
	}{{true, cause.Error()}, {false, ""}} {
		rec := httptest.NewRecorder()
		responder{debug: tc.debug}.writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), cause)
		env := decodeEnvelope(t, rec)
		if env.Error.Debug != tc.want {
			t.Errorf("debug=%v: got %q", tc.debug, env.Error.Debug)
		}
		if env.Error.Message != "internal error" {
			t.Errorf("internal detail leaked into message: %q", env.Error.Message)
		}
	}
}

func TestDecodeJSONRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	for _, body := range []string{
		`{"email":"a@b.test","password":"x","extra":1}`,
		`{"email":"a@b.test","password":"x"} {}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		var dst loginRequest
		err := decodeJSON(req, &dst)
		if got := classify(err); got.status != http.StatusBadRequest {
			t.Errorf("body %s: status %d", body, got.status)
		}
	}
}

package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"fleetdesk.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errNoToken = errors.New("no token provided")

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errNoToken
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}

// RequireIdentity rejects requests without a valid access token. Expired
// tokens get TOKEN_EXPIRED so clients know to refresh.
func (a *API) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			a.errors.writeError(w, r, newAPIError(http.StatusUnauthorized, CodeUnauthorized, errNoToken.Error()))
			return
		}
		id, err := a.authn.Authenticate(r.Context(), token)
		if err != nil {
			a.errors.writeError(w, r, err)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalIdentity attaches the caller when a valid token is present and
// proceeds anonymously otherwise.
func (a *API) OptionalIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err == nil {
			if id, err := a.authn.Authenticate(r.Context(), token); err == nil {
				ctx := auth.ContextWithIdentity(r.Context(), id)
				r = r.WithContext(auth.ContextWithToken(ctx, token))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission admits callers whose effective permissions include code.
// It must run after RequireIdentity.
func (a *API) RequirePermission(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if code == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				a.errors.writeError(w, r, newAPIError(http.StatusUnauthorized, CodeUnauthorized, errNoToken.Error()))
				return
			}
			if err := a.perms.Authorize(r.Context(), id.ID, code); err != nil {
				a.errors.writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

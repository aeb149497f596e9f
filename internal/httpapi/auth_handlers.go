package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"fleetdesk.org/internal/audit"
	"fleetdesk.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
	// AllSessions also revokes every other session of the caller.
	AllSessions bool `json:"allSessions"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	res, err := a.authn.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed",
			zap.String("email", req.Email),
			zap.String("reason", classify(err).code),
			zap.String("client_ip", audit.ClientIP(r)),
		)
		a.errors.writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login.succeeded",
		zap.String("subject", res.User.ID),
		zap.String("client_ip", audit.ClientIP(r)),
	)
	writeData(w, http.StatusOK, res)
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	pair, err := a.authn.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrRefreshReuse) {
			_ = audit.LogEvent(r.Context(), "auth.refresh.reuse",
				zap.String("client_ip", audit.ClientIP(r)),
			)
		}
		a.errors.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, pair)
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(r, &req); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	if err := a.authn.Logout(r.Context(), req.RefreshToken); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	if req.AllSessions {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			a.errors.writeError(w, r, newAPIError(http.StatusUnauthorized, CodeUnauthorized, "access token required to end all sessions"))
			return
		}
		if err := a.authn.LogoutAll(r.Context(), id.ID); err != nil {
			a.errors.writeError(w, r, err)
			return
		}
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", zap.Bool("all_sessions", req.AllSessions))
	writeData(w, http.StatusOK, map[string]any{"loggedOut": true})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	writeData(w, http.StatusOK, id)
}

func (a *API) myPermissions(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	codes, err := a.perms.GetEffectivePermissions(r.Context(), id.ID)
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"userId": id.ID, "permissions": codes})
}

package httpapi

import (
	"net/http"
	"sort"
	"strings"

	"fleetdesk.org/internal/audit"
	"fleetdesk.org/internal/auth"
)

type authMode int

const (
	authNone authMode = iota
	authOptional
	authRequired
)

// route is one entry of the route table. Permission may be overridden by
// the configured RoutePolicy; Audit overrides the derivation heuristics.
type route struct {
	method     string
	path       string
	auth       authMode
	permission string
	limited    bool
	audit      audit.Descriptor
	handle     func(*API, http.ResponseWriter, *http.Request)
}

var routeTable = []route{
	{method: http.MethodPost, path: "/auth/login", auth: authNone, limited: true,
		audit: audit.Descriptor{Action: "LOGIN", ResourceType: "SESSION", Module: "auth"}, handle: (*API).login},
	{method: http.MethodPost, path: "/auth/refresh", auth: authNone, limited: true,
		audit: audit.Descriptor{Action: "REFRESH_TOKEN", ResourceType: "SESSION", Module: "auth"}, handle: (*API).refresh},
	{method: http.MethodPost, path: "/auth/logout", auth: authOptional,
		audit: audit.Descriptor{Action: "LOGOUT", ResourceType: "SESSION", Module: "auth"}, handle: (*API).logout},
	{method: http.MethodGet, path: "/auth/me", auth: authRequired, handle: (*API).me},
	{method: http.MethodGet, path: "/auth/me/permissions", auth: authRequired, handle: (*API).myPermissions},

	{method: http.MethodGet, path: "/permissions/matrix", auth: authRequired, permission: auth.PermPermissionsRead,
		handle: (*API).getMatrix},
	{method: http.MethodPut, path: "/permissions/matrix", auth: authRequired, permission: auth.PermPermissionsManage,
		audit: audit.Descriptor{Action: "UPDATE_ROLE_PERMISSIONS", ResourceType: "ROLE", Module: "permissions"}, handle: (*API).putMatrix},
	{method: http.MethodPost, path: "/permissions", auth: authRequired, permission: auth.PermPermissionsManage,
		handle: (*API).createPermission},

	{method: http.MethodGet, path: "/roles", auth: authRequired, permission: auth.PermRolesRead, handle: (*API).listRoles},
	{method: http.MethodPost, path: "/roles", auth: authRequired, permission: auth.PermRolesManage, handle: (*API).createRole},
	{method: http.MethodPatch, path: "/roles/{id}", auth: authRequired, permission: auth.PermRolesManage, handle: (*API).updateRole},
	{method: http.MethodDelete, path: "/roles/{id}", auth: authRequired, permission: auth.PermRolesManage, handle: (*API).deleteRole},

	{method: http.MethodPost, path: "/users", auth: authRequired, permission: auth.PermUsersCreate, handle: (*API).createUser},
	{method: http.MethodPatch, path: "/users/{id}/status", auth: authRequired, permission: auth.PermUsersUpdate,
		audit: audit.Descriptor{Action: "UPDATE_USER_STATUS", ResourceType: "USER"}, handle: (*API).updateUserStatus},
	{method: http.MethodDelete, path: "/users/{id}", auth: authRequired, permission: auth.PermUsersDelete, handle: (*API).deleteUser},
	{method: http.MethodGet, path: "/users/{id}/permissions", auth: authRequired, permission: auth.PermUsersRead,
		handle: (*API).userPermissions},
	{method: http.MethodPost, path: "/users/{userId}/roles", auth: authRequired, permission: auth.PermRolesAssign,
		audit: audit.Descriptor{Action: "ASSIGN_ROLE", ResourceType: "USER", Module: "roles", IDParam: "userId"}, handle: (*API).assignRole},
	{method: http.MethodDelete, path: "/users/{userId}/roles/{roleId}", auth: authRequired, permission: auth.PermRolesAssign,
		audit: audit.Descriptor{Action: "REMOVE_ROLE", ResourceType: "USER", Module: "roles", IDParam: "userId"}, handle: (*API).removeRole},

	{method: http.MethodGet, path: "/audit-logs", auth: authRequired, permission: auth.PermAuditRead, handle: (*API).listAuditLogs},
	{method: http.MethodGet, path: "/audit-logs/verify", auth: authRequired, permission: auth.PermAuditRead, handle: (*API).verifyAuditLogs},
}

// mountRoutes registers every route with its chain: rate limit (credential
// endpoints), identity, audit capture, permission gate, handler. Paths that
// exist under other methods answer METHOD_NOT_ALLOWED.
func (a *API) mountRoutes() {
	allowed := make(map[string][]string)
	for _, rt := range routeTable {
		pattern := APIPrefix + rt.path
		allowed[pattern] = append(allowed[pattern], rt.method)
		a.mux.Handle(rt.method+" "+pattern, a.chain(rt, pattern))
	}
	for pattern, methods := range allowed {
		sort.Strings(methods)
		allow := strings.Join(methods, ", ")
		a.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Allow", allow)
			a.errors.writeError(w, r, newAPIError(http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed"))
		})
	}
}

func (a *API) chain(rt route, pattern string) http.Handler {
	handle := rt.handle
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle(a, w, r)
	})
	h = a.RequirePermission(a.policy.Permission(rt.method, pattern, rt.permission))(h)
	h = a.capturer.Middleware(rt.audit)(h)
	switch rt.auth {
	case authRequired:
		h = a.RequireIdentity(h)
	case authOptional:
		h = a.OptionalIdentity(h)
	}
	if rt.limited {
		h = RateLimit(h, a.rateBurst, a.ratePerSec, a.trustProxy)
	}
	return h
}

// Package httpapi exposes the identity, access-control and audit core over
// HTTP/JSON and serves the gRPC health service.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fleetdesk.org/internal/audit"
	"fleetdesk.org/internal/auth"
	"fleetdesk.org/internal/obs"
)

const serviceName = "fleetdesk-api"

// APIPrefix is the mount point of every versioned route.
const APIPrefix = "/api/v1"

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Pinger is satisfied by the Postgres store and *sql.DB wrappers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the database. A nil DB is always ready.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

// Options carries the services and limits the API is built from.
type Options struct {
	Authenticator *auth.Authenticator
	Permissions   *auth.PermissionService
	Users         *auth.UserService
	// AuditStore serves the audit-log read endpoints.
	AuditStore audit.Store
	// AuditSink receives captured records; nil disables capture.
	AuditSink audit.Sink
	Policy    auth.RoutePolicy
	Readiness ReadinessChecker
	Version   string

	Production     bool
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	RateBurst      int
	RatePerSec     int
	// TrustProxyHeaders keys rate limiting on X-Forwarded-For and X-Real-IP
	// instead of the socket peer.
	TrustProxyHeaders bool
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	authn    *auth.Authenticator
	perms    *auth.PermissionService
	users    *auth.UserService
	audits   audit.Store
	capturer *audit.Capturer
	policy   auth.RoutePolicy
	ready    ReadinessChecker
	version  string
	errors   responder

	maxBodyBytes   int64
	requestTimeout time.Duration
	rateBurst      int
	ratePerSec     int
	trustProxy     bool
}

func New(opts Options) (*API, error) {
	if opts.Authenticator == nil || opts.Permissions == nil || opts.Users == nil || opts.AuditStore == nil {
		return nil, errors.New("httpapi: authenticator, permission service, user service and audit store are required")
	}
	a := &API{
		mux:            http.NewServeMux(),
		authn:          opts.Authenticator,
		perms:          opts.Permissions,
		users:          opts.Users,
		audits:         opts.AuditStore,
		capturer:       audit.NewCapturer(opts.AuditSink),
		policy:         opts.Policy,
		ready:          opts.Readiness,
		version:        opts.Version,
		errors:         responder{debug: !opts.Production},
		maxBodyBytes:   opts.MaxBodyBytes,
		requestTimeout: opts.RequestTimeout,
		rateBurst:      opts.RateBurst,
		ratePerSec:     opts.RatePerSec,
		trustProxy:     opts.TrustProxyHeaders,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 10
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 5
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())
	a.mountRoutes()
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		a.errors.writeError(w, r, newAPIError(http.StatusNotFound, CodeNotFound, "route not found"))
	})
	return a, nil
}

// Handler returns the mux wrapped in the global middleware chain:
// request id, request log, metrics, panic recovery, body limit, timeout.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = SecurityHeaders(h)
	h = RequestTimeout(h, a.requestTimeout)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = a.Recover(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  "database unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fleetdesk.org/internal/audit"
	"fleetdesk.org/internal/auth"
	"fleetdesk.org/internal/store/memory"
)

const adminPassword = "correct-horse-battery"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// syncSink appends records before the response completes so tests can read
// them right away.
type syncSink struct {
	store audit.Store
}

func (s syncSink) Enqueue(ctx context.Context, rec audit.Record) bool {
	_, err := s.store.AppendAudit(context.WithoutCancel(ctx), rec)
	return err == nil
}

type testServer struct {
	t      *testing.T
	clock  *clock
	store  *memory.Store
	perms  *auth.PermissionService
	users  *auth.UserService
	admin  auth.User
	srv    *httptest.Server
	client *http.Client
}

type serverOption func(*Options)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.New(memory.WithClock(c.Now))
	ctx := context.Background()
	superadmin, err := store.Seed(ctx, auth.DefaultProtectedRole)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "access-secret-0123456789abcdefghijklmnop",
		RefreshSecret: "refresh-secret-0123456789abcdefghijklmno",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	}, auth.WithTokenClock(c.Now))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	authn, err := auth.NewAuthenticator(store, store, tokens, auth.WithClock(c.Now))
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	perms, err := auth.NewPermissionService(store, store)
	if err != nil {
		t.Fatalf("NewPermissionService: %v", err)
	}
	users, err := auth.NewUserService(store, store)
	if err != nil {
		t.Fatalf("NewUserService: %v", err)
	}
	admin, err := users.CreateUser(ctx, auth.NewUser{Email: "admin@fleetdesk.test", Password: adminPassword, FirstName: "Ada", LastName: "Admin"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := perms.AssignRole(ctx, admin.ID, superadmin.ID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	o := Options{
		Authenticator: authn,
		Permissions:   perms,
		Users:         users,
		AuditStore:    store,
		AuditSink:     syncSink{store: store},
		Version:       "test",
		RateBurst:     100,
		RatePerSec:    100,
	}
	for _, opt := range opts {
		opt(&o)
	}
	api, err := New(o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testServer{t: t, clock: c, store: store, perms: perms, users: users, admin: admin, srv: srv, client: srv.Client()}
}

type apiResponse struct {
	Status  int
	Header  http.Header
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *errorBody      `json:"error"`
}

func (s *testServer) do(method, path string, body any, token string) apiResponse {
	s.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			if err != nil {
				s.t.Fatalf("marshal body: %v", err)
			}
			raw = string(b)
		}
		rdr = bytes.NewReader([]byte(raw))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rdr)
	if err != nil {
		s.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := apiResponse{Status: resp.StatusCode, Header: resp.Header}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		s.t.Fatalf("read body: %v", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			s.t.Fatalf("decode %s %s response %q: %v", method, path, raw, err)
		}
	}
	return out
}

func (r apiResponse) decode(t *testing.T, dst any) {
	t.Helper()
	if err := json.Unmarshal(r.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", r.Data, err)
	}
}

func (r apiResponse) expectError(t *testing.T, status int, code string) {
	t.Helper()
	if r.Status != status || r.Error == nil || r.Error.Code != code {
		t.Fatalf("expected %d %s, got %d %+v", status, code, r.Status, r.Error)
	}
	if r.Success || r.Error.Status != status {
		t.Fatalf("envelope inconsistent: %+v", r)
	}
}

func (s *testServer) login(email, password string) auth.LoginResult {
	s.t.Helper()
	resp := s.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": email, "password": password}, "")
	if resp.Status != http.StatusOK {
		s.t.Fatalf("login %s: %d %+v", email, resp.Status, resp.Error)
	}
	var res auth.LoginResult
	resp.decode(s.t, &res)
	return res
}

func (s *testServer) adminToken() string {
	s.t.Helper()
	return s.login("admin@fleetdesk.test", adminPassword).AccessToken
}

// userWith creates a user holding a fresh role granting codes and returns
// the user and an access token.
func (s *testServer) userWith(email string, codes ...string) (auth.User, string) {
	s.t.Helper()
	ctx := context.Background()
	u, err := s.users.CreateUser(ctx, auth.NewUser{Email: email, Password: "password-123", FirstName: "Test"})
	if err != nil {
		s.t.Fatalf("CreateUser: %v", err)
	}
	if len(codes) > 0 {
		role, err := s.perms.CreateRole(ctx, "", "role for "+email, "role_"+u.ID[len(u.ID)-8:], "")
		if err != nil {
			s.t.Fatalf("CreateRole: %v", err)
		}
		all, err := s.perms.ListPermissions(ctx)
		if err != nil {
			s.t.Fatalf("ListPermissions: %v", err)
		}
		var ids []string
		for _, p := range all {
			for _, c := range codes {
				if p.Code == c {
					ids = append(ids, p.ID)
				}
			}
		}
		if err := s.perms.ReplaceRoleGrants(ctx, role.ID, ids); err != nil {
			s.t.Fatalf("ReplaceRoleGrants: %v", err)
		}
		if _, err := s.perms.AssignRole(ctx, u.ID, role.ID); err != nil {
			s.t.Fatalf("AssignRole: %v", err)
		}
	}
	return u, s.login(email, "password-123").AccessToken
}

func (s *testServer) auditRecords() []audit.Record {
	s.t.Helper()
	recs, err := s.store.ListAudit(context.Background(), 0, 1000)
	if err != nil {
		s.t.Fatalf("ListAudit: %v", err)
	}
	return recs
}

package auth_test

import (
	"context"
	"testing"
	"time"

	"fleetdesk.org/internal/auth"
	"fleetdesk.org/internal/store/memory"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	clock  *clock
	store  *memory.Store
	tokens *auth.TokenService
	authn  *auth.Authenticator
	perms  *auth.PermissionService
	users  *auth.UserService
	admin  auth.Role
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.New(memory.WithClock(c.Now))
	admin, err := store.Seed(context.Background(), auth.DefaultProtectedRole)
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
	return &fixture{clock: c, store: store, tokens: tokens, authn: authn, perms: perms, users: users, admin: admin}
}

func (f *fixture) createUser(t *testing.T, email, password string) auth.User {
	t.Helper()
	u, err := f.users.CreateUser(context.Background(), auth.NewUser{
		Email:     email,
		Password:  password,
		FirstName: "Test",
		LastName:  "User",
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

func (f *fixture) createRole(t *testing.T, code string, permCodes ...string) auth.Role {
	t.Helper()
	ctx := context.Background()
	role, err := f.perms.CreateRole(ctx, "", code+" role", code, "")
	if err != nil {
		t.Fatalf("CreateRole(%s): %v", code, err)
	}
	if len(permCodes) > 0 {
		if err := f.perms.ReplaceRoleGrants(ctx, role.ID, f.permissionIDs(t, permCodes...)); err != nil {
			t.Fatalf("ReplaceRoleGrants(%s): %v", code, err)
		}
	}
	return role
}

func (f *fixture) permissionIDs(t *testing.T, codes ...string) []string {
	t.Helper()
	all, err := f.perms.ListPermissions(context.Background())
	if err != nil {
		t.Fatalf("ListPermissions: %v", err)
	}
	byCode := make(map[string]string, len(all))
	for _, p := range all {
		byCode[p.Code] = p.ID
	}
	ids := make([]string, 0, len(codes))
	for _, code := range codes {
		id, ok := byCode[code]
		if !ok {
			p, err := f.perms.CreatePermission(context.Background(), code, code, "", "")
			if err != nil {
				t.Fatalf("CreatePermission(%s): %v", code, err)
			}
			id = p.ID
			byCode[code] = id
		}
		ids = append(ids, id)
	}
	return ids
}

package auth_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"fleetdesk.org/internal/auth"
)

func TestEffectivePermissionsUnion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "union@fleet.io", "pw")
	r1 := f.createRole(t, "dispatcher", "trips.read", "trips.write")
	r2 := f.createRole(t, "planner", "trips.write", "vehicles.read")

	got, err := f.perms.GetEffectivePermissions(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetEffectivePermissions: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil set for user without roles, got %#v", got)
	}

	for _, r := range []auth.Role{r1, r2} {
		if _, err := f.perms.AssignRole(ctx, user.ID, r.ID); err != nil {
			t.Fatalf("AssignRole: %v", err)
		}
	}
	got, err = f.perms.GetEffectivePermissions(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetEffectivePermissions: %v", err)
	}
	want := []string{"trips.read", "trips.write", "vehicles.read"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if err := f.perms.Authorize(ctx, user.ID, "vehicles.read"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if err := f.perms.Authorize(ctx, user.ID, "vehicles.write"); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAssignAndRemoveIdempotency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "idem@fleet.io", "pw")
	role := f.createRole(t, "viewer")

	if _, err := f.perms.AssignRole(ctx, user.ID, role.ID); err != nil {
		t.Fatalf("first AssignRole: %v", err)
	}
	if _, err := f.perms.AssignRole(ctx, user.ID, role.ID); !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := f.perms.RemoveRole(ctx, user.ID, role.ID); err != nil {
		t.Fatalf("RemoveRole: %v", err)
	}
	if err := f.perms.RemoveRole(ctx, user.ID, role.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.perms.AssignRole(ctx, "missing-user", role.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
	if _, err := f.perms.AssignRole(ctx, user.ID, "missing-role"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown role, got %v", err)
	}
}

func TestProtectedRoleKeepsLastHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice@fleet.io", "pw")
	bob := f.createUser(t, "bob@fleet.io", "pw")

	if _, err := f.perms.AssignRole(ctx, alice.ID, f.admin.ID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := f.perms.RemoveRole(ctx, alice.ID, f.admin.ID); !errors.Is(err, auth.ErrLastHolder) {
		t.Fatalf("expected ErrLastHolder, got %v", err)
	}
	if !errors.Is(auth.ErrLastHolder, auth.ErrConflict) {
		t.Fatalf("ErrLastHolder must be a conflict")
	}

	if _, err := f.perms.AssignRole(ctx, bob.ID, f.admin.ID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := f.perms.RemoveRole(ctx, alice.ID, f.admin.ID); err != nil {
		t.Fatalf("RemoveRole with another holder: %v", err)
	}
}

func TestProtectedRoleCannotBeEditedOrEmptied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	name := "Renamed"
	if _, err := f.perms.UpdateRole(ctx, f.admin.ID, auth.RoleUpdate{Name: &name}); !errors.Is(err, auth.ErrProtectedRole) {
		t.Fatalf("expected ErrProtectedRole on update, got %v", err)
	}
	if err := f.perms.DeleteRole(ctx, f.admin.ID); !errors.Is(err, auth.ErrProtectedRole) {
		t.Fatalf("expected ErrProtectedRole on delete, got %v", err)
	}
	if err := f.perms.ReplaceRoleGrants(ctx, f.admin.ID, nil); !errors.Is(err, auth.ErrProtectedRole) {
		t.Fatalf("expected ErrProtectedRole on empty grants, got %v", err)
	}

	other := f.createRole(t, "clerk", "trips.read")
	if err := f.perms.ReplaceRoleGrants(ctx, other.ID, []string{}); err != nil {
		t.Fatalf("clearing an ordinary role must be allowed: %v", err)
	}
	updated, err := f.perms.UpdateRole(ctx, other.ID, auth.RoleUpdate{Name: &name})
	if err != nil || updated.Name != "Renamed" {
		t.Fatalf("UpdateRole: %+v %v", updated, err)
	}
	if err := f.perms.DeleteRole(ctx, other.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
}

func TestReplaceRoleGrantsValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	role := f.createRole(t, "auditor", "audit.read")

	if err := f.perms.ReplaceRoleGrants(ctx, "missing", nil); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown role, got %v", err)
	}
	if err := f.perms.ReplaceRoleGrants(ctx, role.ID, []string{"nope"}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown permission, got %v", err)
	}
	// A failed replace leaves the previous grants in place.
	m, err := f.perms.GetPermissionMatrix(ctx)
	if err != nil {
		t.Fatalf("GetPermissionMatrix: %v", err)
	}
	if len(m.RoleMap[role.ID]) != 1 {
		t.Fatalf("expected original grant to survive, got %v", m.RoleMap[role.ID])
	}

	ids := f.permissionIDs(t, "audit.read", "users.read")
	if err := f.perms.ReplaceRoleGrants(ctx, role.ID, append(ids, ids[0], " ")); err != nil {
		t.Fatalf("ReplaceRoleGrants with duplicates: %v", err)
	}
	m, err = f.perms.GetPermissionMatrix(ctx)
	if err != nil {
		t.Fatalf("GetPermissionMatrix: %v", err)
	}
	if len(m.RoleMap[role.ID]) != 2 {
		t.Fatalf("expected 2 grants, got %v", m.RoleMap[role.ID])
	}
}

func TestConcurrentReplaceLeavesOneFinalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	role := f.createRole(t, "racer", "trips.read")
	p1 := f.permissionIDs(t, "trips.read")

	for i := 0; i < 50; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = f.perms.ReplaceRoleGrants(ctx, role.ID, nil)
		}()
		go func() {
			defer wg.Done()
			_ = f.perms.ReplaceRoleGrants(ctx, role.ID, p1)
		}()
		wg.Wait()

		m, err := f.perms.GetPermissionMatrix(ctx)
		if err != nil {
			t.Fatalf("GetPermissionMatrix: %v", err)
		}
		got := m.RoleMap[role.ID]
		if len(got) != 0 && !reflect.DeepEqual(got, p1) {
			t.Fatalf("iteration %d: unexpected grant set %v", i, got)
		}
	}
}

func TestPermissionMatrixShape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	empty := f.createRole(t, "empty")
	f.createRole(t, "another", "trips.read")

	m, err := f.perms.GetPermissionMatrix(ctx)
	if err != nil {
		t.Fatalf("GetPermissionMatrix: %v", err)
	}
	grants, ok := m.RoleMap[empty.ID]
	if !ok || grants == nil || len(grants) != 0 {
		t.Fatalf("expected empty grant list for role without permissions, got %#v (present=%v)", grants, ok)
	}
	for i := 1; i < len(m.Roles); i++ {
		if m.Roles[i-1].Name > m.Roles[i].Name {
			t.Fatalf("roles not sorted by name: %q > %q", m.Roles[i-1].Name, m.Roles[i].Name)
		}
	}
	for i := 1; i < len(m.Permissions); i++ {
		if m.Permissions[i-1].Name > m.Permissions[i].Name {
			t.Fatalf("permissions not sorted by name: %q > %q", m.Permissions[i-1].Name, m.Permissions[i].Name)
		}
	}
	if len(m.RoleMap) != len(m.Roles) {
		t.Fatalf("roleMap has %d entries for %d roles", len(m.RoleMap), len(m.Roles))
	}
}

func TestRoleAndPermissionCodesAreNormalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.perms.CreateRole(ctx, "", "Fleet Manager", "  Fleet.Manager ", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if role.Code != "fleet.manager" {
		t.Fatalf("unexpected code %q", role.Code)
	}
	if _, err := f.perms.CreateRole(ctx, "", "Dup", "FLEET.MANAGER", ""); !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for case variant, got %v", err)
	}
	perm, err := f.perms.CreatePermission(ctx, "Vehicles.Docs.Upload", "Upload vehicle documents", "", "")
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	if perm.Code != "vehicles.docs.upload" || perm.Module != "vehicles" {
		t.Fatalf("unexpected permission: %+v", perm)
	}
}

func TestNormalizeCode(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "users.read", want: "users.read"},
		{in: " Users.Read ", want: "users.read"},
		{in: "trip:approve", want: "trip:approve"},
		{in: "cab_services-admin", want: "cab_services-admin"},
		{in: "", wantErr: true},
		{in: "x", wantErr: true},
		{in: "1users", wantErr: true},
		{in: "users read", wantErr: true},
	}
	for _, tc := range cases {
		got, err := auth.NormalizeCode(tc.in)
		if tc.wantErr {
			if !errors.Is(err, auth.ErrInvalidInput) {
				t.Fatalf("%q: expected ErrInvalidInput, got %q %v", tc.in, got, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %q %v, want %q", tc.in, got, err, tc.want)
		}
	}
}

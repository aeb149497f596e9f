package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"fleetdesk.org/internal/auth"
)

var (
	roleRowColumns       = []string{"id", "organization_id", "name", "code", "description", "created_at", "updated_at"}
	permissionRowColumns = []string{"id", "code", "name", "module", "description", "created_at"}
)

func TestReplaceRoleGrantsCommits(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select id from roles where id = \\$1 for update").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r1"))
	mock.ExpectExec("delete from role_permissions").WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("insert into role_permissions").WithArgs("r1", "p1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_permissions").WithArgs("r1", "p2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.ReplaceRoleGrants(context.Background(), "r1", []string{"p1", "p2"}); err != nil {
		t.Fatalf("ReplaceRoleGrants: %v", err)
	}
}

func TestReplaceRoleGrantsUnknownPermissionRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("for update").WithArgs("r1").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r1"))
	mock.ExpectExec("delete from role_permissions").WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_permissions").WithArgs("r1", "missing").
		WillReturnError(&pgconn.PgError{Code: "23503"})
	mock.ExpectRollback()

	err := s.ReplaceRoleGrants(context.Background(), "r1", []string{"missing"})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReplaceRoleGrantsMissingRole(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("for update").WithArgs("nope").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	if err := s.ReplaceRoleGrants(context.Background(), "nope", nil); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveRoleLastHolderRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("for update").WithArgs("admin").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("admin"))
	mock.ExpectExec("delete from user_roles").WithArgs("u1", "admin").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select count\\(\\*\\)").WithArgs("admin").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	if err := s.RemoveRole(context.Background(), "u1", "admin", true); !errors.Is(err, auth.ErrLastHolder) {
		t.Fatalf("expected ErrLastHolder, got %v", err)
	}
}

func TestRemoveRoleWithRemainingHolder(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("for update").WithArgs("admin").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("admin"))
	mock.ExpectExec("delete from user_roles").WithArgs("u1", "admin").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select count\\(\\*\\)").WithArgs("admin").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	if err := s.RemoveRole(context.Background(), "u1", "admin", true); err != nil {
		t.Fatalf("RemoveRole: %v", err)
	}
}

func TestRemoveRoleNotHeld(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from user_roles").WithArgs("u1", "r1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := s.RemoveRole(context.Background(), "u1", "r1", false); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignRoleDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("insert into user_roles").WithArgs("u1", "r1").WillReturnError(&pgconn.PgError{Code: "23505"})

	if _, err := s.AssignRole(context.Background(), "u1", "r1"); !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPermissionMatrixSnapshot(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("from permissions order by name").WillReturnRows(sqlmock.NewRows(permissionRowColumns).
		AddRow("p1", "users.read", "Read users", "users", nil, now).
		AddRow("p2", "users.create", "Create users", "users", "create", now))
	mock.ExpectQuery("from roles order by name").WillReturnRows(sqlmock.NewRows(roleRowColumns).
		AddRow("r1", nil, "Auditor", "auditor", nil, now, now).
		AddRow("r2", nil, "Empty", "empty", nil, now, now))
	mock.ExpectQuery("from role_permissions").WillReturnRows(sqlmock.NewRows([]string{"role_id", "permission_id"}).
		AddRow("r1", "p1").
		AddRow("r1", "p2"))
	mock.ExpectCommit()

	m, err := s.PermissionMatrix(context.Background())
	if err != nil {
		t.Fatalf("PermissionMatrix: %v", err)
	}
	if len(m.Permissions) != 2 || len(m.Roles) != 2 {
		t.Fatalf("unexpected matrix %+v", m)
	}
	if got := m.RoleMap["r1"]; len(got) != 2 {
		t.Fatalf("r1 grants = %v", got)
	}
	if got, ok := m.RoleMap["r2"]; !ok || got == nil || len(got) != 0 {
		t.Fatalf("r2 must map to an empty list, got %v (present=%v)", got, ok)
	}
	if m.Permissions[1].Description != "create" {
		t.Fatalf("description not scanned: %+v", m.Permissions[1])
	}
}

func TestUpdateRoleBuildsSetClause(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	name := "Auditors"
	mock.ExpectQuery("update roles set name = \\$1, updated_at = now\\(\\) where id = \\$2").
		WithArgs("Auditors", "r1").
		WillReturnRows(sqlmock.NewRows(roleRowColumns).AddRow("r1", nil, "Auditors", "auditor", nil, now, now))

	role, err := s.UpdateRole(context.Background(), "r1", auth.RoleUpdate{Name: &name})
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if role.Name != "Auditors" || role.Code != "auditor" {
		t.Fatalf("unexpected role %+v", role)
	}
}

func TestDeleteRoleMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("delete from roles").WithArgs("r9").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteRole(context.Background(), "r9"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRolesForUser(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("from user_roles ur\\s+join roles r").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(roleRowColumns).AddRow("r1", "org1", "Auditor", "auditor", "reads", now, now))

	roles, err := s.RolesForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("RolesForUser: %v", err)
	}
	if len(roles) != 1 || roles[0].OrganizationID != "org1" || roles[0].Description != "reads" {
		t.Fatalf("unexpected roles %+v", roles)
	}
}

package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"fleetdesk.org/internal/auth"
)

var userRowColumns = []string{
	"id", "organization_id", "business_unit_id", "department_id", "email",
	"first_name", "last_name", "phone", "status", "created_at", "updated_at",
}

func TestFindUserByEmail(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("password_hash\\s+from users").
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(append(userRowColumns, "password_hash")).
			AddRow("u1", "org1", nil, nil, "ada@example.com", "Ada", "Lovelace", nil, "active", now, now, "$2a$hash"))

	u, err := s.FindUserByEmail(context.Background(), " ada@example.com ")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if u.ID != "u1" || u.OrganizationID != "org1" || u.BusinessUnitID != "" || u.PasswordHash != "$2a$hash" {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.Status != auth.StatusActive {
		t.Fatalf("status = %q", u.Status)
	}
}

func TestFindUserMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("from users").WithArgs("ghost").WillReturnRows(sqlmock.NewRows(userRowColumns))

	if _, err := s.FindUser(context.Background(), "ghost"); !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("insert into users").
		WithArgs(anyArgs(10)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := s.CreateUser(context.Background(), auth.User{Email: "Ada@Example.com", PasswordHash: "h", FirstName: "Ada"})
	if !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateUserDefaults(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("insert into users").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "ada@example.com",
			"h", "Ada", "", sqlmock.AnyArg(), "active").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("u1", nil, nil, nil, "ada@example.com", "Ada", "", nil, "active", now, now))

	u, err := s.CreateUser(context.Background(), auth.User{Email: "Ada@Example.com", PasswordHash: "h", FirstName: "Ada"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID != "u1" || u.PasswordHash != "" {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestSoftDeleteUser(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Now().UTC()
	mock.ExpectExec("update users\\s+set deleted_at").WithArgs("u1", at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update users\\s+set deleted_at").WithArgs("u1", at).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.SoftDeleteUser(context.Background(), "u1", at, ""); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.SoftDeleteUser(context.Background(), "u1", at, ""); !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestUpdateUserStatus(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("update users\\s+set status").
		WithArgs("u1", "suspended").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("u1", nil, nil, nil, "ada@example.com", "Ada", "", nil, "suspended", now, now))
	mock.ExpectQuery("update users\\s+set status").
		WithArgs("ghost", "active").
		WillReturnRows(sqlmock.NewRows(userRowColumns))

	u, err := s.UpdateUserStatus(context.Background(), "u1", auth.StatusSuspended, "")
	if err != nil || u.Status != auth.StatusSuspended {
		t.Fatalf("UpdateUserStatus = %+v, %v", u, err)
	}
	if _, err := s.UpdateUserStatus(context.Background(), "ghost", auth.StatusActive, "superadmin"); !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSoftDeleteLastHolderRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("select id from roles where code = \\$1 for update").
		WithArgs("superadmin").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r-super"))
	mock.ExpectQuery("select coalesce\\(bool_or").
		WithArgs("r-super", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"held", "others"}).AddRow(true, 0))
	mock.ExpectRollback()

	if err := s.SoftDeleteUser(context.Background(), "u1", at, "superadmin"); !errors.Is(err, auth.ErrLastHolder) {
		t.Fatalf("expected ErrLastHolder, got %v", err)
	}
}

func TestSoftDeleteWithOtherHolder(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("select id from roles where code = \\$1 for update").
		WithArgs("superadmin").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r-super"))
	mock.ExpectQuery("select coalesce\\(bool_or").
		WithArgs("r-super", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"held", "others"}).AddRow(true, 1))
	mock.ExpectExec("update users\\s+set deleted_at").WithArgs("u1", at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.SoftDeleteUser(context.Background(), "u1", at, "superadmin"); err != nil {
		t.Fatalf("SoftDeleteUser: %v", err)
	}
}

func TestSuspendLastHolderRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select id from roles where code = \\$1 for update").
		WithArgs("superadmin").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r-super"))
	mock.ExpectQuery("select coalesce\\(bool_or").
		WithArgs("r-super", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"held", "others"}).AddRow(true, 0))
	mock.ExpectRollback()

	if _, err := s.UpdateUserStatus(context.Background(), "u1", auth.StatusSuspended, "superadmin"); !errors.Is(err, auth.ErrLastHolder) {
		t.Fatalf("expected ErrLastHolder, got %v", err)
	}
}

func TestSuspendNonHolder(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("select id from roles where code = \\$1 for update").
		WithArgs("superadmin").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r-super"))
	mock.ExpectQuery("select coalesce\\(bool_or").
		WithArgs("r-super", "u2").
		WillReturnRows(sqlmock.NewRows([]string{"held", "others"}).AddRow(false, 1))
	mock.ExpectQuery("update users\\s+set status").
		WithArgs("u2", "inactive").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("u2", nil, nil, nil, "bo@example.com", "Bo", "", nil, "inactive", now, now))
	mock.ExpectCommit()

	u, err := s.UpdateUserStatus(context.Background(), "u2", auth.StatusInactive, "superadmin")
	if err != nil || u.Status != auth.StatusInactive {
		t.Fatalf("UpdateUserStatus = %+v, %v", u, err)
	}
}

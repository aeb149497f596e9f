package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"fleetdesk.org/internal/auth"
	"fleetdesk.org/internal/ids"
)

const userColumns = `id, organization_id, business_unit_id, department_id, email,
	first_name, last_name, phone, status, created_at, updated_at`

func scanUser(row scanner, extra ...any) (auth.User, error) {
	var (
		u                 auth.User
		org, bu, dep, tel sql.NullString
		status            string
	)
	dest := []any{&u.ID, &org, &bu, &dep, &u.Email, &u.FirstName, &u.LastName, &tel, &status, &u.CreatedAt, &u.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return auth.User{}, err
	}
	u.OrganizationID, u.BusinessUnitID, u.DepartmentID, u.Phone = org.String, bu.String, dep.String, tel.String
	u.Status = auth.UserStatus(status)
	return u, nil
}

func (s *Store) FindUser(ctx context.Context, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1 and deleted_at is null
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, err
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	var hash string
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+`, password_hash
		from users
		where lower(email) = lower($1) and deleted_at is null
	`, strings.TrimSpace(email)), &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	u.PasswordHash = hash
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = auth.StatusActive
	}
	created, err := scanUser(s.db.QueryRowContext(ctx, `
		insert into users (id, organization_id, business_unit_id, department_id, email,
			password_hash, first_name, last_name, phone, status)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning `+userColumns,
		u.ID, nullIfEmpty(u.OrganizationID), nullIfEmpty(u.BusinessUnitID), nullIfEmpty(u.DepartmentID),
		strings.ToLower(u.Email), u.PasswordHash, u.FirstName, u.LastName, nullIfEmpty(u.Phone), string(u.Status),
	))
	if err != nil {
		return auth.User{}, mapWriteError(err)
	}
	return created, nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) UpdateUserStatus(ctx context.Context, id string, status auth.UserStatus, guardRole string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	if guardRole == "" || status == auth.StatusActive {
		return updateUserStatus(ctx, s.db, id, status)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureOtherHolder(ctx, tx, id, guardRole); err != nil {
		return auth.User{}, err
	}
	u, err := updateUserStatus(ctx, tx, id, status)
	if err != nil {
		return auth.User{}, err
	}
	return u, tx.Commit()
}

func updateUserStatus(ctx context.Context, q queryer, id string, status auth.UserStatus) (auth.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `
		update users
		set status = $2, updated_at = now()
		where id = $1 and deleted_at is null
		returning `+userColumns,
		id, string(status),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, err
}

func (s *Store) SoftDeleteUser(ctx context.Context, id string, at time.Time, guardRole string) error {
	if s.db == nil {
		return errNoDB
	}
	if guardRole == "" {
		return softDeleteUser(ctx, s.db, id, at)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureOtherHolder(ctx, tx, id, guardRole); err != nil {
		return err
	}
	if err := softDeleteUser(ctx, tx, id, at); err != nil {
		return err
	}
	return tx.Commit()
}

func softDeleteUser(ctx context.Context, q queryer, id string, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		update users
		set deleted_at = $2, updated_at = $2
		where id = $1 and deleted_at is null
	`, id, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

// ensureOtherHolder locks the role coded roleCode for the rest of tx and
// returns ErrLastHolder when userID is its only active holder. A missing
// role passes.
func ensureOtherHolder(ctx context.Context, tx *sql.Tx, userID, roleCode string) error {
	var roleID string
	err := tx.QueryRowContext(ctx, `select id from roles where code = $1 for update`, roleCode).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	var (
		held   bool
		others int
	)
	if err := tx.QueryRowContext(ctx, `
		select coalesce(bool_or(ur.user_id = $2), false),
			count(*) filter (where ur.user_id <> $2)
		from user_roles ur
		join users u on u.id = ur.user_id
		where ur.role_id = $1 and u.deleted_at is null and u.status = 'active'
	`, roleID, userID).Scan(&held, &others); err != nil {
		return err
	}
	if held && others == 0 {
		return auth.ErrLastHolder
	}
	return nil
}

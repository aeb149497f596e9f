package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fleetdesk.org/internal/auth"
	"fleetdesk.org/internal/ids"
)

const (
	roleColumns       = `id, organization_id, name, code, description, created_at, updated_at`
	permissionColumns = `id, code, name, module, description, created_at`
)

func scanRole(row scanner) (auth.Role, error) {
	var (
		role      auth.Role
		org, desc sql.NullString
	)
	if err := row.Scan(&role.ID, &org, &role.Name, &role.Code, &desc, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return auth.Role{}, err
	}
	role.OrganizationID, role.Description = org.String, desc.String
	return role, nil
}

func scanPermission(row scanner) (auth.Permission, error) {
	var (
		p    auth.Permission
		desc sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Module, &desc, &p.CreatedAt); err != nil {
		return auth.Permission{}, err
	}
	p.Description = desc.String
	return p, nil
}

func collectRoles(rows *sql.Rows) ([]auth.Role, error) {
	defer rows.Close()
	roles := []auth.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func collectPermissions(rows *sql.Rows) ([]auth.Permission, error) {
	defer rows.Close()
	perms := []auth.Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *Store) CreateRole(ctx context.Context, role auth.Role) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	created, err := scanRole(s.db.QueryRowContext(ctx, `
		insert into roles (id, organization_id, name, code, description)
		values ($1, $2, $3, $4, $5)
		returning `+roleColumns,
		role.ID, nullIfEmpty(role.OrganizationID), role.Name, role.Code, nullIfEmpty(role.Description),
	))
	if err != nil {
		return auth.Role{}, mapWriteError(err)
	}
	return created, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	role, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	return role, err
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by name, id`)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

func (s *Store) UpdateRole(ctx context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Description))
		idx++
	}
	if len(sets) == 0 {
		return s.GetRole(ctx, id)
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)
	role, err := scanRole(s.db.QueryRowContext(ctx,
		fmt.Sprintf(`update roles set %s where id = $%d returning %s`, strings.Join(sets, ", "), idx, roleColumns),
		args...,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Role{}, mapWriteError(err)
	}
	return role, nil
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) CreatePermission(ctx context.Context, perm auth.Permission) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	created, err := scanPermission(s.db.QueryRowContext(ctx, `
		insert into permissions (id, code, name, module, description)
		values ($1, $2, $3, $4, $5)
		returning `+permissionColumns,
		perm.ID, perm.Code, perm.Name, perm.Module, nullIfEmpty(perm.Description),
	))
	if err != nil {
		return auth.Permission{}, mapWriteError(err)
	}
	return created, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+permissionColumns+` from permissions order by name, id`)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

func (s *Store) RolesForUser(ctx context.Context, userID string) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.organization_id, r.name, r.code, r.description, r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.code, p.name, p.module, p.description, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.code
	`, roleID)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

// PermissionMatrix reads the three relations inside one repeatable-read
// transaction so a concurrent grant replace is seen entirely or not at all.
func (s *Store) PermissionMatrix(ctx context.Context) (auth.PermissionMatrix, error) {
	if s.db == nil {
		return auth.PermissionMatrix{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return auth.PermissionMatrix{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `select `+permissionColumns+` from permissions order by name, id`)
	if err != nil {
		return auth.PermissionMatrix{}, err
	}
	perms, err := collectPermissions(rows)
	if err != nil {
		return auth.PermissionMatrix{}, err
	}

	rows, err = tx.QueryContext(ctx, `select `+roleColumns+` from roles order by name, id`)
	if err != nil {
		return auth.PermissionMatrix{}, err
	}
	roles, err := collectRoles(rows)
	if err != nil {
		return auth.PermissionMatrix{}, err
	}

	roleMap := make(map[string][]string, len(roles))
	for _, r := range roles {
		roleMap[r.ID] = []string{}
	}
	grants, err := tx.QueryContext(ctx, `select role_id, permission_id from role_permissions order by role_id, permission_id`)
	if err != nil {
		return auth.PermissionMatrix{}, err
	}
	defer grants.Close()
	for grants.Next() {
		var roleID, permID string
		if err := grants.Scan(&roleID, &permID); err != nil {
			return auth.PermissionMatrix{}, err
		}
		roleMap[roleID] = append(roleMap[roleID], permID)
	}
	if err := grants.Err(); err != nil {
		return auth.PermissionMatrix{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.PermissionMatrix{}, err
	}
	return auth.PermissionMatrix{Permissions: perms, Roles: roles, RoleMap: roleMap}, nil
}

// ReplaceRoleGrants locks the role row first so replaces of the same role
// run one after another; other roles are unaffected.
func (s *Store) ReplaceRoleGrants(ctx context.Context, roleID string, permissionIDs []string) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	if err := tx.QueryRowContext(ctx, `select id from roles where id = $1 for update`, roleID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, roleID, permID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: permission %s", auth.ErrNotFound, permID)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) AssignRole(ctx context.Context, userID, roleID string) (auth.RoleAssignment, error) {
	if s.db == nil {
		return auth.RoleAssignment{}, errNoDB
	}
	a := auth.RoleAssignment{UserID: userID, RoleID: roleID}
	err := s.db.QueryRowContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		returning created_at
	`, userID, roleID).Scan(&a.CreatedAt)
	if err != nil {
		return auth.RoleAssignment{}, mapWriteError(err)
	}
	return a, nil
}

func (s *Store) RemoveRole(ctx context.Context, userID, roleID string, keepHolder bool) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if keepHolder {
		// Serializes concurrent removals from the same role.
		var locked string
		if err := tx.QueryRowContext(ctx, `select id from roles where id = $1 for update`, roleID).Scan(&locked); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return auth.ErrNotFound
			}
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1 and role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	if keepHolder {
		var remaining int
		if err := tx.QueryRowContext(ctx, `
			select count(*)
			from user_roles ur
			join users u on u.id = ur.user_id
			where ur.role_id = $1 and u.deleted_at is null and u.status = 'active'
		`, roleID).Scan(&remaining); err != nil {
			return err
		}
		if remaining == 0 {
			return auth.ErrLastHolder
		}
	}
	return tx.Commit()
}

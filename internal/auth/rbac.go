package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var codePattern = regexp.MustCompile(`^[a-z][a-z0-9_.:-]{1,63}$`)

// NormalizeCode trims and lower-cases a role or permission code and checks
// it against the allowed shape.
func NormalizeCode(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if !codePattern.MatchString(code) {
		return "", fmt.Errorf("%w: code %q must match %s", ErrInvalidInput, code, codePattern.String())
	}
	return code, nil
}

// PermissionService resolves effective permissions and administers the
// role/permission graph. The protected role can never be edited, deleted,
// emptied of grants, or left without a holder.
type PermissionService struct {
	store     RBACStore
	users     UserStore
	protected string
}

// PermissionOption configures PermissionService behavior.
type PermissionOption func(*PermissionService) error

// WithProtectedRole overrides the protected role code.
func WithProtectedRole(code string) PermissionOption {
	return func(s *PermissionService) error {
		normalized, err := NormalizeCode(code)
		if err != nil {
			return err
		}
		s.protected = normalized
		return nil
	}
}

func NewPermissionService(store RBACStore, users UserStore, opts ...PermissionOption) (*PermissionService, error) {
	if store == nil || users == nil {
		return nil, errors.New("auth: rbac store and user store are required")
	}
	s := &PermissionService{store: store, users: users, protected: DefaultProtectedRole}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ProtectedRole returns the protected role code.
func (s *PermissionService) ProtectedRole() string { return s.protected }

// IsProtected reports whether role is the protected administrative role.
func (s *PermissionService) IsProtected(role Role) bool {
	return role.Code == s.protected
}

// GetEffectivePermissions returns the sorted union of permission codes
// granted by every role userID holds. No roles yields an empty list.
func (s *PermissionService) GetEffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	roles, err := s.store.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, role := range roles {
		perms, err := s.store.PermissionsForRole(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			set[p.Code] = struct{}{}
		}
	}
	codes := make([]string, 0, len(set))
	for code := range set {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// Authorize returns ErrForbidden unless userID holds the permission code.
func (s *PermissionService) Authorize(ctx context.Context, userID, code string) error {
	codes, err := s.GetEffectivePermissions(ctx, userID)
	if err != nil {
		return err
	}
	i := sort.SearchStrings(codes, code)
	if i < len(codes) && codes[i] == code {
		return nil
	}
	return fmt.Errorf("%w: missing permission %s", ErrForbidden, code)
}

// GetPermissionMatrix returns the whole grant graph with permissions and
// roles sorted by name and an entry in RoleMap for every role.
func (s *PermissionService) GetPermissionMatrix(ctx context.Context) (PermissionMatrix, error) {
	m, err := s.store.PermissionMatrix(ctx)
	if err != nil {
		return PermissionMatrix{}, err
	}
	if m.Permissions == nil {
		m.Permissions = []Permission{}
	}
	if m.Roles == nil {
		m.Roles = []Role{}
	}
	sort.SliceStable(m.Permissions, func(i, j int) bool {
		if m.Permissions[i].Name != m.Permissions[j].Name {
			return m.Permissions[i].Name < m.Permissions[j].Name
		}
		return m.Permissions[i].ID < m.Permissions[j].ID
	})
	sort.SliceStable(m.Roles, func(i, j int) bool {
		if m.Roles[i].Name != m.Roles[j].Name {
			return m.Roles[i].Name < m.Roles[j].Name
		}
		return m.Roles[i].ID < m.Roles[j].ID
	})
	roleMap := make(map[string][]string, len(m.Roles))
	for _, role := range m.Roles {
		grants := append([]string{}, m.RoleMap[role.ID]...)
		sort.Strings(grants)
		roleMap[role.ID] = grants
	}
	m.RoleMap = roleMap
	return m, nil
}

// ReplaceRoleGrants replaces the role's grant set in one transaction. An
// empty set clears the grants, except on the protected role.
func (s *PermissionService) ReplaceRoleGrants(ctx context.Context, roleID string, permissionIDs []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	ids := dedupeStrings(permissionIDs)
	if len(ids) == 0 && s.IsProtected(role) {
		return fmt.Errorf("%w: %s must keep its permissions", ErrProtectedRole, role.Code)
	}
	return s.store.ReplaceRoleGrants(ctx, roleID, ids)
}

// AssignRole gives userID the role. Assigning a held role yields ErrAlreadyExists.
func (s *PermissionService) AssignRole(ctx context.Context, userID, roleID string) (RoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return RoleAssignment{}, fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if _, err := s.users.FindUser(ctx, userID); err != nil {
		return RoleAssignment{}, err
	}
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return RoleAssignment{}, err
	}
	return s.store.AssignRole(ctx, userID, roleID)
}

// RemoveRole takes the role from userID. Removing an unheld role yields
// ErrNotFound; removing the last holder of the protected role yields
// ErrLastHolder.
func (s *PermissionService) RemoveRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	return s.store.RemoveRole(ctx, userID, roleID, s.IsProtected(role))
}

func (s *PermissionService) CreateRole(ctx context.Context, organizationID, name, code, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	code, err := NormalizeCode(code)
	if err != nil {
		return Role{}, err
	}
	return s.store.CreateRole(ctx, Role{
		OrganizationID: strings.TrimSpace(organizationID),
		Name:           name,
		Code:           code,
		Description:    strings.TrimSpace(description),
	})
}

func (s *PermissionService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *PermissionService) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error) {
	role, err := s.mutableRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	return s.store.UpdateRole(ctx, role.ID, upd)
}

func (s *PermissionService) DeleteRole(ctx context.Context, roleID string) error {
	role, err := s.mutableRole(ctx, roleID)
	if err != nil {
		return err
	}
	return s.store.DeleteRole(ctx, role.ID)
}

func (s *PermissionService) mutableRole(ctx context.Context, roleID string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if s.IsProtected(role) {
		return Role{}, fmt.Errorf("%w: %s cannot be modified", ErrProtectedRole, role.Code)
	}
	return role, nil
}

func (s *PermissionService) CreatePermission(ctx context.Context, code, name, module, description string) (Permission, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return Permission{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, fmt.Errorf("%w: permission name is required", ErrInvalidInput)
	}
	module = strings.ToLower(strings.TrimSpace(module))
	if module == "" {
		module, _, _ = strings.Cut(code, ".")
	}
	return s.store.CreatePermission(ctx, Permission{
		Code:        code,
		Name:        name,
		Module:      module,
		Description: strings.TrimSpace(description),
	})
}

func (s *PermissionService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func dedupeStrings(values []string) []string {
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

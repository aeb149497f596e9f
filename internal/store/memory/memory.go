// Package memory provides in-process implementations of the persistence
// interfaces. It backs tests and single-process development runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"fleetdesk.org/internal/auth"
	"fleetdesk.org/internal/ids"
)

var (
	_ auth.UserStore    = (*Store)(nil)
	_ auth.RBACStore    = (*Store)(nil)
	_ auth.SessionStore = (*Store)(nil)
)

// Store keeps every relation in maps guarded by one mutex, which also gives
// ReplaceRoleGrants and the matrix read their atomicity.
type Store struct {
	mu sync.RWMutex

	now func() time.Time

	users       map[string]auth.User
	roles       map[string]auth.Role
	permissions map[string]auth.Permission
	assignments map[string]map[string]time.Time // user -> role -> assigned at
	grants      map[string]map[string]struct{}  // role -> permission
	sessions    map[string]auth.RefreshSession

	audit auditLog
}

// Option configures Store.
type Option func(*Store)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		users:       make(map[string]auth.User),
		roles:       make(map[string]auth.Role),
		permissions: make(map[string]auth.Permission),
		assignments: make(map[string]map[string]time.Time),
		grants:      make(map[string]map[string]struct{}),
		sessions:    make(map[string]auth.RefreshSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed inserts the builtin permission catalog and a protected role holding
// all of it. It returns the role.
func (s *Store) Seed(ctx context.Context, protectedCode string) (auth.Role, error) {
	role, err := s.CreateRole(ctx, auth.Role{Name: "Super Administrator", Code: protectedCode})
	if err != nil {
		return auth.Role{}, err
	}
	var permIDs []string
	for _, p := range auth.BuiltinPermissions {
		created, err := s.CreatePermission(ctx, p)
		if err != nil {
			return auth.Role{}, err
		}
		permIDs = append(permIDs, created.ID)
	}
	if err := s.ReplaceRoleGrants(ctx, role.ID, permIDs); err != nil {
		return auth.Role{}, err
	}
	return role, nil
}

// Users ----------------------------------------------------------------------

func (s *Store) FindUser(_ context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.liveUser(id)
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u.Public(), nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (auth.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.DeletedAt == nil && u.Email == email {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrUserNotFound
}

func (s *Store) CreateUser(_ context.Context, u auth.User) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range s.users {
		if existing.DeletedAt == nil && existing.Email == u.Email {
			return auth.User{}, auth.ErrAlreadyExists
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = auth.StatusActive
	}
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) UpdateUserStatus(_ context.Context, id string, status auth.UserStatus, guardRole string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.liveUser(id)
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	if status != auth.StatusActive {
		if err := s.guardHolder(u, guardRole); err != nil {
			return auth.User{}, err
		}
	}
	u.Status = status
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return u.Public(), nil
}

func (s *Store) SoftDeleteUser(_ context.Context, id string, at time.Time, guardRole string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.liveUser(id)
	if !ok {
		return auth.ErrUserNotFound
	}
	if err := s.guardHolder(u, guardRole); err != nil {
		return err
	}
	u.DeletedAt = &at
	u.UpdatedAt = at
	s.users[id] = u
	return nil
}

func (s *Store) liveUser(id string) (auth.User, bool) {
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return auth.User{}, false
	}
	return u, true
}

// Roles and permissions ------------------------------------------------------

func (s *Store) CreateRole(_ context.Context, role auth.Role) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Code == role.Code {
			return auth.Role{}, auth.ErrAlreadyExists
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := s.now().UTC()
	role.CreatedAt, role.UpdatedAt = now, now
	s.roles[role.ID] = role
	return role, nil
}

func (s *Store) GetRole(_ context.Context, id string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return role, nil
}

func (s *Store) ListRoles(_ context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedRoles(), nil
}

func (s *Store) UpdateRole(_ context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	if upd.Name != nil {
		role.Name = *upd.Name
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}
	role.UpdatedAt = s.now().UTC()
	s.roles[id] = role
	return role, nil
}

func (s *Store) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.roles, id)
	delete(s.grants, id)
	for _, held := range s.assignments {
		delete(held, id)
	}
	return nil
}

func (s *Store) CreatePermission(_ context.Context, perm auth.Permission) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.permissions {
		if existing.Code == perm.Code {
			return auth.Permission{}, auth.ErrAlreadyExists
		}
	}
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	perm.CreatedAt = s.now().UTC()
	s.permissions[perm.ID] = perm
	return perm, nil
}

func (s *Store) ListPermissions(_ context.Context) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedPermissions(), nil
}

func (s *Store) RolesForUser(_ context.Context, userID string) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roles := make([]auth.Role, 0, len(s.assignments[userID]))
	for roleID := range s.assignments[userID] {
		if role, ok := s.roles[roleID]; ok {
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (s *Store) PermissionsForRole(_ context.Context, roleID string) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perms := make([]auth.Permission, 0, len(s.grants[roleID]))
	for permID := range s.grants[roleID] {
		if p, ok := s.permissions[permID]; ok {
			perms = append(perms, p)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms, nil
}

func (s *Store) PermissionMatrix(_ context.Context) (auth.PermissionMatrix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := auth.PermissionMatrix{
		Permissions: s.sortedPermissions(),
		Roles:       s.sortedRoles(),
		RoleMap:     make(map[string][]string, len(s.roles)),
	}
	for _, role := range m.Roles {
		granted := make([]string, 0, len(s.grants[role.ID]))
		for permID := range s.grants[role.ID] {
			granted = append(granted, permID)
		}
		sort.Strings(granted)
		m.RoleMap[role.ID] = granted
	}
	return m, nil
}

func (s *Store) ReplaceRoleGrants(_ context.Context, roleID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	next := make(map[string]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, ok := s.permissions[id]; !ok {
			return auth.ErrNotFound
		}
		next[id] = struct{}{}
	}
	s.grants[roleID] = next
	return nil
}

func (s *Store) AssignRole(_ context.Context, userID, roleID string) (auth.RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liveUser(userID); !ok {
		return auth.RoleAssignment{}, auth.ErrUserNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return auth.RoleAssignment{}, auth.ErrNotFound
	}
	held := s.assignments[userID]
	if held == nil {
		held = make(map[string]time.Time)
		s.assignments[userID] = held
	}
	if _, ok := held[roleID]; ok {
		return auth.RoleAssignment{}, auth.ErrAlreadyExists
	}
	at := s.now().UTC()
	held[roleID] = at
	return auth.RoleAssignment{UserID: userID, RoleID: roleID, CreatedAt: at}, nil
}

func (s *Store) RemoveRole(_ context.Context, userID, roleID string, keepHolder bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.assignments[userID]
	at, ok := held[roleID]
	if !ok {
		return auth.ErrNotFound
	}
	delete(held, roleID)
	if keepHolder && s.holders(roleID) == 0 {
		held[roleID] = at
		return auth.ErrLastHolder
	}
	return nil
}

// holders counts the live, active users holding roleID.
func (s *Store) holders(roleID string) int {
	n := 0
	for userID, held := range s.assignments {
		if _, ok := held[roleID]; !ok {
			continue
		}
		if u, live := s.liveUser(userID); live && u.Status == auth.StatusActive {
			n++
		}
	}
	return n
}

// guardHolder fails with ErrLastHolder when u is the only active holder of
// the role coded roleCode.
func (s *Store) guardHolder(u auth.User, roleCode string) error {
	if roleCode == "" || u.Status != auth.StatusActive {
		return nil
	}
	for roleID := range s.assignments[u.ID] {
		role, ok := s.roles[roleID]
		if ok && role.Code == roleCode && s.holders(roleID) <= 1 {
			return auth.ErrLastHolder
		}
	}
	return nil
}

func (s *Store) sortedRoles() []auth.Role {
	roles := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Name != roles[j].Name {
			return roles[i].Name < roles[j].Name
		}
		return roles[i].ID < roles[j].ID
	})
	return roles
}

func (s *Store) sortedPermissions() []auth.Permission {
	perms := make([]auth.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Name != perms[j].Name {
			return perms[i].Name < perms[j].Name
		}
		return perms[i].ID < perms[j].ID
	})
	return perms
}

// Sessions -------------------------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess auth.RefreshSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return auth.ErrAlreadyExists
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) ConsumeSession(_ context.Context, id string, at time.Time) (auth.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	switch {
	case !ok:
		return auth.RefreshSession{}, auth.ErrNotFound
	case sess.RevokedAt != nil:
		return auth.RefreshSession{}, auth.ErrSessionConsumed
	case !at.Before(sess.ExpiresAt):
		return auth.RefreshSession{}, auth.ErrNotFound
	}
	sess.RevokedAt = &at
	s.sessions[id] = sess
	return sess, nil
}

func (s *Store) RevokeSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	if sess.RevokedAt == nil {
		sess.RevokedAt = &at
		s.sessions[id] = sess
	}
	return nil
}

func (s *Store) RevokeUserSessions(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.UserID != userID || sess.RevokedAt != nil {
			continue
		}
		sess.RevokedAt = &at
		s.sessions[id] = sess
		n++
	}
	return n, nil
}

func (s *Store) PurgeSessions(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Session returns a copy of the stored session.
func (s *Store) Session(id string) (auth.RefreshSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

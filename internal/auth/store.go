package auth

import (
	"context"
	"time"
)

// UserStore persists accounts. Soft-deleted rows are invisible to every method.
type UserStore interface {
	// FindUser loads a user without credential material.
	FindUser(ctx context.Context, id string) (User, error)
	// FindUserByEmail loads a user including the password hash.
	FindUserByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, u User) (User, error)
	// UpdateUserStatus and SoftDeleteUser fail with ErrLastHolder, leaving the
	// row untouched, when the user is the only active holder of the role
	// coded guardRole and the change would take them out of service. An
	// empty guardRole disables the check.
	UpdateUserStatus(ctx context.Context, id string, status UserStatus, guardRole string) (User, error)
	SoftDeleteUser(ctx context.Context, id string, at time.Time, guardRole string) error
}

// RBACStore persists roles, permissions and the two join relations.
type RBACStore interface {
	CreateRole(ctx context.Context, role Role) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, id string) error

	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)

	RolesForUser(ctx context.Context, userID string) ([]Role, error)
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)

	// PermissionMatrix reads permissions, roles and grants from one snapshot.
	PermissionMatrix(ctx context.Context) (PermissionMatrix, error)
	// ReplaceRoleGrants swaps the role's grant set atomically. Calls for the
	// same role serialize.
	ReplaceRoleGrants(ctx context.Context, roleID string, permissionIDs []string) error

	AssignRole(ctx context.Context, userID, roleID string) (RoleAssignment, error)
	// RemoveRole deletes the assignment. With keepHolder set the removal is
	// rolled back with ErrLastHolder when no active user would hold the role
	// afterwards.
	RemoveRole(ctx context.Context, userID, roleID string, keepHolder bool) error
}

// SessionStore persists refresh sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s RefreshSession) error
	// ConsumeSession revokes an active session and returns it. A session that
	// exists but was already revoked yields ErrSessionConsumed; a missing or
	// expired one yields ErrNotFound.
	ConsumeSession(ctx context.Context, id string, at time.Time) (RefreshSession, error)
	RevokeSession(ctx context.Context, id string, at time.Time) error
	RevokeUserSessions(ctx context.Context, userID string, at time.Time) (int64, error)
	// PurgeSessions deletes sessions that expired before cutoff. Revoked but
	// unexpired sessions stay so a replayed refresh token is still recognised.
	PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

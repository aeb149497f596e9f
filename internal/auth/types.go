package auth

import (
	"fmt"
	"strings"
	"time"
)

// UserStatus is the employment status of an account. Only active accounts
// may authenticate.
type UserStatus string

const (
	StatusActive    UserStatus = "active"
	StatusInactive  UserStatus = "inactive"
	StatusSuspended UserStatus = "suspended"
	StatusPending   UserStatus = "pending"
)

// ParseUserStatus normalizes s and checks it against the known statuses.
func ParseUserStatus(s string) (UserStatus, error) {
	switch status := UserStatus(strings.ToLower(strings.TrimSpace(s))); status {
	case StatusActive, StatusInactive, StatusSuspended, StatusPending:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, s)
	}
}

// User is a person operating the back office. PasswordHash is populated only
// by credential lookups and never serialized.
type User struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId,omitempty"`
	BusinessUnitID string     `json:"businessUnitId,omitempty"`
	DepartmentID   string     `json:"departmentId,omitempty"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	Phone          string     `json:"phone,omitempty"`
	Status         UserStatus `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DeletedAt      *time.Time `json:"-"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Public returns a copy without credential material.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

// Identity is the minimal caller description attached to a request.
type Identity struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	OrganizationID string `json:"organizationId,omitempty"`
	BusinessUnitID string `json:"businessUnitId,omitempty"`
	DepartmentID   string `json:"departmentId,omitempty"`
}

// IdentityOf derives the request identity from a loaded user.
func IdentityOf(u User) Identity {
	return Identity{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.FullName(),
		OrganizationID: u.OrganizationID,
		BusinessUnitID: u.BusinessUnitID,
		DepartmentID:   u.DepartmentID,
	}
}

type Role struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId,omitempty"`
	Name           string    `json:"name"`
	Code           string    `json:"code"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Permission struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Module      string    `json:"module"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoleAssignment links a user to a role.
type RoleAssignment struct {
	UserID    string    `json:"userId"`
	RoleID    string    `json:"roleId"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoleUpdate carries the mutable role fields. The code is immutable.
type RoleUpdate struct {
	Name        *string
	Description *string
}

// PermissionMatrix is the full role to permission grant graph.
type PermissionMatrix struct {
	Permissions []Permission        `json:"permissions"`
	Roles       []Role              `json:"roles"`
	RoleMap     map[string][]string `json:"roleMap"`
}

// RefreshSession is the server-side record backing one refresh token.
type RefreshSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// NewUser is the input for account creation.
type NewUser struct {
	OrganizationID string
	BusinessUnitID string
	DepartmentID   string
	Email          string
	Password       string
	FirstName      string
	LastName       string
	Phone          string
	Status         string
}

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// LoginResult bundles a fresh token pair with the public profile.
type LoginResult struct {
	TokenPair
	User User `json:"user"`
}

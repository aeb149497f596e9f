package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// UserService administers accounts.
type UserService struct {
	users     UserStore
	sessions  SessionStore
	now       func() time.Time
	protected string
}

// UserOption configures UserService behavior.
type UserOption func(*UserService) error

// WithUserProtectedRole sets the role whose last active holder can be neither
// deactivated nor deleted. It should match the PermissionService setting.
func WithUserProtectedRole(code string) UserOption {
	return func(s *UserService) error {
		normalized, err := NormalizeCode(code)
		if err != nil {
			return err
		}
		s.protected = normalized
		return nil
	}
}

func NewUserService(users UserStore, sessions SessionStore, opts ...UserOption) (*UserService, error) {
	if users == nil || sessions == nil {
		return nil, errors.New("auth: user store and session store are required")
	}
	s := &UserService{users: users, sessions: sessions, now: time.Now, protected: DefaultProtectedRole}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateUser hashes the password and persists the account. Status defaults
// to active.
func (s *UserService) CreateUser(ctx context.Context, in NewUser) (User, error) {
	email := normalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.FirstName) == "" {
		return User{}, fmt.Errorf("%w: first name is required", ErrInvalidInput)
	}
	status := StatusActive
	if strings.TrimSpace(in.Status) != "" {
		parsed, err := ParseUserStatus(in.Status)
		if err != nil {
			return User{}, err
		}
		status = parsed
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	user, err := s.users.CreateUser(ctx, User{
		OrganizationID: strings.TrimSpace(in.OrganizationID),
		BusinessUnitID: strings.TrimSpace(in.BusinessUnitID),
		DepartmentID:   strings.TrimSpace(in.DepartmentID),
		Email:          email,
		PasswordHash:   hash,
		FirstName:      strings.TrimSpace(in.FirstName),
		LastName:       strings.TrimSpace(in.LastName),
		Phone:          strings.TrimSpace(in.Phone),
		Status:         status,
	})
	if err != nil {
		return User{}, err
	}
	return user.Public(), nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.users.FindUser(ctx, id)
}

// UpdateStatus changes the account status. Leaving active revokes every
// refresh session so the change takes effect within one access token TTL.
// Deactivating the last active holder of the protected role fails with
// ErrLastHolder.
func (s *UserService) UpdateStatus(ctx context.Context, id, status string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	parsed, err := ParseUserStatus(status)
	if err != nil {
		return User{}, err
	}
	user, err := s.users.UpdateUserStatus(ctx, id, parsed, s.protected)
	if err != nil {
		return User{}, err
	}
	if parsed != StatusActive {
		if _, err := s.sessions.RevokeUserSessions(ctx, id, s.now().UTC()); err != nil {
			return User{}, err
		}
	}
	return user, nil
}

// DeleteUser soft-deletes the account and revokes its sessions. The last
// active holder of the protected role cannot be deleted.
func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	if err := s.users.SoftDeleteUser(ctx, id, now, s.protected); err != nil {
		return err
	}
	_, err := s.sessions.RevokeUserSessions(ctx, id, now)
	return err
}

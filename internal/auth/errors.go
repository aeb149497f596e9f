package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("auth: not found")
	ErrUserNotFound    = fmt.Errorf("%w: user", ErrNotFound)
	ErrAlreadyExists   = errors.New("auth: already exists")
	ErrConflict        = errors.New("auth: conflict")
	ErrLastHolder      = fmt.Errorf("%w: role must keep at least one holder", ErrConflict)
	ErrProtectedRole   = errors.New("auth: protected role")
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrUnauthorized    = errors.New("auth: unauthorized")
	ErrForbidden       = errors.New("auth: forbidden")
	ErrTokenExpired    = errors.New("auth: token expired")
	ErrInvalidToken    = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	ErrInvalidPassword = fmt.Errorf("%w: invalid password", ErrUnauthorized)
	ErrRefreshReuse    = fmt.Errorf("%w: refresh token reuse", ErrUnauthorized)

	// ErrSessionConsumed is returned by session stores when a refresh session
	// exists but has already been revoked.
	ErrSessionConsumed = errors.New("auth: session already consumed")
)

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"fleetdesk.org/internal/obs"
)

// Authenticator runs the credential flows: login, refresh, logout and
// per-request identity resolution.
type Authenticator struct {
	users    UserStore
	sessions SessionStore
	tokens   *TokenService
	now      func() time.Time
	logger   *zap.Logger
}

// AuthenticatorOption configures Authenticator behavior.
type AuthenticatorOption func(*Authenticator) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) error {
		if fn != nil {
			a.now = fn
		}
		return nil
	}
}

// WithLogger overrides the logger used for authentication events.
func WithLogger(l *zap.Logger) AuthenticatorOption {
	return func(a *Authenticator) error {
		if l != nil {
			a.logger = l
		}
		return nil
	}
}

// NewAuthenticator constructs Authenticator with optional configuration.
func NewAuthenticator(users UserStore, sessions SessionStore, tokens *TokenService, opts ...AuthenticatorOption) (*Authenticator, error) {
	if users == nil || sessions == nil || tokens == nil {
		return nil, errors.New("auth: user store, session store and token service are required")
	}
	a := &Authenticator{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		now:      time.Now,
		logger:   obs.Logger(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Tokens exposes the underlying token service.
func (a *Authenticator) Tokens() *TokenService { return a.tokens }

// Login checks credentials and opens a refresh session.
func (a *Authenticator) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	user, err := a.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrUserNotFound
		}
		return LoginResult{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return LoginResult{}, err
	}
	if user.Status != StatusActive {
		return LoginResult{}, fmt.Errorf("%w: account is %s", ErrUnauthorized, user.Status)
	}
	pair, err := a.issuePair(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{TokenPair: pair, User: user.Public()}, nil
}

// Refresh exchanges a refresh token for a new pair. Each refresh token is
// single use; presenting a consumed one revokes every session of its owner.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	tok, err := a.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return TokenPair{}, fmt.Errorf("%w: refresh token expired", ErrUnauthorized)
		}
		return TokenPair{}, err
	}
	now := a.now().UTC()
	session, err := a.sessions.ConsumeSession(ctx, tok.ID, now)
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionConsumed):
		revoked, rerr := a.sessions.RevokeUserSessions(ctx, tok.Subject, now)
		if rerr != nil {
			return TokenPair{}, rerr
		}
		a.logger.Warn("refresh token reuse detected",
			zap.String("user_id", tok.Subject),
			zap.String("session_id", tok.ID),
			zap.Int64("revoked_sessions", revoked),
		)
		return TokenPair{}, ErrRefreshReuse
	case errors.Is(err, ErrNotFound):
		return TokenPair{}, fmt.Errorf("%w: unknown refresh session", ErrUnauthorized)
	default:
		return TokenPair{}, err
	}
	if session.UserID != tok.Subject {
		return TokenPair{}, ErrInvalidToken
	}
	if _, err := a.activeUser(ctx, tok.Subject); err != nil {
		return TokenPair{}, err
	}
	return a.issuePair(ctx, tok.Subject)
}

// Logout revokes the session behind refreshToken. Revoking an already
// revoked session is not an error.
func (a *Authenticator) Logout(ctx context.Context, refreshToken string) error {
	tok, err := a.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return err
	}
	if err := a.sessions.RevokeSession(ctx, tok.ID, a.now().UTC()); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// LogoutAll revokes every refresh session of userID.
func (a *Authenticator) LogoutAll(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	_, err := a.sessions.RevokeUserSessions(ctx, userID, a.now().UTC())
	return err
}

// Authenticate resolves an access token into the caller identity. Expired
// tokens yield ErrTokenExpired; every other failure, including an account
// that is no longer active, yields an error matching ErrUnauthorized.
func (a *Authenticator) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	tok, err := a.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return Identity{}, err
	}
	user, err := a.activeUser(ctx, tok.Subject)
	if err != nil {
		return Identity{}, err
	}
	return IdentityOf(user), nil
}

func (a *Authenticator) activeUser(ctx context.Context, id string) (User, error) {
	user, err := a.users.FindUser(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, fmt.Errorf("%w: user no longer exists", ErrUnauthorized)
		}
		return User{}, err
	}
	if user.Status != StatusActive {
		return User{}, fmt.Errorf("%w: account is %s", ErrUnauthorized, user.Status)
	}
	return user, nil
}

func (a *Authenticator) issuePair(ctx context.Context, userID string) (TokenPair, error) {
	access, err := a.tokens.IssueAccessToken(userID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := a.tokens.IssueRefreshToken(userID)
	if err != nil {
		return TokenPair{}, err
	}
	err = a.sessions.CreateSession(ctx, RefreshSession{
		ID:        refresh.ID,
		UserID:    userID,
		CreatedAt: refresh.IssuedAt,
		ExpiresAt: refresh.ExpiresAt,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: open refresh session: %w", err)
	}
	return TokenPair{
		AccessToken:      access.Value,
		RefreshToken:     refresh.Value,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

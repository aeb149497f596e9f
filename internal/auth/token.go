package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fleetdesk.org/internal/ids"
	"fleetdesk.org/internal/obs"
)

// MinSecretLength is the minimum signing secret size in bytes.
const MinSecretLength = 32

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
	defaultIssuer     = "fleetdesk"
)

// TokenClass separates access and refresh credentials.
type TokenClass string

const (
	AccessToken  TokenClass = "access"
	RefreshToken TokenClass = "refresh"
)

// Claims is the JWT payload shared by both token classes.
type Claims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Token is an issued or verified credential.
type Token struct {
	Value     string
	ID        string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type signer struct {
	class  TokenClass
	secret []byte
	ttl    time.Duration
}

// TokenConfig carries the signing material for both token classes.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenService issues and verifies HS256 bearer tokens. Verification is pure.
type TokenService struct {
	access  signer
	refresh signer
	issuer  string
	now     func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithTokenClock overrides time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewTokenService validates cfg and constructs the service. Any error here is
// a startup misconfiguration.
func NewTokenService(cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		cfg.Issuer = defaultIssuer
	}
	switch {
	case len(cfg.AccessSecret) < MinSecretLength:
		return nil, fmt.Errorf("auth: access token secret must be at least %d bytes", MinSecretLength)
	case len(cfg.RefreshSecret) < MinSecretLength:
		return nil, fmt.Errorf("auth: refresh token secret must be at least %d bytes", MinSecretLength)
	case cfg.AccessSecret == cfg.RefreshSecret:
		return nil, errors.New("auth: access and refresh secrets must differ")
	case cfg.AccessTTL < 0 || cfg.RefreshTTL < 0:
		return nil, errors.New("auth: token TTLs must be positive")
	case cfg.AccessTTL >= cfg.RefreshTTL:
		return nil, errors.New("auth: access TTL must be shorter than refresh TTL")
	}

	svc := &TokenService{
		access:  signer{class: AccessToken, secret: []byte(cfg.AccessSecret), ttl: cfg.AccessTTL},
		refresh: signer{class: RefreshToken, secret: []byte(cfg.RefreshSecret), ttl: cfg.RefreshTTL},
		issuer:  strings.TrimSpace(cfg.Issuer),
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.access.ttl }

// RefreshTTL reports the configured refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.refresh.ttl }

func (s *TokenService) IssueAccessToken(subject string) (Token, error) {
	return s.issue(s.access, subject)
}

func (s *TokenService) IssueRefreshToken(subject string) (Token, error) {
	return s.issue(s.refresh, subject)
}

// VerifyAccessToken checks signature, expiry and class of an access token.
func (s *TokenService) VerifyAccessToken(token string) (Token, error) {
	return s.verify(s.access, token)
}

// VerifyRefreshToken checks signature, expiry and class of a refresh token.
func (s *TokenService) VerifyRefreshToken(token string) (Token, error) {
	return s.verify(s.refresh, token)
}

func (s *TokenService) issue(sg signer, subject string) (Token, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Token{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	now := s.now().UTC().Truncate(time.Second)
	claims := Claims{
		TokenType: string(sg.class),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sg.ttl)),
			ID:        ids.NewTokenID(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(sg.secret)
	if err != nil {
		return Token{}, fmt.Errorf("auth: sign %s token: %w", sg.class, err)
	}
	return Token{
		Value:     signed,
		ID:        claims.ID,
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *TokenService) verify(sg signer, raw string) (Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		obs.ObserveTokenVerification(string(sg.class), "invalid")
		return Token{}, ErrInvalidToken
	}
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	// jwt/v5 checks the signature before any claim, so a foreign key never
	// reaches the expiry check.
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return sg.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		obs.ObserveTokenVerification(string(sg.class), "expired")
		return Token{}, ErrTokenExpired
	default:
		obs.ObserveTokenVerification(string(sg.class), "invalid")
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.TokenType != string(sg.class) || claims.Subject == "" {
		obs.ObserveTokenVerification(string(sg.class), "invalid")
		return Token{}, ErrInvalidToken
	}
	obs.ObserveTokenVerification(string(sg.class), "ok")

	tok := Token{Value: raw, ID: claims.ID, Subject: claims.Subject}
	if claims.IssuedAt != nil {
		tok.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		tok.ExpiresAt = claims.ExpiresAt.Time
	}
	return tok, nil
}

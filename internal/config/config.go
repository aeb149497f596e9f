// Package config loads process configuration from the environment.
// Sources in priority order: environment variables > .env file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const envPrefix = "FLEETDESK_"

// Environments recognised by Config.Environment.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config holds all runtime configuration. Signing material and the database
// DSN are mandatory; everything else has a default.
type Config struct {
	Environment string
	HTTPAddr    string
	GRPCAddr    string
	LogLevel    string

	DatabaseDSN string

	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	TokenIssuer        string

	ProtectedRoleCode string
	RoutePolicyFile   string

	RequestTimeout time.Duration
	MaxBodyBytes   int64

	AuthRateBurst  int
	AuthRatePerSec int
	// TrustProxyHeaders lets X-Forwarded-For pick the rate-limit bucket.
	TrustProxyHeaders bool

	AuditQueueSize int
	AuditWorkers   int

	SessionSweepSchedule string
}

// Production reports whether the process runs in production mode.
func (c Config) Production() bool {
	return c.Environment == EnvProduction
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// DSN returns the database DSN alone, for tools that need no signing material.
func DSN() string {
	_ = godotenv.Load()
	return strings.TrimSpace(os.Getenv(envPrefix + "PG_DSN"))
}

// FromEnv builds a Config from a lookup function and validates it.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(envPrefix + key)); v != "" {
			return v
		}
		return def
	}

	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		raw := get(key, "")
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return def
		}
		return d
	}
	integer := func(key string, def int) int {
		raw := get(key, "")
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return def
		}
		return n
	}
	boolean := func(key string, def bool) bool {
		raw := get(key, "")
		if raw == "" {
			return def
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return def
		}
		return b
	}

	cfg := Config{
		Environment:          strings.ToLower(get("ENV", EnvProduction)),
		HTTPAddr:             get("HTTP_ADDR", ":8080"),
		GRPCAddr:             get("GRPC_ADDR", ":9090"),
		LogLevel:             get("LOG_LEVEL", "info"),
		DatabaseDSN:          get("PG_DSN", ""),
		AccessTokenSecret:    get("ACCESS_TOKEN_SECRET", ""),
		RefreshTokenSecret:   get("REFRESH_TOKEN_SECRET", ""),
		AccessTokenTTL:       duration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:      duration("REFRESH_TOKEN_TTL", 14*24*time.Hour),
		TokenIssuer:          get("TOKEN_ISSUER", "fleetdesk"),
		ProtectedRoleCode:    strings.ToLower(get("PROTECTED_ROLE_CODE", "superadmin")),
		RoutePolicyFile:      get("ROUTE_POLICY_FILE", ""),
		RequestTimeout:       duration("REQUEST_TIMEOUT", 15*time.Second),
		MaxBodyBytes:         int64(integer("MAX_BODY_BYTES", 1<<20)),
		AuthRateBurst:        integer("AUTH_RATE_BURST", 10),
		AuthRatePerSec:       integer("AUTH_RATE_PER_SEC", 5),
		TrustProxyHeaders:    boolean("TRUST_PROXY_HEADERS", false),
		AuditQueueSize:       integer("AUDIT_QUEUE_SIZE", 1024),
		AuditWorkers:         integer("AUDIT_WORKERS", 2),
		SessionSweepSchedule: get("SESSION_SWEEP_SCHEDULE", "@hourly"),
	}

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Environment != EnvProduction && c.Environment != EnvDevelopment {
		errs = append(errs, fmt.Errorf("%sENV must be %q or %q", envPrefix, EnvProduction, EnvDevelopment))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, fmt.Errorf("%sPG_DSN is required", envPrefix))
	}
	if c.AccessTokenSecret == "" {
		errs = append(errs, fmt.Errorf("%sACCESS_TOKEN_SECRET is required", envPrefix))
	}
	if c.RefreshTokenSecret == "" {
		errs = append(errs, fmt.Errorf("%sREFRESH_TOKEN_SECRET is required", envPrefix))
	}
	if c.AccessTokenSecret != "" && c.AccessTokenSecret == c.RefreshTokenSecret {
		errs = append(errs, errors.New("access and refresh token secrets must differ"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	} else if c.AccessTokenTTL >= c.RefreshTokenTTL {
		errs = append(errs, errors.New("access token TTL must be shorter than refresh token TTL"))
	}
	if c.ProtectedRoleCode == "" {
		errs = append(errs, fmt.Errorf("%sPROTECTED_ROLE_CODE must not be empty", envPrefix))
	}
	if c.AuditQueueSize <= 0 || c.AuditWorkers <= 0 {
		errs = append(errs, errors.New("audit queue size and workers must be positive"))
	}
	if c.AuthRateBurst <= 0 || c.AuthRatePerSec <= 0 {
		errs = append(errs, errors.New("auth rate limits must be positive"))
	}
	if _, err := cron.ParseStandard(c.SessionSweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("%sSESSION_SWEEP_SCHEDULE: %w", envPrefix, err))
	}
	return errors.Join(errs...)
}

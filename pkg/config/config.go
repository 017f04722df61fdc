package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv         = "STOREFRONT_APP_ENV"
	EnvPort           = "STOREFRONT_APP_PORT"
	EnvRedisURL       = "STOREFRONT_REDIS_URL"
	EnvBackendBaseURL = "STOREFRONT_BACKEND_BASE_URL"
	EnvSessionSecret  = "STOREFRONT_SESSION_SECRET"
)

type Config struct {
	App     AppConfig
	Redis   RedisConfig
	Backend BackendConfig
	Session SessionConfig
	Breaker BreakerConfig
	Jobs    JobsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Backend.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Session.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env             string        `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port            string        `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel        string        `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack    bool          `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
	ShutdownTimeout time.Duration `envconfig:"STOREFRONT_SHUTDOWN_TIMEOUT" default:"15s"`
	CORSOrigins     []string      `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// BackendConfig points at the remote order backend.
type BackendConfig struct {
	BaseURL        string        `envconfig:"STOREFRONT_BACKEND_BASE_URL" required:"true"`
	RequestTimeout time.Duration `envconfig:"STOREFRONT_BACKEND_REQUEST_TIMEOUT" default:"15s"`
}

func (b BackendConfig) validate() error {
	parsed, err := url.Parse(strings.TrimSpace(b.BaseURL))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", EnvBackendBaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) url", EnvBackendBaseURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", EnvBackendBaseURL)
	}
	return nil
}

type SessionConfig struct {
	Secret          string        `envconfig:"STOREFRONT_SESSION_SECRET" required:"true"`
	Issuer          string        `envconfig:"STOREFRONT_SESSION_ISSUER" default:"storefront"`
	CookieName      string        `envconfig:"STOREFRONT_SESSION_COOKIE" default:"sf_session"`
	TTL             time.Duration `envconfig:"STOREFRONT_SESSION_TTL" default:"720h"`
	IdleTTL         time.Duration `envconfig:"STOREFRONT_SESSION_IDLE_TTL" default:"2h"`
	AuthTokenCookie string        `envconfig:"STOREFRONT_AUTH_TOKEN_COOKIE" default:"token"`
	UserIDCookie    string        `envconfig:"STOREFRONT_USER_ID_COOKIE" default:"user_id"`
	SecureCookies   bool          `envconfig:"STOREFRONT_SECURE_COOKIES" default:"true"`
}

func (s SessionConfig) validate() error {
	if len(s.Secret) < 32 {
		return fmt.Errorf("%s must be at least 32 bytes", EnvSessionSecret)
	}
	if s.IdleTTL <= 0 || s.TTL <= 0 {
		return fmt.Errorf("session ttl values must be positive")
	}
	return nil
}

// BreakerConfig tunes the circuit breaker wrapping backend calls.
type BreakerConfig struct {
	MaxRequests         uint32        `envconfig:"STOREFRONT_BREAKER_MAX_REQUESTS" default:"1"`
	Interval            time.Duration `envconfig:"STOREFRONT_BREAKER_INTERVAL" default:"60s"`
	Timeout             time.Duration `envconfig:"STOREFRONT_BREAKER_TIMEOUT" default:"30s"`
	ConsecutiveFailures uint32        `envconfig:"STOREFRONT_BREAKER_CONSECUTIVE_FAILURES" default:"5"`
}

type JobsConfig struct {
	SweepInterval time.Duration `envconfig:"STOREFRONT_SESSION_SWEEP_INTERVAL" default:"5m"`
}

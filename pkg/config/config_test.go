package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Success(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.App.Env != "prod" {
		t.Fatalf("expected App.Env to be prod, got %q", cfg.App.Env)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected Redis URL: %q", cfg.Redis.URL)
	}
	if cfg.Backend.BaseURL != "https://backend.example.com/api" {
		t.Fatalf("unexpected backend url %q", cfg.Backend.BaseURL)
	}
	if got := cfg.Backend.RequestTimeout; got != 15*time.Second {
		t.Fatalf("expected default backend timeout 15s, got %v", got)
	}
	if cfg.Session.CookieName != "sf_session" {
		t.Fatalf("unexpected session cookie %q", cfg.Session.CookieName)
	}
	if cfg.Session.AuthTokenCookie != "token" || cfg.Session.UserIDCookie != "user_id" {
		t.Fatalf("unexpected credential cookie names %q/%q", cfg.Session.AuthTokenCookie, cfg.Session.UserIDCookie)
	}
	if cfg.Breaker.ConsecutiveFailures != 5 {
		t.Fatalf("unexpected breaker threshold %d", cfg.Breaker.ConsecutiveFailures)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setMinimalEnv(t)
	if err := os.Unsetenv(EnvAppEnv); err != nil {
		t.Fatalf("failed to unset %s: %v", EnvAppEnv, err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected missing required env to return an error")
	}
}

func TestLoad_RejectsInvalidBackendURL(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvBackendBaseURL, "backend.local")

	if _, err := Load(); err == nil {
		t.Fatal("expected scheme-less backend url to be rejected")
	}
}

func TestLoad_RejectsShortSessionSecret(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvSessionSecret, "short")

	if _, err := Load(); err == nil {
		t.Fatal("expected short session secret to be rejected")
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()

	t.Setenv(EnvAppEnv, "prod")
	t.Setenv(EnvPort, "8081")
	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")
	t.Setenv(EnvBackendBaseURL, "https://backend.example.com/api")
	t.Setenv(EnvSessionSecret, "0123456789abcdef0123456789abcdef")
}

func TestAppConfigEnvHelpers(t *testing.T) {
	devConfig := AppConfig{Env: "DEV"}
	if !devConfig.IsDev() {
		t.Fatalf("expected IsDev true for %q", devConfig.Env)
	}
	if devConfig.IsProd() {
		t.Fatalf("expected IsProd false for %q", devConfig.Env)
	}

	prodConfig := AppConfig{Env: "prod"}
	if !prodConfig.IsProd() {
		t.Fatalf("expected IsProd true for %q", prodConfig.Env)
	}
	if prodConfig.IsDev() {
		t.Fatalf("expected IsDev false for %q", prodConfig.Env)
	}
}

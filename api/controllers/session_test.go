package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/enums"
)

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		CookieName:      "sf_session",
		TTL:             time.Hour,
		AuthTokenCookie: "token",
		UserIDCookie:    "user_id",
	}
}

func TestSessionLogoutClearsCartAndCookies(t *testing.T) {
	t.Parallel()

	s := testSession(t, okOrchestrator(), "AUTHORIZED")
	fillCart(t, s)

	resp := httptest.NewRecorder()
	SessionLogout(testSessionConfig(), testLogger()).ServeHTTP(resp, withSession(httptest.NewRequest(http.MethodPost, "/api/v1/session/logout", nil), s))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !s.Cart.Snapshot().IsEmpty() || s.Outcome().State != enums.CheckoutStateIdle {
		t.Fatalf("logout must reset cart and flow")
	}
	cleared := map[string]bool{}
	for _, c := range resp.Result().Cookies() {
		if c.MaxAge < 0 {
			cleared[c.Name] = true
		}
	}
	if !cleared["token"] || !cleared["user_id"] {
		t.Fatalf("expected credential cookies cleared, got %v", cleared)
	}
	if cleared["sf_session"] {
		t.Fatalf("session cookie must survive logout")
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}

	resp := httptest.NewRecorder()
	HealthReady(cfg, testLogger(), stubPinger{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	HealthReady(cfg, testLogger(), stubPinger{err: errors.New("down")}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	HealthLive(cfg).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if resp.Code != http.StatusOK || resp.Header().Get("X-Storefront-Env") != "dev" {
		t.Fatalf("unexpected live response %d", resp.Code)
	}
}

package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/storefront/api/responses"
	"github.com/angelmondragon/storefront/internal/registry"
	shopper "github.com/angelmondragon/storefront/internal/session"
	pkgAuth "github.com/angelmondragon/storefront/pkg/auth"
	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/logger"
)

// SessionStore resolves a session id to its live browser session.
type SessionStore interface {
	Get(ctx context.Context, id string) (*registry.Session, error)
}

// Sessions reads the signed session cookie, minting a new one when it is
// missing, forged or expired, then loads the browser session and the
// shopper's backend credentials into the request context.
func Sessions(cfg config.SessionConfig, store SessionStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			sessionID := ""
			if cookie, err := r.Cookie(cfg.CookieName); err == nil && strings.TrimSpace(cookie.Value) != "" {
				claims, parseErr := pkgAuth.ParseSessionToken(cfg, cookie.Value)
				if parseErr == nil {
					sessionID = claims.SessionID()
				} else if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", parseErr.Error()), "session.cookie.rejected")
				}
			}
			if sessionID == "" {
				token, id, err := pkgAuth.MintSessionToken(cfg, time.Now(), "")
				if err != nil {
					responses.WriteError(ctx, logg, w, err)
					return
				}
				sessionID = id
				http.SetCookie(w, sessionCookie(cfg, token))
			}

			s, err := store.Get(ctx, sessionID)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}

			creds := shopper.FromRequest(r, shopper.CookieNames{
				AuthToken: cfg.AuthTokenCookie,
				UserID:    cfg.UserIDCookie,
			})
			ctx = shopper.WithCredentials(ctx, creds)
			ctx = WithSession(ctx, s)
			if logg != nil {
				ctx = logg.WithSessionID(ctx, sessionID)
				if creds.UserID != "" {
					ctx = logg.WithUserID(ctx, creds.UserID)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionCookie(cfg config.SessionConfig, token string) *http.Cookie {
	return &http.Cookie{
		Name:     cfg.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpireCookie returns a cookie that deletes name in the browser.
func ExpireCookie(cfg config.SessionConfig, name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

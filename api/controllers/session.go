package controllers

import (
	"net/http"

	"github.com/angelmondragon/storefront/api/middleware"
	"github.com/angelmondragon/storefront/api/responses"
	"github.com/angelmondragon/storefront/internal/registry"
	"github.com/angelmondragon/storefront/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
)

func currentSession(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (*registry.Session, bool) {
	s := middleware.SessionFromContext(r.Context())
	if s == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "session context missing"))
		return nil, false
	}
	return s, true
}

// SessionLogout resets the cart and checkout flow and clears the credential cookies.
// The session cookie itself is kept so the emptied cart stays bound to the browser.
func SessionLogout(cfg config.SessionConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logg)
		if !ok {
			return
		}
		if err := s.Logout(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		http.SetCookie(w, middleware.ExpireCookie(cfg, cfg.AuthTokenCookie))
		http.SetCookie(w, middleware.ExpireCookie(cfg, cfg.UserIDCookie))
		responses.WriteSuccess(w, map[string]any{"cart": s.Cart.Snapshot(), "checkout": s.Outcome()})
	}
}

package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront/api/controllers"
	"github.com/angelmondragon/storefront/api/middleware"
	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/redis"
)

// RouterParams carry everything the HTTP surface needs.
type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	Sessions    middleware.SessionStore
	Idempotency redis.IdempotencyStore
	Redis       redis.Pinger
	Gatherer    prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Redis))
	})

	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Sessions(cfg.Session, p.Sessions, logg))

		r.Get("/cart", controllers.CartGet(logg))
		r.Post("/cart/items", controllers.CartAddItem(logg))
		r.Post("/cart/items/{productId}/decrement", controllers.CartDecrement(logg))
		r.Delete("/cart/items/{productId}", controllers.CartRemove(logg))

		r.With(middleware.Idempotency(p.Idempotency, logg)).Post("/checkout", controllers.CheckoutCommit(logg))
		r.Get("/checkout", controllers.CheckoutStatus(logg))
		r.Delete("/checkout", controllers.CheckoutAbandon(logg))
		r.Get("/checkout/return", controllers.CheckoutReturn(logg))

		r.Post("/session/logout", controllers.SessionLogout(cfg.Session, logg))
	})

	return r
}

// Package httpapi assembles the chi router and middleware chain.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"keisha/internal/http/handlers"
	"keisha/internal/infra"
	"keisha/internal/infra/geoip"
	"keisha/internal/middleware"
)

func NewRouter(cfg *infra.Config, app *handlers.App, countries geoip.CountryResolver) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.CORS(cfg.CORSOrigins),
		middleware.Locale("en", countries),
		middleware.Logger(app.Logger),
		middleware.RateLimit(cfg.RateLimitPerMin, time.Minute),
	)

	r.Get("/v1/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", handlers.Metrics())
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/register", app.Register)
		r.Post("/login", app.Login)
		r.Post("/guest", app.GuestEnter)
		r.With(middleware.AuthJWT(app.JWTSecret)).Post("/logout", app.Logout)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(app.JWTSecret))
		r.Get("/v1/me", app.Me)
		r.Post("/v1/analyze", app.Analyze)
		r.Get("/v1/usage/status", app.UsageStatus)
		r.Post("/v1/paywall/dismiss", app.PaywallDismiss)
		r.Post("/v1/upgrade/charge", app.UpgradeCharge)
		r.Post("/v1/upgrade/confirm", app.UpgradeConfirm)
	})

	return r
}

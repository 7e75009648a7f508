package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.AllowedOrigins),
		middleware.I18N("en"),
	)
	if app.Config.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	// Stripe signs its own requests; no bearer token here.
	r.Post("/v1/webhooks/stripe", app.StripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(app.Config.JWTSecret))

		r.Route("/v1/videos", func(r chi.Router) {
			r.Post("/generate", app.VideosGenerate)
			r.Get("/", app.VideosList)
			r.Get("/{task_id}", app.VideoStatus)
		})

		r.Get("/v1/account/balance", app.AccountBalance)

		r.Post("/v1/reconcile", app.ReconcileSweep)
		r.Post("/v1/reconcile/{task_id}", app.ReconcileJob)
	})

	return r
}

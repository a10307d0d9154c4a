package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/habits-backend/api/controllers"
	billingcontrollers "github.com/angelmondragon/habits-backend/api/controllers/billing"
	webhookcontrollers "github.com/angelmondragon/habits-backend/api/controllers/webhooks"
	"github.com/angelmondragon/habits-backend/api/middleware"
	"github.com/angelmondragon/habits-backend/pkg/config"
	"github.com/angelmondragon/habits-backend/pkg/logger"
)

// RouterParams groups what the HTTP surface needs.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           controllers.Pinger
	Redis        controllers.Pinger
	Gatherer     prometheus.Gatherer
	Webhooks     webhookcontrollers.StripeWebhookService
	Billing      billingcontrollers.Service
	Entitlements controllers.EntitlementReader
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    p.DB,
			"redis": p.Redis,
		}))
	})

	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	// Provider callbacks are server-to-server and skip CORS and JWT auth.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.Webhooks, cfg.Billing.MaxWebhookBytes, logg))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.FrontendURL))
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/api/v1/me/entitlements", controllers.MyEntitlements(p.Entitlements, logg))

		r.Route("/api/v1/billing", func(r chi.Router) {
			r.Get("/subscription", billingcontrollers.Subscription(p.Billing, logg))
			r.Post("/checkout", billingcontrollers.Checkout(p.Billing, logg))
			r.Post("/portal", billingcontrollers.Portal(p.Billing, logg))
		})
	})

	return r
}

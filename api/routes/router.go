package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inpayhq/checkout-reconciler/api/controllers"
	webhookcontrollers "github.com/inpayhq/checkout-reconciler/api/controllers/webhooks"
	"github.com/inpayhq/checkout-reconciler/api/middleware"
	checkoutsvc "github.com/inpayhq/checkout-reconciler/internal/checkout"
	"github.com/inpayhq/checkout-reconciler/internal/nonce"
	"github.com/inpayhq/checkout-reconciler/internal/orders"
	"github.com/inpayhq/checkout-reconciler/internal/payments"
	"github.com/inpayhq/checkout-reconciler/pkg/config"
	"github.com/inpayhq/checkout-reconciler/pkg/db"
	"github.com/inpayhq/checkout-reconciler/pkg/inpay"
	"github.com/inpayhq/checkout-reconciler/pkg/logger"
	"github.com/inpayhq/checkout-reconciler/pkg/metrics"
	"github.com/inpayhq/checkout-reconciler/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	inpayClient *inpay.Client,
	ordersRepo orders.Store,
	nonceService *nonce.Service,
	paymentsService *payments.Service,
	checkoutService *checkoutsvc.Service,
	confirmationMetrics *metrics.ConfirmationMetrics,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	completionEvents := cfg.Webhook.CompletionEventSet()

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout/{orderID}/session", controllers.StartCheckout(checkoutService, logg))
		r.Post("/checkout/verify", controllers.VerifyPayment(
			ordersRepo,
			nonceService,
			inpayClient,
			paymentsService,
			confirmationMetrics,
			cfg.Checkout,
			logg,
		))
		r.Post("/webhooks/inpay", webhookcontrollers.Inpay(
			inpayClient,
			ordersRepo,
			paymentsService,
			completionEvents,
			confirmationMetrics,
			logg,
			nil,
		))
	})

	return r
}

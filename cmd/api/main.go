package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/inpayhq/checkout-reconciler/api/routes"
	"github.com/inpayhq/checkout-reconciler/internal/cart"
	checkoutsvc "github.com/inpayhq/checkout-reconciler/internal/checkout"
	"github.com/inpayhq/checkout-reconciler/internal/nonce"
	"github.com/inpayhq/checkout-reconciler/internal/orders"
	"github.com/inpayhq/checkout-reconciler/internal/payments"
	"github.com/inpayhq/checkout-reconciler/pkg/config"
	"github.com/inpayhq/checkout-reconciler/pkg/db"
	"github.com/inpayhq/checkout-reconciler/pkg/inpay"
	"github.com/inpayhq/checkout-reconciler/pkg/logger"
	"github.com/inpayhq/checkout-reconciler/pkg/metrics"
	"github.com/inpayhq/checkout-reconciler/pkg/migrate"
	"github.com/inpayhq/checkout-reconciler/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	inpayClient, err := inpay.NewClient(cfg.Provider, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create inpay client", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())

	nonceService, err := nonce.NewService(nonce.ServiceParams{
		Store:  redisClient,
		Config: cfg.Nonce,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create nonce service", err)
		os.Exit(1)
	}

	cartService, err := cart.NewService(cart.ServiceParams{
		Store:  redisClient,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(payments.ServiceParams{
		Orders:   ordersRepo,
		Cart:     cartService,
		Logger:   logg,
		Currency: cfg.Checkout.Currency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		Orders:   ordersRepo,
		Payments: paymentsService,
		Nonces:   nonceService,
		Provider: inpayClient,
		Config:   cfg.Checkout,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	confirmationMetrics := metrics.NewConfirmationMetrics(registry)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			inpayClient,
			ordersRepo,
			nonceService,
			paymentsService,
			checkoutService,
			confirmationMetrics,
			registry,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

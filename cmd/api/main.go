package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlastrails/booking-api/internal/app"
	"github.com/atlastrails/booking-api/internal/clock"
	"github.com/atlastrails/booking-api/internal/config"
	"github.com/atlastrails/booking-api/internal/gateway"
	"github.com/atlastrails/booking-api/internal/storage/postgres"
	transporthttp "github.com/atlastrails/booking-api/internal/transport/http"
	"github.com/atlastrails/booking-api/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := log.Default()

	cfg, err := config.Load(logger)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(startupCtx); err != nil {
		log.Fatalf("db ping: %v", err)
	}
	if err := migrations.Apply(startupCtx, pool); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	gw := gateway.NewHTTPClient(gateway.Config{
		BaseURL:    cfg.GatewayBaseURL,
		MerchantID: cfg.GatewayMerchantID,
		SigningKey: cfg.GatewaySigningKey,
		KeyIndex:   cfg.GatewayKeyIndex,
		Sandbox:    cfg.GatewaySandbox,
	})

	experienceRepo := postgres.NewExperienceRepository(pool)
	registrationRepo := postgres.NewRegistrationRepository(pool)

	clk := clock.NewSystem()
	bookingSvc := app.NewBookingService(experienceRepo, registrationRepo, gw, clk,
		app.WithReturnURLs(cfg.GatewayRedirectURL, cfg.GatewayCallbackURL),
	)
	catalogSvc := app.NewCatalogService(experienceRepo, clk)
	reconciler := app.NewReconciler(registrationRepo, experienceRepo, gw, clk, logger,
		app.WithPendingTTL(cfg.PaymentTimeout),
	)

	handler := transporthttp.NewRouter(transporthttp.RouterConfig{
		Bookings:    bookingSvc,
		Catalog:     catalogSvc,
		Payments:    reconciler,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reconciler.Run(stopCtx, cfg.SweepInterval)

	log.Printf("api listening on :%s", cfg.Port)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server error: %v", err)
		}
	case <-stopCtx.Done():
		log.Printf("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server shutdown error: %v", err)
	}
	log.Printf("server stopped")
}

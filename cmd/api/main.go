package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"keisha/internal/adapter/repo"
	"keisha/internal/analysis"
	"keisha/internal/enforce"
	"keisha/internal/http/handlers"
	"keisha/internal/http/httpapi"
	"keisha/internal/infra"
	"keisha/internal/infra/credentials"
	"keisha/internal/infra/geoip"
	"keisha/internal/payment"
	"keisha/internal/session"
	"keisha/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	runner := infra.NewSQLRunner(dbpool, logger)

	guestStore, err := storage.NewGuestStore(cfg.GuestStorePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init guest store")
	}

	countries, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}

	// Provider keys: environment first, database-stored keys as fallback
	// so they can be rotated without a redeploy.
	creds := credentials.NewStore(runner)
	analyzerKey := cfg.AnalyzerAPIKey
	if analyzerKey == "" {
		if analyzerKey, err = creds.AnalyzerAPIKey(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to load analyzer api key")
		}
	}
	if analyzerKey == "" {
		logger.Fatal().Msg("analyzer api key is required (env ANALYZER_API_KEY or stored credential)")
	}
	analyzer, err := analysis.NewGeminiAnalyzer(analysis.GeminiOptions{
		APIKey:  analyzerKey,
		Model:   cfg.AnalyzerModel,
		BaseURL: cfg.AnalyzerBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init analyzer")
	}

	paymentKey := cfg.PaymentAPIKey
	if paymentKey == "" {
		if paymentKey, err = creds.PaymentAPIKey(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to load payment api key")
		}
	}
	var payments *payment.Client
	if paymentKey != "" {
		payments, err = payment.NewClient(payment.Options{APIKey: paymentKey, BaseURL: cfg.PaymentBaseURL})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init payment client")
		}
	} else {
		logger.Warn().Msg("payments disabled: no api key configured")
	}

	sessions := session.New(
		repo.NewUserRepository(runner),
		guestStore,
		repo.NewUsageStore(runner),
		logger,
	)
	enforcer := enforce.NewEnforcer(repo.NewUsageSyncer(runner), enforce.NewPaywall(), logger)

	app := &handlers.App{
		Logger:    logger,
		Sessions:  sessions,
		Enforcer:  enforcer,
		Analyzer:  analyzer,
		Payments:  payments,
		Events:    repo.NewUsageEventRepo(runner),
		JWTSecret: cfg.JWTSecret,
		Now:       time.Now,
	}

	router := httpapi.NewRouter(cfg, app, countries)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if countries != nil {
		if closer, ok := countries.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
	logger.Info().Msg("server stopped")
}

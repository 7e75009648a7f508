package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/ledger"
	"server/internal/lifecycle"
	"server/internal/notify"
	"server/internal/providers/video"
	"server/internal/reconcile"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	accounts := repo.NewAccountRepository(runner)
	jobs := repo.NewJobRepository(runner)
	retries := repo.NewRefundRetryRepository(runner)

	ledgerSvc := ledger.NewService(accounts, logger)
	tracker := lifecycle.NewTracker(jobs, ledgerSvc, logger)

	checker, err := video.NewClient(video.Options{
		APIKey:     cfg.VideoAPIKey,
		BaseURL:    cfg.VideoAPIBaseURL,
		HTTPClient: &http.Client{Timeout: cfg.VideoAPITimeout},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure video vendor client")
	}

	var notifier notify.Sender
	if cfg.SendGridAPIKey != "" {
		notifier, err = notify.NewSendGridSender(notify.SendGridOptions{
			APIKey: cfg.SendGridAPIKey,
			From:   cfg.MailFrom,
			Logger: logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure mail sender")
		}
	} else {
		notifier = &notify.NoopSender{Logger: logger}
	}

	engine := reconcile.NewEngine(reconcile.Options{
		Jobs:                jobs,
		Ledger:              ledgerSvc,
		Retries:             retries,
		Tracker:             tracker,
		Checker:             checker,
		Notifier:            notifier,
		Logger:              logger,
		CancelRefundPercent: cfg.CancelRefundPercent,
	})

	app := &handlers.App{
		Config:  cfg,
		Logger:  logger,
		Ledger:  ledgerSvc,
		Tracker: tracker,
		Engine:  engine,
	}
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
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
	logger.Info().Msg("server stopped")
}

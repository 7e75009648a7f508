package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/ledger"
	"server/internal/lifecycle"
	"server/internal/notify"
	"server/internal/providers/video"
	"server/internal/reconcile"
)

const staleBatchSize = 50

type worker struct {
	cfg     *infra.Config
	logger  infra.Logger
	jobs    domain.JobRepository
	retries domain.RefundRetryRepository
	engine  *reconcile.Engine
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
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
		logger.Fatal().Err(err).Msg("worker: failed to configure video vendor client")
	}

	var notifier notify.Sender
	if cfg.SendGridAPIKey != "" {
		notifier, err = notify.NewSendGridSender(notify.SendGridOptions{
			APIKey: cfg.SendGridAPIKey,
			From:   cfg.MailFrom,
			Logger: logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: failed to configure mail sender")
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

	w := &worker{
		cfg:     cfg,
		logger:  logger,
		jobs:    jobs,
		retries: retries,
		engine:  engine,
	}

	logger.Info().
		Dur("poll_interval", cfg.WorkerPollInterval).
		Dur("stale_after", cfg.StaleCheckAfter).
		Dur("sweep_interval", cfg.SweepInterval).
		Msg("worker: started")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); w.pollStaleJobs(ctx) }()
	go func() { defer wg.Done(); w.drainRefundRetries(ctx) }()
	go func() { defer wg.Done(); w.periodicSweep(ctx) }()
	wg.Wait()

	logger.Info().Msg("worker: stopped")
}

// pollStaleJobs refreshes jobs whose last vendor check is older than the
// staleness cutoff. Terminal vendor results settle refunds in the same pass.
func (w *worker) pollStaleJobs(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.WorkerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-w.cfg.StaleCheckAfter)
		stale, err := w.jobs.ListStaleActive(ctx, cutoff, staleBatchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("worker: stale job listing failed")
			continue
		}
		for _, job := range stale {
			taskID := job.TaskID
			err := infra.Retry(ctx, 3, time.Second, domain.Retryable, func(ctx context.Context) error {
				_, err := w.engine.HandleVendorStatus(ctx, taskID)
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Warn().Err(err).Str("task_id", taskID).Msg("worker: vendor status refresh failed")
			}
		}
	}
}

// drainRefundRetries settles queued refund credits one at a time. Each settle
// is a single storage operation, so concurrent workers never double-credit.
func (w *worker) drainRefundRetries(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.WorkerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			retry, ok, err := w.retries.SettleNext(ctx)
			if err != nil {
				w.logger.Error().Err(err).Msg("worker: refund retry settle failed")
				break
			}
			if !ok {
				break
			}
			w.logger.Info().
				Str("task_id", retry.TaskID).
				Str("account_id", retry.AccountID).
				Int("credits", retry.Credits).
				Int("attempts", retry.Attempts).
				Msg("worker: deferred refund settled")
		}
	}
}

// periodicSweep is the safety net behind webhook-triggered and poll-triggered
// refunds: anything they missed is picked up here.
func (w *worker) periodicSweep(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		report, err := w.engine.Sweep(ctx, "")
		if err != nil {
			w.logger.Error().Err(err).Msg("worker: sweep failed")
			continue
		}
		if report.Refunded > 0 || report.Errors > 0 {
			w.logger.Info().
				Int("refunded", report.Refunded).
				Int("credits_returned", report.CreditsReturned).
				Int("errors", report.Errors).
				Msg("worker: sweep settled refunds")
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/adapter/repo"
	"server/internal/infra"
	"server/internal/ledger"
	"server/internal/reconcile"
)

func main() {
	var (
		accountFlag string
		taskFlag    string
		timeoutFlag int
		percentFlag int
	)

	flag.StringVar(&accountFlag, "account", "", "restrict the sweep to one account ID (empty sweeps all accounts)")
	flag.StringVar(&taskFlag, "task", "", "reconcile a single task ID instead of sweeping")
	flag.IntVar(&timeoutFlag, "timeout", 30, "overall timeout in seconds")
	flag.IntVar(&percentFlag, "cancel-refund-percent", 100, "share of reserved credits returned for cancelled jobs (0..100)")
	flag.Parse()

	if percentFlag < 0 || percentFlag > 100 {
		exitWithError(errors.New("-cancel-refund-percent must be within 0..100"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutFlag)*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "reconcile").Logger()
	runner := infra.NewSQLRunner(pool, logger)

	accounts := repo.NewAccountRepository(runner)
	jobs := repo.NewJobRepository(runner)
	retries := repo.NewRefundRetryRepository(runner)

	engine := reconcile.NewEngine(reconcile.Options{
		Jobs:                jobs,
		Ledger:              ledger.NewService(accounts, logger),
		Retries:             retries,
		Logger:              logger,
		CancelRefundPercent: percentFlag,
	})

	if taskFlag != "" {
		outcome, err := engine.Reconcile(ctx, strings.TrimSpace(taskFlag))
		if err != nil {
			exitWithError(fmt.Errorf("reconcile failed: %w", err))
		}
		fmt.Printf("task %s: refunded=%v credits_returned=%d deferred=%v\n",
			outcome.TaskID, outcome.Refunded, outcome.Credits, outcome.Deferred)
		return
	}

	report, err := engine.Sweep(ctx, strings.TrimSpace(accountFlag))
	if err != nil {
		exitWithError(fmt.Errorf("sweep failed: %w", err))
	}

	scope := "all accounts"
	if accountFlag != "" {
		scope = "account " + accountFlag
	}
	fmt.Printf("sweep of %s finished\n", scope)
	fmt.Printf("scanned=%d refunded=%d skipped=%d errors=%d credits_returned=%d\n",
		report.Scanned, report.Refunded, report.Skipped, report.Errors, report.CreditsReturned)
	for _, outcome := range report.Jobs {
		fmt.Printf("  task %s: credits_returned=%d deferred=%v\n", outcome.TaskID, outcome.Credits, outcome.Deferred)
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

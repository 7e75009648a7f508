package reconcile

import (
	"context"
	"errors"
	"fmt"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/ledger"
	"server/internal/lifecycle"
	"server/internal/middleware"
	"server/internal/notify"
	"server/internal/providers/video"
)

const sweepBatchSize = 100

// Engine owns refund reconciliation. Exactly-once semantics rest entirely on
// the storage-level refund claim: every path (manual trigger, status poll,
// batch sweep) funnels through Reconcile, and only the caller that wins the
// claim credits the account.
type Engine struct {
	jobs     domain.JobRepository
	ledger   *ledger.Service
	retries  domain.RefundRetryRepository
	tracker  *lifecycle.Tracker
	checker  video.Checker
	notifier notify.Sender
	logger   infra.Logger

	// cancelRefundPercent is the share of reserved credits returned for a
	// cancelled job, 0..100. Failed jobs always refund in full.
	cancelRefundPercent int
}

type Options struct {
	Jobs                domain.JobRepository
	Ledger              *ledger.Service
	Retries             domain.RefundRetryRepository
	Tracker             *lifecycle.Tracker
	Checker             video.Checker
	Notifier            notify.Sender
	Logger              infra.Logger
	CancelRefundPercent int
}

func NewEngine(opts Options) *Engine {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = &notify.NoopSender{Logger: opts.Logger}
	}
	return &Engine{
		jobs:                opts.Jobs,
		ledger:              opts.Ledger,
		retries:             opts.Retries,
		tracker:             opts.Tracker,
		checker:             opts.Checker,
		notifier:            notifier,
		logger:              opts.Logger,
		cancelRefundPercent: opts.CancelRefundPercent,
	}
}

// Outcome reports what a single reconciliation did.
type Outcome struct {
	TaskID   string `json:"task_id"`
	Refunded bool   `json:"refunded"`
	Credits  int    `json:"credits_returned"`
	// Deferred means the claim was won but the credit could not be settled
	// yet; the queued row will settle it.
	Deferred bool `json:"deferred,omitempty"`
	Balance  int  `json:"balance,omitempty"`
}

// Reconcile refunds the reserved credits of a failed or cancelled job. It is
// safe to call any number of times from any number of goroutines: the refund
// claim is a single conditional write, so at most one call ever credits.
// The claim also queues the credit durably, so a crash right after it cannot
// lose the refund; the settle here merely applies the queued credit now
// instead of waiting for the worker drain.
//
// Returns ErrNotFound for an unknown task, ErrInvalidTransition when the job
// is still running, and ErrAlreadyReconciled when the refund was claimed
// before (including completed jobs, which are never refundable).
func (e *Engine) Reconcile(ctx context.Context, taskID string) (Outcome, error) {
	claim, ok, err := e.jobs.ClaimRefund(ctx, taskID, e.cancelRefundPercent)
	if err != nil {
		return Outcome{}, fmt.Errorf("reconcile %s: %w", taskID, err)
	}
	if !ok {
		return Outcome{}, e.classifyUnclaimed(ctx, taskID)
	}

	outcome := Outcome{
		TaskID:   taskID,
		Refunded: true,
		Credits:  claim.Credits,
	}
	if outcome.Credits == 0 {
		e.logger.Info().
			Str("task_id", taskID).
			Str("account_id", claim.AccountID).
			Str("job_status", string(claim.Status)).
			Msg("refund claimed with nothing to credit")
		return outcome, nil
	}

	balance, settled, err := e.retries.Settle(ctx, taskID)
	if err != nil {
		// The claim and its queued credit are durable; record the failed
		// attempt and let the worker settle once the store recovers.
		if qErr := e.retries.Enqueue(ctx, domain.RefundRetry{
			TaskID:    taskID,
			AccountID: claim.AccountID,
			Credits:   outcome.Credits,
			LastError: err.Error(),
		}); qErr != nil {
			e.logger.Warn().Err(qErr).Str("task_id", taskID).Msg("refund settle attempt not recorded")
		}
		e.logger.Warn().
			Err(err).
			Str("task_id", taskID).
			Str("account_id", claim.AccountID).
			Int("credits", outcome.Credits).
			Msg("refund credit deferred to retry queue")
		outcome.Deferred = true
		return outcome, nil
	}
	if !settled {
		// A concurrent worker drain got there first; the credit landed.
		e.logger.Debug().Str("task_id", taskID).Msg("queued refund already settled")
		return outcome, nil
	}
	outcome.Balance = balance

	e.logger.Info().
		Str("task_id", taskID).
		Str("account_id", claim.AccountID).
		Str("job_status", string(claim.Status)).
		Int("credits", outcome.Credits).
		Int("balance", balance).
		Msg("refund applied")

	e.sendNotice(ctx, taskID, claim, outcome.Credits)
	return outcome, nil
}

// classifyUnclaimed turns a lost claim into the precise error the caller
// should see.
func (e *Engine) classifyUnclaimed(ctx context.Context, taskID string) error {
	job, err := e.jobs.GetByTaskID(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("reconcile %s: %w", taskID, domain.ErrNotFound)
		}
		return fmt.Errorf("reconcile %s: %w", taskID, err)
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("reconcile %s: job is %s: %w", taskID, job.Status, domain.ErrInvalidTransition)
	}
	return fmt.Errorf("reconcile %s: %w", taskID, domain.ErrAlreadyReconciled)
}

func (e *Engine) sendNotice(ctx context.Context, taskID string, claim domain.RefundClaim, credits int) {
	account, err := e.ledger.Read(ctx, claim.AccountID)
	if err != nil {
		e.logger.Warn().Err(err).Str("account_id", claim.AccountID).Msg("refund notice skipped: account lookup failed")
		return
	}
	job, err := e.jobs.GetByTaskID(ctx, taskID)
	reason := string(claim.Status)
	if err == nil && job.FailureReason != "" {
		reason = job.FailureReason
	}
	notice := notify.RefundNotice{
		Email:   account.Email,
		Locale:  middleware.LocaleFromContext(ctx),
		TaskID:  taskID,
		Credits: credits,
		Reason:  reason,
	}
	if err := e.notifier.SendRefundNotice(ctx, notice); err != nil {
		e.logger.Warn().Err(err).Str("task_id", taskID).Msg("refund notice delivery failed")
	}
}

// Report summarizes a batch sweep.
type Report struct {
	Scanned         int       `json:"scanned"`
	Refunded        int       `json:"refunded"`
	Skipped         int       `json:"skipped"`
	Errors          int       `json:"errors"`
	CreditsReturned int       `json:"credits_returned"`
	Jobs            []Outcome `json:"jobs,omitempty"`
}

// Sweep walks every terminal job, optionally restricted to one account, and
// reconciles the refundable ones. Non-refundable jobs (completed, or already
// refunded) and jobs claimed by a concurrent caller between listing and
// claiming are counted as skipped, not errors.
func (e *Engine) Sweep(ctx context.Context, accountID string) (Report, error) {
	jobs, err := e.jobs.ListTerminal(ctx, accountID, sweepBatchSize)
	if err != nil {
		return Report{}, fmt.Errorf("sweep: %w", err)
	}

	report := Report{Scanned: len(jobs)}
	for _, job := range jobs {
		if !job.RefundEligible() {
			report.Skipped++
			continue
		}
		outcome, err := e.Reconcile(ctx, job.TaskID)
		switch {
		case err == nil:
			report.Refunded++
			report.CreditsReturned += outcome.Credits
			report.Jobs = append(report.Jobs, outcome)
		case errors.Is(err, domain.ErrAlreadyReconciled):
			report.Skipped++
		default:
			report.Errors++
			e.logger.Error().Err(err).Str("task_id", job.TaskID).Msg("sweep reconciliation failed")
		}
	}

	e.logger.Info().
		Str("account_id", accountID).
		Int("scanned", report.Scanned).
		Int("refunded", report.Refunded).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Int("credits_returned", report.CreditsReturned).
		Msg("refund sweep finished")
	return report, nil
}

// HandleVendorStatus refreshes one job's status from the vendor and, when the
// vendor reports failure or cancellation, reconciles the refund in the same
// pass. Returns the job as stored after the refresh.
func (e *Engine) HandleVendorStatus(ctx context.Context, taskID string) (*domain.Job, error) {
	job, err := e.tracker.GetJob(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	res, err := e.checker.Check(ctx, taskID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// The vendor no longer knows the task. Treat it as failed so
			// the reservation is released instead of leaking.
			res = video.StatusResult{Status: domain.JobStatusFailed, ErrorMessage: "task not found at vendor"}
		case errors.Is(err, domain.ErrVendorUnavailable):
			if tErr := e.tracker.TouchStatusCheck(ctx, taskID); tErr != nil {
				e.logger.Warn().Err(tErr).Str("task_id", taskID).Msg("status check touch failed")
			}
			return job, err
		default:
			return job, err
		}
	}

	if res.Status == job.Status {
		if err := e.tracker.TouchStatusCheck(ctx, taskID); err != nil {
			return job, err
		}
		return job, nil
	}

	updated, err := e.tracker.TransitionStatus(ctx, taskID, res.Status, domain.StatusDetails{
		ResultReference: res.ResultReference,
		FailureReason:   res.ErrorMessage,
	})
	if err != nil {
		return job, err
	}

	if updated.RefundEligible() {
		if _, rErr := e.Reconcile(ctx, taskID); rErr != nil && !errors.Is(rErr, domain.ErrAlreadyReconciled) {
			e.logger.Error().Err(rErr).Str("task_id", taskID).Msg("post-status refund failed")
		}
		return e.tracker.GetJob(ctx, taskID)
	}
	return updated, nil
}

// Package lifecycle owns job records and the legal status transitions.
package lifecycle

import (
	"context"
	"fmt"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/ledger"
)

// transitionRetries bounds how often TransitionStatus re-reads after
// losing a compare-and-swap to a concurrent caller.
const transitionRetries = 3

type Tracker struct {
	jobs   domain.JobRepository
	ledger *ledger.Service
	logger infra.Logger
}

func NewTracker(jobs domain.JobRepository, ledgerSvc *ledger.Service, logger infra.Logger) *Tracker {
	return &Tracker{jobs: jobs, ledger: ledgerSvc, logger: logger}
}

// CreateJob debits the reserved credits and persists the job as pending.
// The pair is effectively atomic: when the persist fails after a
// successful debit, the debit is compensated before the error surfaces, so
// credits are never consumed without a job existing.
func (t *Tracker) CreateJob(ctx context.Context, accountID, taskID string, creditsReserved int, metadata []byte) (*domain.Job, error) {
	if creditsReserved <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if taskID == "" {
		return nil, domain.ErrInvalidTaskID
	}

	if _, err := t.ledger.Debit(ctx, accountID, creditsReserved); err != nil {
		return nil, err
	}

	job := &domain.Job{
		TaskID:          taskID,
		AccountID:       accountID,
		Status:          domain.JobStatusPending,
		CreditsReserved: creditsReserved,
		RefundState:     domain.RefundStateNone,
		Metadata:        metadata,
	}
	if err := t.jobs.Create(ctx, job); err != nil {
		if _, creditErr := t.ledger.Credit(ctx, accountID, creditsReserved); creditErr != nil {
			// The account is now short creditsReserved with no job row.
			// This needs operator attention, so log everything we know.
			t.logger.Error().
				Err(creditErr).
				Str("account_id", accountID).
				Str("task_id", taskID).
				Int("credits", creditsReserved).
				Msg("lifecycle: compensating credit failed after job persist failure")
		}
		return nil, err
	}

	t.logger.Info().
		Str("account_id", accountID).
		Str("task_id", taskID).
		Int("credits", creditsReserved).
		Msg("lifecycle: job created")
	return job, nil
}

// TransitionStatus validates newStatus against the state machine and
// applies it with a compare-and-swap on the observed status. Re-observing
// the current status is a no-op success; anything illegal is rejected with
// ErrInvalidTransition and leaves the job unchanged.
func (t *Tracker) TransitionStatus(ctx context.Context, taskID string, newStatus domain.JobStatus, details domain.StatusDetails) (*domain.Job, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, newStatus)
	}

	for attempt := 0; attempt < transitionRetries; attempt++ {
		job, err := t.jobs.GetByTaskID(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if job.Status == newStatus {
			return job, nil
		}
		if !domain.CanTransition(job.Status, newStatus) {
			t.logger.Warn().
				Str("task_id", taskID).
				Str("from", string(job.Status)).
				Str("to", string(newStatus)).
				Msg("lifecycle: illegal status transition rejected")
			return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, newStatus)
		}
		applied, err := t.jobs.UpdateStatus(ctx, taskID, job.Status, newStatus, details)
		if err != nil {
			return nil, err
		}
		if applied {
			return t.jobs.GetByTaskID(ctx, taskID)
		}
		// Lost the swap to a concurrent transition; re-read and re-validate.
	}
	return nil, fmt.Errorf("%w: transition %s contended", domain.ErrTransientStore, taskID)
}

func (t *Tracker) GetJob(ctx context.Context, taskID string) (*domain.Job, error) {
	return t.jobs.GetByTaskID(ctx, taskID)
}

func (t *Tracker) ListJobsByAccount(ctx context.Context, accountID string, status domain.JobStatus) ([]domain.Job, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, status)
	}
	return t.jobs.ListByAccount(ctx, accountID, status)
}

// TouchStatusCheck records a vendor poll that produced no state change.
func (t *Tracker) TouchStatusCheck(ctx context.Context, taskID string) error {
	return t.jobs.TouchStatusCheck(ctx, taskID)
}

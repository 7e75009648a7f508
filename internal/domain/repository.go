package domain

import (
	"context"
	"time"
)

// AccountRepository is the ledger store. Every mutation is a single
// conditional statement at the storage layer; concurrent debits against the
// same account serialize there, never in application code.
type AccountRepository interface {
	// Debit atomically decrements balance and bumps the audit counters.
	// Returns the new balance, ErrInsufficientFunds when the balance does
	// not cover amount, ErrNotFound for an unknown account.
	Debit(ctx context.Context, accountID string, amount int) (int, error)
	// Credit atomically increments balance. Refunds always succeed; there
	// is no upper bound.
	Credit(ctx context.Context, accountID string, amount int) (int, error)
	Get(ctx context.Context, accountID string) (*Account, error)
	// ApplyPurchase credits a webhook purchase at most once per event id.
	// applied=false means the event was seen before; the balance returned
	// is only meaningful when applied.
	ApplyPurchase(ctx context.Context, event PurchaseEvent) (balance int, applied bool, err error)
}

// StatusDetails carries the optional payload of a status transition.
type StatusDetails struct {
	ResultReference string
	FailureReason   string
}

// RefundClaim is the result of winning the refund claim on a job. Credits
// is the final refund amount with the cancellation percent already applied.
type RefundClaim struct {
	AccountID string
	Credits   int
	Status    JobStatus
}

// JobRepository persists jobs.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByTaskID(ctx context.Context, taskID string) (*Job, error)
	// ListByAccount returns the account's jobs, optionally filtered by
	// status (empty means all).
	ListByAccount(ctx context.Context, accountID string, status JobStatus) ([]Job, error)
	// UpdateStatus applies from->to as a compare-and-swap on the current
	// status. applied=false means the stored status was no longer from.
	UpdateStatus(ctx context.Context, taskID string, from, to JobStatus, details StatusDetails) (applied bool, err error)
	// ClaimRefund transitions refund_state none->refunded as a single
	// conditional write that also queues the credit for settlement, so a
	// crash after the claim cannot strand an uncredited refund. ok=false
	// means another caller already claimed it (or the job does not exist).
	// cancelPercent scales the refund for cancelled jobs; failed jobs
	// refund in full.
	ClaimRefund(ctx context.Context, taskID string, cancelPercent int) (claim RefundClaim, ok bool, err error)
	// ListTerminal enumerates jobs in a terminal status, refundable or
	// not. Empty accountID means all accounts.
	ListTerminal(ctx context.Context, accountID string, limit int) ([]Job, error)
	// ListStaleActive returns non-terminal jobs whose last vendor status
	// check is older than cutoff.
	ListStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]Job, error)
	TouchStatusCheck(ctx context.Context, taskID string) error
}

// RefundRetry is a claimed refund whose credit step has not landed yet.
type RefundRetry struct {
	TaskID    string
	AccountID string
	Credits   int
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// RefundRetryRepository settles refund credits queued by ClaimRefund, so a
// claim whose credit step has not landed yet is never lost.
type RefundRetryRepository interface {
	// Enqueue records a failed settle attempt on the queued row, bumping
	// its attempt counter.
	Enqueue(ctx context.Context, retry RefundRetry) error
	// Settle atomically credits the account and removes the queued row
	// for one task. ok=false means the row is gone, i.e. a concurrent
	// settle already credited it.
	Settle(ctx context.Context, taskID string) (balance int, ok bool, err error)
	// SettleNext atomically credits the account and removes the oldest
	// queued retry in one storage operation. ok=false means the queue is
	// empty.
	SettleNext(ctx context.Context) (retry RefundRetry, ok bool, err error)
}

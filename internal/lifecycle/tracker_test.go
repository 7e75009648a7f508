package lifecycle

import (
	"context"
	"errors"
	"testing"

	"server/internal/adapter/memory"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/ledger"
)

func newTestTracker(store *memory.Store) *Tracker {
	logger := infra.NewLogger("test")
	return NewTracker(store, ledger.NewService(store, logger), logger)
}

func TestCreateJobDebitsAndPersists(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 1000)
	tracker := newTestTracker(store)

	job, err := tracker.CreateJob(context.Background(), "acct-1", "task-1", 300, nil)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}
	if job.RefundState != domain.RefundStateNone {
		t.Fatalf("refundState = %s, want none", job.RefundState)
	}
	if got := store.Account("acct-1").Balance; got != 700 {
		t.Fatalf("balance = %d, want 700", got)
	}
	if got := store.Account("acct-1").JobsCreated; got != 1 {
		t.Fatalf("jobsCreated = %d, want 1", got)
	}
}

func TestCreateJobInsufficientFundsPersistsNothing(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 200)
	tracker := newTestTracker(store)

	_, err := tracker.CreateJob(context.Background(), "acct-1", "task-1", 300, nil)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("CreateJob error = %v, want ErrInsufficientFunds", err)
	}
	if got := store.Account("acct-1").Balance; got != 200 {
		t.Fatalf("balance = %d, want 200", got)
	}
	if store.Job("task-1") != nil {
		t.Fatalf("job persisted despite rejected debit")
	}
}

func TestCreateJobEmptyTaskIDRejected(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 1000)
	tracker := newTestTracker(store)

	_, err := tracker.CreateJob(context.Background(), "acct-1", "", 300, nil)
	if !errors.Is(err, domain.ErrInvalidTaskID) {
		t.Fatalf("CreateJob error = %v, want ErrInvalidTaskID", err)
	}
	if got := store.Account("acct-1").Balance; got != 1000 {
		t.Fatalf("balance = %d, want untouched 1000", got)
	}
}

func TestTransitionStatusHappyPath(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 1000)
	tracker := newTestTracker(store)
	ctx := context.Background()

	if _, err := tracker.CreateJob(ctx, "acct-1", "task-1", 100, nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	job, err := tracker.TransitionStatus(ctx, "task-1", domain.JobStatusProcessing, domain.StatusDetails{})
	if err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %s, want processing", job.Status)
	}

	job, err = tracker.TransitionStatus(ctx, "task-1", domain.JobStatusCompleted, domain.StatusDetails{ResultReference: "videos/task-1.mp4"})
	if err != nil {
		t.Fatalf("processing -> completed: %v", err)
	}
	if job.ResultReference != "videos/task-1.mp4" {
		t.Fatalf("resultReference = %q", job.ResultReference)
	}
	if job.RefundState != domain.RefundStateNotApplicable {
		t.Fatalf("refundState after completion = %s, want refund_not_applicable", job.RefundState)
	}
	if job.CompletedAt == nil {
		t.Fatalf("completedAt not set on terminal status")
	}
}

func TestTransitionOutOfTerminalRejected(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 1000)
	tracker := newTestTracker(store)
	ctx := context.Background()

	if _, err := tracker.CreateJob(ctx, "acct-1", "task-1", 100, nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := tracker.TransitionStatus(ctx, "task-1", domain.JobStatusCompleted, domain.StatusDetails{}); err != nil {
		t.Fatalf("transition to completed: %v", err)
	}

	_, err := tracker.TransitionStatus(ctx, "task-1", domain.JobStatusFailed, domain.StatusDetails{FailureReason: "late vendor error"})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("completed -> failed error = %v, want ErrInvalidTransition", err)
	}
	job := store.Job("task-1")
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("job mutated by rejected transition: %s", job.Status)
	}
	if job.FailureReason != "" {
		t.Fatalf("failureReason set by rejected transition: %q", job.FailureReason)
	}
}

func TestTransitionSameStatusIsNoOp(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 1000)
	tracker := newTestTracker(store)
	ctx := context.Background()

	if _, err := tracker.CreateJob(ctx, "acct-1", "task-1", 100, nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := tracker.TransitionStatus(ctx, "task-1", domain.JobStatusFailed, domain.StatusDetails{FailureReason: "vendor failed"}); err != nil {
		t.Fatalf("transition to failed: %v", err)
	}
	// The poller observes the same terminal state again.
	job, err := tracker.TransitionStatus(ctx, "task-1", domain.JobStatusFailed, domain.StatusDetails{FailureReason: "vendor failed"})
	if err != nil {
		t.Fatalf("re-observed failed status: %v", err)
	}
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
}

func TestTransitionUnknownJob(t *testing.T) {
	tracker := newTestTracker(memory.NewStore())
	_, err := tracker.TransitionStatus(context.Background(), "ghost", domain.JobStatusFailed, domain.StatusDetails{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

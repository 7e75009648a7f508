package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"server/internal/adapter/memory"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/ledger"
	"server/internal/lifecycle"
	"server/internal/providers/video"
)

type fakeChecker struct {
	res video.StatusResult
	err error
}

func (f *fakeChecker) Check(_ context.Context, _ string) (video.StatusResult, error) {
	return f.res, f.err
}

func newTestEngine(store *memory.Store, checker video.Checker, cancelPercent int) *Engine {
	logger := infra.NewLogger("test")
	ledgerSvc := ledger.NewService(store, logger)
	return NewEngine(Options{
		Jobs:                store,
		Ledger:              ledgerSvc,
		Retries:             store,
		Tracker:             lifecycle.NewTracker(store, ledgerSvc, logger),
		Checker:             checker,
		Logger:              logger,
		CancelRefundPercent: cancelPercent,
	})
}

func addJob(store *memory.Store, taskID, accountID string, credits int, status domain.JobStatus) {
	job := &domain.Job{
		TaskID:          taskID,
		AccountID:       accountID,
		Status:          status,
		CreditsReserved: credits,
	}
	if status == domain.JobStatusCompleted {
		job.RefundState = domain.RefundStateNotApplicable
	}
	store.CreateJob(job)
}

func TestReconcileRefundsFailedJob(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 700)
	addJob(store, "task-1", "acct-1", 300, domain.JobStatusFailed)
	engine := newTestEngine(store, nil, 100)

	outcome, err := engine.Reconcile(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !outcome.Refunded || outcome.Credits != 300 {
		t.Fatalf("outcome = %+v, want refunded 300", outcome)
	}
	if got := store.Account("acct-1").Balance; got != 1000 {
		t.Fatalf("balance = %d, want 1000", got)
	}
	if got := store.Job("task-1").RefundState; got != domain.RefundStateRefunded {
		t.Fatalf("refund state = %s, want refunded", got)
	}
}

func TestReconcileTwiceRefundsOnce(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 0)
	addJob(store, "task-1", "acct-1", 250, domain.JobStatusFailed)
	engine := newTestEngine(store, nil, 100)

	if _, err := engine.Reconcile(context.Background(), "task-1"); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	_, err := engine.Reconcile(context.Background(), "task-1")
	if !errors.Is(err, domain.ErrAlreadyReconciled) {
		t.Fatalf("second Reconcile error = %v, want ErrAlreadyReconciled", err)
	}
	if got := store.Account("acct-1").Balance; got != 250 {
		t.Fatalf("balance = %d, want 250 (credited exactly once)", got)
	}
}

func TestReconcileConcurrentExactlyOneWins(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 0)
	addJob(store, "task-1", "acct-1", 500, domain.JobStatusFailed)
	engine := newTestEngine(store, nil, 100)

	const callers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	refunded, already := 0, 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Reconcile(context.Background(), "task-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				refunded++
			case errors.Is(err, domain.ErrAlreadyReconciled):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if refunded != 1 || already != callers-1 {
		t.Fatalf("refunded=%d already=%d, want 1 and %d", refunded, already, callers-1)
	}
	if got := store.Account("acct-1").Balance; got != 500 {
		t.Fatalf("balance = %d, want 500", got)
	}
}

func TestReconcileCompletedJobNeverRefunds(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 100)
	addJob(store, "task-1", "acct-1", 300, domain.JobStatusCompleted)
	engine := newTestEngine(store, nil, 100)

	_, err := engine.Reconcile(context.Background(), "task-1")
	if !errors.Is(err, domain.ErrAlreadyReconciled) {
		t.Fatalf("error = %v, want ErrAlreadyReconciled", err)
	}
	if got := store.Account("acct-1").Balance; got != 100 {
		t.Fatalf("balance = %d, want unchanged 100", got)
	}
}

func TestReconcileActiveJobRejected(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 100)
	addJob(store, "task-1", "acct-1", 300, domain.JobStatusProcessing)
	engine := newTestEngine(store, nil, 100)

	_, err := engine.Reconcile(context.Background(), "task-1")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestReconcileUnknownTask(t *testing.T) {
	store := memory.NewStore()
	engine := newTestEngine(store, nil, 100)

	_, err := engine.Reconcile(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestReconcileCreditFailureIsDeferredNotLost(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 0)
	addJob(store, "task-1", "acct-1", 400, domain.JobStatusFailed)
	engine := newTestEngine(store, nil, 100)

	store.CreditErr = domain.ErrTransientStore
	outcome, err := engine.Reconcile(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !outcome.Refunded || !outcome.Deferred {
		t.Fatalf("outcome = %+v, want refunded and deferred", outcome)
	}
	if got := store.Job("task-1").RefundState; got != domain.RefundStateRefunded {
		t.Fatalf("refund state = %s, want refunded (claim never reverses)", got)
	}
	if store.RetryCount() != 1 {
		t.Fatalf("retry count = %d, want 1", store.RetryCount())
	}

	// A later Reconcile must not double-queue or double-credit.
	if _, err := engine.Reconcile(context.Background(), "task-1"); !errors.Is(err, domain.ErrAlreadyReconciled) {
		t.Fatalf("error = %v, want ErrAlreadyReconciled", err)
	}

	// Once the store recovers, settling the queue lands the credit.
	store.CreditErr = nil
	retry, ok, err := store.SettleNext(context.Background())
	if err != nil || !ok {
		t.Fatalf("SettleNext: ok=%v err=%v", ok, err)
	}
	if retry.TaskID != "task-1" || retry.Credits != 400 {
		t.Fatalf("retry = %+v", retry)
	}
	if got := store.Account("acct-1").Balance; got != 400 {
		t.Fatalf("balance = %d, want 400", got)
	}
}

func TestClaimInterruptedBeforeSettleIsRecoveredByDrain(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 0)
	addJob(store, "task-1", "acct-1", 300, domain.JobStatusFailed)

	// The claim statement queues the credit itself, so a process dying
	// right after it leaves a durable row instead of a lost refund.
	if _, ok, err := store.ClaimRefund(context.Background(), "task-1", 100); err != nil || !ok {
		t.Fatalf("ClaimRefund: ok=%v err=%v", ok, err)
	}
	if got := store.Account("acct-1").Balance; got != 0 {
		t.Fatalf("balance = %d, want 0 before settlement", got)
	}
	if store.RetryCount() != 1 {
		t.Fatalf("retry count = %d, want 1", store.RetryCount())
	}

	retry, ok, err := store.SettleNext(context.Background())
	if err != nil || !ok {
		t.Fatalf("SettleNext: ok=%v err=%v", ok, err)
	}
	if retry.TaskID != "task-1" || retry.Credits != 300 {
		t.Fatalf("retry = %+v", retry)
	}
	if got := store.Account("acct-1").Balance; got != 300 {
		t.Fatalf("balance = %d, want 300", got)
	}
	if store.RetryCount() != 0 {
		t.Fatalf("retry count = %d, want 0 after settlement", store.RetryCount())
	}
}

func TestReconcileCancelledJobPartialRefund(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 0)
	addJob(store, "task-1", "acct-1", 200, domain.JobStatusCancelled)
	engine := newTestEngine(store, nil, 50)

	outcome, err := engine.Reconcile(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Credits != 100 {
		t.Fatalf("credits = %d, want 100 (50%% of 200)", outcome.Credits)
	}
	if got := store.Account("acct-1").Balance; got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}
}

func TestReconcileFullLifecycleRestoresBalance(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 1000)
	logger := infra.NewLogger("test")
	ledgerSvc := ledger.NewService(store, logger)
	tracker := lifecycle.NewTracker(store, ledgerSvc, logger)
	engine := newTestEngine(store, nil, 100)

	ctx := context.Background()
	if _, err := tracker.CreateJob(ctx, "acct-1", "task-1", 300, nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if got := store.Account("acct-1").Balance; got != 700 {
		t.Fatalf("balance after reserve = %d, want 700", got)
	}
	if _, err := tracker.TransitionStatus(ctx, "task-1", domain.JobStatusProcessing, domain.StatusDetails{}); err != nil {
		t.Fatalf("to processing: %v", err)
	}
	if _, err := tracker.TransitionStatus(ctx, "task-1", domain.JobStatusFailed, domain.StatusDetails{FailureReason: "render error"}); err != nil {
		t.Fatalf("to failed: %v", err)
	}
	if _, err := engine.Reconcile(ctx, "task-1"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := store.Account("acct-1").Balance; got != 1000 {
		t.Fatalf("balance = %d, want 1000 restored", got)
	}
}

func TestSweepRefundsAllEligible(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 0)
	addJob(store, "task-1", "acct-1", 100, domain.JobStatusFailed)
	addJob(store, "task-2", "acct-1", 100, domain.JobStatusFailed)
	addJob(store, "task-3", "acct-1", 100, domain.JobStatusCancelled)
	addJob(store, "task-4", "acct-1", 100, domain.JobStatusCompleted)
	addJob(store, "task-5", "acct-1", 100, domain.JobStatusProcessing)
	engine := newTestEngine(store, nil, 100)

	report, err := engine.Sweep(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Scanned != 4 || report.Refunded != 3 || report.Errors != 0 {
		t.Fatalf("report = %+v, want 4 scanned and 3 refunded", report)
	}
	if report.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1 (the completed job)", report.Skipped)
	}
	if report.CreditsReturned != 300 {
		t.Fatalf("credits returned = %d, want 300", report.CreditsReturned)
	}
	if got := store.Account("acct-1").Balance; got != 300 {
		t.Fatalf("balance = %d, want 300", got)
	}
}

func TestSweepScopedToAccount(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 0)
	store.AddAccount("acct-2", 0)
	addJob(store, "task-1", "acct-1", 100, domain.JobStatusFailed)
	addJob(store, "task-2", "acct-2", 100, domain.JobStatusFailed)
	engine := newTestEngine(store, nil, 100)

	report, err := engine.Sweep(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Refunded != 1 {
		t.Fatalf("refunded = %d, want 1", report.Refunded)
	}
	if got := store.Account("acct-2").Balance; got != 0 {
		t.Fatalf("acct-2 balance = %d, want untouched 0", got)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 0)
	addJob(store, "task-1", "acct-1", 100, domain.JobStatusFailed)
	engine := newTestEngine(store, nil, 100)

	if _, err := engine.Sweep(context.Background(), "acct-1"); err != nil {
		t.Fatalf("first Sweep: %v", err)
	}
	report, err := engine.Sweep(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if report.Scanned != 1 || report.Refunded != 0 || report.Skipped != 1 {
		t.Fatalf("second sweep report = %+v, want 1 scanned and skipped", report)
	}
	if got := store.Account("acct-1").Balance; got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}
}

func TestHandleVendorStatusFailureRefunds(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 0)
	addJob(store, "task-1", "acct-1", 150, domain.JobStatusProcessing)
	checker := &fakeChecker{res: video.StatusResult{Status: domain.JobStatusFailed, ErrorMessage: "render error"}}
	engine := newTestEngine(store, checker, 100)

	job, err := engine.HandleVendorStatus(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("HandleVendorStatus: %v", err)
	}
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.RefundState != domain.RefundStateRefunded {
		t.Fatalf("refund state = %s, want refunded", job.RefundState)
	}
	if got := store.Account("acct-1").Balance; got != 150 {
		t.Fatalf("balance = %d, want 150", got)
	}
	if got := store.Job("task-1").FailureReason; got != "render error" {
		t.Fatalf("failure reason = %q", got)
	}
}

func TestHandleVendorStatusCompletionNeverRefunds(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 0)
	addJob(store, "task-1", "acct-1", 150, domain.JobStatusProcessing)
	checker := &fakeChecker{res: video.StatusResult{Status: domain.JobStatusCompleted, ResultReference: "https://cdn.example.com/v.mp4"}}
	engine := newTestEngine(store, checker, 100)

	job, err := engine.HandleVendorStatus(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("HandleVendorStatus: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.RefundState != domain.RefundStateNotApplicable {
		t.Fatalf("refund state = %s, want refund_not_applicable", job.RefundState)
	}
	if got := store.Account("acct-1").Balance; got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
}

func TestHandleVendorStatusOutageKeepsJob(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 0)
	addJob(store, "task-1", "acct-1", 150, domain.JobStatusProcessing)
	checker := &fakeChecker{err: domain.ErrVendorUnavailable}
	engine := newTestEngine(store, checker, 100)

	_, err := engine.HandleVendorStatus(context.Background(), "task-1")
	if !errors.Is(err, domain.ErrVendorUnavailable) {
		t.Fatalf("error = %v, want ErrVendorUnavailable", err)
	}
	if got := store.Job("task-1").Status; got != domain.JobStatusProcessing {
		t.Fatalf("status = %s, want unchanged processing", got)
	}
}

func TestHandleVendorStatusLostTaskFailsAndRefunds(t *testing.T) {
	store := memory.NewStore()
	store.AddAccount("acct-1", 0)
	addJob(store, "task-1", "acct-1", 150, domain.JobStatusProcessing)
	checker := &fakeChecker{err: domain.ErrNotFound}
	engine := newTestEngine(store, checker, 100)

	job, err := engine.HandleVendorStatus(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("HandleVendorStatus: %v", err)
	}
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if got := store.Account("acct-1").Balance; got != 150 {
		t.Fatalf("balance = %d, want 150", got)
	}
}

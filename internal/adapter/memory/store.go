// Package memory provides in-memory implementations of the domain
// repositories with the same conditional-update semantics as the SQL
// adapter. Tests drive the services through it; nothing in the server
// binaries depends on it.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"server/internal/domain"
)

type Store struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	events   map[string]domain.PurchaseEvent
	jobs     map[string]*domain.Job
	retries  map[string]domain.RefundRetry

	// CreditErr, when set, makes Credit and refund settles fail. Tests use
	// it to exercise the claimed-but-not-credited recovery path.
	CreditErr error
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[string]*domain.Account),
		events:   make(map[string]domain.PurchaseEvent),
		jobs:     make(map[string]*domain.Job),
		retries:  make(map[string]domain.RefundRetry),
	}
}

// AddAccount seeds an account with the given balance.
func (s *Store) AddAccount(id string, balance int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.accounts[id] = &domain.Account{ID: id, Balance: balance, CreatedAt: now, UpdatedAt: now}
}

// Account returns a copy of the stored account, or nil.
func (s *Store) Account(id string) *domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// Job returns a copy of the stored job, or nil.
func (s *Store) Job(taskID string) *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[taskID]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

// RetryCount reports the number of queued refund retries.
func (s *Store) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retries)
}

// ---- domain.AccountRepository ----

func (s *Store) Debit(_ context.Context, accountID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if a.Balance < amount {
		return 0, domain.ErrInsufficientFunds
	}
	a.Balance -= amount
	a.TotalDebited += amount
	a.JobsCreated++
	a.UpdatedAt = time.Now()
	return a.Balance, nil
}

func (s *Store) Credit(_ context.Context, accountID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreditErr != nil {
		return 0, s.CreditErr
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	a.Balance += amount
	a.UpdatedAt = time.Now()
	return a.Balance, nil
}

func (s *Store) Get(_ context.Context, accountID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ApplyPurchase(_ context.Context, event domain.PurchaseEvent) (int, bool, error) {
	if event.Credits <= 0 {
		return 0, false, domain.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.events[event.EventID]; seen {
		return 0, false, nil
	}
	a, ok := s.accounts[event.AccountID]
	if !ok {
		return 0, false, domain.ErrNotFound
	}
	event.CreatedAt = time.Now()
	s.events[event.EventID] = event
	a.Balance += event.Credits
	a.UpdatedAt = time.Now()
	return a.Balance, true, nil
}

// ---- domain.JobRepository ----

func (s *Store) CreateJob(job *domain.Job) {
	_ = s.Create(context.Background(), job)
}

func (s *Store) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	if cp.RefundState == "" {
		cp.RefundState = domain.RefundStateNone
	}
	cp.LastStatusCheck = cp.CreatedAt
	s.jobs[cp.TaskID] = &cp
	return nil
}

func (s *Store) GetByTaskID(_ context.Context, taskID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) ListByAccount(_ context.Context, accountID string, status domain.JobStatus) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []domain.Job
	for _, j := range s.jobs {
		if j.AccountID != accountID {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	return jobs, nil
}

func (s *Store) UpdateStatus(_ context.Context, taskID string, from, to domain.JobStatus, details domain.StatusDetails) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[taskID]
	if !ok || j.Status != from {
		return false, nil
	}
	j.Status = to
	if details.ResultReference != "" {
		j.ResultReference = details.ResultReference
	}
	if details.FailureReason != "" {
		j.FailureReason = details.FailureReason
	}
	if to == domain.JobStatusCompleted && j.RefundState == domain.RefundStateNone {
		j.RefundState = domain.RefundStateNotApplicable
	}
	if to.IsTerminal() && j.CompletedAt == nil {
		now := time.Now()
		j.CompletedAt = &now
	}
	j.LastStatusCheck = time.Now()
	return true, nil
}

// ClaimRefund matches the SQL adapter: winning the claim queues the credit
// in the same operation, so the refund survives a crash before settlement.
func (s *Store) ClaimRefund(_ context.Context, taskID string, cancelPercent int) (domain.RefundClaim, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[taskID]
	if !ok {
		return domain.RefundClaim{}, false, nil
	}
	if j.RefundState != domain.RefundStateNone {
		return domain.RefundClaim{}, false, nil
	}
	if j.Status != domain.JobStatusFailed && j.Status != domain.JobStatusCancelled {
		return domain.RefundClaim{}, false, nil
	}
	j.RefundState = domain.RefundStateRefunded
	credits := j.CreditsReserved
	if j.Status == domain.JobStatusCancelled {
		credits = credits * cancelPercent / 100
	}
	if credits > 0 {
		s.retries[taskID] = domain.RefundRetry{
			TaskID:    taskID,
			AccountID: j.AccountID,
			Credits:   credits,
			CreatedAt: time.Now(),
		}
	}
	return domain.RefundClaim{AccountID: j.AccountID, Credits: credits, Status: j.Status}, true, nil
}

func (s *Store) ListTerminal(_ context.Context, accountID string, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []domain.Job
	for _, j := range s.jobs {
		if accountID != "" && j.AccountID != accountID {
			continue
		}
		if !j.Status.IsTerminal() {
			continue
		}
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *Store) ListStaleActive(_ context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []domain.Job
	for _, j := range s.jobs {
		if j.Status.IsTerminal() {
			continue
		}
		if !j.LastStatusCheck.Before(cutoff) {
			continue
		}
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].LastStatusCheck.Before(jobs[k].LastStatusCheck) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *Store) TouchStatusCheck(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[taskID]; ok {
		j.LastStatusCheck = time.Now()
	}
	return nil
}

// ---- domain.RefundRetryRepository ----

func (s *Store) Enqueue(_ context.Context, retry domain.RefundRetry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.retries[retry.TaskID]; ok {
		existing.Attempts++
		existing.LastError = retry.LastError
		s.retries[retry.TaskID] = existing
		return nil
	}
	retry.Attempts = 1
	retry.CreatedAt = time.Now()
	s.retries[retry.TaskID] = retry
	return nil
}

func (s *Store) Settle(_ context.Context, taskID string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreditErr != nil {
		return 0, false, s.CreditErr
	}
	r, ok := s.retries[taskID]
	if !ok {
		return 0, false, nil
	}
	a, ok := s.accounts[r.AccountID]
	if !ok {
		return 0, false, domain.ErrNotFound
	}
	a.Balance += r.Credits
	a.UpdatedAt = time.Now()
	delete(s.retries, taskID)
	return a.Balance, true, nil
}

func (s *Store) SettleNext(_ context.Context) (domain.RefundRetry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreditErr != nil {
		return domain.RefundRetry{}, false, s.CreditErr
	}
	var oldest *domain.RefundRetry
	for id := range s.retries {
		r := s.retries[id]
		if oldest == nil || r.CreatedAt.Before(oldest.CreatedAt) {
			oldest = &r
		}
	}
	if oldest == nil {
		return domain.RefundRetry{}, false, nil
	}
	a, ok := s.accounts[oldest.AccountID]
	if !ok {
		return domain.RefundRetry{}, false, domain.ErrNotFound
	}
	a.Balance += oldest.Credits
	a.UpdatedAt = time.Now()
	delete(s.retries, oldest.TaskID)
	return *oldest, true, nil
}

var (
	_ domain.AccountRepository     = (*Store)(nil)
	_ domain.JobRepository         = (*Store)(nil)
	_ domain.RefundRetryRepository = (*Store)(nil)
)

package repo

import (
	"context"
	"time"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.TaskID,
		job.AccountID,
		job.Status,
		job.CreditsReserved,
		job.RefundState,
		nullableBytes(job.Metadata),
	)
	if err != nil {
		return transient("insert job", err)
	}
	return nil
}

func (r *JobRepositoryPG) GetByTaskID(ctx context.Context, taskID string) (*domain.Job, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectJob, taskID)
	job, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, transient("select job", err)
	}
	return job, nil
}

func (r *JobRepositoryPG) ListByAccount(ctx context.Context, accountID string, status domain.JobStatus) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListJobsByAccount, accountID, string(status))
	if err != nil {
		return nil, transient("list jobs", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// UpdateStatus compares against the caller-observed status; a zero-row
// update means a concurrent transition won and the caller must re-read.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, taskID string, from, to domain.JobStatus, details domain.StatusDetails) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateJobStatus,
		taskID,
		from,
		to,
		details.ResultReference,
		details.FailureReason,
	)
	if err != nil {
		return false, transient("update job status", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *JobRepositoryPG) ClaimRefund(ctx context.Context, taskID string, cancelPercent int) (domain.RefundClaim, bool, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QClaimRefund, taskID, cancelPercent)
	var claim domain.RefundClaim
	if err := row.Scan(&claim.AccountID, &claim.Credits, &claim.Status); err != nil {
		if infra.IsNoRows(err) {
			return domain.RefundClaim{}, false, nil
		}
		return domain.RefundClaim{}, false, transient("claim refund", err)
	}
	return claim, true, nil
}

func (r *JobRepositoryPG) ListTerminal(ctx context.Context, accountID string, limit int) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListTerminalJobs, accountID, limit)
	if err != nil {
		return nil, transient("list terminal jobs", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *JobRepositoryPG) ListStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListStaleActiveJobs, cutoff, limit)
	if err != nil {
		return nil, transient("list stale jobs", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *JobRepositoryPG) TouchStatusCheck(ctx context.Context, taskID string) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QTouchJobStatusCheck, taskID); err != nil {
		return transient("touch job", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	if err := row.Scan(
		&j.TaskID,
		&j.AccountID,
		&j.Status,
		&j.CreditsReserved,
		&j.RefundState,
		&j.ResultReference,
		&j.FailureReason,
		&j.Metadata,
		&j.CreatedAt,
		&j.LastStatusCheck,
		&j.CompletedAt,
	); err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, transient("scan job", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("iterate jobs", err)
	}
	return jobs, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)

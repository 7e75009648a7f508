package repo

import (
	"context"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// RefundRetryRepositoryPG implements domain.RefundRetryRepository.
type RefundRetryRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewRefundRetryRepository creates the refund retry queue backed by PostgreSQL.
func NewRefundRetryRepository(sql infra.SQLExecutor) *RefundRetryRepositoryPG {
	return &RefundRetryRepositoryPG{sql: sql}
}

func (r *RefundRetryRepositoryPG) Enqueue(ctx context.Context, retry domain.RefundRetry) error {
	_, err := r.sql.Exec(ctx, sqlinline.QEnqueueRefundRetry,
		retry.TaskID,
		retry.AccountID,
		retry.Credits,
		retry.LastError,
	)
	if err != nil {
		return transient("enqueue refund retry", err)
	}
	return nil
}

// Settle credits and dequeues the row for one task in one statement.
// ok=false means the row was already settled (or never existed).
func (r *RefundRetryRepositoryPG) Settle(ctx context.Context, taskID string) (int, bool, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSettleRefundRetryByTask, taskID)
	var balance int
	if err := row.Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, transient("settle refund", err)
	}
	return balance, true, nil
}

// SettleNext credits and dequeues in one statement; the skip-locked claim
// makes the settle exclusive across concurrent workers.
func (r *RefundRetryRepositoryPG) SettleNext(ctx context.Context) (domain.RefundRetry, bool, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSettleRefundRetry)
	var retry domain.RefundRetry
	if err := row.Scan(&retry.TaskID, &retry.AccountID, &retry.Credits, &retry.Attempts, &retry.LastError, &retry.CreatedAt); err != nil {
		if infra.IsNoRows(err) {
			return domain.RefundRetry{}, false, nil
		}
		return domain.RefundRetry{}, false, transient("settle refund retry", err)
	}
	return retry, true, nil
}

var _ domain.RefundRetryRepository = (*RefundRetryRepositoryPG)(nil)

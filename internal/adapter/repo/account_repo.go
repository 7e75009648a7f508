package repo

import (
	"context"
	"fmt"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// AccountRepositoryPG implements domain.AccountRepository. All balance
// mutations are single conditional statements; there is no read-then-write
// in application code.
type AccountRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAccountRepository creates a ledger store backed by PostgreSQL.
func NewAccountRepository(sql infra.SQLExecutor) *AccountRepositoryPG {
	return &AccountRepositoryPG{sql: sql}
}

func (r *AccountRepositoryPG) Debit(ctx context.Context, accountID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	row := r.sql.QueryRow(ctx, sqlinline.QDebitAccount, accountID, amount)
	var balance int
	err := row.Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !infra.IsNoRows(err) {
		return 0, transient("debit account", err)
	}
	// No row updated: either the account does not exist or the balance
	// was short. Disambiguate with a plain read.
	if _, getErr := r.Get(ctx, accountID); getErr != nil {
		return 0, getErr
	}
	return 0, domain.ErrInsufficientFunds
}

func (r *AccountRepositoryPG) Credit(ctx context.Context, accountID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	row := r.sql.QueryRow(ctx, sqlinline.QCreditAccount, accountID, amount)
	var balance int
	if err := row.Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrNotFound
		}
		return 0, transient("credit account", err)
	}
	return balance, nil
}

func (r *AccountRepositoryPG) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectAccount, accountID)
	var a domain.Account
	if err := row.Scan(&a.ID, &a.Email, &a.Balance, &a.TotalDebited, &a.JobsCreated, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, transient("select account", err)
	}
	return &a, nil
}

func (r *AccountRepositoryPG) ApplyPurchase(ctx context.Context, event domain.PurchaseEvent) (int, bool, error) {
	if event.Credits <= 0 {
		return 0, false, domain.ErrInvalidAmount
	}
	row := r.sql.QueryRow(ctx, sqlinline.QApplyPurchase, event.EventID, event.AccountID, event.Credits)
	var balance int
	err := row.Scan(&balance)
	if err == nil {
		return balance, true, nil
	}
	if !infra.IsNoRows(err) {
		return 0, false, transient("apply purchase", err)
	}
	// Nothing credited: a replayed event id, or an unknown account.
	seen, seenErr := r.purchaseSeen(ctx, event.EventID)
	if seenErr != nil {
		return 0, false, seenErr
	}
	if seen {
		return 0, false, nil
	}
	return 0, false, domain.ErrNotFound
}

func (r *AccountRepositoryPG) purchaseSeen(ctx context.Context, eventID string) (bool, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectWebhookEvent, eventID)
	var e domain.PurchaseEvent
	if err := row.Scan(&e.EventID, &e.AccountID, &e.Credits, &e.CreatedAt); err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, transient("select webhook event", err)
	}
	return true, nil
}

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrTransientStore, err)
}

var _ domain.AccountRepository = (*AccountRepositoryPG)(nil)

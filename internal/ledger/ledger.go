// Package ledger is the credit ledger store facade: the only path through
// which account balances change.
package ledger

import (
	"context"

	"server/internal/domain"
	"server/internal/infra"
)

type Service struct {
	accounts domain.AccountRepository
	logger   infra.Logger
}

func NewService(accounts domain.AccountRepository, logger infra.Logger) *Service {
	return &Service{accounts: accounts, logger: logger}
}

// Debit reserves amount credits for a new job. The balance check and the
// decrement are one atomic storage write; two concurrent debits can never
// both succeed on a balance that covers only one.
func (s *Service) Debit(ctx context.Context, accountID string, amount int) (int, error) {
	balance, err := s.accounts.Debit(ctx, accountID, amount)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("account_id", accountID).Int("amount", amount).Int("balance", balance).Msg("ledger: debit")
	return balance, nil
}

// Credit returns amount credits to the account. Refunds have no upper
// bound and always succeed against an existing account.
func (s *Service) Credit(ctx context.Context, accountID string, amount int) (int, error) {
	balance, err := s.accounts.Credit(ctx, accountID, amount)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("account_id", accountID).Int("amount", amount).Int("balance", balance).Msg("ledger: credit")
	return balance, nil
}

func (s *Service) Read(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.accounts.Get(ctx, accountID)
}

// PurchaseResult reports the effect of one webhook purchase event.
type PurchaseResult struct {
	Balance   int
	Applied   bool
	Duplicate bool
}

// ApplyPurchase credits a webhook purchase exactly once per event id.
// Redelivery of the same event is a successful no-op.
func (s *Service) ApplyPurchase(ctx context.Context, event domain.PurchaseEvent) (PurchaseResult, error) {
	balance, applied, err := s.accounts.ApplyPurchase(ctx, event)
	if err != nil {
		return PurchaseResult{}, err
	}
	if !applied {
		s.logger.Info().Str("event_id", event.EventID).Msg("ledger: purchase event replayed, skipping")
		return PurchaseResult{Duplicate: true}, nil
	}
	s.logger.Info().
		Str("event_id", event.EventID).
		Str("account_id", event.AccountID).
		Int("credits", event.Credits).
		Int("balance", balance).
		Msg("ledger: purchase applied")
	return PurchaseResult{Balance: balance, Applied: true}, nil
}

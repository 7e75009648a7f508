package domain

import "time"

// Account holds a user's credit balance together with audit counters.
// Balance is mutated only through the ledger's debit/credit operations.
type Account struct {
	ID           string
	Email        string
	Balance      int
	TotalDebited int
	JobsCreated  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PurchaseEvent is one credit purchase delivered by the payment webhook.
// EventID is the provider-assigned event identifier used for dedup.
type PurchaseEvent struct {
	EventID   string
	AccountID string
	Credits   int
	CreatedAt time.Time
}

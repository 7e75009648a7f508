package handlers

import (
	"net/http"
	"time"
)

type balanceView struct {
	AccountID    string    `json:"account_id"`
	Balance      int       `json:"balance"`
	TotalDebited int       `json:"total_debited"`
	JobsCreated  int       `json:"jobs_created"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (a *App) AccountBalance(w http.ResponseWriter, r *http.Request) {
	accountID := a.currentAccountID(r)
	if accountID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing account context")
		return
	}
	account, err := a.Ledger.Read(r.Context(), accountID)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, balanceView{
		AccountID:    account.ID,
		Balance:      account.Balance,
		TotalDebited: account.TotalDebited,
		JobsCreated:  account.JobsCreated,
		UpdatedAt:    account.UpdatedAt,
	})
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ReconcileJob settles the refund for one failed or cancelled job owned by
// the caller. Safe to retry: a second call reports the conflict instead of
// crediting twice.
func (a *App) ReconcileJob(w http.ResponseWriter, r *http.Request) {
	accountID := a.currentAccountID(r)
	if accountID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing account context")
		return
	}
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "task_id required")
		return
	}

	job, err := a.Tracker.GetJob(r.Context(), taskID)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	if job.AccountID != accountID {
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}

	outcome, err := a.Engine.Reconcile(r.Context(), taskID)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, outcome)
}

type sweepRequest struct {
	AccountID string `json:"account_id"`
}

// ReconcileSweep refunds every eligible job of the calling account. Sweeps
// across all accounts are reserved for the worker and the admin CLI.
func (a *App) ReconcileSweep(w http.ResponseWriter, r *http.Request) {
	accountID := a.currentAccountID(r)
	if accountID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing account context")
		return
	}
	var req sweepRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
	}
	if req.AccountID != "" && req.AccountID != accountID {
		a.error(w, http.StatusForbidden, "forbidden", "cannot sweep another account")
		return
	}

	report, err := a.Engine.Sweep(r.Context(), accountID)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, report)
}

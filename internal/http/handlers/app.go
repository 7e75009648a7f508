package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/ledger"
	"server/internal/lifecycle"
	"server/internal/middleware"
	"server/internal/reconcile"
)

type App struct {
	Config  *infra.Config
	Logger  infra.Logger
	Ledger  *ledger.Service
	Tracker *lifecycle.Tracker
	Engine  *reconcile.Engine
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": v})
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": errorBody{Kind: kind, Message: message}})
}

// domainError maps the service error taxonomy onto HTTP responses. Internal
// failures get a generic body; the underlying error is only logged.
func (a *App) domainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrInsufficientFunds):
		a.error(w, http.StatusPaymentRequired, "insufficient_funds", "balance does not cover the reservation")
	case errors.Is(err, domain.ErrInvalidAmount):
		a.error(w, http.StatusBadRequest, "bad_request", "amount must be positive")
	case errors.Is(err, domain.ErrInvalidTaskID):
		a.error(w, http.StatusBadRequest, "bad_request", "task id is required")
	case errors.Is(err, domain.ErrInvalidTransition):
		a.error(w, http.StatusConflict, "invalid_transition", "operation not valid for the job's current status")
	case errors.Is(err, domain.ErrAlreadyReconciled):
		a.error(w, http.StatusConflict, "already_reconciled", "refund was already settled for this job")
	case errors.Is(err, domain.ErrVendorUnavailable):
		a.error(w, http.StatusBadGateway, "vendor_unavailable", "video vendor is unreachable")
	case errors.Is(err, domain.ErrTransientStore):
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("store error")
		a.error(w, http.StatusServiceUnavailable, "store_unavailable", "temporary storage failure, retry later")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) currentAccountID(r *http.Request) string {
	return middleware.AccountIDFromContext(r.Context())
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"server/internal/domain"
)

type generateRequest struct {
	TaskID   string          `json:"task_id"`
	Credits  int             `json:"credits"`
	Metadata json.RawMessage `json:"metadata"`
}

type jobView struct {
	TaskID          string          `json:"task_id"`
	Status          string          `json:"status"`
	CreditsReserved int             `json:"credits_reserved"`
	RefundState     string          `json:"refund_state"`
	ResultReference string          `json:"result_reference,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

func toJobView(job *domain.Job) jobView {
	return jobView{
		TaskID:          job.TaskID,
		Status:          string(job.Status),
		CreditsReserved: job.CreditsReserved,
		RefundState:     string(job.RefundState),
		ResultReference: job.ResultReference,
		FailureReason:   job.FailureReason,
		Metadata:        json.RawMessage(job.Metadata),
		CreatedAt:       job.CreatedAt,
		CompletedAt:     job.CompletedAt,
	}
}

// VideosGenerate reserves credits and registers a generation job. The task id
// is normally the vendor's; callers that have not submitted upstream yet can
// omit it and get a generated one.
func (a *App) VideosGenerate(w http.ResponseWriter, r *http.Request) {
	accountID := a.currentAccountID(r)
	if accountID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing account context")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Credits <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "credits must be positive")
		return
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}

	job, err := a.Tracker.CreateJob(r.Context(), accountID, req.TaskID, req.Credits, req.Metadata)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, toJobView(job))
}

// VideoStatus returns one job. For jobs still running it refreshes the status
// from the vendor first, which also settles the refund when the vendor
// reports a terminal failure.
func (a *App) VideoStatus(w http.ResponseWriter, r *http.Request) {
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
		// Do not leak other accounts' task ids.
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}

	if !job.Status.IsTerminal() {
		refreshed, err := a.Engine.HandleVendorStatus(r.Context(), taskID)
		switch {
		case err == nil:
			job = refreshed
		case errors.Is(err, domain.ErrVendorUnavailable):
			// Serve the last known state rather than failing the read.
			a.Logger.Warn().Err(err).Str("task_id", taskID).Msg("vendor poll failed, serving stored status")
		default:
			a.domainError(w, r, err)
			return
		}
	}
	a.json(w, http.StatusOK, toJobView(job))
}

// VideosList returns the caller's jobs, optionally filtered by ?status=.
func (a *App) VideosList(w http.ResponseWriter, r *http.Request) {
	accountID := a.currentAccountID(r)
	if accountID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing account context")
		return
	}
	status := domain.JobStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown status filter")
		return
	}

	jobs, err := a.Tracker.ListJobsByAccount(r.Context(), accountID, status)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, toJobView(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": views})
}

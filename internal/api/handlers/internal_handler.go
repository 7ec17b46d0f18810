package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"inkwell/internal/engine/delivery"
	"inkwell/internal/engine/ledger"
	apierrors "inkwell/internal/pkg/errors"
	"inkwell/internal/platform/models"
	"inkwell/internal/platform/repositories"
)

// InternalHandler receives worker callbacks. Billing and webhook
// dispatch live here so the worker never touches the ledger directly.
type InternalHandler struct {
	jobs    *repositories.JobRepository
	credits *ledger.Ledger
	poster  *delivery.Poster
}

func NewInternalHandler(jobs *repositories.JobRepository, credits *ledger.Ledger, poster *delivery.Poster) *InternalHandler {
	return &InternalHandler{jobs: jobs, credits: credits, poster: poster}
}

type JobCompleteRequest struct {
	JobID      string `json:"job_id"`
	TokensUsed int    `json:"tokens_used"`
}

func (h *InternalHandler) JobComplete(w http.ResponseWriter, r *http.Request) {
	var req JobCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	job, err := h.jobs.GetByID(req.JobID)
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return
	}
	if job == nil {
		apierrors.WriteError(w, http.StatusNotFound, apierrors.ErrCodeNotFound, "Job not found", nil)
		return
	}

	if err := h.jobs.SetTokensUsed(job.ID, req.TokensUsed); err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to record token usage", nil)
		return
	}

	// Campaign jobs reserved their credit at batch time; one-off jobs
	// pay for actual token usage now.
	if !job.IsRecurring && req.TokensUsed > 0 {
		if _, err := h.credits.ChargeTokens(r.Context(), job.AccountID, req.TokensUsed, ledger.Ref{
			Type:        "job",
			ID:          job.ID,
			Description: "article generation: " + job.Topic,
		}); err != nil {
			apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to charge credits", nil)
			return
		}
	}

	// Deliver right away when the article has a receiver and its
	// publish time already passed; otherwise the sweep picks it up.
	if h.deliverable(job) {
		job, err = h.jobs.GetByID(job.ID)
		if err != nil || job == nil {
			apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
			return
		}
		if err := h.poster.Deliver(r.Context(), job); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("immediate webhook delivery failed")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *InternalHandler) deliverable(job *models.Job) bool {
	if job.IntegrationID == nil || job.PostedAt != nil {
		return false
	}
	if job.Status != models.StatusCompleted && job.Status != models.StatusScheduled {
		return false
	}
	if job.ScheduledAt != nil && *job.ScheduledAt > time.Now().Unix() {
		return false
	}
	return true
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "inkwell/internal/api/context"
	"inkwell/internal/engine/ledger"
	apierrors "inkwell/internal/pkg/errors"
	"inkwell/internal/platform/auth"
	"inkwell/internal/platform/models"
	"inkwell/internal/platform/repositories"
	"inkwell/internal/queue"
)

// MaxJobRetries caps user-initiated retries per job.
const MaxJobRetries = 3

type JobHandler struct {
	jobs    *repositories.JobRepository
	credits *ledger.Ledger
	queue   queue.Queue
}

func NewJobHandler(jobs *repositories.JobRepository, credits *ledger.Ledger, q queue.Queue) *JobHandler {
	return &JobHandler{jobs: jobs, credits: credits, queue: q}
}

type CreateJobRequest struct {
	Topic         string  `json:"topic"`
	Category      string  `json:"category"`
	TargetLength  int     `json:"target_length"`
	SourceCount   int     `json:"source_count"`
	ScheduledAt   *int64  `json:"scheduled_at,omitempty"`
	IntegrationID *string `json:"integration_id,omitempty"`
}

func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Topic == "" {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Topic is required", nil)
		return
	}
	if req.TargetLength <= 0 {
		req.TargetLength = 1500
	}
	if req.SourceCount <= 0 {
		req.SourceCount = 5
	}

	// One-off jobs are billed by token usage at completion, but an
	// account with nothing left cannot start new work.
	balance, err := h.credits.Balance(r.Context(), claims.AccountID)
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return
	}
	if balance < 1 {
		apierrors.WriteError(w, http.StatusPaymentRequired, apierrors.ErrCodeInsufficientCredits, "Insufficient credits", nil)
		return
	}

	job := &models.Job{
		AccountID:     claims.AccountID,
		IntegrationID: req.IntegrationID,
		RawQuery:      req.Topic,
		Topic:         req.Topic,
		Category:      req.Category,
		TargetLength:  req.TargetLength,
		SourceCount:   req.SourceCount,
		ScheduledAt:   req.ScheduledAt,
	}
	if err := h.jobs.Create(job); err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to create job", nil)
		return
	}

	if err := h.enqueue(r, job); err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to enqueue job", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	jobs, err := h.jobs.List(claims.AccountID, limit, offset)
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (h *JobHandler) Stats(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	stats, err := h.jobs.Stats(claims.AccountID)
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

type UpdateJobRequest struct {
	Topic    *string `json:"topic,omitempty"`
	Category *string `json:"category,omitempty"`
	Content  *string `json:"content,omitempty"`
}

func (h *JobHandler) Update(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	var req UpdateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Topic != nil {
		job.Topic = *req.Topic
	}
	if req.Category != nil {
		job.Category = *req.Category
	}
	if req.Content != nil {
		job.Content = *req.Content
	}

	if err := h.jobs.UpdateEditable(job); err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to update job", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	if err := h.jobs.Delete(job.ID); err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to delete job", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Retry re-queues a failed job with its original inputs.
func (h *JobHandler) Retry(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	if err := h.jobs.RequeueForRetry(job.ID, MaxJobRetries); err != nil {
		switch {
		case errors.Is(err, repositories.ErrRetryLimit):
			apierrors.WriteError(w, http.StatusConflict, apierrors.ErrCodeRetryLimit, "Job has reached its retry limit", nil)
		case errors.Is(err, repositories.ErrInvalidTransition):
			apierrors.WriteError(w, http.StatusConflict, apierrors.ErrCodeConflict, "Only failed jobs can be retried", nil)
		default:
			apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to retry job", nil)
		}
		return
	}

	if err := h.enqueue(r, job); err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to enqueue job", nil)
		return
	}

	job, err := h.jobs.GetByID(job.ID)
	if err != nil || job == nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// enqueue publishes the generation message; on failure the job is
// marked failed rather than left stranded in queued.
func (h *JobHandler) enqueue(r *http.Request, job *models.Job) error {
	err := h.queue.Publish(r.Context(), queue.Message{
		JobID:        job.ID,
		Topic:        job.Topic,
		Category:     job.Category,
		TargetLength: job.TargetLength,
		SourceCount:  job.SourceCount,
	})
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed")
		if ferr := h.jobs.MarkFailed(job.ID, "could not enqueue generation job"); ferr != nil {
			log.Error().Err(ferr).Str("job_id", job.ID).Msg("marking job failed")
		}
	}
	return err
}

// ownedJob loads the path job and enforces account ownership.
func (h *JobHandler) ownedJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	job, err := h.jobs.GetByID(params.ByName("job_id"))
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return nil, false
	}
	if job == nil || job.AccountID != claims.AccountID {
		apierrors.WriteError(w, http.StatusNotFound, apierrors.ErrCodeNotFound, "Job not found", nil)
		return nil, false
	}
	return job, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "inkwell/internal/api/context"
	"inkwell/internal/engine/ledger"
	"inkwell/internal/engine/scheduler"
	apierrors "inkwell/internal/pkg/errors"
	"inkwell/internal/platform/auth"
	"inkwell/internal/platform/models"
	"inkwell/internal/platform/repositories"
)

const (
	TitleGenerated = "generated"
	TitleApproved  = "approved"
	TitleRejected  = "rejected"
)

// TitleHandler manages the title review flow: generate candidates,
// approve or reject them, then turn approved titles into jobs in one
// batch.
type TitleHandler struct {
	titles    *repositories.TitleRepository
	generator scheduler.TitleGenerator
	jobs      *JobHandler
	credits   *ledger.Ledger
}

func NewTitleHandler(titles *repositories.TitleRepository, generator scheduler.TitleGenerator, jobs *JobHandler, credits *ledger.Ledger) *TitleHandler {
	return &TitleHandler{titles: titles, generator: generator, jobs: jobs, credits: credits}
}

type GenerateTitlesRequest struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

func (h *TitleHandler) Generate(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req GenerateTitlesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Topic == "" {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Topic is required", nil)
		return
	}
	if req.Count <= 0 || req.Count > 20 {
		req.Count = 5
	}

	generated, err := h.generator.GenerateTitles(r.Context(), req.Topic, req.Count)
	if err != nil {
		apierrors.WriteError(w, http.StatusBadGateway, apierrors.ErrCodeInternal, "Title generation failed", nil)
		return
	}

	var saved []*models.JobTitle
	for _, t := range generated {
		title := &models.JobTitle{
			AccountID:   claims.AccountID,
			Title:       t,
			Description: req.Topic,
			Status:      TitleGenerated,
		}
		if err := h.titles.Create(title); err != nil {
			apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to save titles", nil)
			return
		}
		saved = append(saved, title)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(saved)
}

type VerifyTitleRequest struct {
	Title  string `json:"title,omitempty"`
	Status string `json:"status"`
}

func (h *TitleHandler) Verify(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	var req VerifyTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Status != TitleApproved && req.Status != TitleRejected {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Status must be approved or rejected", nil)
		return
	}

	title, err := h.titles.GetByID(params.ByName("title_id"), claims.AccountID)
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return
	}
	if title == nil {
		apierrors.WriteError(w, http.StatusNotFound, apierrors.ErrCodeNotFound, "Title not found", nil)
		return
	}

	if req.Title != "" {
		title.Title = req.Title
	}
	title.Status = req.Status
	if err := h.titles.UpdateVerification(title.ID, title.Title, title.Status); err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to update title", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(title)
}

type BatchFromTitlesRequest struct {
	TitleIDs     []string `json:"title_ids"`
	Category     string   `json:"category"`
	TargetLength int      `json:"target_length"`
	SourceCount  int      `json:"source_count"`
}

// Batch creates one job per approved title in the request.
func (h *TitleHandler) Batch(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req BatchFromTitlesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if len(req.TitleIDs) == 0 {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "At least one title id is required", nil)
		return
	}
	if req.TargetLength <= 0 {
		req.TargetLength = 1500
	}
	if req.SourceCount <= 0 {
		req.SourceCount = 5
	}

	titles, err := h.titles.GetByIDs(req.TitleIDs, claims.AccountID)
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return
	}

	var approved []*models.JobTitle
	for _, t := range titles {
		if t.Status == TitleApproved {
			approved = append(approved, t)
		}
	}
	if len(approved) == 0 {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "No approved titles in request", nil)
		return
	}

	balance, err := h.credits.Balance(r.Context(), claims.AccountID)
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return
	}
	if balance < len(approved) {
		apierrors.WriteError(w, http.StatusPaymentRequired, apierrors.ErrCodeInsufficientCredits, "Insufficient credits for batch", nil)
		return
	}

	var created []*models.Job
	for _, t := range approved {
		job := &models.Job{
			AccountID:    claims.AccountID,
			RawQuery:     t.Description,
			Topic:        t.Title,
			Category:     req.Category,
			TargetLength: req.TargetLength,
			SourceCount:  req.SourceCount,
		}
		if err := h.jobs.jobs.Create(job); err != nil {
			apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to create job", nil)
			return
		}
		if err := h.jobs.enqueue(r, job); err != nil {
			apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to enqueue job", nil)
			return
		}
		created = append(created, job)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

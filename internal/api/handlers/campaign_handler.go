package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "inkwell/internal/api/context"
	"inkwell/internal/engine/scheduler"
	apierrors "inkwell/internal/pkg/errors"
	"inkwell/internal/platform/auth"
	"inkwell/internal/platform/models"
	"inkwell/internal/platform/repositories"
)

type CampaignHandler struct {
	campaigns *repositories.CampaignRepository
	scheduler *scheduler.Scheduler
}

func NewCampaignHandler(campaigns *repositories.CampaignRepository, sched *scheduler.Scheduler) *CampaignHandler {
	return &CampaignHandler{campaigns: campaigns, scheduler: sched}
}

type CreateCampaignRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Topic          string   `json:"topic"`
	Category       string   `json:"category"`
	ArticlesPerDay int      `json:"articles_per_day"`
	PostingTimes   []string `json:"posting_times"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	TotalArticles  *int     `json:"total_articles,omitempty"`
	TargetLength   int      `json:"target_length"`
	SourceCount    int      `json:"source_count"`
	IntegrationID  *string  `json:"integration_id,omitempty"`
}

func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Topic == "" || req.Name == "" {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Name and topic are required", nil)
		return
	}
	if req.ArticlesPerDay <= 0 || req.ArticlesPerDay > 10 {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "articles_per_day must be between 1 and 10", nil)
		return
	}
	if req.StartDate == "" {
		req.StartDate = time.Now().UTC().Format("2006-01-02")
	}
	if req.TargetLength <= 0 {
		req.TargetLength = 1500
	}
	if req.SourceCount <= 0 {
		req.SourceCount = 5
	}

	campaign := &models.Campaign{
		AccountID:      claims.AccountID,
		Name:           req.Name,
		Description:    req.Description,
		Topic:          req.Topic,
		Category:       req.Category,
		ArticlesPerDay: req.ArticlesPerDay,
		PostingTimes:   req.PostingTimes,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		TotalArticles:  req.TotalArticles,
		TargetLength:   req.TargetLength,
		SourceCount:    req.SourceCount,
		IntegrationID:  req.IntegrationID,
		Status:         models.CampaignActive,
	}
	if err := h.campaigns.Create(campaign); err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to create campaign", nil)
		return
	}

	// First batch runs immediately when the campaign starts today, so
	// the user sees jobs without waiting for the next scheduler tick.
	if campaign.StartDate <= time.Now().UTC().Format("2006-01-02") {
		if err := h.scheduler.RunCampaign(r.Context(), campaign); err != nil {
			log.Error().Err(err).Str("campaign_id", campaign.ID).Msg("first campaign batch failed")
		}
	}

	campaign, err := h.campaigns.GetByID(campaign.ID)
	if err != nil || campaign == nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(campaign)
}

func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	campaigns, err := h.campaigns.ListByAccount(claims.AccountID)
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return
	}
	if campaigns == nil {
		campaigns = []*models.Campaign{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaigns)
}

func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	campaign, ok := h.ownedCampaign(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaign)
}

type UpdateCampaignRequest struct {
	Name          *string   `json:"name,omitempty"`
	Description   *string   `json:"description,omitempty"`
	PostingTimes  *[]string `json:"posting_times,omitempty"`
	EndDate       *string   `json:"end_date,omitempty"`
	TotalArticles *int      `json:"total_articles,omitempty"`
	IntegrationID *string   `json:"integration_id,omitempty"`
}

func (h *CampaignHandler) Update(w http.ResponseWriter, r *http.Request) {
	campaign, ok := h.ownedCampaign(w, r)
	if !ok {
		return
	}

	var req UpdateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Name != nil {
		campaign.Name = *req.Name
	}
	if req.Description != nil {
		campaign.Description = *req.Description
	}
	if req.PostingTimes != nil {
		campaign.PostingTimes = *req.PostingTimes
	}
	if req.EndDate != nil {
		campaign.EndDate = *req.EndDate
	}
	if req.TotalArticles != nil {
		campaign.TotalArticles = req.TotalArticles
	}
	if req.IntegrationID != nil {
		campaign.IntegrationID = req.IntegrationID
	}

	if err := h.campaigns.Update(campaign); err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to update campaign", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaign)
}

func (h *CampaignHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.CampaignPaused, models.CampaignActive)
}

func (h *CampaignHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.CampaignActive, models.CampaignPaused)
}

// Cancel is terminal; the row stays for history but the scheduler never
// picks it up again.
func (h *CampaignHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.CampaignCancelled, models.CampaignActive, models.CampaignPaused)
}

func (h *CampaignHandler) setStatus(w http.ResponseWriter, r *http.Request, to string, from ...string) {
	campaign, ok := h.ownedCampaign(w, r)
	if !ok {
		return
	}

	allowed := false
	for _, f := range from {
		if campaign.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		apierrors.WriteError(w, http.StatusConflict, apierrors.ErrCodeConflict,
			"Campaign cannot move from "+campaign.Status+" to "+to, nil)
		return
	}

	if err := h.campaigns.UpdateStatus(campaign.ID, to); err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to update campaign", nil)
		return
	}
	campaign.Status = to

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaign)
}

func (h *CampaignHandler) ownedCampaign(w http.ResponseWriter, r *http.Request) (*models.Campaign, bool) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	campaign, err := h.campaigns.GetByID(params.ByName("campaign_id"))
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return nil, false
	}
	if campaign == nil || campaign.AccountID != claims.AccountID {
		apierrors.WriteError(w, http.StatusNotFound, apierrors.ErrCodeNotFound, "Campaign not found", nil)
		return nil, false
	}
	return campaign, true
}

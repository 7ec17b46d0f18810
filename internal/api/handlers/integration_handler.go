package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	apiContext "inkwell/internal/api/context"
	"inkwell/internal/engine/delivery"
	apierrors "inkwell/internal/pkg/errors"
	"inkwell/internal/platform/auth"
	"inkwell/internal/platform/models"
	"inkwell/internal/platform/repositories"
)

type IntegrationHandler struct {
	integrations *repositories.IntegrationRepository
	poster       *delivery.Poster
}

func NewIntegrationHandler(integrations *repositories.IntegrationRepository, poster *delivery.Poster) *IntegrationHandler {
	return &IntegrationHandler{integrations: integrations, poster: poster}
}

type CreateIntegrationRequest struct {
	Name         string `json:"name"`
	URL          string `json:"webhook_url"`
	Secret       string `json:"secret"`
	PlatformType string `json:"platform_type"`
}

func (h *IntegrationHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req CreateIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "webhook_url must be an http(s) URL", nil)
		return
	}
	if req.Secret == "" {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Secret is required", nil)
		return
	}

	integration := &models.WebhookIntegration{
		AccountID:    claims.AccountID,
		Name:         req.Name,
		URL:          req.URL,
		Secret:       req.Secret,
		PlatformType: req.PlatformType,
		IsActive:     true,
	}
	if err := h.integrations.Create(integration); err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to create integration", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(integration)
}

func (h *IntegrationHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	integrations, err := h.integrations.ListByAccount(claims.AccountID)
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return
	}
	if integrations == nil {
		integrations = []*models.WebhookIntegration{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(integrations)
}

func (h *IntegrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.ownedIntegration(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(integration)
}

type UpdateIntegrationRequest struct {
	Name     *string `json:"name,omitempty"`
	URL      *string `json:"webhook_url,omitempty"`
	Secret   *string `json:"secret,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

func (h *IntegrationHandler) Update(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.ownedIntegration(w, r)
	if !ok {
		return
	}

	var req UpdateIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Name != nil {
		integration.Name = *req.Name
	}
	if req.URL != nil {
		integration.URL = *req.URL
	}
	if req.Secret != nil && *req.Secret != "" {
		integration.Secret = *req.Secret
	}
	if req.IsActive != nil {
		integration.IsActive = *req.IsActive
	}

	if err := h.integrations.Update(integration); err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to update integration", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(integration)
}

func (h *IntegrationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.ownedIntegration(w, r)
	if !ok {
		return
	}

	if err := h.integrations.Delete(integration.ID); err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to delete integration", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test sends a signed synthetic payload to the receiver and records the
// outcome without touching any job.
func (h *IntegrationHandler) Test(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.ownedIntegration(w, r)
	if !ok {
		return
	}

	status := "success"
	var message string
	if err := h.poster.TestConnection(r.Context(), integration); err != nil {
		status = "failed"
		message = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  status,
		"message": message,
	})
}

func (h *IntegrationHandler) ownedIntegration(w http.ResponseWriter, r *http.Request) (*models.WebhookIntegration, bool) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	integration, err := h.integrations.GetByID(params.ByName("integration_id"))
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return nil, false
	}
	if integration == nil || integration.AccountID != claims.AccountID {
		apierrors.WriteError(w, http.StatusNotFound, apierrors.ErrCodeNotFound, "Integration not found", nil)
		return nil, false
	}
	return integration, true
}

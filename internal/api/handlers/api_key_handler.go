package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	apiContext "inkwell/internal/api/context"
	"inkwell/internal/pkg/errors"
	"inkwell/internal/platform/auth"
	"inkwell/internal/platform/models"
	"inkwell/internal/platform/repositories"
)

type APIKeyHandler struct {
	keys *repositories.APIKeyRepository
}

func NewAPIKeyHandler(keys *repositories.APIKeyRepository) *APIKeyHandler {
	return &APIKeyHandler{keys: keys}
}

func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	rawKey := fmt.Sprintf("ink_live_%s", uuid.New().String())
	apiKey := &models.APIKey{
		AccountID: claims.AccountID,
		Name:      req.Name,
		KeyHash:   repositories.HashKey(rawKey),
		Prefix:    rawKey[:12] + "...",
	}
	if err := h.keys.Create(apiKey); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create API key", nil)
		return
	}

	// The raw key is returned exactly once.
	response := struct {
		ID        string `json:"id"`
		Key       string `json:"key"`
		Name      string `json:"name"`
		CreatedAt int64  `json:"created_at"`
	}{
		ID:        apiKey.ID,
		Key:       rawKey,
		Name:      apiKey.Name,
		CreatedAt: apiKey.CreatedAt,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	keys, err := h.keys.ListByAccount(claims.AccountID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(keys)
}

func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	if err := h.keys.Revoke(params.ByName("key_id"), claims.AccountID); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to revoke API key", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

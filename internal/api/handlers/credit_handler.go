package handlers

import (
	"encoding/json"
	"net/http"

	apiContext "inkwell/internal/api/context"
	"inkwell/internal/engine/ledger"
	apierrors "inkwell/internal/pkg/errors"
	"inkwell/internal/platform/auth"
	"inkwell/internal/platform/models"
)

type CreditHandler struct {
	credits *ledger.Ledger
}

func NewCreditHandler(credits *ledger.Ledger) *CreditHandler {
	return &CreditHandler{credits: credits}
}

func (h *CreditHandler) Balance(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	balance, err := h.credits.Balance(r.Context(), claims.AccountID)
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"balance": balance})
}

func (h *CreditHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	limit := queryInt(r, "limit", 50)
	transactions, err := h.credits.Transactions(r.Context(), claims.AccountID, limit)
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return
	}
	if transactions == nil {
		transactions = []*models.CreditTransaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

type PurchaseRequest struct {
	Amount int `json:"amount"`
}

// Purchase is a mock top-up; there is no payment provider behind it.
func (h *CreditHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Amount <= 0 || req.Amount > 10000 {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Amount must be between 1 and 10000", nil)
		return
	}

	err := h.credits.Credit(r.Context(), claims.AccountID, req.Amount, ledger.TypePurchase, ledger.Ref{
		Type:        "purchase",
		ID:          claims.AccountID,
		Description: "credit purchase",
	})
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to add credits", nil)
		return
	}

	balance, err := h.credits.Balance(r.Context(), claims.AccountID)
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"balance": balance})
}

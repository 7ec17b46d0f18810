package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	apiContext "inkwell/internal/api/context"
	"inkwell/internal/engine/ledger"
	"inkwell/internal/pkg/errors"
	"inkwell/internal/platform/auth"
	"inkwell/internal/platform/models"
	"inkwell/internal/platform/repositories"
)

// SignupGrant is the number of free credits a new account starts with.
const SignupGrant = 10

type AuthHandler struct {
	accounts *repositories.AccountRepository
	credits  *ledger.Ledger
	tokenSvc *auth.TokenService
}

func NewAuthHandler(accounts *repositories.AccountRepository, credits *ledger.Ledger, tokenSvc *auth.TokenService) *AuthHandler {
	return &AuthHandler{accounts: accounts, credits: credits, tokenSvc: tokenSvc}
}

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Account      *models.Account `json:"account"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "A valid email is required", nil)
		return
	}
	if len(req.Password) < 8 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Password must be at least 8 characters", nil)
		return
	}

	existing, err := h.accounts.GetByEmail(req.Email)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if existing != nil {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Account already exists", nil)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to hash password", nil)
		return
	}

	account := &models.Account{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hashed),
		Plan:         "free",
	}
	if err := h.accounts.Create(account); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create account", nil)
		return
	}

	if err := h.credits.Credit(r.Context(), account.ID, SignupGrant, ledger.TypePurchase, ledger.Ref{
		Type:        "signup",
		ID:          account.ID,
		Description: "signup grant",
	}); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to grant credits", nil)
		return
	}
	account.Credits = SignupGrant

	h.respondWithTokens(w, http.StatusCreated, account)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	account, err := h.accounts.GetByEmail(strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if account == nil || bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)) != nil {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid email or password", nil)
		return
	}

	h.respondWithTokens(w, http.StatusOK, account)
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	accountID, err := h.tokenSvc.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid or expired refresh token", nil)
		return
	}
	account, err := h.accounts.GetByID(accountID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if account == nil {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Account no longer exists", nil)
		return
	}

	h.respondWithTokens(w, http.StatusOK, account)
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	account, err := h.accounts.GetByID(claims.AccountID)
	if err != nil || account == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Account not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

func (h *AuthHandler) respondWithTokens(w http.ResponseWriter, status int, account *models.Account) {
	access, err := h.tokenSvc.GenerateAccessToken(account.ID, account.Email, account.Plan)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to issue token", nil)
		return
	}
	refresh, err := h.tokenSvc.GenerateRefreshToken(account.ID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to issue token", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(AuthResponse{
		Account:      account,
		AccessToken:  access,
		RefreshToken: refresh,
	})
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	apiContext "inkwell/internal/api/context"
	"inkwell/internal/pkg/errors"
	"inkwell/internal/platform/auth"
	"inkwell/internal/platform/repositories"
)

// AuthMiddleware accepts either a Bearer JWT or an X-API-Key header and
// resolves both to the same claims shape for downstream handlers.
type AuthMiddleware struct {
	tokenSvc *auth.TokenService
	keys     *repositories.APIKeyRepository
	accounts *repositories.AccountRepository
}

func NewAuthMiddleware(tokenSvc *auth.TokenService, keys *repositories.APIKeyRepository, accounts *repositories.AccountRepository) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc, keys: keys, accounts: accounts}
}

func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("X-API-Key"); key != "" {
			m.handleAPIKey(w, r, next, key)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing authorization header", nil)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid authorization header format", nil)
			return
		}

		claims, err := m.tokenSvc.ValidateToken(parts[1])
		if err != nil {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid or expired token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
		next(w, r.WithContext(ctx))
	}
}

func (m *AuthMiddleware) handleAPIKey(w http.ResponseWriter, r *http.Request, next http.HandlerFunc, key string) {
	apiKey, err := m.keys.GetByRawKey(key)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if apiKey == nil {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid API key", nil)
		return
	}

	account, err := m.accounts.GetByID(apiKey.AccountID)
	if err != nil || account == nil {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid API key", nil)
		return
	}
	if err := m.keys.TouchLastUsed(apiKey.ID); err != nil {
		// Non-fatal, the request still proceeds.
		_ = err
	}

	claims := &auth.Claims{AccountID: account.ID, Email: account.Email, Plan: account.Plan}
	ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
	next(w, r.WithContext(ctx))
}

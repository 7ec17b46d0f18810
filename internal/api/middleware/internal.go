package middleware

import (
	"crypto/subtle"
	"net/http"

	"inkwell/internal/pkg/errors"
)

// InternalMiddleware guards worker-to-API endpoints with a shared
// secret header.
type InternalMiddleware struct {
	secret string
}

func NewInternalMiddleware(secret string) *InternalMiddleware {
	return &InternalMiddleware{secret: secret}
}

func (m *InternalMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Internal-Secret")
		if m.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(m.secret)) != 1 {
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Invalid internal secret", nil)
			return
		}
		next(w, r)
	}
}

package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rbailey/tutorialforge/internal/api/response"
	"github.com/rbailey/tutorialforge/internal/auth"
	"github.com/rbailey/tutorialforge/internal/store"
)

// Auth provides bearer-token authentication middleware. The token's subject
// must resolve to an active user; anything else is rejected before the
// request reaches a handler.
type Auth struct {
	tokens *auth.TokenIssuer
	store  store.Store
}

// NewAuth creates a new Auth middleware.
func NewAuth(tokens *auth.TokenIssuer, s store.Store) *Auth {
	return &Auth{tokens: tokens, store: s}
}

// Authenticate validates the Bearer token, loads the user it was issued for,
// and sets the user in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		userID, err := a.tokens.Verify(raw)
		if err != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Could not validate credentials", nil)
			return
		}

		user, err := a.store.GetUserByID(r.Context(), userID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Could not validate credentials", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate credentials", nil)
			return
		}
		if !user.IsActive {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Could not validate credentials", nil)
			return
		}

		tagRequestUser(r, user.ID.String())
		next.ServeHTTP(w, r.WithContext(setUser(r.Context(), user)))
	})
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

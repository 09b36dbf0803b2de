package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rbailey/tutorialforge/pkg/models"
)

type contextKey string

const userKey contextKey = "current_user"

func setUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// GetUser returns the authenticated user placed in the request context by
// the auth middleware.
func GetUser(r *http.Request) (*models.User, bool) {
	user, ok := r.Context().Value(userKey).(*models.User)
	return user, ok
}

// GetUserID is a convenience accessor for the authenticated user's id.
func GetUserID(r *http.Request) (uuid.UUID, bool) {
	user, ok := GetUser(r)
	if !ok {
		return uuid.Nil, false
	}
	return user.ID, true
}

// WithUser is a test helper that injects a user into a request context.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return setUser(ctx, user)
}

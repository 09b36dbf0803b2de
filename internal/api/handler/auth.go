package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/rbailey/tutorialforge/internal/api/middleware"
	"github.com/rbailey/tutorialforge/internal/api/response"
	"github.com/rbailey/tutorialforge/internal/auth"
	"github.com/rbailey/tutorialforge/internal/store"
	"github.com/rbailey/tutorialforge/pkg/models"
)

// UserStore is the interface the auth handlers depend on.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Issue(userID uuid.UUID) (string, error)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// NewRegisterHandler returns an http.HandlerFunc for POST /api/v1/auth/register.
func NewRegisterHandler(users UserStore, tokens TokenIssuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			FullName string `json:"full_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		req.Email = strings.TrimSpace(strings.ToLower(req.Email))
		if req.Email == "" || !strings.Contains(req.Email, "@") {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "A valid email is required", nil)
			return
		}
		if len(req.Password) < 8 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Password must be at least 8 characters", nil)
			return
		}
		if req.FullName == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "full_name is required", nil)
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create account", nil)
			return
		}

		now := time.Now().UTC()
		user := &models.User{
			ID:           uuid.New(),
			Email:        req.Email,
			FullName:     req.FullName,
			PasswordHash: hash,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if err := users.CreateUser(r.Context(), user); err != nil {
			if errors.Is(err, store.ErrDuplicateEmail) {
				response.Error(w, http.StatusConflict, "EMAIL_TAKEN", "Email already registered", nil)
				return
			}
			response.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Failed to create account", nil)
			return
		}

		token, err := tokens.Issue(user.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token", nil)
			return
		}

		response.Created(w, tokenResponse{AccessToken: token, TokenType: "bearer"})
	}
}

// NewLoginHandler returns an http.HandlerFunc for POST /api/v1/auth/login.
// A missing account and a wrong password produce the same response.
func NewLoginHandler(users UserStore, tokens TokenIssuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		user, err := users.GetUserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Incorrect email or password", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Failed to look up account", nil)
			return
		}

		if !user.IsActive || !auth.CheckPassword(req.Password, user.PasswordHash) {
			response.Error(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Incorrect email or password", nil)
			return
		}

		token, err := tokens.Issue(user.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token", nil)
			return
		}

		response.JSON(w, tokenResponse{AccessToken: token, TokenType: "bearer"})
	}
}

// NewMeHandler returns an http.HandlerFunc for GET /api/v1/auth/me.
func NewMeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		response.JSON(w, user)
	}
}

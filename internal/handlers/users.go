package handlers

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/r11922135/chat/internal/api/middleware"
	"github.com/r11922135/chat/internal/models"
	"github.com/r11922135/chat/internal/store"
)

const searchLimit = 20

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register creates a new account and returns a signed token.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 3 || len(req.Username) > 32 {
		h.Error(w, http.StatusBadRequest, "username must be 3-32 characters")
		return
	}
	if len(req.Password) < 8 {
		h.Error(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to hash password")
		h.Error(w, http.StatusInternalServerError, "server error")
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Username, string(hash))
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			h.Error(w, http.StatusConflict, "username already taken")
			return
		}
		h.logger.Error().Err(err).Msg("failed to create user")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Username)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to issue token")
		h.Error(w, http.StatusInternalServerError, "server error")
		return
	}

	h.JSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

// Login verifies credentials and returns a signed token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to look up user")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Username)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to issue token")
		h.Error(w, http.StatusInternalServerError, "server error")
		return
	}

	h.JSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

// SearchUsers finds users by username prefix, excluding the caller.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		h.Error(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	users, err := h.store.SearchUsers(r.Context(), query, searchLimit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to search users")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	results := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID == claims.UserID {
			continue
		}
		results = append(results, u)
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"users": results})
}

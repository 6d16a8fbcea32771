package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/r11922135/chat/internal/cache"
	"github.com/r11922135/chat/internal/chat"
	"github.com/r11922135/chat/internal/hub"
	"github.com/r11922135/chat/internal/store"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store   store.DataStore
	cache   *cache.MessageCache
	history *chat.History
	hub     *hub.Hub
	limiter *cache.RateLimiter
	backend *cache.Backend
	tokens  TokenIssuer
	logger  zerolog.Logger
}

// TokenIssuer is the slice of the token manager the handlers depend on.
type TokenIssuer interface {
	Issue(userID int64, username string) (string, error)
}

// New creates a new handler with dependencies.
func New(
	dataStore store.DataStore,
	messageCache *cache.MessageCache,
	history *chat.History,
	h *hub.Hub,
	limiter *cache.RateLimiter,
	backend *cache.Backend,
	tokens TokenIssuer,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		store:   dataStore,
		cache:   messageCache,
		history: history,
		hub:     h,
		limiter: limiter,
		backend: backend,
		tokens:  tokens,
		logger:  logger.With().Str("component", "handlers").Logger(),
	}
}

// JSON writes a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Error().Err(err).Msg("failed to encode response")
		}
	}
}

// Error writes a JSON error response.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON request body into dst.
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

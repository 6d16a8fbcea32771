package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/r11922135/chat/internal/auth"
	"github.com/r11922135/chat/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthMiddleware verifies bearer tokens and room membership for the HTTP
// surface.
type AuthMiddleware struct {
	tokens *auth.Manager
	store  store.DataStore
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(tokens *auth.Manager, dataStore store.DataStore) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, store: dataStore}
}

// RequireAuth verifies the Authorization bearer token and attaches the
// caller's claims to the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			jsonError(w, http.StatusUnauthorized, "access token required")
			return
		}

		claims, err := m.tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoomMember checks that the authenticated caller belongs to the
// room named in the URL. Membership existence is the sole authorization
// check for access to a room.
func (m *AuthMiddleware) RequireRoomMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetUserFromContext(r.Context())
		if claims == nil {
			jsonError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		roomID, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid room ID")
			return
		}

		member, err := m.store.IsMember(r.Context(), roomID, claims.UserID)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "database error")
			return
		}
		if !member {
			jsonError(w, http.StatusForbidden, "access denied: not a member of this room")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetUserFromContext retrieves the authenticated caller from the request
// context.
func GetUserFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(UserContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

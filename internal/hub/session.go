package hub

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/r11922135/chat/internal/auth"
	"github.com/r11922135/chat/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced at the API layer
	},
}

// Gateway is the connection session manager: it authenticates each
// websocket handshake, resolves the caller's room memberships and binds
// identity and room set to the connection before the hub sees it.
type Gateway struct {
	hub    *Hub
	store  store.DataStore
	tokens *auth.Manager
	logger zerolog.Logger
}

// NewGateway creates a session manager in front of the hub.
func NewGateway(h *Hub, dataStore store.DataStore, tokens *auth.Manager, logger zerolog.Logger) *Gateway {
	return &Gateway{
		hub:    h,
		store:  dataStore,
		tokens: tokens,
		logger: logger.With().Str("component", "ws-gateway").Logger(),
	}
}

// ServeWS handles the websocket handshake. A connection is rejected before
// upgrade on any auth failure: no partial session is ever created, and an
// unauthenticated connection never appears in any fan-out set.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, `{"error":"missing token"}`, http.StatusUnauthorized)
		return
	}

	claims, err := g.tokens.Verify(token)
	if err != nil {
		http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	user, err := g.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		http.Error(w, `{"error":"server error"}`, http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, `{"error":"user not found"}`, http.StatusUnauthorized)
		return
	}

	roomIDs, err := g.store.ListUserRoomIDs(ctx, user.ID)
	if err != nil {
		http.Error(w, `{"error":"server error"}`, http.StatusInternalServerError)
		return
	}
	if roomIDs == nil {
		roomIDs = []int64{}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		id:           uuid.New(),
		userID:       user.ID,
		username:     user.Username,
		hub:          g.hub,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		initialRooms: roomIDs,
		logger: g.logger.With().
			Int64("user_id", user.ID).
			Str("username", user.Username).
			Logger(),
	}

	g.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

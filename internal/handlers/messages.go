package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/r11922135/chat/internal/api/middleware"
	"github.com/r11922135/chat/internal/chat"
	"github.com/r11922135/chat/internal/metrics"
	"github.com/r11922135/chat/internal/models"
)

const maxMessageLength = 4096

// ListMessages returns one page of room history, newest first. The optional
// before query parameter pages backwards: only messages with a strictly
// smaller id are returned.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDParam(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	var page *chat.Page
	var err error
	if before := r.URL.Query().Get("before"); before != "" {
		beforeID, parseErr := strconv.ParseInt(before, 10, 64)
		if parseErr != nil || beforeID <= 0 {
			h.Error(w, http.StatusBadRequest, "invalid before parameter")
			return
		}
		page, err = h.history.Before(r.Context(), roomID, beforeID)
	} else {
		page, err = h.history.Latest(r.Context(), roomID)
	}
	if err != nil {
		h.logger.Error().Err(err).Int64("room_id", roomID).Msg("failed to load messages")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, page)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// PostMessage persists a message, writes it through the cache and fans it
// out to the room. Persist before broadcast: a message is never announced
// until it durably exists with its assigned id.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())

	roomID, ok := roomIDParam(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	if !h.limiter.Allow(r.Context(), claims.UserID) {
		h.Error(w, http.StatusTooManyRequests, "too many messages, slow down")
		return
	}

	var req postMessageRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		h.Error(w, http.StatusBadRequest, "message content is required")
		return
	}
	if len(req.Content) > maxMessageLength {
		h.Error(w, http.StatusBadRequest, "message too long")
		return
	}

	ctx := r.Context()
	userID := claims.UserID
	msg := &models.Message{
		RoomID:  roomID,
		UserID:  &userID,
		Content: req.Content,
		Kind:    models.KindUser,
	}

	hydrated, err := h.persistAndBroadcast(ctx, msg)
	if err != nil {
		h.logger.Error().Err(err).Int64("room_id", roomID).Msg("failed to post message")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	metrics.MessagesPosted.WithLabelValues(string(models.KindUser)).Inc()
	h.JSON(w, http.StatusCreated, hydrated)
}

// persistAndBroadcast inserts a message, bumps room activity, caches the
// hydrated record and fans it out. Cache and broadcast failures never fail
// the persist path.
func (h *Handler) persistAndBroadcast(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if err := h.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := h.store.TouchRoomActivity(ctx, msg.RoomID); err != nil {
		h.logger.Warn().Err(err).Int64("room_id", msg.RoomID).Msg("failed to touch room activity")
	}

	hydrated, err := h.store.GetMessage(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	if hydrated == nil {
		return nil, fmt.Errorf("message %d vanished after insert", msg.ID)
	}

	h.cache.WriteThrough(ctx, hydrated)
	h.hub.BroadcastMessage(hydrated.RoomID, hydrated)
	return hydrated, nil
}

// postSystemMessage records a membership event as a message in the room
// timeline and broadcasts it. Failures are logged; the triggering request
// already succeeded.
func (h *Handler) postSystemMessage(ctx context.Context, roomID int64, event string, user *models.User) {
	var content string
	switch event {
	case models.SystemUserJoined:
		content = fmt.Sprintf("%s joined the room", user.Username)
	case models.SystemUserLeft:
		content = fmt.Sprintf("%s left the room", user.Username)
	default:
		content = event
	}

	data, err := json.Marshal(map[string]interface{}{
		"event":    event,
		"userId":   user.ID,
		"username": user.Username,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal system data")
		return
	}

	msg := &models.Message{
		RoomID:     roomID,
		Content:    content,
		Kind:       models.KindSystem,
		SystemData: data,
	}
	if _, err := h.persistAndBroadcast(ctx, msg); err != nil {
		h.logger.Error().Err(err).Int64("room_id", roomID).Str("event", event).Msg("failed to post system message")
		return
	}

	metrics.MessagesPosted.WithLabelValues(string(models.KindSystem)).Inc()
}

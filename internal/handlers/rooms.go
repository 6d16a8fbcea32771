package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/r11922135/chat/internal/api/middleware"
	"github.com/r11922135/chat/internal/models"
)

func roomIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
	return id, err == nil
}

// ListRooms returns the caller's rooms with unread counts, members and the
// last message, ordered by recent activity.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())

	rooms, err := h.store.ListUserRooms(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list rooms")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if rooms == nil {
		rooms = []models.RoomSummary{}
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

type createRoomRequest struct {
	Name      string  `json:"name"`
	MemberIDs []int64 `json:"memberIds"`
}

// CreateRoom creates a group room with the caller and the named members,
// and admits every online member's connection to it immediately.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())

	var req createRoomRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "room name is required")
		return
	}

	ctx := r.Context()
	room, err := h.store.CreateRoom(ctx, &req.Name, true)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create room")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	memberIDs := append([]int64{claims.UserID}, req.MemberIDs...)
	if _, err := h.store.AddMembers(ctx, room.ID, memberIDs); err != nil {
		h.logger.Error().Err(err).Int64("room_id", room.ID).Msg("failed to add members")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	summary, err := h.store.RoomSummary(ctx, room.ID, claims.UserID)
	if err != nil {
		h.logger.Error().Err(err).Int64("room_id", room.ID).Msg("failed to load room summary")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.hub.Admit(room.ID, memberIDs, summary)
	h.JSON(w, http.StatusCreated, summary)
}

type directRoomRequest struct {
	UserID int64 `json:"userId"`
}

// CreateDirectRoom finds or creates the one-to-one room between the caller
// and another user.
func (h *Handler) CreateDirectRoom(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())

	var req directRoomRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == claims.UserID {
		h.Error(w, http.StatusBadRequest, "cannot create a direct room with yourself")
		return
	}

	ctx := r.Context()
	other, err := h.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to look up user")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if other == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	if existing, err := h.store.FindDirectRoom(ctx, claims.UserID, other.ID); err != nil {
		h.logger.Error().Err(err).Msg("failed to find direct room")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	} else if existing != nil {
		summary, err := h.store.RoomSummary(ctx, existing.ID, claims.UserID)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
		h.JSON(w, http.StatusOK, summary)
		return
	}

	room, err := h.store.CreateRoom(ctx, nil, false)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create direct room")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	memberIDs := []int64{claims.UserID, other.ID}
	if _, err := h.store.AddMembers(ctx, room.ID, memberIDs); err != nil {
		h.logger.Error().Err(err).Int64("room_id", room.ID).Msg("failed to add members")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	summary, err := h.store.RoomSummary(ctx, room.ID, claims.UserID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.hub.Admit(room.ID, memberIDs, summary)
	h.JSON(w, http.StatusCreated, summary)
}

type inviteRequest struct {
	UserIDs []int64 `json:"userIds"`
}

// InviteUsers adds users to a room. Already-present members are skipped,
// each newly added member produces a system message, and their online
// connections are admitted to the room's fan-out set.
func (h *Handler) InviteUsers(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())

	roomID, ok := roomIDParam(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	var req inviteRequest
	if err := h.decode(r, &req); err != nil || len(req.UserIDs) == 0 {
		h.Error(w, http.StatusBadRequest, "userIds is required")
		return
	}

	ctx := r.Context()
	added, err := h.store.AddMembers(ctx, roomID, req.UserIDs)
	if err != nil {
		h.logger.Error().Err(err).Int64("room_id", roomID).Msg("failed to add members")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	for _, userID := range added {
		user, err := h.store.GetUserByID(ctx, userID)
		if err != nil || user == nil {
			continue
		}
		h.postSystemMessage(ctx, roomID, models.SystemUserJoined, user)
	}

	if len(added) > 0 {
		summary, err := h.store.RoomSummary(ctx, roomID, claims.UserID)
		if err == nil {
			h.hub.Admit(roomID, added, summary)
		}
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"added": added})
}

// LeaveRoom removes the caller from a room and announces the departure.
func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())

	roomID, ok := roomIDParam(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	ctx := r.Context()
	if err := h.store.RemoveMember(ctx, roomID, claims.UserID); err != nil {
		h.logger.Error().Err(err).Int64("room_id", roomID).Msg("failed to remove member")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	user, err := h.store.GetUserByID(ctx, claims.UserID)
	if err == nil && user != nil {
		h.postSystemMessage(ctx, roomID, models.SystemUserLeft, user)
	}

	h.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// MarkRead updates the caller's read cursor for a room.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())

	roomID, ok := roomIDParam(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	if err := h.store.MarkRead(r.Context(), roomID, claims.UserID); err != nil {
		h.logger.Error().Err(err).Int64("room_id", roomID).Msg("failed to mark read")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openrooms/orc-server/internal/v1/apierr"
	"github.com/openrooms/orc-server/internal/v1/entity"
	"github.com/openrooms/orc-server/internal/v1/types"
)

type createRoomRequest struct {
	Name       string               `json:"name"`
	Visibility types.VisibilityType `json:"visibility"`
	Topic      string               `json:"topic"`
}

// CreateRoom handles POST /rooms.
func (h *Handlers) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Visibility == "" {
		req.Visibility = types.VisibilityPublic
	}
	if req.Visibility != types.VisibilityPublic && req.Visibility != types.VisibilityPrivate {
		writeError(c, apierr.BadRequest("visibility must be public or private"))
		return
	}

	room, err := h.core.CreateRoom(c.Request.Context(), caller(c).UserID, req.Name, req.Visibility, req.Topic)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

// ListRooms handles GET /rooms?mine=true.
func (h *Handlers) ListRooms(c *gin.Context) {
	if c.Query("mine") != "true" {
		writeError(c, apierr.BadRequest("only mine=true listing is supported"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": h.core.MyRooms(caller(c).UserID)})
}

// GetRoom handles GET /rooms/{key}.
func (h *Handlers) GetRoom(c *gin.Context) {
	room, err := h.core.GetRoom(c.Param("key"), caller(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

type updateRoomRequest struct {
	Name       *string               `json:"name"`
	Topic      *string               `json:"topic"`
	Visibility *types.VisibilityType `json:"visibility"`
}

// UpdateRoom handles PATCH /rooms/{key}.
func (h *Handlers) UpdateRoom(c *gin.Context) {
	var req updateRoomRequest
	if !bindJSON(c, &req) {
		return
	}

	room, err := h.core.UpdateRoom(c.Request.Context(), caller(c).UserID, c.Param("key"), entity.RoomPatch{
		Name:       req.Name,
		Topic:      req.Topic,
		Visibility: req.Visibility,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// JoinRoom handles POST /rooms/{key}/join.
func (h *Handlers) JoinRoom(c *gin.Context) {
	if err := h.core.JoinRoom(c.Request.Context(), caller(c).UserID, c.Param("key")); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

// LeaveRoom handles POST /rooms/{key}/leave.
func (h *Handlers) LeaveRoom(c *gin.Context) {
	if err := h.core.LeaveRoom(c.Request.Context(), caller(c).UserID, c.Param("key")); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

type targetUserRequest struct {
	UserID types.UserIDType `json:"user_id"`
}

// Invite handles POST /rooms/{key}/invite.
func (h *Handlers) Invite(c *gin.Context) {
	var req targetUserRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.core.Invite(c.Request.Context(), caller(c).UserID, c.Param("key"), req.UserID); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

// Kick handles POST /rooms/{key}/kick.
func (h *Handlers) Kick(c *gin.Context) {
	var req targetUserRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.core.Kick(c.Request.Context(), caller(c).UserID, c.Param("key"), req.UserID); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

// Ban handles POST /rooms/{key}/bans.
func (h *Handlers) Ban(c *gin.Context) {
	var req targetUserRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.core.SetBan(c.Request.Context(), caller(c).UserID, c.Param("key"), req.UserID, true); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

// Unban handles DELETE /rooms/{key}/bans/{user_id}.
func (h *Handlers) Unban(c *gin.Context) {
	target := types.UserIDType(c.Param("user_id"))
	if err := h.core.SetBan(c.Request.Context(), caller(c).UserID, c.Param("key"), target, false); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

// Mute handles POST /rooms/{key}/mutes.
func (h *Handlers) Mute(c *gin.Context) {
	var req targetUserRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.core.SetMute(c.Request.Context(), caller(c).UserID, c.Param("key"), req.UserID, true); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

// Unmute handles DELETE /rooms/{key}/mutes/{user_id}.
func (h *Handlers) Unmute(c *gin.Context) {
	target := types.UserIDType(c.Param("user_id"))
	if err := h.core.SetMute(c.Request.Context(), caller(c).UserID, c.Param("key"), target, false); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

type setRoleRequest struct {
	UserID types.UserIDType `json:"user_id"`
	Role   types.RoleType   `json:"role"`
}

// SetRole handles POST /rooms/{key}/roles.
func (h *Handlers) SetRole(c *gin.Context) {
	var req setRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.core.SetRole(c.Request.Context(), caller(c).UserID, c.Param("key"), req.UserID, req.Role); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

type pinRequest struct {
	MessageID types.MessageIDType `json:"message_id"`
}

// Pin handles POST /rooms/{key}/pins.
func (h *Handlers) Pin(c *gin.Context) {
	var req pinRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.core.Pin(c.Request.Context(), caller(c).UserID, c.Param("key"), req.MessageID); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

// Unpin handles DELETE /rooms/{key}/pins/{message_id}.
func (h *Handlers) Unpin(c *gin.Context) {
	messageID := types.MessageIDType(c.Param("message_id"))
	if err := h.core.Unpin(c.Request.Context(), caller(c).UserID, c.Param("key"), messageID); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

type typingRequest struct {
	State string `json:"state"`
}

func (r typingRequest) start() (bool, error) {
	switch r.State {
	case "start":
		return true, nil
	case "stop":
		return false, nil
	default:
		return false, apierr.BadRequest("state must be start or stop")
	}
}

// RoomTyping handles POST /rooms/{key}/typing.
func (h *Handlers) RoomTyping(c *gin.Context) {
	var req typingRequest
	if !bindJSON(c, &req) {
		return
	}
	start, err := req.start()
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.core.TypingRoom(c.Request.Context(), caller(c).UserID, c.Param("key"), start); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

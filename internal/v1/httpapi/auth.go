package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openrooms/orc-server/internal/v1/entity"
)

// Capabilities handles GET /meta/capabilities.
func (h *Handlers) Capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, h.core.Capabilities())
}

type guestLoginRequest struct {
	DisplayName string `json:"display_name"`
	// Username is an accepted alias kept for older clients.
	Username string `json:"username"`
}

// GuestLogin handles POST /auth/guest.
func (h *Handlers) GuestLogin(c *gin.Context) {
	var req guestLoginRequest
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &req) {
			return
		}
	}

	name := req.DisplayName
	if name == "" {
		name = req.Username
	}

	token, user, err := h.core.GuestLogin(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "user": user})
}

// Logout handles POST /auth/logout, revoking the presented token.
func (h *Handlers) Logout(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
		h.core.Revoke(token)
	}
	noContent(c)
}

// MintTicket handles POST /rtm/ticket.
func (h *Handlers) MintTicket(c *gin.Context) {
	ticket, ttlMs := h.core.MintTicket(caller(c).UserID)
	c.JSON(http.StatusOK, gin.H{"ticket": ticket, "expires_in_ms": ttlMs})
}

// Me handles GET /users/me.
func (h *Handlers) Me(c *gin.Context) {
	user, err := h.core.Me(caller(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

type updateMeRequest struct {
	DisplayName *string `json:"display_name"`
	PhotoCID    *string `json:"photo_cid"`
	Bio         *string `json:"bio"`
	StatusText  *string `json:"status_text"`
	StatusEmoji *string `json:"status_emoji"`
}

// UpdateMe handles PATCH /users/me.
func (h *Handlers) UpdateMe(c *gin.Context) {
	var req updateMeRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.core.UpdateMe(caller(c).UserID, entity.ProfilePatch{
		DisplayName: req.DisplayName,
		PhotoCID:    req.PhotoCID,
		Bio:         req.Bio,
		StatusText:  req.StatusText,
		StatusEmoji: req.StatusEmoji,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// SearchUsers handles GET /directory/users.
func (h *Handlers) SearchUsers(c *gin.Context) {
	users := h.core.SearchUsers(c.Query("q"), queryLimit(c))
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// SearchRooms handles GET /directory/rooms.
func (h *Handlers) SearchRooms(c *gin.Context) {
	rooms := h.core.SearchRooms(c.Query("q"), queryLimit(c), caller(c).UserID)
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// queryLimit parses ?limit= with a sane default and cap.
func queryLimit(c *gin.Context) int {
	const (
		defaultLimit = 50
		maxLimit     = 200
	)
	raw := c.Query("limit")
	if raw == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

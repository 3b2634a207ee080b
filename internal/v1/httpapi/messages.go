package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openrooms/orc-server/internal/v1/apierr"
	"github.com/openrooms/orc-server/internal/v1/stream"
	"github.com/openrooms/orc-server/internal/v1/types"
)

type postMessageRequest struct {
	Text        string              `json:"text"`
	ContentType string              `json:"content_type"`
	ParentID    types.MessageIDType `json:"parent_id"`
	Attachments []types.Attachment  `json:"attachments"`
}

func (r postMessageRequest) input() stream.PostInput {
	return stream.PostInput{
		Text:        r.Text,
		ContentType: r.ContentType,
		ParentID:    r.ParentID,
		Attachments: r.Attachments,
	}
}

// PostRoomMessage handles POST /rooms/{key}/messages.
func (h *Handlers) PostRoomMessage(c *gin.Context) {
	var req postMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	msg, err := h.core.PostRoomMessage(c.Request.Context(), caller(c).UserID, c.Param("key"), req.input())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// RoomMessages handles GET /rooms/{key}/messages?from_seq=&limit=.
func (h *Handlers) RoomMessages(c *gin.Context) {
	fromSeq, ok := querySeq(c, "from_seq", 1)
	if !ok {
		return
	}
	msgs, nextSeq, err := h.core.ReadRoomMessages(c.Request.Context(), caller(c).UserID, c.Param("key"), fromSeq, queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "next_seq": nextSeq})
}

// RoomBackfill handles GET /rooms/{key}/messages/backfill?before_seq=&limit=.
func (h *Handlers) RoomBackfill(c *gin.Context) {
	beforeSeq, ok := querySeq(c, "before_seq", 0)
	if !ok {
		return
	}
	msgs, prevSeq, err := h.core.BackfillRoomMessages(c.Request.Context(), caller(c).UserID, c.Param("key"), beforeSeq, queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "prev_seq": prevSeq})
}

type ackRequest struct {
	Seq uint64 `json:"seq"`
}

// RoomAck handles POST /rooms/{key}/ack.
func (h *Handlers) RoomAck(c *gin.Context) {
	var req ackRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.core.AckRoom(c.Request.Context(), caller(c).UserID, c.Param("key"), req.Seq); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

// RoomCursor handles GET /rooms/{key}/cursor.
func (h *Handlers) RoomCursor(c *gin.Context) {
	seq, err := h.core.RoomCursor(caller(c).UserID, c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seq": seq})
}

type editMessageRequest struct {
	Text        *string            `json:"text"`
	Attachments []types.Attachment `json:"attachments"`
}

// EditMessage handles PATCH /messages/{id}.
func (h *Handlers) EditMessage(c *gin.Context) {
	var req editMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	msg, err := h.core.EditMessage(c.Request.Context(), caller(c).UserID, types.MessageIDType(c.Param("id")), req.Text, req.Attachments)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

type deleteMessageRequest struct {
	Reason string `json:"reason"`
}

// DeleteMessage handles DELETE /messages/{id}.
func (h *Handlers) DeleteMessage(c *gin.Context) {
	var req deleteMessageRequest
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &req) {
			return
		}
	}

	msg, err := h.core.DeleteMessage(c.Request.Context(), caller(c).UserID, types.MessageIDType(c.Param("id")), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

// AddReaction handles POST /messages/{id}/reactions.
func (h *Handlers) AddReaction(c *gin.Context) {
	h.react(c, true)
}

// RemoveReaction handles DELETE /messages/{id}/reactions. The emoji comes
// from the body or, for clients that cannot send DELETE bodies, ?emoji=.
func (h *Handlers) RemoveReaction(c *gin.Context) {
	h.react(c, false)
}

func (h *Handlers) react(c *gin.Context, add bool) {
	var req reactionRequest
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &req) {
			return
		}
	}
	if req.Emoji == "" {
		req.Emoji = c.Query("emoji")
	}
	if req.Emoji == "" {
		writeError(c, apierr.BadRequest("emoji is required"))
		return
	}

	counts, err := h.core.React(c.Request.Context(), caller(c).UserID, types.MessageIDType(c.Param("id")), req.Emoji, add)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message_id": c.Param("id"),
		"emoji":      req.Emoji,
		"reactions":  counts,
	})
}

// querySeq parses an unsigned sequence query parameter.
func querySeq(c *gin.Context, name string, def uint64) (uint64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(c, apierr.BadRequest("%s must be a non-negative integer", name))
		return 0, false
	}
	return n, true
}

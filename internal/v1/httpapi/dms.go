package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openrooms/orc-server/internal/v1/types"
)

func dmPeer(c *gin.Context) types.UserIDType {
	return types.UserIDType(c.Param("user_id"))
}

// PostDM handles POST /dms/{user_id}/messages.
func (h *Handlers) PostDM(c *gin.Context) {
	var req postMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	msg, err := h.core.PostDM(c.Request.Context(), caller(c).UserID, dmPeer(c), req.input())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// DMMessages handles GET /dms/{user_id}/messages?from_seq=&limit=.
func (h *Handlers) DMMessages(c *gin.Context) {
	fromSeq, ok := querySeq(c, "from_seq", 1)
	if !ok {
		return
	}
	msgs, nextSeq, err := h.core.ReadDMs(c.Request.Context(), caller(c).UserID, dmPeer(c), fromSeq, queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "next_seq": nextSeq})
}

// DMBackfill handles GET /dms/{user_id}/messages/backfill?before_seq=&limit=.
func (h *Handlers) DMBackfill(c *gin.Context) {
	beforeSeq, ok := querySeq(c, "before_seq", 0)
	if !ok {
		return
	}
	msgs, prevSeq, err := h.core.BackfillDMs(c.Request.Context(), caller(c).UserID, dmPeer(c), beforeSeq, queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "prev_seq": prevSeq})
}

// DMAck handles POST /dms/{user_id}/ack.
func (h *Handlers) DMAck(c *gin.Context) {
	var req ackRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.core.AckDM(c.Request.Context(), caller(c).UserID, dmPeer(c), req.Seq); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

// DMCursor handles GET /dms/{user_id}/cursor.
func (h *Handlers) DMCursor(c *gin.Context) {
	seq, err := h.core.DMCursor(caller(c).UserID, dmPeer(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seq": seq})
}

// DMTyping handles POST /dms/{user_id}/typing.
func (h *Handlers) DMTyping(c *gin.Context) {
	var req typingRequest
	if !bindJSON(c, &req) {
		return
	}
	start, err := req.start()
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.core.TypingDM(c.Request.Context(), caller(c).UserID, dmPeer(c), start); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

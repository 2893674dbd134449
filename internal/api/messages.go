package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beacon-im/beacon/internal/auth"
	"github.com/beacon-im/beacon/internal/store"
)

func (h *handlers) listMessages(c *gin.Context) {
	identity, _ := auth.CurrentIdentity(c)
	conversationID := c.Param("conversationId")

	if !h.requireMembership(c, conversationID, identity.UserID) {
		return
	}

	msgs, err := h.store.ListMessages(c.Request.Context(), conversationID)
	if err != nil {
		h.abortError(c, err)
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

// createMessage appends a message and fans out the two event kinds: the
// message itself on the conversation channel and a conversation touch on
// every member's personal channel. The store write commits before anything
// is published.
func (h *handlers) createMessage(c *gin.Context) {
	identity, _ := auth.CurrentIdentity(c)
	ctx := c.Request.Context()

	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}

	if !h.requireMembership(c, req.ConversationID, identity.UserID) {
		return
	}

	msg, err := h.store.InsertMessage(ctx, req.ConversationID, identity.UserID, req.Message, req.Image)
	if err != nil {
		h.abortError(c, err)
		return
	}

	conv, err := h.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		// The write stands; only the fan-out membership load failed.
		h.log.Error("load conversation for fan-out", "conversation", req.ConversationID, "error", err)
		c.JSON(http.StatusOK, msg)
		return
	}
	h.enc.MessageCreated(ctx, msg, conv)

	c.JSON(http.StatusOK, msg)
}

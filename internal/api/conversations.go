package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beacon-im/beacon/internal/auth"
	"github.com/beacon-im/beacon/internal/store"
)

func (h *handlers) listConversations(c *gin.Context) {
	identity, _ := auth.CurrentIdentity(c)

	convs, err := h.store.ListConversationsForUser(c.Request.Context(), identity.UserID)
	if err != nil {
		h.abortError(c, err)
		return
	}
	if convs == nil {
		convs = []*store.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
}

// createConversation starts a group or a 1:1 conversation. The 1:1 path is a
// symmetric find-or-create over the unordered user pair: when an existing
// conversation is found it is returned as-is and no events are published.
func (h *handlers) createConversation(c *gin.Context) {
	identity, _ := auth.CurrentIdentity(c)
	ctx := c.Request.Context()

	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}

	if req.IsGroup {
		conv, err := h.store.CreateGroupConversation(ctx, req.Name, identity.UserID, req.Members)
		if err != nil {
			h.abortError(c, err)
			return
		}
		h.enc.ConversationCreated(ctx, conv)
		c.JSON(http.StatusCreated, conv)
		return
	}

	// The other participant must exist before any conversation is created.
	if _, err := h.store.GetUserByID(ctx, req.UserID); err != nil {
		h.abortError(c, err)
		return
	}

	conv, created, err := h.store.FindOrCreateDirectConversation(ctx, identity.UserID, req.UserID)
	if err != nil {
		h.abortError(c, err)
		return
	}
	if !created {
		c.JSON(http.StatusOK, conv)
		return
	}

	h.enc.ConversationCreated(ctx, conv)
	c.JSON(http.StatusCreated, conv)
}

func (h *handlers) getConversation(c *gin.Context) {
	identity, _ := auth.CurrentIdentity(c)
	ctx := c.Request.Context()
	conversationID := c.Param("conversationId")

	if !h.requireMembership(c, conversationID, identity.UserID) {
		return
	}

	conv, err := h.store.GetConversationWithMessages(ctx, conversationID)
	if err != nil {
		h.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// deleteConversation hard-deletes the conversation (messages cascade) and
// notifies every member who had access. A publish failure does not undo the
// committed delete; it is logged by the encoder.
func (h *handlers) deleteConversation(c *gin.Context) {
	identity, _ := auth.CurrentIdentity(c)
	ctx := c.Request.Context()
	conversationID := c.Param("conversationId")

	conv, err := h.store.DeleteConversationForMember(ctx, conversationID, identity.UserID)
	if err != nil {
		h.abortError(c, err)
		return
	}

	h.enc.ConversationDeleted(ctx, conv)
	c.JSON(http.StatusOK, conv)
}

// markSeen acknowledges the conversation's latest message for the caller.
// A redundant ack is a no-op that still returns the current conversation
// state and publishes nothing.
func (h *handlers) markSeen(c *gin.Context) {
	identity, _ := auth.CurrentIdentity(c)
	ctx := c.Request.Context()
	conversationID := c.Param("conversationId")

	if !h.requireMembership(c, conversationID, identity.UserID) {
		return
	}

	conv, err := h.store.GetConversationWithMessages(ctx, conversationID)
	if err != nil {
		h.abortError(c, err)
		return
	}
	if len(conv.Messages) == 0 {
		c.JSON(http.StatusOK, conv)
		return
	}

	last := conv.Messages[len(conv.Messages)-1]
	added, err := h.store.MarkSeen(ctx, last.ID, identity.UserID)
	if err != nil {
		h.abortError(c, err)
		return
	}
	if !added {
		c.JSON(http.StatusOK, conv)
		return
	}

	updated, err := h.store.GetMessage(ctx, last.ID)
	if err != nil {
		h.abortError(c, err)
		return
	}
	h.enc.MessageSeen(ctx, updated, added)

	conv.Messages[len(conv.Messages)-1] = updated
	c.JSON(http.StatusOK, conv)
}

// requireMembership aborts with 404 when the caller is not a member. A
// non-member learns nothing about the conversation's existence.
func (h *handlers) requireMembership(c *gin.Context, conversationID, userID string) bool {
	member, err := h.store.IsMember(c.Request.Context(), conversationID, userID)
	if err != nil {
		h.abortError(c, err)
		return false
	}
	if !member {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid ID"})
		return false
	}
	return true
}

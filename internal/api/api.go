// Package api exposes the write endpoints the sync protocol encoder is
// invoked from, plus auth and read endpoints. Every handler follows the same
// discipline: authorize, validate, commit the store write, then publish
// events — never the other way around, and never a publish for a failed
// write.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beacon-im/beacon/internal/auth"
	"github.com/beacon-im/beacon/internal/realtime"
	"github.com/beacon-im/beacon/internal/store"
	"github.com/beacon-im/beacon/internal/syncer"
)

// Deps are the collaborators the API wires together.
type Deps struct {
	Store          *store.Store
	Auth           *auth.Service
	Encoder        *syncer.Encoder
	Hub            *realtime.Hub
	Authorizer     realtime.Authorizer
	MaxMessageSize int
	Log            *slog.Logger
}

type handlers struct {
	store *store.Store
	auth  *auth.Service
	enc   *syncer.Encoder
	log   *slog.Logger
}

// NewRouter builds the gin engine with all routes mounted.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	h := &handlers{store: d.Store, auth: d.Auth, enc: d.Encoder, log: d.Log}

	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/api/register", h.register)
	r.POST("/api/login", h.login)

	authed := r.Group("/", d.Auth.Middleware())
	{
		authed.GET("/api/users", h.listUsers)
		authed.POST("/api/settings", h.updateProfile)

		authed.GET("/api/conversations", h.listConversations)
		authed.POST("/api/conversations", h.createConversation)
		authed.GET("/api/conversations/:conversationId", h.getConversation)
		authed.DELETE("/api/conversations/:conversationId", h.deleteConversation)
		authed.GET("/api/conversations/:conversationId/messages", h.listMessages)
		authed.POST("/api/conversations/:conversationId/seen", h.markSeen)

		authed.POST("/api/messages", h.createMessage)

		authed.GET("/ws", realtime.UpgradeHandler(d.Hub, d.Authorizer, d.MaxMessageSize, d.Log))
	}

	return r
}

// abortError converts a store/auth failure into the small fixed set of
// client-visible outcomes. No internal error detail leaks out.
func (h *handlers) abortError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid ID"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Already exists"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	default:
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Error"})
	}
}

package realtime

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"github.com/beacon-im/beacon/internal/auth"
)

// Subprotocol negotiated on every connection.
const Subprotocol = "beacon.v1"

// UpgradeHandler returns a gin handler that upgrades authenticated requests
// to WebSocket connections and runs them against the hub. The auth
// middleware must run first.
func UpgradeHandler(hub *Hub, authz Authorizer, maxMessageSize int, log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(c *gin.Context) {
		identity, ok := auth.CurrentIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			Subprotocols: []string{Subprotocol},
		})
		if err != nil {
			log.Warn("websocket upgrade failed", "error", err)
			return
		}
		if ws.Subprotocol() != Subprotocol {
			ws.Close(websocket.StatusPolicyViolation, "unsupported subprotocol")
			return
		}

		conn := NewConn(identity, ws, hub, authz, maxMessageSize, log)
		log.Debug("websocket connected", "user", identity.UserID, "remote", c.Request.RemoteAddr)

		// Blocks until the connection closes.
		conn.Run(c.Request.Context())
	}
}

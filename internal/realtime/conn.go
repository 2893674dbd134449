package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/beacon-im/beacon/internal/auth"
	"github.com/beacon-im/beacon/internal/event"
)

// errorFrame is sent to a client when a control frame is rejected.
type errorFrame struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Message string `json:"message"`
}

// Conn wraps a WebSocket connection with read/write pumps and the set of
// channels it is subscribed to.
type Conn struct {
	id       string
	identity auth.Identity
	ws       *websocket.Conn
	hub      *Hub
	authz    Authorizer
	send     chan []byte
	once     sync.Once
	cancel   context.CancelFunc
	log      *slog.Logger

	maxMessageSize int64

	// guarded by hub.mu
	subscriptions map[string]struct{}
}

// NewConn creates a new Conn for an authenticated identity.
func NewConn(identity auth.Identity, ws *websocket.Conn, hub *Hub, authz Authorizer, maxMessageSize int, log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	return &Conn{
		id:             uuid.NewString(),
		identity:       identity,
		ws:             ws,
		hub:            hub,
		authz:          authz,
		send:           make(chan []byte, 256),
		maxMessageSize: int64(maxMessageSize),
		log:            log,
		subscriptions:  make(map[string]struct{}),
	}
}

// Run starts the read and write pumps. It blocks until the connection is closed.
func (c *Conn) Run(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.hub.Register(c)
	defer c.hub.Unregister(c)

	c.ws.SetReadLimit(c.maxMessageSize)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.writePump(ctx)
	}()

	go func() {
		defer wg.Done()
		c.readPump(ctx)
	}()

	wg.Wait()
	c.ws.Close(websocket.StatusNormalClosure, "")
}

// readPump reads subscription control frames from the WebSocket.
func (c *Conn) readPump(ctx context.Context) {
	defer c.close()

	for {
		var frame event.ClientFrame
		if err := wsjson.Read(ctx, c.ws, &frame); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.log.Debug("connection closed", "conn", c.id)
			} else {
				c.log.Debug("read error", "conn", c.id, "error", err)
			}
			return
		}
		c.handleFrame(ctx, frame)
	}
}

// writePump writes queued frames to the WebSocket.
func (c *Conn) writePump(ctx context.Context) {
	defer c.close()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				c.log.Debug("write error", "conn", c.id, "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleFrame processes a subscribe or unsubscribe request.
func (c *Conn) handleFrame(ctx context.Context, frame event.ClientFrame) {
	switch frame.Type {
	case event.TypeSubscribe:
		if err := c.authz.Authorize(ctx, c.identity, frame.Channel); err != nil {
			c.log.Warn("subscribe rejected",
				"conn", c.id, "user", c.identity.UserID, "channel", frame.Channel, "error", err)
			c.sendError(frame.Channel, "subscription rejected")
			return
		}
		c.hub.Subscribe(frame.Channel, c)

	case event.TypeUnsubscribe:
		c.hub.Unsubscribe(frame.Channel, c)

	default:
		c.sendError(frame.Channel, "unknown frame type")
	}
}

// Send queues a payload for delivery, reporting whether it was accepted.
// The queue never blocks: a slow consumer misses events instead of stalling
// publishes for everyone else.
func (c *Conn) Send(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		c.log.Warn("send buffer full, dropping event", "conn", c.id)
		return false
	}
}

func (c *Conn) sendError(channel, message string) {
	data, err := json.Marshal(errorFrame{Event: "error", Channel: channel, Message: message})
	if err != nil {
		return
	}
	c.Send(data)
}

// close cancels the connection context, closing both pumps.
func (c *Conn) close() {
	c.once.Do(func() {
		c.cancel()
	})
}

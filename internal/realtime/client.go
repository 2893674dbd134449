package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/beacon-im/beacon/internal/event"
)

// Client is a subscriber side of the hub protocol: it dials the server,
// manages channel subscriptions and exposes the incoming event stream.
// It satisfies syncer.ChannelSource.
type Client struct {
	ws     *websocket.Conn
	frames chan event.Frame
	cancel context.CancelFunc

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

// Dial connects to the server's websocket endpoint with the given identity
// token and starts reading events.
func Dial(ctx context.Context, rawURL, token string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient:   http.DefaultClient,
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ws:     ws,
		frames: make(chan event.Frame, 64),
		cancel: cancel,
	}
	go c.readLoop(readCtx)
	return c, nil
}

// Events returns the stream of incoming frames. The channel is closed when
// the connection ends; Err reports why.
func (c *Client) Events() <-chan event.Frame {
	return c.frames
}

// Subscribe asks the server to add this connection to a channel.
func (c *Client) Subscribe(ctx context.Context, channel string) error {
	return wsjson.Write(ctx, c.ws, event.ClientFrame{Type: event.TypeSubscribe, Channel: channel})
}

// Unsubscribe asks the server to drop this connection from a channel.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	return wsjson.Write(ctx, c.ws, event.ClientFrame{Type: event.TypeUnsubscribe, Channel: channel})
}

// Err returns the error that ended the read loop, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close terminates the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.ws.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.frames)

	for {
		var frame event.Frame
		if err := wsjson.Read(ctx, c.ws, &frame); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
			}
			return
		}

		select {
		case c.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

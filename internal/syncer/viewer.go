package syncer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/beacon-im/beacon/internal/event"
	"github.com/beacon-im/beacon/internal/store"
)

// ChannelSource manages channel subscriptions on the realtime transport.
type ChannelSource interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
}

// Acker acknowledges that the viewer has seen a conversation's latest
// message. Ack failures never desync local state: the seen set lives on the
// server and the correction arrives as a message:update.
type Acker interface {
	MarkSeen(ctx context.Context, conversationID string) error
}

// Viewer drives the open-conversation state machine: at most one
// conversation channel is Subscribed at a time, entered when a conversation
// opens and exited when it closes or the viewed conversation changes.
type Viewer struct {
	source ChannelSource
	acker  Acker
	log    *slog.Logger

	mu      sync.Mutex
	current *Thread
}

// NewViewer creates a Viewer over the given transport and acknowledger.
func NewViewer(source ChannelSource, acker Acker, log *slog.Logger) *Viewer {
	if log == nil {
		log = slog.Default()
	}
	return &Viewer{source: source, acker: acker, log: log}
}

// Open subscribes to the conversation's channel, seeds a Thread with the
// fetched history, and immediately acknowledges the latest message so the
// server can update its seen set. Any previously open conversation is
// closed first.
func (v *Viewer) Open(ctx context.Context, conversationID string, history []*store.Message) (*Thread, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.current != nil {
		v.closeLocked(ctx)
	}

	if err := v.source.Subscribe(ctx, event.ConversationChannel(conversationID)); err != nil {
		return nil, err
	}
	v.current = NewThread(conversationID, history)

	// Fire-and-forget: a failed ack leaves the seen set short, never wrong.
	if err := v.acker.MarkSeen(ctx, conversationID); err != nil {
		v.log.Warn("mark seen failed", "conversation", conversationID, "error", err)
	}
	return v.current, nil
}

// Apply feeds a conversation-channel frame to the open thread. Frames for a
// conversation that is no longer open are dropped.
func (v *Viewer) Apply(f event.Frame) error {
	v.mu.Lock()
	current := v.current
	v.mu.Unlock()

	if current == nil || f.Channel != event.ConversationChannel(current.conversationID) {
		return nil
	}
	return current.Apply(f)
}

// Close unsubscribes from the open conversation's channel, stopping further
// event delivery to the view. In-flight acks are not cancelled.
func (v *Viewer) Close(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeLocked(ctx)
}

func (v *Viewer) closeLocked(ctx context.Context) {
	if v.current == nil {
		return
	}
	ch := event.ConversationChannel(v.current.conversationID)
	if err := v.source.Unsubscribe(ctx, ch); err != nil {
		v.log.Warn("unsubscribe failed", "channel", ch, "error", err)
	}
	v.current = nil
}

// Package syncer implements the conversation/message synchronization
// protocol on top of the event contract: the server-side encoder that turns
// committed writes into channel publishes, and the client-side decoder that
// applies the resulting event stream to local state.
package syncer

import (
	"context"
	"log/slog"

	"github.com/beacon-im/beacon/internal/event"
	"github.com/beacon-im/beacon/internal/store"
)

// Publisher delivers one protocol event to every subscriber of its channel.
// The hub satisfies this.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) (int, error)
}

// Encoder translates completed writes into the realtime events that keep
// participants' clients current. Publishes are best-effort: the write has
// already committed, so a transport failure is logged and never propagated
// back to the caller.
type Encoder struct {
	pub Publisher
	log *slog.Logger
}

// NewEncoder creates an Encoder over the given publisher.
func NewEncoder(pub Publisher, log *slog.Logger) *Encoder {
	if log == nil {
		log = slog.Default()
	}
	return &Encoder{pub: pub, log: log}
}

// MessageCreated announces a newly stored message: messages:new on the
// conversation channel, then conversation:update with the message as the
// singleton latest on every member's personal channel, letting list views
// update without subscribing to every conversation channel.
func (e *Encoder) MessageCreated(ctx context.Context, msg *store.Message, conv *store.Conversation) {
	e.publish(ctx, event.NewMessage(msg))

	for _, user := range conv.Users {
		if user.Email == "" {
			continue
		}
		e.publish(ctx, event.TouchConversation(user.Email, conv.ID, msg))
	}
}

// MessageSeen announces a seen-set change on the conversation's latest
// message. added reports whether the viewer was newly appended to the seen
// set; a redundant seen ping publishes nothing.
func (e *Encoder) MessageSeen(ctx context.Context, msg *store.Message, added bool) {
	if !added {
		return
	}
	e.publish(ctx, event.UpdateMessage(msg))
}

// ConversationCreated announces a new conversation on every member's
// personal channel, carrying the full conversation including its users.
func (e *Encoder) ConversationCreated(ctx context.Context, conv *store.Conversation) {
	for _, user := range conv.Users {
		if user.Email == "" {
			continue
		}
		e.publish(ctx, event.NewConversation(user.Email, conv))
	}
}

// ConversationDeleted announces a removed conversation to every member who
// had access, with the pre-delete snapshot.
func (e *Encoder) ConversationDeleted(ctx context.Context, conv *store.Conversation) {
	for _, user := range conv.Users {
		if user.Email == "" {
			continue
		}
		e.publish(ctx, event.RemoveConversation(user.Email, conv))
	}
}

func (e *Encoder) publish(ctx context.Context, ev event.Event) {
	if _, err := e.pub.Publish(ctx, ev); err != nil {
		e.log.Error("publish failed",
			"channel", ev.Channel, "event", ev.Name, "error", err)
	}
}

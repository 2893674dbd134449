package syncer

import (
	"sync"

	"github.com/samber/lo"

	"github.com/beacon-im/beacon/internal/event"
	"github.com/beacon-im/beacon/internal/store"
)

// The decoder assumes at-least-once delivery: duplicates and cross-channel
// reordering are possible and every handler is independently idempotent.
// Within a single channel, arrival order is taken as publish order; no
// reordering by timestamp is performed.

// Inbox maintains the newest-first conversation list driven by a user's
// personal channel. It stays subscribed for the whole authenticated
// lifetime.
type Inbox struct {
	mu    sync.Mutex
	items []*store.Conversation
}

// NewInbox creates an Inbox seeded with the initial server-fetched list.
func NewInbox(initial []*store.Conversation) *Inbox {
	return &Inbox{items: append([]*store.Conversation(nil), initial...)}
}

// Apply routes one personal-channel frame into the list. Frames for other
// events are ignored.
func (in *Inbox) Apply(f event.Frame) error {
	switch f.Event {
	case event.ConversationNew:
		conv, err := event.DecodeConversation(f)
		if err != nil {
			return err
		}
		in.add(conv)
	case event.ConversationUpdate:
		touch, err := event.DecodeTouch(f)
		if err != nil {
			return err
		}
		in.touch(touch)
	case event.ConversationRemove:
		conv, err := event.DecodeConversation(f)
		if err != nil {
			return err
		}
		in.remove(conv.ID)
	}
	return nil
}

// add prepends a conversation, deduplicating by id: the creator's own HTTP
// response and the fan-out event can both deliver the same conversation.
func (in *Inbox) add(conv *store.Conversation) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if _, ok := lo.Find(in.items, func(c *store.Conversation) bool { return c.ID == conv.ID }); ok {
		return
	}
	in.items = append([]*store.Conversation{conv}, in.items...)
}

// touch replaces only the most-recent-message field of the matching
// conversation. A touch for a conversation not present locally is a no-op;
// there is no fetch-on-miss.
func (in *Inbox) touch(t event.ConversationTouch) {
	in.mu.Lock()
	defer in.mu.Unlock()

	for _, c := range in.items {
		if c.ID == t.ID {
			c.Messages = t.Messages
			return
		}
	}
}

// remove drops the conversation with the given id if present.
func (in *Inbox) remove(id string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.items = lo.Filter(in.items, func(c *store.Conversation, _ int) bool {
		return c.ID != id
	})
}

// Conversations returns a snapshot of the list, newest first.
func (in *Inbox) Conversations() []*store.Conversation {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]*store.Conversation(nil), in.items...)
}

// HasSeenLatest reports whether the viewer is in the seen set of the given
// conversation's most recent message. Conversations without messages count
// as seen.
func HasSeenLatest(conv *store.Conversation, viewerID string) bool {
	if len(conv.Messages) == 0 {
		return true
	}
	last := conv.Messages[len(conv.Messages)-1]
	return lo.Contains(last.SeenIDs, viewerID)
}

// Thread maintains the ordered message sequence of one open conversation,
// driven by its conversation channel.
type Thread struct {
	mu             sync.Mutex
	conversationID string
	msgs           []*store.Message
}

// NewThread creates a Thread seeded with the initial server-fetched history.
func NewThread(conversationID string, initial []*store.Message) *Thread {
	return &Thread{
		conversationID: conversationID,
		msgs:           append([]*store.Message(nil), initial...),
	}
}

// ConversationID returns the conversation this thread tracks.
func (t *Thread) ConversationID() string {
	return t.conversationID
}

// Apply routes one conversation-channel frame into the sequence.
func (t *Thread) Apply(f event.Frame) error {
	switch f.Event {
	case event.MessageNew:
		msg, err := event.DecodeMessage(f)
		if err != nil {
			return err
		}
		t.append(msg)
	case event.MessageUpdate:
		msg, err := event.DecodeMessage(f)
		if err != nil {
			return err
		}
		t.replace(msg)
	}
	return nil
}

// append adds a message to the end of the sequence, deduplicating by id:
// the sender's own optimistic path and the event can both deliver it.
func (t *Thread) append(msg *store.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := lo.Find(t.msgs, func(m *store.Message) bool { return m.ID == msg.ID }); ok {
		return
	}
	t.msgs = append(t.msgs, msg)
}

// replace swaps the message with a matching id in place, preserving order.
// An update for a message not present locally is ignored.
func (t *Thread) replace(msg *store.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, m := range t.msgs {
		if m.ID == msg.ID {
			t.msgs[i] = msg
			return
		}
	}
}

// Messages returns a snapshot of the ordered sequence.
func (t *Thread) Messages() []*store.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*store.Message(nil), t.msgs...)
}

package syncer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beacon-im/beacon/internal/event"
	"github.com/beacon-im/beacon/internal/store"
)

func mustFrame(t *testing.T, ev event.Event) event.Frame {
	t.Helper()
	f, err := ev.Encode()
	require.NoError(t, err)
	return f
}

func conv(id string) *store.Conversation {
	return &store.Conversation{ID: id}
}

func ids(convs []*store.Conversation) []string {
	out := make([]string, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.ID)
	}
	return out
}

func TestInboxAddPrependsNewestFirst(t *testing.T) {
	in := NewInbox([]*store.Conversation{conv("a")})

	require.NoError(t, in.Apply(mustFrame(t, event.NewConversation("me@x.com", conv("b")))))
	require.NoError(t, in.Apply(mustFrame(t, event.NewConversation("me@x.com", conv("c")))))

	require.Equal(t, []string{"c", "b", "a"}, ids(in.Conversations()))
}

func TestInboxAddDeduplicates(t *testing.T) {
	in := NewInbox(nil)
	f := mustFrame(t, event.NewConversation("me@x.com", conv("a")))

	require.NoError(t, in.Apply(f))
	require.NoError(t, in.Apply(f))

	require.Equal(t, []string{"a"}, ids(in.Conversations()))
}

func TestInboxTouchReplacesLastMessage(t *testing.T) {
	seeded := conv("a")
	seeded.Messages = []*store.Message{{ID: "m1", ConversationID: "a", Body: "old"}}
	in := NewInbox([]*store.Conversation{seeded})

	last := &store.Message{ID: "m2", ConversationID: "a", Body: "new", SeenIDs: []string{"u1"}}
	require.NoError(t, in.Apply(mustFrame(t, event.TouchConversation("me@x.com", "a", last))))

	got := in.Conversations()
	require.Len(t, got, 1)
	require.Len(t, got[0].Messages, 1)
	require.Equal(t, "m2", got[0].Messages[0].ID)
	require.Equal(t, "new", got[0].Messages[0].Body)
}

func TestInboxTouchUnknownConversationIsNoOp(t *testing.T) {
	in := NewInbox([]*store.Conversation{conv("a")})

	last := &store.Message{ID: "m1", ConversationID: "ghost"}
	require.NoError(t, in.Apply(mustFrame(t, event.TouchConversation("me@x.com", "ghost", last))))

	require.Equal(t, []string{"a"}, ids(in.Conversations()))
}

func TestInboxRemove(t *testing.T) {
	in := NewInbox([]*store.Conversation{conv("a"), conv("b")})

	require.NoError(t, in.Apply(mustFrame(t, event.RemoveConversation("me@x.com", conv("a")))))
	require.Equal(t, []string{"b"}, ids(in.Conversations()))

	// Removing an absent conversation changes nothing.
	require.NoError(t, in.Apply(mustFrame(t, event.RemoveConversation("me@x.com", conv("a")))))
	require.Equal(t, []string{"b"}, ids(in.Conversations()))
}

func TestHasSeenLatest(t *testing.T) {
	empty := conv("a")
	require.True(t, HasSeenLatest(empty, "u1"))

	c := conv("b")
	c.Messages = []*store.Message{
		{ID: "m1", SeenIDs: []string{"u1", "u2"}},
		{ID: "m2", SeenIDs: []string{"u1"}},
	}
	require.True(t, HasSeenLatest(c, "u1"))
	require.False(t, HasSeenLatest(c, "u2"))
}

func TestThreadAppendDeduplicates(t *testing.T) {
	th := NewThread("c1", []*store.Message{{ID: "m1", ConversationID: "c1"}})
	f := mustFrame(t, event.NewMessage(&store.Message{ID: "m2", ConversationID: "c1", Body: "hi"}))

	require.NoError(t, th.Apply(f))
	require.NoError(t, th.Apply(f))

	msgs := th.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "m2", msgs[1].ID)
}

func TestThreadReplaceInPlace(t *testing.T) {
	th := NewThread("c1", []*store.Message{
		{ID: "m1", ConversationID: "c1", SeenIDs: []string{"u1"}},
		{ID: "m2", ConversationID: "c1", SeenIDs: []string{"u1"}},
	})

	updated := &store.Message{ID: "m1", ConversationID: "c1", SeenIDs: []string{"u1", "u2"}}
	require.NoError(t, th.Apply(mustFrame(t, event.UpdateMessage(updated))))

	msgs := th.Messages()
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, []string{"u1", "u2"}, msgs[0].SeenIDs)
	require.Equal(t, "m2", msgs[1].ID)
}

func TestThreadReplaceUnknownMessageIgnored(t *testing.T) {
	th := NewThread("c1", []*store.Message{{ID: "m1", ConversationID: "c1"}})

	require.NoError(t, th.Apply(mustFrame(t, event.UpdateMessage(&store.Message{ID: "ghost", ConversationID: "c1"}))))

	msgs := th.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "m1", msgs[0].ID)
}

// fakeSource records subscribe/unsubscribe calls.
type fakeSource struct {
	subscribed   []string
	unsubscribed []string
}

func (s *fakeSource) Subscribe(_ context.Context, channel string) error {
	s.subscribed = append(s.subscribed, channel)
	return nil
}

func (s *fakeSource) Unsubscribe(_ context.Context, channel string) error {
	s.unsubscribed = append(s.unsubscribed, channel)
	return nil
}

// fakeAcker records seen acknowledgements.
type fakeAcker struct {
	acked []string
	err   error
}

func (a *fakeAcker) MarkSeen(_ context.Context, conversationID string) error {
	if a.err != nil {
		return a.err
	}
	a.acked = append(a.acked, conversationID)
	return nil
}

func TestViewerOpenSubscribesAndAcks(t *testing.T) {
	src := &fakeSource{}
	ack := &fakeAcker{}
	v := NewViewer(src, ack, nil)

	th, err := v.Open(context.Background(), "c1", []*store.Message{{ID: "m1", ConversationID: "c1"}})
	require.NoError(t, err)
	require.Equal(t, "c1", th.ConversationID())
	require.Equal(t, []string{"conversation:c1"}, src.subscribed)
	require.Equal(t, []string{"c1"}, ack.acked)
	require.Len(t, th.Messages(), 1)
}

func TestViewerSwitchClosesPrevious(t *testing.T) {
	src := &fakeSource{}
	v := NewViewer(src, &fakeAcker{}, nil)

	_, err := v.Open(context.Background(), "c1", nil)
	require.NoError(t, err)
	_, err = v.Open(context.Background(), "c2", nil)
	require.NoError(t, err)

	require.Equal(t, []string{"conversation:c1", "conversation:c2"}, src.subscribed)
	require.Equal(t, []string{"conversation:c1"}, src.unsubscribed)
}

func TestViewerConcurrentApplyAndSwitch(t *testing.T) {
	v := NewViewer(&fakeSource{}, &fakeAcker{}, nil)
	frame := mustFrame(t, event.NewMessage(&store.Message{ID: "m1", ConversationID: "c1"}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if err := v.Apply(frame); err != nil {
				t.Errorf("Apply: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		_, err := v.Open(context.Background(), "c1", nil)
		require.NoError(t, err)
		v.Close(context.Background())
	}
	<-done
}

func TestViewerDropsFramesForClosedConversation(t *testing.T) {
	v := NewViewer(&fakeSource{}, &fakeAcker{}, nil)

	th, err := v.Open(context.Background(), "c1", nil)
	require.NoError(t, err)

	stale := mustFrame(t, event.NewMessage(&store.Message{ID: "m1", ConversationID: "c2"}))
	require.NoError(t, v.Apply(stale))
	require.Empty(t, th.Messages())

	live := mustFrame(t, event.NewMessage(&store.Message{ID: "m2", ConversationID: "c1"}))
	require.NoError(t, v.Apply(live))
	require.Len(t, th.Messages(), 1)

	v.Close(context.Background())
	require.NoError(t, v.Apply(live))
	require.Len(t, th.Messages(), 1)
}

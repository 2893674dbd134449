package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/beacon-im/beacon/internal/auth"
	"github.com/beacon-im/beacon/internal/event"
	"github.com/beacon-im/beacon/internal/realtime"
	"github.com/beacon-im/beacon/internal/store"
	"github.com/beacon-im/beacon/internal/syncer"
)

type testServer struct {
	srv *httptest.Server
	hub *realtime.Hub
}

func (s *testServer) wsURL() string {
	return strings.Replace(s.srv.URL, "http", "ws", 1) + "/ws"
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	authSvc := auth.NewService(st, []byte("test-secret"), time.Hour)
	hub := realtime.NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	router := NewRouter(Deps{
		Store:          st,
		Auth:           authSvc,
		Encoder:        syncer.NewEncoder(hub, nil),
		Hub:            hub,
		Authorizer:     &realtime.MembershipAuthorizer{Store: st},
		MaxMessageSize: 65536,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

// signup registers a user and logs them in, returning the user and a token.
func (s *testServer) signup(t *testing.T, email, name string) (*store.User, string) {
	t.Helper()
	resp, _ := s.do(t, http.MethodPost, "/api/register", "",
		gin.H{"email": email, "name": name, "password": "hunter2222"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/api/login", "",
		gin.H{"email": email, "password": "hunter2222"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var login struct {
		Token string      `json:"token"`
		User  *store.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(body, &login))
	require.NotEmpty(t, login.Token)
	return login.User, login.Token
}

// dial connects a websocket client and subscribes it to the given channels,
// waiting until the hub has registered each subscription.
func (s *testServer) dial(t *testing.T, token string, channels ...string) *realtime.Client {
	t.Helper()
	ctx := context.Background()

	client, err := realtime.Dial(ctx, s.wsURL(), token)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	for _, ch := range channels {
		before := s.hub.Subscribers(ch)
		require.NoError(t, client.Subscribe(ctx, ch))
		s.waitSubscribers(t, ch, before+1)
	}
	return client
}

func (s *testServer) waitSubscribers(t *testing.T, channel string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.hub.Subscribers(channel) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("channel %s never reached %d subscribers", channel, want)
}

func nextFrame(t *testing.T, client *realtime.Client) event.Frame {
	t.Helper()
	select {
	case f, ok := <-client.Events():
		require.True(t, ok, "event stream closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return event.Frame{}
	}
}

func requireNoFrame(t *testing.T, client *realtime.Client) {
	t.Helper()
	select {
	case f := <-client.Events():
		t.Fatalf("unexpected frame: %s %s", f.Channel, f.Event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"valid", gin.H{"email": "a@x.com", "name": "A", "password": "hunter2222"}, http.StatusCreated},
		{"duplicate email", gin.H{"email": "a@x.com", "name": "A2", "password": "hunter2222"}, http.StatusConflict},
		{"bad email", gin.H{"email": "not-an-email", "name": "A", "password": "hunter2222"}, http.StatusBadRequest},
		{"short password", gin.H{"email": "b@x.com", "name": "B", "password": "short"}, http.StatusBadRequest},
		{"missing name", gin.H{"email": "c@x.com", "password": "hunter2222"}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := s.do(t, http.MethodPost, "/api/register", "", tc.body)
			require.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodGet, "/api/conversations", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/messages", "bogus-token",
		gin.H{"conversationId": "c1", "message": "hi"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUpdateProfile(t *testing.T) {
	s := newTestServer(t)
	userA, tokenA := s.signup(t, "a@x.com", "A")

	resp, body := s.do(t, http.MethodPost, "/api/settings", tokenA,
		gin.H{"name": "Alice", "image": "https://cdn.x.com/a.png"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated store.User
	require.NoError(t, json.Unmarshal(body, &updated))
	require.Equal(t, userA.ID, updated.ID)
	require.Equal(t, "Alice", updated.Name)
	require.Equal(t, "https://cdn.x.com/a.png", updated.Image)

	resp, _ = s.do(t, http.MethodPost, "/api/settings", tokenA, gin.H{"name": ""})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDirectConversationFindOrCreate(t *testing.T) {
	s := newTestServer(t)
	userA, tokenA := s.signup(t, "a@x.com", "A")
	userB, tokenB := s.signup(t, "b@x.com", "B")

	clientB := s.dial(t, tokenB, "user:b@x.com")

	// First create: 201 plus a conversation:new on B's personal channel.
	resp, body := s.do(t, http.MethodPost, "/api/conversations", tokenA, gin.H{"userId": userB.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var conv store.Conversation
	require.NoError(t, json.Unmarshal(body, &conv))
	require.ElementsMatch(t, []string{userA.ID, userB.ID}, conv.UserIDs)

	frame := nextFrame(t, clientB)
	require.Equal(t, event.ConversationNew, frame.Event)
	require.Equal(t, "user:b@x.com", frame.Channel)
	got, err := event.DecodeConversation(frame)
	require.NoError(t, err)
	require.Equal(t, conv.ID, got.ID)

	// B creating towards A resolves to the same conversation, no new events.
	resp, body = s.do(t, http.MethodPost, "/api/conversations", tokenB, gin.H{"userId": userA.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var again store.Conversation
	require.NoError(t, json.Unmarshal(body, &again))
	require.Equal(t, conv.ID, again.ID)
	requireNoFrame(t, clientB)

	// Unknown counterpart is a 404 before anything is created.
	resp, _ = s.do(t, http.MethodPost, "/api/conversations", tokenA, gin.H{"userId": "ghost"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGroupConversationRequiresName(t *testing.T) {
	s := newTestServer(t)
	_, tokenA := s.signup(t, "a@x.com", "A")
	userB, _ := s.signup(t, "b@x.com", "B")
	userC, _ := s.signup(t, "c@x.com", "C")

	resp, _ := s.do(t, http.MethodPost, "/api/conversations", tokenA,
		gin.H{"isGroup": true, "members": []string{userB.ID, userC.ID}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/api/conversations", tokenA,
		gin.H{"isGroup": true, "name": "team", "members": []string{userB.ID, userC.ID}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var conv store.Conversation
	require.NoError(t, json.Unmarshal(body, &conv))
	require.True(t, conv.IsGroup)
	require.Equal(t, "team", conv.Name)
	require.Len(t, conv.UserIDs, 3)
}

func TestNonMemberAccessIsNotFound(t *testing.T) {
	s := newTestServer(t)
	_, tokenA := s.signup(t, "a@x.com", "A")
	userB, _ := s.signup(t, "b@x.com", "B")
	_, tokenC := s.signup(t, "c@x.com", "C")

	resp, body := s.do(t, http.MethodPost, "/api/conversations", tokenA, gin.H{"userId": userB.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var conv store.Conversation
	require.NoError(t, json.Unmarshal(body, &conv))

	for _, probe := range []struct {
		method, path string
		payload      any
	}{
		{http.MethodGet, "/api/conversations/" + conv.ID, nil},
		{http.MethodGet, "/api/conversations/" + conv.ID + "/messages", nil},
		{http.MethodPost, "/api/conversations/" + conv.ID + "/seen", nil},
		{http.MethodDelete, "/api/conversations/" + conv.ID, nil},
		{http.MethodPost, "/api/messages", gin.H{"conversationId": conv.ID, "message": "hi"}},
	} {
		resp, _ := s.do(t, probe.method, probe.path, tokenC, probe.payload)
		require.Equalf(t, http.StatusNotFound, resp.StatusCode, "%s %s", probe.method, probe.path)
	}
}

// TestMessageLifecycleEvents walks the full sync round trip: send, fan-out,
// seen acknowledgement, and the idempotence of a repeated ack.
func TestMessageLifecycleEvents(t *testing.T) {
	s := newTestServer(t)
	userA, tokenA := s.signup(t, "a@x.com", "A")
	userB, tokenB := s.signup(t, "b@x.com", "B")

	resp, body := s.do(t, http.MethodPost, "/api/conversations", tokenA, gin.H{"userId": userB.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var conv store.Conversation
	require.NoError(t, json.Unmarshal(body, &conv))

	convChannel := "conversation:" + conv.ID
	clientA := s.dial(t, tokenA, "user:a@x.com")
	clientB := s.dial(t, tokenB, "user:b@x.com", convChannel)

	// A sends a message: the sender alone is in the initial seen set.
	resp, body = s.do(t, http.MethodPost, "/api/messages", tokenA,
		gin.H{"conversationId": conv.ID, "message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msg store.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	require.Equal(t, "hi", msg.Body)
	require.Equal(t, userA.ID, msg.SenderID)
	require.Equal(t, []string{userA.ID}, msg.SeenIDs)

	// B's conversation channel carries the message itself.
	frame := nextFrame(t, clientB)
	require.Equal(t, event.MessageNew, frame.Event)
	require.Equal(t, convChannel, frame.Channel)
	gotMsg, err := event.DecodeMessage(frame)
	require.NoError(t, err)
	require.Equal(t, msg.ID, gotMsg.ID)
	require.NotNil(t, gotMsg.Sender)
	require.Equal(t, userA.ID, gotMsg.Sender.ID)

	// Both personal channels carry the conversation touch with the message
	// as the singleton latest.
	for _, client := range []*realtime.Client{clientA, clientB} {
		frame = nextFrame(t, client)
		require.Equal(t, event.ConversationUpdate, frame.Event)
		touch, err := event.DecodeTouch(frame)
		require.NoError(t, err)
		require.Equal(t, conv.ID, touch.ID)
		require.Len(t, touch.Messages, 1)
		require.Equal(t, msg.ID, touch.Messages[0].ID)
	}

	// B acknowledges: seen set grows and exactly one update is published.
	resp, body = s.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/seen", tokenB, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var seen store.Conversation
	require.NoError(t, json.Unmarshal(body, &seen))
	require.NotEmpty(t, seen.Messages)
	require.Equal(t, []string{userA.ID, userB.ID}, seen.Messages[len(seen.Messages)-1].SeenIDs)

	frame = nextFrame(t, clientB)
	require.Equal(t, event.MessageUpdate, frame.Event)
	gotMsg, err = event.DecodeMessage(frame)
	require.NoError(t, err)
	require.Equal(t, []string{userA.ID, userB.ID}, gotMsg.SeenIDs)

	// A repeated ack changes nothing and publishes nothing.
	resp, _ = s.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/seen", tokenB, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	requireNoFrame(t, clientB)
	requireNoFrame(t, clientA)
}

func TestDeleteConversationNotifiesMembers(t *testing.T) {
	s := newTestServer(t)
	_, tokenA := s.signup(t, "a@x.com", "A")
	userB, tokenB := s.signup(t, "b@x.com", "B")

	resp, body := s.do(t, http.MethodPost, "/api/conversations", tokenA, gin.H{"userId": userB.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var conv store.Conversation
	require.NoError(t, json.Unmarshal(body, &conv))

	clientB := s.dial(t, tokenB, "user:b@x.com")

	resp, _ = s.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frame := nextFrame(t, clientB)
	require.Equal(t, event.ConversationRemove, frame.Event)
	removed, err := event.DecodeConversation(frame)
	require.NoError(t, err)
	require.Equal(t, conv.ID, removed.ID)

	resp, _ = s.do(t, http.MethodGet, "/api/conversations/"+conv.ID, tokenA, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubscribeRequiresMembership(t *testing.T) {
	s := newTestServer(t)
	_, tokenA := s.signup(t, "a@x.com", "A")
	userB, _ := s.signup(t, "b@x.com", "B")
	_, tokenC := s.signup(t, "c@x.com", "C")

	resp, body := s.do(t, http.MethodPost, "/api/conversations", tokenA, gin.H{"userId": userB.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var conv store.Conversation
	require.NoError(t, json.Unmarshal(body, &conv))

	client, err := realtime.Dial(context.Background(), s.wsURL(), tokenC)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Subscribe(context.Background(), "conversation:"+conv.ID))

	// The server answers with an error frame instead of subscribing.
	frame := nextFrame(t, client)
	require.Equal(t, "error", frame.Event)
	require.Equal(t, 0, s.hub.Subscribers("conversation:"+conv.ID))
}

// Package event defines the realtime sync protocol: the channel naming
// scheme, the closed set of event variants, and the JSON frames exchanged
// between the hub and its clients.
//
// The channel/event/payload contract is fixed; any client speaking it can
// stay consistent with server-side conversation and message state.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/beacon-im/beacon/internal/store"
)

// Event names, one per contract row.
const (
	ConversationNew    = "conversation:new"
	ConversationUpdate = "conversation:update"
	ConversationRemove = "conversation:remove"
	MessageNew         = "messages:new"
	MessageUpdate      = "message:update"
)

// UserChannel returns the personal channel for a user, keyed by email.
// It carries account-wide notifications: new, updated and removed
// conversations.
func UserChannel(email string) string {
	return "user:" + email
}

// ConversationChannel returns the channel scoped to one conversation's
// message-level events.
func ConversationChannel(conversationID string) string {
	return "conversation:" + conversationID
}

// Event is one publishable protocol event: a payload bound to its channel
// and event name. Values are built through the typed constructors below so
// encoder and decoder agree on payload shape by construction.
type Event struct {
	Channel string
	Name    string
	Payload any
}

// ConversationTouch is the conversation:update payload: the conversation id
// and a singleton slice holding its most recent message. List views apply it
// without resubscribing to every conversation channel.
type ConversationTouch struct {
	ID       string           `json:"id"`
	Messages []*store.Message `json:"messages"`
}

// NewConversation builds a conversation:new event for one member's personal
// channel, carrying the full conversation including its users.
func NewConversation(email string, conv *store.Conversation) Event {
	return Event{
		Channel: UserChannel(email),
		Name:    ConversationNew,
		Payload: conv,
	}
}

// TouchConversation builds a conversation:update event for one member's
// personal channel.
func TouchConversation(email string, conversationID string, last *store.Message) Event {
	return Event{
		Channel: UserChannel(email),
		Name:    ConversationUpdate,
		Payload: ConversationTouch{ID: conversationID, Messages: []*store.Message{last}},
	}
}

// RemoveConversation builds a conversation:remove event carrying the full
// snapshot of the deleted conversation.
func RemoveConversation(email string, conv *store.Conversation) Event {
	return Event{
		Channel: UserChannel(email),
		Name:    ConversationRemove,
		Payload: conv,
	}
}

// NewMessage builds a messages:new event on the conversation channel,
// carrying the full message including sender and seen set.
func NewMessage(msg *store.Message) Event {
	return Event{
		Channel: ConversationChannel(msg.ConversationID),
		Name:    MessageNew,
		Payload: msg,
	}
}

// UpdateMessage builds a message:update event on the conversation channel.
func UpdateMessage(msg *store.Message) Event {
	return Event{
		Channel: ConversationChannel(msg.ConversationID),
		Name:    MessageUpdate,
		Payload: msg,
	}
}

// Frame is the wire form of an event as delivered to subscribers.
type Frame struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// Encode marshals an event into its wire frame.
func (e Event) Encode() (Frame, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", e.Name, err)
	}
	return Frame{Channel: e.Channel, Event: e.Name, Data: data}, nil
}

// DecodeMessage unmarshals a messages:new or message:update payload.
func DecodeMessage(f Frame) (*store.Message, error) {
	msg := &store.Message{}
	if err := json.Unmarshal(f.Data, msg); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", f.Event, err)
	}
	return msg, nil
}

// DecodeConversation unmarshals a conversation:new or conversation:remove
// payload.
func DecodeConversation(f Frame) (*store.Conversation, error) {
	conv := &store.Conversation{}
	if err := json.Unmarshal(f.Data, conv); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", f.Event, err)
	}
	return conv, nil
}

// DecodeTouch unmarshals a conversation:update payload.
func DecodeTouch(f Frame) (ConversationTouch, error) {
	var touch ConversationTouch
	if err := json.Unmarshal(f.Data, &touch); err != nil {
		return ConversationTouch{}, fmt.Errorf("decode %s payload: %w", f.Event, err)
	}
	return touch, nil
}

// Client frame types for the subscribe protocol.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// ClientFrame is a client -> server subscription control frame.
type ClientFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

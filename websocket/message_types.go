package websocket

import (
	"strings"
	"time"
)

// MessageType is the first element of every [type, payload] frame
type MessageType string

// Frame type constants
const (
	MessageChat MessageType = "chat:message"

	// Prefixes completed with a channel name, e.g. "subscribe:chat"
	PrefixSubscribe   = "subscribe:"
	PrefixUnsubscribe = "unsubscribe:"
)

// SubscribeType returns the frame type that joins channel
func SubscribeType(channel string) MessageType {
	return MessageType(PrefixSubscribe + channel)
}

// UnsubscribeType returns the frame type that leaves channel
func UnsubscribeType(channel string) MessageType {
	return MessageType(PrefixUnsubscribe + channel)
}

// IsSubscribe reports whether t is a subscribe:<channel> frame
func (t MessageType) IsSubscribe() bool {
	return strings.HasPrefix(string(t), PrefixSubscribe) && len(t) > len(PrefixSubscribe)
}

// IsUnsubscribe reports whether t is an unsubscribe:<channel> frame
func (t MessageType) IsUnsubscribe() bool {
	return strings.HasPrefix(string(t), PrefixUnsubscribe) && len(t) > len(PrefixUnsubscribe)
}

// Room returns the part before the first ':' which the chat server uses to
// route a frame, e.g. "chat" for "chat:message".
func (t MessageType) Room() string {
	room, _, _ := strings.Cut(string(t), ":")
	return room
}

// IsValidMessageType checks the frame type against the known protocol
func IsValidMessageType(t MessageType) bool {
	return t == MessageChat || t.IsSubscribe() || t.IsUnsubscribe()
}

// ChatMessage is the payload of an outgoing chat:message frame
type ChatMessage struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// ChatMessageOut is the payload the chat server broadcasts back; Sent is
// stamped by the server and may be absent.
type ChatMessageOut struct {
	ChatMessage
	Sent *time.Time `json:"sent,omitempty"`
}

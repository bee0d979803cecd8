package websocket

import (
	"bytes"
	"strings"

	loaderrors "chatload/errors"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// emptyPayload is the {} sent with subscribe and unsubscribe frames
var emptyPayload = struct{}{}

// Envelope is a decoded [type, payload] frame.
type Envelope struct {
	Type    MessageType
	Payload jsoniter.RawMessage
}

// Channel returns the channel named by a subscribe or unsubscribe frame.
func (e Envelope) Channel() string {
	switch {
	case e.Type.IsSubscribe():
		return strings.TrimPrefix(string(e.Type), PrefixSubscribe)
	case e.Type.IsUnsubscribe():
		return strings.TrimPrefix(string(e.Type), PrefixUnsubscribe)
	}
	return ""
}

// UnmarshalPayload decodes the payload into v.
func (e Envelope) UnmarshalPayload(v any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(e.Payload, v)
}

// Encode builds the wire form of a frame.
func Encode(msgType MessageType, payload any) ([]byte, error) {
	return json.Marshal([]any{string(msgType), payload})
}

func EncodeSubscribe(channel string) ([]byte, error) {
	return Encode(SubscribeType(channel), emptyPayload)
}

func EncodeUnsubscribe(channel string) ([]byte, error) {
	return Encode(UnsubscribeType(channel), emptyPayload)
}

func EncodeChat(from, text string) ([]byte, error) {
	return Encode(MessageChat, ChatMessage{From: from, Message: text})
}

// Decode parses one text frame. It never panics: invalid JSON yields a
// DECODE_MALFORMED_JSON error and anything other than a two element array
// with a string head yields DECODE_NOT_ARRAY. Both carry the raw frame.
func Decode(data []byte) (Envelope, error) {
	raw := string(data)

	if !json.Valid(data) {
		return Envelope{}, loaderrors.NewDecodeError(loaderrors.ErrCodeMalformedJSON, raw, nil)
	}

	var parts []jsoniter.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) != 2 {
		return Envelope{}, loaderrors.NewDecodeError(loaderrors.ErrCodeNotArray, raw, err)
	}

	head := bytes.TrimSpace(parts[0])
	if len(head) == 0 || head[0] != '"' {
		return Envelope{}, loaderrors.NewDecodeError(loaderrors.ErrCodeNotArray, raw, nil)
	}

	var msgType string
	if err := json.Unmarshal(head, &msgType); err != nil {
		return Envelope{}, loaderrors.NewDecodeError(loaderrors.ErrCodeNotArray, raw, err)
	}

	return Envelope{
		Type:    MessageType(msgType),
		Payload: parts[1],
	}, nil
}

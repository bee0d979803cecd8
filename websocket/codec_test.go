package websocket

import (
	"testing"

	loaderrors "chatload/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrames(t *testing.T) {
	sub, err := EncodeSubscribe("chat")
	require.NoError(t, err)
	assert.JSONEq(t, `["subscribe:chat",{}]`, string(sub))

	unsub, err := EncodeUnsubscribe("chat")
	require.NoError(t, err)
	assert.JSONEq(t, `["unsubscribe:chat",{}]`, string(unsub))

	chat, err := EncodeChat("user_1", "text_0")
	require.NoError(t, err)
	assert.JSONEq(t, `["chat:message",{"from":"user_1","message":"text_0"}]`, string(chat))
}

func TestDecodeChatMessage(t *testing.T) {
	env, err := Decode([]byte(`["chat:message", {"from":"u","message":"hi"}]`))
	require.NoError(t, err)
	assert.Equal(t, MessageChat, env.Type)

	var msg ChatMessageOut
	require.NoError(t, env.UnmarshalPayload(&msg))
	assert.Equal(t, "u", msg.From)
	assert.Equal(t, "hi", msg.Message)
	assert.Nil(t, msg.Sent)
}

func TestDecodeServerTimestamp(t *testing.T) {
	env, err := Decode([]byte(`["chat:message",{"from":"u","message":"hi","sent":"2026-01-02T15:04:05Z"}]`))
	require.NoError(t, err)

	var msg ChatMessageOut
	require.NoError(t, env.UnmarshalPayload(&msg))
	require.NotNil(t, msg.Sent)
	assert.Equal(t, 2026, msg.Sent.Year())
}

func TestDecodeSubscribeChannel(t *testing.T) {
	env, err := Decode([]byte(`["subscribe:roulette",{}]`))
	require.NoError(t, err)
	assert.True(t, env.Type.IsSubscribe())
	assert.Equal(t, "roulette", env.Channel())

	env, err = Decode([]byte(`["unsubscribe:chat",{}]`))
	require.NoError(t, err)
	assert.True(t, env.Type.IsUnsubscribe())
	assert.Equal(t, "chat", env.Channel())

	env, err = Decode([]byte(`["chat:message",{}]`))
	require.NoError(t, err)
	assert.Equal(t, "", env.Channel())
	assert.Equal(t, "chat", env.Type.Room())
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code loaderrors.ErrorCode
	}{
		{"object", `{"not":"an array"}`, loaderrors.ErrCodeNotArray},
		{"empty array", `[]`, loaderrors.ErrCodeNotArray},
		{"one element", `["chat:message"]`, loaderrors.ErrCodeNotArray},
		{"three elements", `["chat:message",{},1]`, loaderrors.ErrCodeNotArray},
		{"numeric type", `[1,{}]`, loaderrors.ErrCodeNotArray},
		{"null type", `[null,{}]`, loaderrors.ErrCodeNotArray},
		{"number", `42`, loaderrors.ErrCodeNotArray},
		{"null", `null`, loaderrors.ErrCodeNotArray},
		{"truncated", `["chat:message",{"from":`, loaderrors.ErrCodeMalformedJSON},
		{"plain text", `hello`, loaderrors.ErrCodeMalformedJSON},
		{"empty", ``, loaderrors.ErrCodeMalformedJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.Equal(t, tt.code, loaderrors.GetErrorCode(err))

			lErr, ok := loaderrors.AsLoadError(err)
			require.True(t, ok)
			assert.Equal(t, tt.raw, lErr.Details)
		})
	}
}

func TestMessageTypeHelpers(t *testing.T) {
	assert.Equal(t, MessageType("subscribe:chat"), SubscribeType("chat"))
	assert.Equal(t, MessageType("unsubscribe:chat"), UnsubscribeType("chat"))

	assert.True(t, IsValidMessageType(MessageChat))
	assert.True(t, IsValidMessageType("subscribe:chat"))
	assert.False(t, IsValidMessageType("subscribe:"))
	assert.False(t, IsValidMessageType("chat:update"))
}

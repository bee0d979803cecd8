package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadErrorMessage(t *testing.T) {
	err := NewSendError(fmt.Errorf("broken pipe"), 3, "chat:message")
	assert.Equal(t, "[SEND_ERROR] VU-3: failed to write frame: chat:message (broken pipe)", err.Error())

	plain := NewLoadError(ErrCodeStore, "results store operation failed")
	assert.Equal(t, "[STORE_ERROR] results store operation failed", plain.Error())
}

func TestLoadErrorIsComparesCode(t *testing.T) {
	err := NewConnectError(fmt.Errorf("dial tcp: refused"), 9, "status 0")

	assert.True(t, stderrors.Is(err, ErrConnect))
	assert.False(t, stderrors.Is(err, ErrSend))

	wrapped := fmt.Errorf("vu failed: %w", err)
	assert.True(t, stderrors.Is(wrapped, ErrConnect))
	assert.Equal(t, ErrCodeConnect, GetErrorCode(wrapped))
}

func TestLoadErrorBuildersDoNotMutatePredefined(t *testing.T) {
	_ = ErrSend.WithSession(42).WithDetails("subscribe:chat")
	assert.Equal(t, 0, ErrSend.SessionID)
	assert.Empty(t, ErrSend.Details)
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := fmt.Errorf("eof")
	err := NewProcessingError(cause, 1, "payload")
	assert.Same(t, cause, stderrors.Unwrap(err))
}

func TestDecodeErrorClassification(t *testing.T) {
	malformed := NewDecodeError(ErrCodeMalformedJSON, "{oops", nil)
	notArray := NewDecodeError(ErrCodeNotArray, `{"not":"an array"}`, nil)

	assert.Equal(t, ErrCodeMalformedJSON, malformed.Code)
	assert.Equal(t, "{oops", malformed.Details)
	assert.Equal(t, ErrCodeNotArray, notArray.Code)

	assert.True(t, IsDecodeError(malformed))
	assert.True(t, IsDecodeError(notArray))
	assert.True(t, IsSessionError(notArray))
	assert.False(t, IsDecodeError(ErrSend))
	assert.False(t, IsSessionError(NewConfigError(fmt.Errorf("bad"))))
	assert.False(t, IsSessionError(fmt.Errorf("plain")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(nil))
}

func TestReceiveAndStoreErrors(t *testing.T) {
	recv := NewReceiveError(fmt.Errorf("connection reset by peer"), 4)
	assert.Equal(t, "[RECEIVE_ERROR] VU-4: connection failed while reading (connection reset by peer)", recv.Error())
	assert.True(t, IsSessionError(recv))

	store := NewStoreError(fmt.Errorf("database is locked"), "create run")
	assert.True(t, stderrors.Is(store, ErrStore))
	assert.False(t, IsSessionError(store))
	assert.Equal(t, "create run", store.Details)
}

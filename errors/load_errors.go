package errors

import (
	"fmt"
)

// ErrorCode represents the kinds of failure a load run can observe
type ErrorCode string

const (
	// Session errors
	ErrCodeConnect    ErrorCode = "CONNECT_ERROR"
	ErrCodeSend       ErrorCode = "SEND_ERROR"
	ErrCodeReceive    ErrorCode = "RECEIVE_ERROR"
	ErrCodeProcessing ErrorCode = "PROCESSING_ERROR"

	// Frame decoding errors
	ErrCodeMalformedJSON ErrorCode = "DECODE_MALFORMED_JSON"
	ErrCodeNotArray      ErrorCode = "DECODE_NOT_ARRAY"

	// Setup errors
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"
	ErrCodeStore         ErrorCode = "STORE_ERROR"
)

// LoadError is the single error type returned by codec, sessions and store.
type LoadError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	SessionID int       `json:"session_id,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface
func (e *LoadError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.SessionID > 0 {
		msg = fmt.Sprintf("[%s] VU-%d: %s", e.Code, e.SessionID, e.Message)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (%v)", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison for errors.Is()
func (e *LoadError) Is(target error) bool {
	if t, ok := target.(*LoadError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetails adds details to the error
func (e *LoadError) WithDetails(details string) *LoadError {
	newErr := *e
	newErr.Details = details
	return &newErr
}

// WithCause adds a cause error
func (e *LoadError) WithCause(cause error) *LoadError {
	newErr := *e
	newErr.Cause = cause
	return &newErr
}

// WithSession tags the error with the virtual user it came from
func (e *LoadError) WithSession(sessionID int) *LoadError {
	newErr := *e
	newErr.SessionID = sessionID
	return &newErr
}

// NewLoadError creates a new LoadError
func NewLoadError(code ErrorCode, message string) *LoadError {
	return &LoadError{
		Code:    code,
		Message: message,
	}
}

// Predefined common errors
var (
	ErrConnect       = NewLoadError(ErrCodeConnect, "websocket handshake failed")
	ErrSend          = NewLoadError(ErrCodeSend, "failed to write frame")
	ErrReceive       = NewLoadError(ErrCodeReceive, "connection failed while reading")
	ErrProcessing    = NewLoadError(ErrCodeProcessing, "failed to process message")
	ErrMalformedJSON = NewLoadError(ErrCodeMalformedJSON, "frame is not valid JSON")
	ErrNotArray      = NewLoadError(ErrCodeNotArray, "frame is not a [type, payload] array")
	ErrConfigInvalid = NewLoadError(ErrCodeConfigInvalid, "invalid configuration")
	ErrStore         = NewLoadError(ErrCodeStore, "results store operation failed")
)

// Helper functions

// AsLoadError extracts a LoadError from err's chain
func AsLoadError(err error) (*LoadError, bool) {
	for err != nil {
		if lErr, ok := err.(*LoadError); ok {
			return lErr, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	if lErr, ok := AsLoadError(err); ok {
		return lErr.Code
	}
	return ""
}

// IsDecodeError checks if the error came from decoding an incoming frame
func IsDecodeError(err error) bool {
	switch GetErrorCode(err) {
	case ErrCodeMalformedJSON, ErrCodeNotArray:
		return true
	}
	return false
}

// IsSessionError checks if the error belongs to a single virtual user
func IsSessionError(err error) bool {
	switch GetErrorCode(err) {
	case ErrCodeConnect, ErrCodeSend, ErrCodeReceive, ErrCodeProcessing,
		ErrCodeMalformedJSON, ErrCodeNotArray:
		return true
	}
	return false
}

// Error factory methods for common scenarios

// NewConnectError creates a handshake failure for a session
func NewConnectError(cause error, sessionID int, details string) *LoadError {
	return ErrConnect.WithSession(sessionID).WithDetails(details).WithCause(cause)
}

// NewSendError creates a transport write failure for a session
func NewSendError(cause error, sessionID int, frameType string) *LoadError {
	return ErrSend.WithSession(sessionID).WithDetails(frameType).WithCause(cause)
}

// NewReceiveError creates a transport read failure for a session
func NewReceiveError(cause error, sessionID int) *LoadError {
	return ErrReceive.WithSession(sessionID).WithCause(cause)
}

// NewDecodeError creates a frame decoding error carrying the raw text
func NewDecodeError(code ErrorCode, raw string, cause error) *LoadError {
	base := ErrMalformedJSON
	if code == ErrCodeNotArray {
		base = ErrNotArray
	}
	return base.WithDetails(raw).WithCause(cause)
}

// NewProcessingError wraps a failure while handling a decoded message
func NewProcessingError(cause error, sessionID int, details string) *LoadError {
	return ErrProcessing.WithSession(sessionID).WithDetails(details).WithCause(cause)
}

// NewConfigError wraps a configuration problem
func NewConfigError(cause error) *LoadError {
	return ErrConfigInvalid.WithCause(cause)
}

// NewStoreError wraps a results store failure
func NewStoreError(cause error, operation string) *LoadError {
	return ErrStore.WithDetails(operation).WithCause(cause)
}

package models

import "fmt"

// SessionState represents where a virtual user is in its lifecycle
type SessionState string

// Session state constants
const (
	SessionConnecting SessionState = "connecting"
	SessionActive     SessionState = "active"
	SessionClosing    SessionState = "closing"
	SessionClosed     SessionState = "closed"
	SessionFailed     SessionState = "failed"
)

// StateLabels provides human readable labels for each state
var StateLabels = map[SessionState]string{
	SessionConnecting: "Handshake in progress",
	SessionActive:     "Connected",
	SessionClosing:    "Closing connection",
	SessionClosed:     "Closed",
	SessionFailed:     "Connect failed",
}

// AllSessionStates returns all valid states
func AllSessionStates() []SessionState {
	return []SessionState{
		SessionConnecting,
		SessionActive,
		SessionClosing,
		SessionClosed,
		SessionFailed,
	}
}

// StringToSessionState converts string to SessionState with validation
func StringToSessionState(stateStr string) (SessionState, error) {
	state := SessionState(stateStr)

	for _, validState := range AllSessionStates() {
		if state == validState {
			return state, nil
		}
	}

	return "", fmt.Errorf("invalid session state: %s", stateStr)
}

// GetStateLabel returns the label for a state
func GetStateLabel(state SessionState) string {
	if label, exists := StateLabels[state]; exists {
		return label
	}
	return string(state)
}

// IsTerminal reports whether no further transition can happen.
func (s SessionState) IsTerminal() bool {
	return s == SessionClosed || s == SessionFailed
}

// CanTransition reports whether from -> to is a legal session transition.
func CanTransition(from, to SessionState) bool {
	switch from {
	case SessionConnecting:
		return to == SessionActive || to == SessionFailed || to == SessionClosed
	case SessionActive:
		return to == SessionClosing || to == SessionClosed
	case SessionClosing:
		return to == SessionClosed
	default:
		return false
	}
}

package agent

import (
	"context"
	"errors"
	"fmt"
)

// SessionEndedMessage is the error string the agent uses for a conversation
// that no longer exists.
const SessionEndedMessage = "session ended"

var (
	// ErrSessionEnded reports that the remote conversation is gone.
	ErrSessionEnded = errors.New(SessionEndedMessage)
	// ErrNetwork reports a transport-level failure.
	ErrNetwork = errors.New("network error")
	// ErrInvalidMessage reports a POST payload that cannot be sent.
	ErrInvalidMessage = errors.New("invalid message")
)

// APIError is a non-2xx reply from the agent.
type APIError struct {
	Command    Command
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent %s failed with status %d", e.Command, e.StatusCode)
	}
	return fmt.Sprintf("agent %s failed with status %d: %s", e.Command, e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrSessionEnded) match the session-ended reply.
func (e *APIError) Is(target error) bool {
	return target == ErrSessionEnded && e.Message == SessionEndedMessage
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	Command Command
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("agent %s: network error: %v", e.Command, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrNetwork) match.
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// ErrorCode is the classification surfaced to the presentation layer.
type ErrorCode string

const (
	CodeNone         ErrorCode = ""
	CodeSessionEnded ErrorCode = "session_ended"
	CodeNetwork      ErrorCode = "network_error"
	CodeGeneric      ErrorCode = "error"
	CodeCanceled     ErrorCode = "canceled"
)

// Classify maps err onto the error taxonomy.
func Classify(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeNone
	case errors.Is(err, ErrSessionEnded):
		return CodeSessionEnded
	case errors.Is(err, ErrNetwork):
		return CodeNetwork
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return CodeGeneric
	}
}

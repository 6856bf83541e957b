package chat

import (
	"errors"

	"github.com/nattskiftet/chatbot/internal/service/agent"
)

var (
	ErrClosed          = errors.New("session manager closed")
	ErrNoConversation  = errors.New("no active conversation")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageTooLong  = errors.New("message exceeds the input limit")
	ErrNotStartable    = errors.New("session cannot be started from the current status")
	ErrEmptyActionLink = errors.New("action link id is empty")
)

// SessionError is the error surfaced in snapshots while status is error or
// after a session-ended teardown.
type SessionError struct {
	Code    agent.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

func sessionError(err error) *SessionError {
	code := agent.Classify(err)
	switch code {
	case agent.CodeNone, agent.CodeCanceled:
		return nil
	case agent.CodeSessionEnded:
		return &SessionError{Code: code, Message: "Session ended"}
	case agent.CodeNetwork:
		return &SessionError{Code: code, Message: "Network error"}
	default:
		return &SessionError{Code: code, Message: err.Error()}
	}
}

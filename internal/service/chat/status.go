package chat

// Status is the connection status of a session. It is the single source of
// truth for whether polling and interaction are permitted.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusRestarting   Status = "restarting"
	StatusError        Status = "error"
	StatusEnded        Status = "ended"
)

var transitions = map[Status][]Status{
	StatusDisconnected: {StatusConnecting, StatusRestarting, StatusError, StatusEnded},
	StatusConnecting:   {StatusConnected, StatusDisconnected, StatusRestarting, StatusError, StatusEnded},
	StatusConnected:    {StatusRestarting, StatusError, StatusEnded},
	StatusRestarting:   {StatusConnecting, StatusError, StatusEnded},
	StatusError:        {StatusRestarting, StatusEnded},
	StatusEnded:        {StatusConnecting, StatusRestarting},
}

// CanTransition reports whether moving from s to to is allowed. Staying in
// the same status is always allowed.
func (s Status) CanTransition(to Status) bool {
	if s == to {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Startable reports whether Start may open a conversation from s.
func (s Status) Startable() bool {
	return s == StatusDisconnected || s == StatusEnded
}

// Polling reports whether the poll loop may run in s.
func (s Status) Polling() bool {
	return s == StatusConnecting || s == StatusConnected
}

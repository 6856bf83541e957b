package chat

import (
	chatmodel "github.com/nattskiftet/chatbot/internal/model/chat"
)

// Snapshot is an immutable view of a session for the presentation layer.
type Snapshot struct {
	Version        uint64                  `json:"version"`
	ConversationID string                  `json:"id,omitempty"`
	Status         Status                  `json:"status"`
	Error          *SessionError           `json:"error,omitempty"`
	Conversation   *chatmodel.Conversation `json:"conversation,omitempty"`
	Responses      []chatmodel.Response    `json:"responses"`
	Queue          *chatmodel.Response     `json:"queue,omitempty"`
	Language       string                  `json:"language,omitempty"`
	Loading        bool                    `json:"isLoading"`
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:   m.version,
		Status:    m.status,
		Responses: m.transcript.Responses(),
		Queue:     m.queue.Entry(),
		Language:  m.store.Language(),
		Loading:   m.loading > 0,
	}
	if snap.Responses == nil {
		snap.Responses = []chatmodel.Response{}
	}
	if m.lastErr != nil {
		e := *m.lastErr
		snap.Error = &e
	}
	if m.conversation != nil {
		c := *m.conversation
		snap.Conversation = &c
		snap.ConversationID = c.ID
	}
	return snap
}

// Subscribe returns a channel receiving snapshots as the session changes.
// Slow receivers only see the latest snapshot. The channel is closed by the
// returned cancel func or by Close.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = ch
	m.subMu.Unlock()

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		m.subMu.Lock()
		if _, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(ch)
		}
		m.subMu.Unlock()
	}

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if _, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(ch)
		}
	}
}

func (m *Manager) broadcast(snap Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if snap.Version <= m.broadcasted {
		return
	}
	m.broadcasted = snap.Version

	for _, ch := range m.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

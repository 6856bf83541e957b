package chat

// Compose records the current draft. When the draft stays unchanged for the
// debounce window and is non-empty, a typing ping is sent.
func (m *Manager) Compose(draft string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.draft = draft
	m.stopTypingLocked()

	epoch := m.epoch
	m.typingTimer = m.clock.AfterFunc(m.cfg.TypingDebounce, func() {
		m.typingElapsed(epoch)
	})
}

func (m *Manager) typingElapsed(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.closed || m.draft == "" || m.conversation == nil {
		m.mu.Unlock()
		return
	}
	m.typingTimer = nil
	conversationID := m.conversation.ID
	ctx := m.epochCtx
	m.mu.Unlock()

	m.ping(ctx, conversationID)
}

func (m *Manager) stopTypingLocked() {
	if m.typingTimer != nil {
		m.typingTimer.Stop()
		m.typingTimer = nil
	}
}

package chat

import (
	"time"

	"github.com/jonboulle/clockwork"
)

type pollState struct {
	timer      clockwork.Timer
	multiplier float64
	inFlight   bool
}

// pollIntervalLocked returns min(max, min*multiplier).
func (m *Manager) pollIntervalLocked() time.Duration {
	interval := time.Duration(float64(m.cfg.PollMin) * m.poll.multiplier)
	if interval > m.cfg.PollMax {
		return m.cfg.PollMax
	}
	return interval
}

// schedulePollLocked arms the next tick, replacing a pending one. Nothing is
// armed while a poll is in flight; its completion reschedules.
func (m *Manager) schedulePollLocked() {
	if m.closed || !m.status.Polling() || m.conversation == nil || m.poll.inFlight {
		return
	}
	m.stopPollLocked()

	epoch := m.epoch
	m.poll.timer = m.clock.AfterFunc(m.pollIntervalLocked(), func() {
		m.pollOnce(epoch)
	})
}

func (m *Manager) stopPollLocked() {
	if m.poll.timer != nil {
		m.poll.timer.Stop()
		m.poll.timer = nil
	}
}

// kickPollLocked pulls the next poll forward after a user send.
func (m *Manager) kickPollLocked() {
	m.poll.multiplier = m.cfg.PollKickMultiplier
	m.schedulePollLocked()
}

func (m *Manager) pollOnce(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.closed || !m.status.Polling() || m.conversation == nil || m.poll.inFlight {
		m.mu.Unlock()
		return
	}
	m.poll.timer = nil
	m.poll.inFlight = true
	conversationID := m.conversation.ID
	mostRecent := m.transcript.LastID()
	ctx := m.epochCtx
	m.mu.Unlock()

	result, err := m.backend.Poll(ctx, conversationID, mostRecent)

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		m.logger.Debug().Str("conversation_id", conversationID).Msg("discarding stale poll result")
		return
	}
	m.poll.inFlight = false
	if err != nil {
		m.failLocked(err)
		m.unlockAndNotify()
		return
	}
	if !m.status.Polling() {
		m.mu.Unlock()
		return
	}

	// An empty batch leaves the conversation, transcript and queue as they
	// are; only the interval backs off.
	if len(result.Responses) == 0 {
		m.poll.multiplier += m.cfg.PollBackoffStep
	} else {
		m.poll.multiplier = 1
		m.mergeLocked(result.Conversation, result.Responses)
	}
	m.schedulePollLocked()
	m.unlockAndNotify()
}

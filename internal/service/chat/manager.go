package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	chatmodel "github.com/nattskiftet/chatbot/internal/model/chat"
	"github.com/nattskiftet/chatbot/internal/service/agent"
)

// Backend is the remote conversation contract the manager drives.
// *agent.Client satisfies it.
type Backend interface {
	Create(ctx context.Context, language string) (*agent.StartResult, error)
	Resume(ctx context.Context, conversationID, language string) (*agent.Result, error)
	Poll(ctx context.Context, conversationID, mostRecentResponseID string) (*agent.Result, error)
	Post(ctx context.Context, conversationID string, msg agent.Message) (*agent.Result, error)
	Ping(ctx context.Context, conversationID string) (*chatmodel.Conversation, error)
	Remove(ctx context.Context, conversationID string) (*chatmodel.Conversation, error)
}

// Persistence keeps the saved conversation id and UI language across
// manager lifetimes. prefs.Store satisfies it.
type Persistence interface {
	ConversationID() string
	SetConversationID(id string)
	Language() string
	SetLanguage(language string)
}

// MergeFunc observes responses newly added to the transcript.
type MergeFunc func(added []chatmodel.Response)

// StatusFunc observes status transitions.
type StatusFunc func(from, to Status)

// Option configures a Manager.
type Option func(*Manager)

func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// OnMerge registers fn to run after responses are merged.
func OnMerge(fn MergeFunc) Option {
	return func(m *Manager) { m.onMerge = append(m.onMerge, fn) }
}

// OnStatus registers fn to run after every status change.
func OnStatus(fn StatusFunc) Option {
	return func(m *Manager) { m.onStatus = append(m.onStatus, fn) }
}

type statusChange struct {
	from, to Status
}

// Manager owns one chat session: its conversation, transcript, send queue
// and poll loop. All methods are safe for concurrent use.
//
// Every asynchronous continuation captures the epoch it was started in and
// drops its result when the epoch has moved on. Teardown and Close advance
// the epoch and cancel the epoch context.
type Manager struct {
	backend Backend
	store   Persistence
	cfg     Config
	clock   clockwork.Clock
	logger  zerolog.Logger

	onMerge  []MergeFunc
	onStatus []StatusFunc

	flights   singleflight.Group
	lifecycle sync.Mutex

	mu           sync.Mutex
	closed       bool
	status       Status
	lastErr      *SessionError
	conversation *chatmodel.Conversation
	transcript   Transcript
	queue        SendQueue
	loading      int
	draft        string
	typingTimer  clockwork.Timer
	poll         pollState

	epoch       uint64
	epochCtx    context.Context
	epochCancel context.CancelFunc

	version       uint64
	dirty         bool
	pendingStatus []statusChange
	pendingMerges [][]chatmodel.Response

	subMu       sync.Mutex
	subscribers map[int]chan Snapshot
	nextSub     int
	broadcasted uint64
}

// NewManager returns a disconnected manager. Call Start to open or resume a
// conversation.
func NewManager(backend Backend, store Persistence, opts ...Option) *Manager {
	m := &Manager{
		backend:     backend,
		store:       store,
		cfg:         DefaultConfig(),
		clock:       clockwork.NewRealClock(),
		logger:      zerolog.Nop(),
		status:      StatusDisconnected,
		subscribers: make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cfg = m.cfg.withDefaults()
	m.poll.multiplier = 1
	m.epochCtx, m.epochCancel = context.WithCancel(context.Background())
	return m
}

// Start opens the conversation. A saved conversation id is resumed; if the
// agent reports it ended, a new conversation is created instead. Concurrent
// calls share one attempt. Start is a no-op while connecting or connected.
func (m *Manager) Start(ctx context.Context) error {
	_, err, _ := m.flights.Do("start", func() (any, error) {
		return nil, m.start(ctx)
	})
	return err
}

func (m *Manager) start(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	switch {
	case m.status == StatusConnecting || m.status == StatusConnected:
		m.mu.Unlock()
		return nil
	case !m.status.Startable():
		status := m.status
		m.mu.Unlock()
		m.logger.Debug().Str("status", string(status)).Msg("ignoring start")
		return ErrNotStartable
	}

	m.lastErr = nil
	m.setStatusLocked(StatusConnecting)
	m.loading++
	savedID := m.store.ConversationID()
	language := m.store.Language()
	if language == "" {
		language = m.cfg.ClientLanguage
	}
	callCtx, done, epoch := m.bindLocked(ctx)
	m.unlockAndNotify()
	defer m.finishLoading()
	defer done()

	opened, err := m.open(callCtx, savedID, language)
	return m.complete(epoch, opened, err)
}

// Restart deletes the current conversation when allowed, clears local state
// and creates a fresh conversation.
func (m *Manager) Restart(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.lastErr = nil
	m.setStatusLocked(StatusRestarting)
	m.loading++
	previous := m.deletableLocked()
	m.teardownLocked()
	m.unlockAndNotify()
	defer m.finishLoading()

	if previous != "" {
		m.removeRemote(ctx, previous)
	}

	m.mu.Lock()
	if m.closed || m.status != StatusRestarting {
		// Finished or closed while the delete was in flight.
		m.mu.Unlock()
		return nil
	}
	m.setStatusLocked(StatusConnecting)
	callCtx, done, epoch := m.bindLocked(ctx)
	m.unlockAndNotify()
	defer done()

	opened, err := m.create(callCtx)
	return m.complete(epoch, opened, err)
}

// Finish ends the session: status becomes ended, the remote conversation is
// deleted when allowed and the local state and saved id are cleared.
func (m *Manager) Finish(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.lastErr = nil
	m.setStatusLocked(StatusEnded)
	previous := m.deletableLocked()
	m.teardownLocked()
	m.loading++
	m.unlockAndNotify()
	defer m.finishLoading()

	if previous != "" {
		m.removeRemote(ctx, previous)
	}
	return nil
}

// SendMessage queues text optimistically and posts it. The POST result is
// merged and the next poll is pulled forward.
func (m *Manager) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.conversation == nil {
		m.mu.Unlock()
		return ErrNoConversation
	}
	if limit := m.conversation.State.MaxInput(m.cfg.DefaultMaxInputChars); utf8.RuneCountInString(text) >= limit {
		m.mu.Unlock()
		return ErrMessageTooLong
	}

	conversationID := m.conversation.ID
	m.queue.Push(text, m.clock.Now())
	m.draft = ""
	m.loading++
	m.dirty = true
	callCtx, done, epoch := m.bindLocked(ctx)
	m.unlockAndNotify()
	defer m.finishLoading()
	defer done()

	result, err := m.backend.Post(callCtx, conversationID, agent.Text(text))

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return err
	}
	if err != nil {
		if m.cfg.RollbackFailedSends && m.queue.Remove(text) {
			m.dirty = true
		}
		m.failLocked(err)
		m.unlockAndNotify()
		return err
	}
	m.mergeLocked(result.Conversation, result.Responses)
	m.kickPollLocked()
	m.unlockAndNotify()
	return nil
}

// SendAction posts an action link selection. Nothing is queued locally.
func (m *Manager) SendAction(ctx context.Context, linkID string) error {
	if linkID == "" {
		return ErrEmptyActionLink
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.conversation == nil {
		m.mu.Unlock()
		return ErrNoConversation
	}
	conversationID := m.conversation.ID
	m.loading++
	m.dirty = true
	callCtx, done, epoch := m.bindLocked(ctx)
	m.unlockAndNotify()
	defer m.finishLoading()
	defer done()

	result, err := m.backend.Post(callCtx, conversationID, agent.ActionLink(linkID))

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return err
	}
	if err != nil {
		m.failLocked(err)
		m.unlockAndNotify()
		return err
	}
	m.mergeLocked(result.Conversation, result.Responses)
	m.kickPollLocked()
	m.unlockAndNotify()
	return nil
}

// SendPing tells the agent the user is typing. Failures are logged only.
func (m *Manager) SendPing(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.conversation == nil {
		m.mu.Unlock()
		return
	}
	conversationID := m.conversation.ID
	callCtx, done, _ := m.bindLocked(ctx)
	m.mu.Unlock()
	defer done()

	m.ping(callCtx, conversationID)
}

// Close stops all timers and abandons in-flight calls. The saved
// conversation id is kept so a later manager can resume it. Subscriber
// channels are closed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.advanceEpochLocked()
	m.stopPollLocked()
	m.stopTypingLocked()
	m.mu.Unlock()

	m.subMu.Lock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.subMu.Unlock()
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

type opened struct {
	conversation chatmodel.Conversation
	responses    []chatmodel.Response
	created      bool
}

func (m *Manager) open(ctx context.Context, savedID, language string) (opened, error) {
	if savedID != "" {
		result, err := m.backend.Resume(ctx, savedID, language)
		if err == nil {
			return opened{conversation: result.Conversation, responses: result.Responses}, nil
		}
		if !errors.Is(err, agent.ErrSessionEnded) {
			return opened{}, err
		}
		m.logger.Info().Str("conversation_id", savedID).Msg("saved conversation has ended, creating a new one")
	}
	return m.create(ctx)
}

func (m *Manager) create(ctx context.Context) (opened, error) {
	result, err := m.backend.Create(ctx, m.cfg.ClientLanguage)
	if err != nil {
		return opened{}, err
	}
	return opened{
		conversation: result.Conversation,
		responses:    []chatmodel.Response{result.Response},
		created:      true,
	}, nil
}

// complete applies the outcome of a Start or Restart attempt.
func (m *Manager) complete(epoch uint64, result opened, err error) error {
	m.mu.Lock()
	if epoch != m.epoch {
		// Finish or Restart ran while the open was in flight. Nothing refers
		// to the conversation any more, so delete it when allowed. A closed
		// manager keeps resumed conversations, their id lives on in the
		// client's preferences.
		orphan := err == nil && result.conversation.State.AllowDeleteConversation &&
			(result.created || !m.closed)
		m.mu.Unlock()
		m.logger.Debug().Str("conversation_id", result.conversation.ID).Bool("delete", orphan).Msg("discarding stale session open")
		if orphan {
			m.removeRemote(context.Background(), result.conversation.ID)
		}
		return err
	}
	if err != nil {
		m.failLocked(err)
		m.unlockAndNotify()
		return err
	}

	// The agent stamps the greeting with its own clock, which can be skewed
	// against ours; the reveal schedule needs local time.
	if result.created && len(result.responses) > 0 && m.transcript.Len() == 0 {
		result.responses[0].DateCreated = m.clock.Now()
	}
	m.mergeLocked(result.conversation, result.responses)
	m.setStatusLocked(StatusConnected)
	m.poll.multiplier = 1
	m.schedulePollLocked()
	m.unlockAndNotify()

	m.logger.Info().Str("conversation_id", result.conversation.ID).Bool("created", result.created).Msg("conversation opened")
	return nil
}

func (m *Manager) removeRemote(ctx context.Context, conversationID string) {
	if _, err := m.backend.Remove(ctx, conversationID); err != nil {
		m.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("delete conversation failed")
	}
}

func (m *Manager) ping(ctx context.Context, conversationID string) {
	if _, err := m.backend.Ping(ctx, conversationID); err != nil && agent.Classify(err) != agent.CodeCanceled {
		m.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("typing ping failed")
	}
}

// mergeLocked replaces the conversation when it changed and reconciles the
// batch into transcript and queue.
func (m *Manager) mergeLocked(conversation chatmodel.Conversation, batch []chatmodel.Response) {
	if conversation.ID != "" {
		if m.conversation == nil || m.conversation.ID != conversation.ID {
			m.store.SetConversationID(conversation.ID)
		}
		if m.conversation == nil || m.conversation.ID != conversation.ID || !m.conversation.State.Equal(conversation.State) {
			c := conversation
			m.conversation = &c
			m.dirty = true
		}
	}

	result := reconcile(&m.transcript, &m.queue, batch, m.store.Language())
	if result.language != "" {
		m.store.SetLanguage(result.language)
		m.dirty = true
	}
	if result.queueChanged {
		m.dirty = true
	}
	if len(result.added) > 0 {
		m.dirty = true
		m.pendingMerges = append(m.pendingMerges, result.added)
	}
}

// failLocked routes err through the error taxonomy.
func (m *Manager) failLocked(err error) {
	switch agent.Classify(err) {
	case agent.CodeNone:
		return
	case agent.CodeCanceled:
		if m.status == StatusConnecting {
			m.setStatusLocked(StatusDisconnected)
		}
	case agent.CodeSessionEnded:
		m.logger.Info().Msg("conversation ended by agent")
		m.teardownLocked()
		m.lastErr = sessionError(err)
		m.setStatusLocked(StatusEnded)
	default:
		m.logger.Error().Err(err).Str("status", string(m.status)).Msg("session request failed")
		m.lastErr = sessionError(err)
		m.setStatusLocked(StatusError)
	}
	m.dirty = true
}

// setStatusLocked moves to status to when the transition table allows it.
func (m *Manager) setStatusLocked(to Status) bool {
	from := m.status
	if from == to {
		return true
	}
	if !from.CanTransition(to) {
		m.logger.Warn().Str("from", string(from)).Str("to", string(to)).Msg("rejected status transition")
		return false
	}
	m.status = to
	m.dirty = true
	m.pendingStatus = append(m.pendingStatus, statusChange{from: from, to: to})
	if !to.Polling() {
		m.stopPollLocked()
	}
	m.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("status changed")
	return true
}

// deletableLocked returns the conversation id when the agent allows deleting it.
func (m *Manager) deletableLocked() string {
	if m.conversation == nil || !m.conversation.State.AllowDeleteConversation {
		return ""
	}
	return m.conversation.ID
}

// teardownLocked drops every piece of conversation state and invalidates
// pending continuations.
func (m *Manager) teardownLocked() {
	m.advanceEpochLocked()
	m.stopPollLocked()
	m.stopTypingLocked()
	m.poll = pollState{multiplier: 1}
	m.conversation = nil
	m.transcript.Reset()
	m.queue.Clear()
	m.draft = ""
	m.store.SetConversationID("")
	m.dirty = true
}

func (m *Manager) advanceEpochLocked() {
	m.epoch++
	m.epochCancel()
	if m.closed {
		return
	}
	m.epochCtx, m.epochCancel = context.WithCancel(context.Background())
}

// bindLocked derives a context from parent that is also cancelled when the
// current epoch ends.
func (m *Manager) bindLocked(parent context.Context) (context.Context, func(), uint64) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(m.epochCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}, m.epoch
}

func (m *Manager) finishLoading() {
	m.mu.Lock()
	if m.loading > 0 {
		m.loading--
	}
	m.dirty = true
	m.unlockAndNotify()
}

// unlockAndNotify releases m.mu, then runs hooks and publishes a snapshot
// for whatever changed while it was held.
func (m *Manager) unlockAndNotify() {
	var snap Snapshot
	dirty := m.dirty && !m.closed
	if dirty {
		m.version++
		snap = m.snapshotLocked()
	}
	m.dirty = false
	changes := m.pendingStatus
	merges := m.pendingMerges
	m.pendingStatus = nil
	m.pendingMerges = nil
	m.mu.Unlock()

	for _, change := range changes {
		for _, fn := range m.onStatus {
			fn(change.from, change.to)
		}
	}
	for _, added := range merges {
		for _, fn := range m.onMerge {
			fn(added)
		}
	}
	if dirty {
		m.broadcast(snap)
	}
}

package prefs

import "sync"

// Preferences is the per-widget state that survives page reloads.
type Preferences struct {
	ConversationID string `json:"conversationId,omitempty"`
	Language       string `json:"language,omitempty"`
	Open           bool   `json:"open"`
	Unread         int    `json:"unread"`
}

// Store exposes the persisted widget state to the session core.
type Store interface {
	Load() Preferences
	ConversationID() string
	SetConversationID(id string)
	Language() string
	SetLanguage(language string)
	SetOpen(open bool)
	SetUnread(count int)
	AddUnread(delta int) int
}

// MemoryStore implements Store in memory. The gateway mirrors it to cookies.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs Preferences
}

// NewMemoryStore returns a MemoryStore seeded with initial.
func NewMemoryStore(initial Preferences) *MemoryStore {
	if initial.Unread < 0 {
		initial.Unread = 0
	}
	return &MemoryStore{prefs: initial}
}

// Load returns a copy of the current preferences.
func (s *MemoryStore) Load() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// ConversationID returns the saved conversation id, empty when none.
func (s *MemoryStore) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs.ConversationID
}

// SetConversationID saves id; an empty id clears it.
func (s *MemoryStore) SetConversationID(id string) {
	s.mu.Lock()
	s.prefs.ConversationID = id
	s.mu.Unlock()
}

// Language returns the tracked UI language, empty when unknown.
func (s *MemoryStore) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs.Language
}

// SetLanguage records language. Empty values are ignored.
func (s *MemoryStore) SetLanguage(language string) {
	if language == "" {
		return
	}
	s.mu.Lock()
	s.prefs.Language = language
	s.mu.Unlock()
}

// SetOpen records whether the widget panel is open.
func (s *MemoryStore) SetOpen(open bool) {
	s.mu.Lock()
	s.prefs.Open = open
	s.mu.Unlock()
}

// SetUnread overwrites the unread counter.
func (s *MemoryStore) SetUnread(count int) {
	if count < 0 {
		count = 0
	}
	s.mu.Lock()
	s.prefs.Unread = count
	s.mu.Unlock()
}

// AddUnread increments the unread counter and returns the new value.
func (s *MemoryStore) AddUnread(delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.Unread += delta
	if s.prefs.Unread < 0 {
		s.prefs.Unread = 0
	}
	return s.prefs.Unread
}

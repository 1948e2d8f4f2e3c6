// Package session keeps the per-browser dialogue state in memory: persona
// metadata, transcript, display feed and an optional API key override.
// Nothing here outlives the process; finished dialogues are persisted by the
// transcript package.
package session

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/persona-dialogue/internal/dialogue"
	"github.com/comigor/persona-dialogue/internal/domain"
	"github.com/comigor/persona-dialogue/internal/logger"
)

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrBusy is returned when a dialogue is already running in the session.
	ErrBusy = errors.New("a dialogue is already running in this session")
)

// Session is one user's dialogue workspace.
type Session struct {
	ID        string
	CreatedAt time.Time

	run sync.Mutex // held for the duration of a dialogue

	mu      sync.Mutex
	meta    domain.CharacterMeta
	history []domain.TextMessage
	feed    []domain.FeedItem
	apiKey  string
	running bool
}

// Snapshot is a point-in-time copy of a session, safe to serialize.
type Snapshot struct {
	ID        string               `json:"id"`
	CreatedAt time.Time            `json:"created_at"`
	Meta      domain.CharacterMeta `json:"meta"`
	History   []domain.TextMessage `json:"history"`
	Feed      []domain.FeedItem    `json:"feed"`
	HasAPIKey bool                 `json:"has_api_key"`
	Running   bool                 `json:"running"`
}

func newSession(defaults domain.CharacterMeta) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		meta:      defaults,
		history:   []domain.TextMessage{},
	}
}

// Snapshot copies the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Meta:      s.meta,
		History:   slices.Clone(s.history),
		Feed:      slices.Clone(s.feed),
		HasAPIKey: s.apiKey != "",
		Running:   s.running,
	}
}

// Meta returns the persona metadata.
func (s *Session) Meta() domain.CharacterMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// History returns a copy of the transcript.
func (s *Session) History() []domain.TextMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// SetPersonas replaces the four persona fields and keeps the image paths.
// It fails with ErrBusy while a dialogue runs.
func (s *Session) SetPersonas(userName, userInfo, botName, botInfo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrBusy
	}
	s.meta.UserName = userName
	s.meta.UserInfo = userInfo
	s.meta.BotName = botName
	s.meta.BotInfo = botInfo
	return nil
}

// ClearMeta empties the persona metadata. It fails with ErrBusy while a
// dialogue runs.
func (s *Session) ClearMeta() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrBusy
	}
	s.meta = domain.CharacterMeta{}
	return nil
}

// Reset empties the transcript, the feed and the persona metadata. It fails
// with ErrBusy while a dialogue runs, since the run would commit over it.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrBusy
	}
	s.meta = domain.CharacterMeta{}
	s.history = []domain.TextMessage{}
	s.feed = nil
	return nil
}

// SetAPIKey overrides the configured credential for this session. An empty
// key removes the override.
func (s *Session) SetAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = key
}

// APIKey returns the session override, or fallback when none is set.
func (s *Session) APIKey(fallback string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.apiKey != "" {
		return s.apiKey
	}
	return fallback
}

// Publish appends item to the display feed. It implements domain.Feed.
func (s *Session) Publish(item domain.FeedItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feed = append(s.feed, item)
}

// Conversation copies the state a dialogue run starts from.
func (s *Session) Conversation() dialogue.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dialogue.Conversation{Meta: s.meta, History: slices.Clone(s.history)}
}

// Commit stores the state a dialogue run ended with.
func (s *Session) Commit(conv dialogue.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = conv.Meta
	s.history = conv.History
}

// Exclusive runs fn while holding the session's dialogue lock. It fails with
// ErrBusy instead of waiting when another dialogue holds it.
func (s *Session) Exclusive(fn func() error) error {
	if !s.run.TryLock() {
		return ErrBusy
	}
	defer s.run.Unlock()

	s.setRunning(true)
	defer s.setRunning(false)
	return fn()
}

func (s *Session) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

// Store holds all live sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	defaults domain.CharacterMeta
}

// NewStore creates a Store whose new sessions start with defaults.
func NewStore(defaults domain.CharacterMeta) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		defaults: defaults,
	}
}

// Create registers a new session.
func (st *Store) Create() *Session {
	s := newSession(st.defaults)
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	logger.L.Info("session created", "session_id", s.ID)
	return s
}

// Get returns the session with id.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete drops the session with id.
func (st *Store) Delete(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(st.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

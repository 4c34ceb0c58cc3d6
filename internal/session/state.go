package session

import (
	"sync"
	"time"
)

// TokenStats holds a session's running usage totals. Both counters are
// monotonically non-decreasing for the lifetime of the session.
type TokenStats struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// State is the per-session mutable state: the single-slot policy cache, the
// token totals, and the set of message ids whose usage has been folded.
// One session never has two concurrent in-flight requests (the handler
// serializes them), but State still locks so reads from other goroutines
// (stats endpoints) are safe.
type State struct {
	ID string

	mu             sync.Mutex
	cacheSignature string
	cacheContent   string
	cachedAt       time.Time
	stats          TokenStats
	foldedMessages map[string]struct{}
}

func newState(id string) *State {
	return &State{
		ID:             id,
		foldedMessages: make(map[string]struct{}),
	}
}

// FoldUsage adds a message's token usage into the session totals exactly
// once, keyed by message identity. Returns false when the message was
// already folded. The fold is all-or-nothing: both counters move together.
func (s *State) FoldUsage(messageID string, inputTokens, outputTokens int) bool {
	if messageID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.foldedMessages[messageID]; done {
		return false
	}
	s.foldedMessages[messageID] = struct{}{}
	s.stats.InputTokens += inputTokens
	s.stats.OutputTokens += outputTokens
	return true
}

func (s *State) Stats() TokenStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Store keeps per-session state keyed by session id. Sessions are fully
// independent; the store only guards the map itself.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*State
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*State)}
}

// Get returns the state for a session, creating it on first use.
func (st *Store) Get(sessionID string) *State {
	st.mu.Lock()
	defer st.mu.Unlock()
	state, ok := st.sessions[sessionID]
	if !ok {
		state = newState(sessionID)
		st.sessions[sessionID] = state
	}
	return state
}

// Drop discards a session's state, including its cache slot and totals.
func (st *Store) Drop(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, sessionID)
}

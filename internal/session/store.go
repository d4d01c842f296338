package session

import (
	"sync"
	"time"
)

// Role tags one transcript turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session transcript.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"content"`
}

// Session is a bounded in-memory conversation transcript for one caller interaction.
type Session struct {
	ID             string    `json:"session_id"`
	Turns          []Turn    `json:"turns"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Store owns all live session transcripts for the process.
//
// Sessions are retained until explicitly cleared; there is no TTL eviction. Access
// to distinct session ids is independent. Two concurrent writers to the same id are
// serialized at map level only, so interleaved Reply calls for one id can still
// produce an out-of-order transcript (single caller per session is assumed).
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	window   int
}

// NewStore creates a store retaining the system turn plus the most recent
// window user/assistant turns per session.
func NewStore(window int) *Store {
	if window <= 0 {
		window = 8
	}
	return &Store{
		sessions: make(map[string]*Session),
		window:   window,
	}
}

// GetOrCreate returns a copy of the session transcript, creating an empty
// session for unseen ids. It does not seed the system turn.
func (s *Store) GetOrCreate(sessionID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.getOrCreateLocked(sessionID))
}

// Append adds a turn to the session, creating it if needed. A system turn
// replaces any existing one and always sits first. When the transcript grows
// beyond the system turn plus the retained window, the oldest user/assistant
// turns are dropped.
func (s *Store) Append(sessionID string, role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID)
	sess.LastActivityAt = time.Now().UTC()

	if role == RoleSystem {
		if len(sess.Turns) > 0 && sess.Turns[0].Role == RoleSystem {
			sess.Turns[0].Text = text
			return
		}
		sess.Turns = append([]Turn{{Role: RoleSystem, Text: text}}, sess.Turns...)
		return
	}

	sess.Turns = append(sess.Turns, Turn{Role: role, Text: text})
	s.trimLocked(sess)
}

// Snapshot returns a copy of the session's turns, or nil for unknown ids.
func (s *Store) Snapshot(sessionID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Turn, len(sess.Turns))
	copy(out, sess.Turns)
	return out
}

// Clear removes all state for the id. Clearing an unknown id is a no-op.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// ActiveCount reports the number of live sessions.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) getOrCreateLocked(sessionID string) *Session {
	sess, ok := s.sessions[sessionID]
	if !ok {
		now := time.Now().UTC()
		sess = &Session{ID: sessionID, StartedAt: now, LastActivityAt: now}
		s.sessions[sessionID] = sess
	}
	return sess
}

func (s *Store) trimLocked(sess *Session) {
	hasSystem := len(sess.Turns) > 0 && sess.Turns[0].Role == RoleSystem
	max := s.window
	if hasSystem {
		max++
	}
	if len(sess.Turns) <= max {
		return
	}

	trimmed := make([]Turn, 0, max)
	if hasSystem {
		trimmed = append(trimmed, sess.Turns[0])
	}
	trimmed = append(trimmed, sess.Turns[len(sess.Turns)-s.window:]...)
	sess.Turns = trimmed
}

func clone(sess *Session) *Session {
	cp := *sess
	cp.Turns = make([]Turn, len(sess.Turns))
	copy(cp.Turns, sess.Turns)
	return &cp
}

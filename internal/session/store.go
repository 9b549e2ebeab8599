// Package session holds live generation sessions in memory. The store
// is created per engine instance and injected into its users, so two
// engines in one process never share state.
package session

import (
	"sync"
	"time"

	"appforge/internal/logging"
	"appforge/internal/project"
)

// Event is one prompt handled for an app.
type Event struct {
	JobID  string
	Prompt string
	At     time.Time
}

// Session is an app's live state: its current file set and recent
// prompt history.
type Session struct {
	AppID     string
	Files     []project.File
	History   []Event
	UpdatedAt time.Time
}

// Store owns sessions keyed by app id. All methods are safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	maxSessions int
	maxIdle     time.Duration
	maxHistory  int

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSessions caps the session count; the stalest session is
// evicted when the cap is exceeded.
func WithMaxSessions(n int) Option {
	return func(s *Store) { s.maxSessions = n }
}

// WithMaxIdle sets how long an untouched session survives a Sweep.
func WithMaxIdle(d time.Duration) Option {
	return func(s *Store) { s.maxIdle = d }
}

func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]*Session),
		maxSessions: 1000,
		maxIdle:     time.Hour,
		maxHistory:  50,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a snapshot of the app's session. The returned files and
// history are copies; mutating them does not affect the store.
func (s *Store) Get(appID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[appID]
	if !ok {
		return nil, false
	}
	return &Session{
		AppID:     sess.AppID,
		Files:     append([]project.File(nil), sess.Files...),
		History:   append([]Event(nil), sess.History...),
		UpdatedAt: sess.UpdatedAt,
	}, true
}

// Put replaces the app's file set, creating the session if needed.
func (s *Store) Put(appID string, files []project.File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[appID]
	if sess == nil {
		sess = &Session{AppID: appID}
		s.sessions[appID] = sess
		s.evictOverflowLocked()
	}
	sess.Files = append([]project.File(nil), files...)
	sess.UpdatedAt = s.now()
}

// Record appends a prompt event to the app's history, creating the
// session if needed. History is bounded; the oldest events fall off.
func (s *Store) Record(appID, jobID, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[appID]
	if sess == nil {
		sess = &Session{AppID: appID}
		s.sessions[appID] = sess
		s.evictOverflowLocked()
	}
	sess.History = append(sess.History, Event{JobID: jobID, Prompt: prompt, At: s.now()})
	if len(sess.History) > s.maxHistory {
		sess.History = sess.History[len(sess.History)-s.maxHistory:]
	}
	sess.UpdatedAt = s.now()
}

// Evict removes one session.
func (s *Store) Evict(appID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, appID)
}

// Sweep evicts sessions idle longer than the configured maximum and
// returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.maxIdle)
	removed := 0
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		logging.Job("session sweep evicted %d idle sessions", removed)
	}
	return removed
}

// Len returns the live session count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// evictOverflowLocked drops the stalest session while over the cap.
func (s *Store) evictOverflowLocked() {
	for len(s.sessions) > s.maxSessions {
		var oldest string
		var oldestAt time.Time
		first := true
		for id, sess := range s.sessions {
			if first || sess.UpdatedAt.Before(oldestAt) {
				oldest = id
				oldestAt = sess.UpdatedAt
				first = false
			}
		}
		delete(s.sessions, oldest)
	}
}

package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore implements Store with plain maps. It mirrors the semantics of
// RedisStore (absent keys, history bound, counter discipline) without the
// TTL behaviour and is intended for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	bound    int
	sessions map[string]*Session
	contexts map[string]*Context
	// history is kept newest first, matching the Redis layout
	history map[string][]HistoryEntry
	viewed  map[string][]string
	metrics map[string]int64
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryHistoryBound overrides the history bound.
func WithMemoryHistoryBound(n int) MemoryOption {
	return func(s *MemoryStore) { s.bound = n }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		bound:    DefaultHistoryBound,
		sessions: map[string]*Session{},
		contexts: map[string]*Context{},
		history:  map[string][]HistoryEntry{},
		viewed:   map[string][]string{},
		metrics:  map[string]int64{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) CreateSession(_ context.Context, userID, clientIP string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{
		UserID:      userID,
		ClientIP:    clientIP,
		ConnectTime: time.Now().UTC(),
	}
	s.sessions[userID] = sess
	return cloneSession(sess), nil
}

func (s *MemoryStore) GetSession(_ context.Context, userID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSession(s.sessions[userID]), nil
}

func (s *MemoryStore) CloseSession(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	sess.DisconnectTime = &now
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, userID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := HistoryEntry{Timestamp: time.Now().UTC(), Role: role, Content: content}
	log := append([]HistoryEntry{entry}, s.history[userID]...)
	if len(log) > s.bound {
		log = log[:s.bound]
	}
	s.history[userID] = log

	if role == RoleUser {
		if sess, ok := s.sessions[userID]; ok {
			sess.TotalMessages++
		}
	}
	return nil
}

func (s *MemoryStore) History(_ context.Context, userID string, limit int) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.history[userID]
	if limit <= 0 || limit > len(log) {
		limit = len(log)
	}
	entries := make([]HistoryEntry, limit)
	for i := 0; i < limit; i++ {
		entries[limit-1-i] = log[i]
	}
	return entries, nil
}

func (s *MemoryStore) LoadContext(_ context.Context, userID string) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneContext(s.contexts[userID]), nil
}

func (s *MemoryStore) SaveContext(_ context.Context, c *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.LastUpdated = time.Now().UTC()
	s.contexts[c.UserID] = cloneContext(c)
	return nil
}

func (s *MemoryStore) UpdateContext(_ context.Context, userID string, upd ContextUpdate) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := applyContextUpdate(cloneContext(s.contexts[userID]), userID, upd)
	c.LastUpdated = time.Now().UTC()
	s.contexts[userID] = c
	return cloneContext(c), nil
}

func (s *MemoryStore) AddViewedCourse(_ context.Context, userID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !containsString(s.viewed[userID], code) {
		s.viewed[userID] = append(s.viewed[userID], code)
	}
	return nil
}

func (s *MemoryStore) ViewedCourses(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]string, len(s.viewed[userID]))
	copy(codes, s.viewed[userID])
	return codes, nil
}

func (s *MemoryStore) IncrementMetric(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s:%s", name, time.Now().UTC().Format("2006-01-02"))
	s.metrics[key]++
	return s.metrics[key], nil
}

func cloneSession(sess *Session) *Session {
	if sess == nil {
		return nil
	}
	out := *sess
	if sess.DisconnectTime != nil {
		t := *sess.DisconnectTime
		out.DisconnectTime = &t
	}
	return &out
}

func cloneContext(c *Context) *Context {
	if c == nil {
		return nil
	}
	out := *c
	out.Preferences = make(map[string]string, len(c.Preferences))
	for k, v := range c.Preferences {
		out.Preferences[k] = v
	}
	out.ViewedCourses = make([]string, len(c.ViewedCourses))
	copy(out.ViewedCourses, c.ViewedCourses)
	return &out
}

var _ Store = (*MemoryStore)(nil)

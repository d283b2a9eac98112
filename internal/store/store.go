package store

import "context"

// DefaultHistoryBound is the maximum number of turns kept per user. The
// oldest entries are dropped once the bound is exceeded.
const DefaultHistoryBound = 500

// SessionStore persists per-user session metadata.
//
// All loads return (nil, nil) for an absent key. Concurrent writers for the
// same user race and the last write physically applied wins; every write
// re-arms the retention TTL.
type SessionStore interface {
	// CreateSession stores a fresh session for the user, replacing any
	// previous one.
	CreateSession(ctx context.Context, userID, clientIP string) (*Session, error)

	// GetSession loads the session, or nil when none is stored.
	GetSession(ctx context.Context, userID string) (*Session, error)

	// CloseSession stamps the disconnect time. No-op when no session exists.
	CloseSession(ctx context.Context, userID string) error
}

// HistoryStore is a bounded append log of chat turns per user. Entries are
// stored newest-first and read back chronologically.
type HistoryStore interface {
	// AppendMessage appends one turn, trimming the log to the configured
	// bound. A user turn also increments the session message counter.
	AppendMessage(ctx context.Context, userID, role, content string) error

	// History returns up to limit of the most recent turns, oldest first.
	History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error)
}

// ContextStore persists the per-user conversational context.
type ContextStore interface {
	// LoadContext loads the context, or nil when none is stored.
	LoadContext(ctx context.Context, userID string) (*Context, error)

	// SaveContext stores the context as-is, refreshing its TTL.
	SaveContext(ctx context.Context, c *Context) error

	// UpdateContext applies a shallow patch, creating the context lazily on
	// first use, and increments ConversationCount by exactly one.
	UpdateContext(ctx context.Context, userID string, upd ContextUpdate) (*Context, error)

	// AddViewedCourse records a course code in the user's viewed set.
	AddViewedCourse(ctx context.Context, userID, code string) error

	// ViewedCourses returns the recorded course codes.
	ViewedCourses(ctx context.Context, userID string) ([]string, error)
}

// MetricsStore keeps cheap daily counters for analytics.
type MetricsStore interface {
	// IncrementMetric bumps today's counter for the named metric and
	// returns the new value.
	IncrementMetric(ctx context.Context, name string) (int64, error)
}

// Store is the full persistence surface backing the chat gateway. Two
// implementations exist: RedisStore for production and MemoryStore for tests.
type Store interface {
	SessionStore
	HistoryStore
	ContextStore
	MetricsStore
}

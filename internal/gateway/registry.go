package gateway

import (
	"context"
	"sync"

	"github.com/IvanShepeta/CRMconnector/internal/store"
	logx "github.com/IvanShepeta/CRMconnector/pkg/logger"
)

// Conn is one live duplex channel to a client. *websocket.Conn satisfies it;
// tests plug in fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Registry maps user IDs to their live connection. At most one connection
// exists per user; a reconnect silently replaces the previous one. All sends
// are best-effort: a user without a connection is a no-op, and a failed
// write is logged and swallowed.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]Conn
	sessions store.Store
}

func NewRegistry(sessions store.Store) *Registry {
	return &Registry{
		conns:    map[string]Conn{},
		sessions: sessions,
	}
}

// Connect registers the connection and creates the durable session. It
// reports whether a previous connection for the same user was evicted; the
// old handle is not closed, it simply becomes unreachable via the registry.
func (r *Registry) Connect(ctx context.Context, userID string, conn Conn, clientIP string) (evicted bool, err error) {
	r.mu.Lock()
	_, evicted = r.conns[userID]
	r.conns[userID] = conn
	r.mu.Unlock()

	if evicted {
		logx.Warn().Str("user_id", userID).Msg("replacing live connection for user")
	}

	if _, err := r.sessions.CreateSession(ctx, userID, clientIP); err != nil {
		// the channel is still usable without a durable session
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to create session")
	}

	logx.Info().Str("user_id", userID).Str("ip", clientIP).Msg("user connected")
	return evicted, nil
}

// Disconnect removes the connection, closes it best-effort and stamps the
// session's disconnect time. Safe to call for users that never connected.
func (r *Registry) Disconnect(ctx context.Context, userID string) {
	r.mu.Lock()
	conn, ok := r.conns[userID]
	delete(r.conns, userID)
	r.mu.Unlock()

	if ok {
		if err := conn.Close(); err != nil {
			logx.Debug().Err(err).Str("user_id", userID).Msg("connection close failed")
		}
	}

	if err := r.sessions.CloseSession(ctx, userID); err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to close session")
	}

	logx.Info().Str("user_id", userID).Msg("user disconnected")
}

// Send pushes a persisted turn to the user and appends it to the history
// log. A user without a live connection receives nothing and nothing is
// persisted.
func (r *Registry) Send(ctx context.Context, userID, role, content string) {
	if !r.write(userID, MessageEvent(role, content)) {
		return
	}
	if err := r.sessions.AppendMessage(ctx, userID, role, content); err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to persist message")
	}
}

// SendTransient pushes an event without touching persistence.
func (r *Registry) SendTransient(userID string, ev Event) {
	r.write(userID, ev)
}

// SendChunk forwards one streamed fragment. Fragments are never persisted;
// only the assembled reply is.
func (r *Registry) SendChunk(userID, chunk string) {
	r.write(userID, ChunkEvent(chunk))
}

// SendStreamEnd forwards the end-of-reply marker.
func (r *Registry) SendStreamEnd(userID string) {
	r.write(userID, StreamEndEvent())
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// write pushes an event to the user's connection, reporting whether a
// connection was registered at all.
func (r *Registry) write(userID string, ev Event) bool {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := conn.WriteJSON(ev); err != nil {
		logx.Warn().Err(err).Str("user_id", userID).Msg("failed to write event")
	}
	return true
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	errx "github.com/IvanShepeta/CRMconnector/internal/core/error"
	logx "github.com/IvanShepeta/CRMconnector/pkg/logger"
)

const (
	defaultSessionTTL = 7 * 24 * time.Hour
	metricsTTL        = 30 * 24 * time.Hour
)

// RedisStore implements Store on top of a Redis server. Every operation is a
// single logical round trip; there are no multi-key transactions and no
// optimistic concurrency.
type RedisStore struct {
	rdb   redis.Cmdable
	ttl   time.Duration
	bound int
}

// RedisOption customises a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL overrides the retention window applied to every key write.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithHistoryBound overrides the maximum number of retained history entries.
func WithHistoryBound(n int) RedisOption {
	return func(s *RedisStore) { s.bound = n }
}

func NewRedisStore(rdb redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, ttl: defaultSessionTTL, bound: DefaultHistoryBound}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionKey(userID string) string { return fmt.Sprintf("session:%s", userID) }
func historyKey(userID string) string { return fmt.Sprintf("chat:%s", userID) }
func contextKey(userID string) string { return fmt.Sprintf("context:%s", userID) }
func viewedKey(userID string) string  { return fmt.Sprintf("viewed:%s", userID) }

func metricsKey(name string, day time.Time) string {
	return fmt.Sprintf("metrics:%s:%s", name, day.UTC().Format("2006-01-02"))
}

func (s *RedisStore) CreateSession(ctx context.Context, userID, clientIP string) (*Session, error) {
	sess := &Session{
		UserID:      userID,
		ClientIP:    clientIP,
		ConnectTime: time.Now().UTC(),
	}
	if err := s.putJSON(ctx, sessionKey(userID), sess); err != nil {
		return nil, err
	}
	logx.Debug().Str("user_id", userID).Str("ip", clientIP).Msg("session created")
	return sess, nil
}

func (s *RedisStore) GetSession(ctx context.Context, userID string) (*Session, error) {
	var sess Session
	ok, err := s.getJSON(ctx, sessionKey(userID), &sess)
	if err != nil || !ok {
		return nil, err
	}
	return &sess, nil
}

func (s *RedisStore) CloseSession(ctx context.Context, userID string) error {
	sess, err := s.GetSession(ctx, userID)
	if err != nil || sess == nil {
		return err
	}
	now := time.Now().UTC()
	sess.DisconnectTime = &now
	return s.putJSON(ctx, sessionKey(userID), sess)
}

func (s *RedisStore) AppendMessage(ctx context.Context, userID, role, content string) error {
	entry := HistoryEntry{Timestamp: time.Now().UTC(), Role: role, Content: content}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	key := historyKey(userID)
	// newest first; trim immediately so the bound never leaks to a reader
	if err := s.rdb.LPush(ctx, key, b).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push history entry")
		return errx.WrapRedis(err)
	}
	if err := s.rdb.LTrim(ctx, key, 0, int64(s.bound-1)).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to trim history")
		return errx.WrapRedis(err)
	}
	if err := s.touch(ctx, key); err != nil {
		return err
	}

	if role == RoleUser {
		return s.bumpSessionCounter(ctx, userID)
	}
	return nil
}

func (s *RedisStore) bumpSessionCounter(ctx context.Context, userID string) error {
	sess, err := s.GetSession(ctx, userID)
	if err != nil || sess == nil {
		return err
	}
	sess.TotalMessages++
	return s.putJSON(ctx, sessionKey(userID), sess)
}

func (s *RedisStore) History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = s.bound
	}
	key := historyKey(userID)
	rows, err := s.rdb.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		if err == redis.Nil {
			return []HistoryEntry{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load history")
		return nil, errx.WrapRedis(err)
	}

	// stored newest first, read back oldest first
	entries := make([]HistoryEntry, len(rows))
	for i, raw := range rows {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("unmarshal history entry at index %d: %w", i, err)
		}
		entries[len(rows)-1-i] = e
	}
	return entries, nil
}

func (s *RedisStore) LoadContext(ctx context.Context, userID string) (*Context, error) {
	var c Context
	ok, err := s.getJSON(ctx, contextKey(userID), &c)
	if err != nil || !ok {
		return nil, err
	}
	return &c, nil
}

func (s *RedisStore) SaveContext(ctx context.Context, c *Context) error {
	c.LastUpdated = time.Now().UTC()
	return s.putJSON(ctx, contextKey(c.UserID), c)
}

func (s *RedisStore) UpdateContext(ctx context.Context, userID string, upd ContextUpdate) (*Context, error) {
	c, err := s.LoadContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	c = applyContextUpdate(c, userID, upd)
	if err := s.SaveContext(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *RedisStore) AddViewedCourse(ctx context.Context, userID, code string) error {
	key := viewedKey(userID)
	if err := s.rdb.SAdd(ctx, key, code).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to record viewed course")
		return errx.WrapRedis(err)
	}
	return s.touch(ctx, key)
}

func (s *RedisStore) ViewedCourses(ctx context.Context, userID string) ([]string, error) {
	codes, err := s.rdb.SMembers(ctx, viewedKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return []string{}, nil
		}
		return nil, errx.WrapRedis(err)
	}
	return codes, nil
}

func (s *RedisStore) IncrementMetric(ctx context.Context, name string) (int64, error) {
	key := metricsKey(name, time.Now())
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, errx.WrapRedis(err)
	}
	if err := s.rdb.Expire(ctx, key, metricsTTL).Err(); err != nil {
		return n, errx.WrapRedis(err)
	}
	return n, nil
}

func (s *RedisStore) putJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, b, s.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to write key")
		return errx.WrapRedis(err)
	}
	return nil
}

// getJSON loads and decodes a key, reporting whether it existed.
func (s *RedisStore) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to read key")
		return false, errx.WrapRedis(err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// touch re-arms the retention window on a key.
func (s *RedisStore) touch(ctx context.Context, key string) error {
	if s.ttl <= 0 {
		return nil
	}
	ok, err := s.rdb.Expire(ctx, key, s.ttl).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
		return errx.WrapRedis(err)
	}
	if !ok {
		logx.Warn().Str("key", key).Dur("ttl", s.ttl).Msg("failed to set TTL on key")
	}
	return nil
}

// applyContextUpdate merges a patch into an existing context, creating a
// fresh one when none is stored yet. ConversationCount goes up by one.
func applyContextUpdate(c *Context, userID string, upd ContextUpdate) *Context {
	if c == nil {
		c = &Context{
			UserID:        userID,
			FirstContact:  time.Now().UTC(),
			Preferences:   map[string]string{},
			ViewedCourses: []string{},
		}
	}
	if upd.Company != nil {
		c.Company = *upd.Company
	}
	if upd.IsCorporate != nil {
		c.IsCorporate = *upd.IsCorporate
	}
	if c.Preferences == nil {
		c.Preferences = map[string]string{}
	}
	for k, v := range upd.Preferences {
		c.Preferences[k] = v
	}
	for _, code := range upd.ViewedCourses {
		if !containsString(c.ViewedCourses, code) {
			c.ViewedCourses = append(c.ViewedCourses, code)
		}
	}
	c.ConversationCount++
	return c
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

var _ Store = (*RedisStore)(nil)

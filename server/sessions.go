package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrUserNotFound guards session creation: a session must always follow a
// successful directory upsert.
var ErrUserNotFound = errors.New("user not found")

// Session cache and liveness defaults. The 60-second cache TTL is the
// acceptable staleness window for profile drift; explicit deletion always
// invalidates the cache synchronously.
const (
	DefaultSessionTTL       = 30 * 24 * time.Hour
	DefaultCacheSize        = 1000
	DefaultCacheTTL         = 60 * time.Second
	DefaultLastSeenInterval = 5 * time.Minute

	lastSeenWriteTimeout = 5 * time.Second
)

// cachedSession denormalizes a session with its user. lastSeenUpdate
// tracks (unix nanoseconds) when we last scheduled a liveness write for
// this entry; it is atomic because request handlers race on it.
type cachedSession struct {
	session        Session
	user           User
	lastSeenUpdate atomic.Int64
}

// SessionStore issues, caches, resolves, and revokes opaque session IDs.
// The durable store is the source of truth; the bounded LRU in front of it
// is a best-effort read accelerator.
type SessionStore struct {
	store            Store
	cache            *expirable.LRU[string, *cachedSession]
	logger           *slog.Logger
	ttl              time.Duration
	lastSeenInterval time.Duration
}

// NewSessionStore wires the cache in front of the durable store.
func NewSessionStore(store Store, cfg SessionConfig, logger *slog.Logger) *SessionStore {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	interval := cfg.LastSeenInterval
	if interval <= 0 {
		interval = DefaultLastSeenInterval
	}

	return &SessionStore{
		store:            store,
		cache:            expirable.NewLRU[string, *cachedSession](size, nil, cacheTTL),
		logger:           logger,
		ttl:              ttl,
		lastSeenInterval: interval,
	}
}

// Create issues a new session for userID. The raw IP and user agent are
// digested before anything is persisted. Expiry is absolute: createdAt
// plus the session TTL, never extended afterwards.
func (s *SessionStore) Create(ctx context.Context, userID, ipAddress, userAgent string) (string, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup user %s: %w", userID, err)
	}

	now := time.Now()
	sess := Session{
		ID:         newToken(),
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
		LastSeenAt: now,
		CSRFSecret: newToken(),
		IPHash:     hashClientValue(ipAddress),
	}
	if userAgent != "" {
		sess.UAHash = hashClientValue(userAgent)
	}

	if err := s.store.PutSession(ctx, sess); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}

	entry := &cachedSession{session: sess, user: user}
	entry.lastSeenUpdate.Store(now.UnixNano())
	s.cache.Add(sess.ID, entry)

	return sess.ID, nil
}

// Resolve returns the session/user pair for sessionID, or ErrNotFound for
// missing, expired, and orphaned sessions alike. Expiry is enforced lazily
// here rather than by a background sweep.
func (s *SessionStore) Resolve(ctx context.Context, sessionID string) (Session, User, error) {
	now := time.Now()

	if entry, ok := s.cache.Get(sessionID); ok {
		last := entry.lastSeenUpdate.Load()
		if now.UnixNano()-last > int64(s.lastSeenInterval) &&
			entry.lastSeenUpdate.CompareAndSwap(last, now.UnixNano()) {
			go s.refreshLastSeen(sessionID, now)
		}
		return entry.session, entry.user, nil
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return Session{}, User{}, ErrNotFound
	}
	if err != nil {
		return Session{}, User{}, fmt.Errorf("read session: %w", err)
	}

	if sess.ExpiresAt.Before(now) {
		if err := s.Delete(ctx, sessionID); err != nil {
			s.logger.Warn("expired session cleanup failed", "error", err)
		}
		return Session{}, User{}, ErrNotFound
	}

	user, err := s.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, ErrNotFound) {
		// A session must never outlive its user.
		if err := s.Delete(ctx, sessionID); err != nil {
			s.logger.Warn("orphaned session cleanup failed", "error", err)
		}
		return Session{}, User{}, ErrNotFound
	}
	if err != nil {
		return Session{}, User{}, fmt.Errorf("read session user: %w", err)
	}

	entry := &cachedSession{session: sess, user: user}
	entry.lastSeenUpdate.Store(now.UnixNano())
	s.cache.Add(sessionID, entry)

	if now.Sub(sess.LastSeenAt) > s.lastSeenInterval {
		go s.refreshLastSeen(sessionID, now)
	}

	return sess, user, nil
}

// Delete removes the session from the cache and the durable store. It is
// idempotent, and the synchronous cache invalidation means revocation is
// never subject to the cache staleness window.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	s.cache.Remove(sessionID)
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// refreshLastSeen is the fire-and-forget liveness write. It never blocks a
// read path and its failure is logged, not surfaced.
func (s *SessionStore) refreshLastSeen(sessionID string, lastSeenAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), lastSeenWriteTimeout)
	defer cancel()
	if err := s.store.UpdateSessionLastSeen(ctx, sessionID, lastSeenAt); err != nil {
		s.logger.Warn("lastSeenAt update failed", "session_id", sessionID, "error", err)
	}
}

package server

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedUser(t *testing.T, store Store, userID string) User {
	t.Helper()
	now := time.Now()
	user := User{
		UserID:        userID,
		Name:          "Test User",
		Email:         "user@example.com",
		EmailVerified: true,
		Picture:       "https://example.com/avatar.png",
		CreatedAt:     now,
		UpdatedAt:     now,
		LastLoginAt:   now,
	}
	if err := store.PutUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func newTestSessionStore(store Store) *SessionStore {
	return NewSessionStore(store, DefaultConfig().Sessions, testLogger())
}

func TestSessionRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	sessions := newTestSessionStore(store)
	user := seedUser(t, store, "user-1")

	sid, err := sessions.Create(context.Background(), user.UserID, "203.0.113.7", "test-agent")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(sid) != 43 {
		t.Fatalf("session id length = %d, want 43", len(sid))
	}

	sess, got, err := sessions.Resolve(context.Background(), sid)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.UserID != user.UserID {
		t.Fatalf("resolved user = %q, want %q", got.UserID, user.UserID)
	}
	if sess.IPHash != hashClientValue("203.0.113.7") {
		t.Fatalf("ipHash = %q, want digest of raw ip", sess.IPHash)
	}
	if sess.IPHash == "203.0.113.7" {
		t.Fatalf("raw ip persisted")
	}
	if sess.UAHash != hashClientValue("test-agent") {
		t.Fatalf("uaHash = %q, want digest of raw user agent", sess.UAHash)
	}
	if sess.CSRFSecret == "" || len(sess.CSRFSecret) != 43 {
		t.Fatalf("csrf secret length = %d, want 43", len(sess.CSRFSecret))
	}
	wantExpiry := sess.CreatedAt.Add(DefaultSessionTTL)
	if !sess.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expiresAt = %v, want createdAt + 30d", sess.ExpiresAt)
	}
}

func TestSessionCreateUnknownUser(t *testing.T) {
	sessions := newTestSessionStore(NewMemoryStore())

	_, err := sessions.Create(context.Background(), "ghost", "203.0.113.7", "")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestSessionResolveUnknown(t *testing.T) {
	sessions := newTestSessionStore(NewMemoryStore())

	_, _, err := sessions.Resolve(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSessionExpiryIsLazy(t *testing.T) {
	store := NewMemoryStore()
	sessions := newTestSessionStore(store)
	user := seedUser(t, store, "user-1")

	expired := Session{
		ID:         newToken(),
		UserID:     user.UserID,
		CreatedAt:  time.Now().Add(-31 * 24 * time.Hour),
		ExpiresAt:  time.Now().Add(-24 * time.Hour),
		LastSeenAt: time.Now().Add(-24 * time.Hour),
		CSRFSecret: newToken(),
		IPHash:     hashClientValue("203.0.113.7"),
	}
	if err := store.PutSession(context.Background(), expired); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	_, _, err := sessions.Resolve(context.Background(), expired.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// Lazy expiry must also have removed the durable record.
	if _, err := store.GetSession(context.Background(), expired.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired session still in durable store")
	}
}

func TestSessionOrphanCleanup(t *testing.T) {
	store := NewMemoryStore()
	sessions := newTestSessionStore(store)

	orphan := Session{
		ID:         newToken(),
		UserID:     "deleted-user",
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
		LastSeenAt: time.Now(),
		CSRFSecret: newToken(),
		IPHash:     hashClientValue("203.0.113.7"),
	}
	if err := store.PutSession(context.Background(), orphan); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if _, _, err := sessions.Resolve(context.Background(), orphan.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("orphaned session resolved")
	}
	if _, err := store.GetSession(context.Background(), orphan.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("orphaned session still in durable store")
	}
}

func TestSessionDeleteBypassesCache(t *testing.T) {
	store := NewMemoryStore()
	sessions := newTestSessionStore(store)
	user := seedUser(t, store, "user-1")

	sid, err := sessions.Create(context.Background(), user.UserID, "203.0.113.7", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Make the entry cache-hot, then revoke.
	if _, _, err := sessions.Resolve(context.Background(), sid); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := sessions.Delete(context.Background(), sid); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, _, err := sessions.Resolve(context.Background(), sid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoked session still resolvable: %v", err)
	}
}

func TestSessionDeleteIdempotent(t *testing.T) {
	sessions := newTestSessionStore(NewMemoryStore())
	if err := sessions.Delete(context.Background(), "never-existed"); err != nil {
		t.Fatalf("Delete of absent session errored: %v", err)
	}
}

func TestSessionMultiplePerUser(t *testing.T) {
	store := NewMemoryStore()
	sessions := newTestSessionStore(store)
	user := seedUser(t, store, "user-1")

	first, err := sessions.Create(context.Background(), user.UserID, "203.0.113.7", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := sessions.Create(context.Background(), user.UserID, "203.0.113.8", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first == second {
		t.Fatalf("two sessions share an id")
	}

	if _, _, err := sessions.Resolve(context.Background(), first); err != nil {
		t.Fatalf("first session: %v", err)
	}
	if _, _, err := sessions.Resolve(context.Background(), second); err != nil {
		t.Fatalf("second session: %v", err)
	}

	if err := sessions.Delete(context.Background(), first); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := sessions.Resolve(context.Background(), first); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted session still resolvable")
	}
	if _, _, err := sessions.Resolve(context.Background(), second); err != nil {
		t.Fatalf("second session affected by deleting first: %v", err)
	}
}

func TestSessionLastSeenRefresh(t *testing.T) {
	store := NewMemoryStore()
	sessions := newTestSessionStore(store)
	user := seedUser(t, store, "user-1")

	stale := time.Now().Add(-10 * time.Minute)
	sess := Session{
		ID:         newToken(),
		UserID:     user.UserID,
		CreatedAt:  stale,
		ExpiresAt:  time.Now().Add(time.Hour),
		LastSeenAt: stale,
		CSRFSecret: newToken(),
		IPHash:     hashClientValue("203.0.113.7"),
	}
	if err := store.PutSession(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if _, _, err := sessions.Resolve(context.Background(), sess.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// The refresh is fire-and-forget; poll briefly for the write-back.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetSession(context.Background(), sess.ID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if got.LastSeenAt.After(stale) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("lastSeenAt was not refreshed")
}

func TestUpsertUserPreservesCreatedAt(t *testing.T) {
	store := NewMemoryStore()

	first, err := UpsertUser(context.Background(), store, Identity{
		Subject: "user-1", Email: "old@example.com", Name: "Old Name",
	})
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	second, err := UpsertUser(context.Background(), store, Identity{
		Subject: "user-1", Email: "new@example.com", Name: "New Name", EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("createdAt changed on update")
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("updatedAt not refreshed")
	}
	if second.Email != "new@example.com" || second.Name != "New Name" || !second.EmailVerified {
		t.Fatalf("profile fields not overwritten: %+v", second)
	}
}

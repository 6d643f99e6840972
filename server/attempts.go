package server

import (
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultAttemptTTL bounds how long a browser has between starting a login
// and completing the provider callback.
const DefaultAttemptTTL = 10 * time.Minute

// loginAttempt ties one in-flight authorization attempt to its callback.
type loginAttempt struct {
	State         string
	Nonce         string
	CodeVerifier  string
	CodeChallenge string
	ExpiresAt     time.Time
}

// AttemptStore holds pending login attempts keyed by state. Entries are
// removed when consumed; unconsumed entries expire lazily rather than via
// per-entry timers, so a consume racing an expiry is always idempotent.
type AttemptStore struct {
	mu       sync.Mutex
	attempts map[string]loginAttempt
	ttl      time.Duration
}

// NewAttemptStore constructs an empty store with the given attempt TTL.
func NewAttemptStore(ttl time.Duration) *AttemptStore {
	if ttl <= 0 {
		ttl = DefaultAttemptTTL
	}
	return &AttemptStore{
		attempts: make(map[string]loginAttempt),
		ttl:      ttl,
	}
}

// Begin creates and records a new attempt with fresh state, nonce, and
// PKCE pair.
func (s *AttemptStore) Begin() loginAttempt {
	verifier := oauth2.GenerateVerifier()
	att := loginAttempt{
		State:         newToken(),
		Nonce:         newToken(),
		CodeVerifier:  verifier,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
		ExpiresAt:     time.Now().Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.attempts[att.State] = att
	return att
}

// Consume atomically looks up and removes the attempt for state. It
// returns false for unknown, already-consumed, or expired states, so a
// replayed callback can never succeed twice.
func (s *AttemptStore) Consume(state string) (loginAttempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	att, ok := s.attempts[state]
	if !ok {
		return loginAttempt{}, false
	}
	delete(s.attempts, state)
	if time.Now().After(att.ExpiresAt) {
		return loginAttempt{}, false
	}
	return att, true
}

// Len reports the number of pending attempts, expired entries included.
func (s *AttemptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func (s *AttemptStore) pruneLocked() {
	now := time.Now()
	for state, att := range s.attempts {
		if now.After(att.ExpiresAt) {
			delete(s.attempts, state)
		}
	}
}

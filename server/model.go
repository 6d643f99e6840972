package server

import "time"

// User is a profile record keyed by the provider's immutable subject.
// Profile fields always reflect the most recent identity-provider claims.
type User struct {
	UserID        string    `bson:"_id" json:"userId"`
	Name          string    `bson:"name" json:"name"`
	Email         string    `bson:"email" json:"email"`
	EmailVerified bool      `bson:"emailVerified" json:"emailVerified"`
	Picture       string    `bson:"picture" json:"picture"`
	CreatedAt     time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt" json:"updatedAt"`
	LastLoginAt   time.Time `bson:"lastLoginAt" json:"lastLoginAt"`
}

// Session is a server-side session bound to the sid cookie. ExpiresAt is
// absolute: fixed at creation and never extended. LastSeenAt is a liveness
// marker updated opportunistically and never consulted for expiry.
type Session struct {
	ID         string    `bson:"_id" json:"-"`
	UserID     string    `bson:"userId" json:"userId"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
	ExpiresAt  time.Time `bson:"expiresAt" json:"expiresAt"`
	LastSeenAt time.Time `bson:"lastSeenAt" json:"lastSeenAt"`
	CSRFSecret string    `bson:"csrfSecret" json:"-"`
	IPHash     string    `bson:"ipHash" json:"-"`
	UAHash     string    `bson:"uaHash,omitempty" json:"-"`
}

// Task is a single to-do item owned by a user. Deletion is soft: archived
// tasks are kept but excluded from listings.
type Task struct {
	TaskID      string    `bson:"_id" json:"taskId"`
	UserID      string    `bson:"userId" json:"userId"`
	Title       string    `bson:"title" json:"title"`
	Description string    `bson:"description" json:"description"`
	Completed   bool      `bson:"completed" json:"completed"`
	Priority    bool      `bson:"priority" json:"priority"`
	Archived    bool      `bson:"archived" json:"archived"`
	Order       int64     `bson:"order" json:"order"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`
}

// AuditEvent is an append-only observability record. Raw IPs are never
// stored, only their digests.
type AuditEvent struct {
	Event     string            `bson:"event" json:"event"`
	UserID    string            `bson:"userId,omitempty" json:"userId,omitempty"`
	SessionID string            `bson:"sessionId,omitempty" json:"sessionId,omitempty"`
	IPHash    string            `bson:"ipHash" json:"ipHash"`
	UserAgent string            `bson:"userAgent,omitempty" json:"userAgent,omitempty"`
	Timestamp time.Time         `bson:"timestamp" json:"timestamp"`
	Metadata  map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// Identity holds the verified claims extracted from a provider ID token.
// Missing optional claims are coalesced to zero values, never left nil.
type Identity struct {
	Subject       string
	Email         string
	Name          string
	Picture       string
	EmailVerified bool
}

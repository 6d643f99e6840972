package server

import (
	"context"
	"log/slog"
	"time"
)

// Audit event names.
const (
	AuditLogin  = "login"
	AuditLogout = "logout"
	AuditError  = "error"
)

const auditWriteTimeout = 5 * time.Second

// AuditEntry collects the optional fields for one audit record. IPAddress
// is raw here; it is hashed before anything is written.
type AuditEntry struct {
	UserID    string
	SessionID string
	IPAddress string
	UserAgent string
	Metadata  map[string]string
}

// AuditLogger appends login/logout/error events to the durable store.
// It is a pure side channel: writes happen off the request path and their
// failures are logged, never surfaced.
type AuditLogger struct {
	store  Store
	logger *slog.Logger
}

// NewAuditLogger constructs the logger over the given store.
func NewAuditLogger(store Store, logger *slog.Logger) *AuditLogger {
	return &AuditLogger{store: store, logger: logger}
}

// Record writes the event asynchronously and returns immediately.
func (l *AuditLogger) Record(event string, entry AuditEntry) {
	ev := AuditEvent{
		Event:     event,
		UserID:    entry.UserID,
		SessionID: entry.SessionID,
		IPHash:    hashClientValue(entry.IPAddress),
		UserAgent: entry.UserAgent,
		Timestamp: time.Now(),
		Metadata:  entry.Metadata,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		defer cancel()
		if err := l.store.AppendAudit(ctx, ev); err != nil {
			l.logger.Error("audit log write failed", "event", event, "error", err)
		}
	}()
}

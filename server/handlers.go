package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

const sessionCookieName = "sid"

// Public error codes surfaced via the landing-page redirect. Anything more
// specific stays in the server log.
const (
	errOAuthDenied    = "oauth_denied"
	errInvalidRequest = "invalid_request"
	errAuthFailed     = "auth_failed"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Store    Store
	Sessions *SessionStore
	Auth     *Authenticator
	Audit    *AuditLogger
}

// NewApp wires together the application state from configuration. Without
// a Mongo URI, dev mode runs on the in-memory store.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	var store Store
	if cfg.Mongo.URI != "" {
		mongoStore, err := NewMongoStore(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		store = mongoStore
	} else {
		logger.Warn("no mongo uri configured, using in-memory store")
		store = NewMemoryStore()
	}

	attempts := NewAttemptStore(cfg.Sessions.AttemptTTL)
	auth, err := NewAuthenticator(ctx, cfg.Google, cfg.CallbackURL(), attempts, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Sessions: NewSessionStore(store, cfg.Sessions, logger),
		Auth:     auth,
		Audit:    NewAuditLogger(store, logger),
	}, nil
}

// handleLogin redirects the browser to the provider's authorization URL.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	authURL, _ := a.Auth.LoginRedirect()
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback completes the login flow. Every failure redirects to the
// public landing page with one of the coarse error codes; success sets the
// session cookie and lands on the dashboard.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIP(r)
	userAgent := r.UserAgent()
	query := r.URL.Query()

	if provErr := query.Get("error"); provErr != "" {
		a.Audit.Record(AuditError, AuditEntry{
			IPAddress: clientIP,
			UserAgent: userAgent,
			Metadata:  map[string]string{"error": "oauth_error", "details": provErr},
		})
		redirectWithError(w, r, errOAuthDenied)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		a.Audit.Record(AuditError, AuditEntry{
			IPAddress: clientIP,
			UserAgent: userAgent,
			Metadata:  map[string]string{"error": "missing_oauth_params"},
		})
		redirectWithError(w, r, errInvalidRequest)
		return
	}

	identity, err := a.Auth.CompleteLogin(r.Context(), code, state)
	if err != nil {
		a.Logger.Warn("login completion failed", "error", err)
		a.Audit.Record(AuditError, AuditEntry{
			IPAddress: clientIP,
			UserAgent: userAgent,
			Metadata:  map[string]string{"error": "callback_failed"},
		})
		redirectWithError(w, r, errAuthFailed)
		return
	}

	user, err := UpsertUser(r.Context(), a.Store, identity)
	if err != nil {
		a.Logger.Error("user upsert failed", "error", err)
		a.Audit.Record(AuditError, AuditEntry{
			IPAddress: clientIP,
			UserAgent: userAgent,
			Metadata:  map[string]string{"error": "callback_failed"},
		})
		redirectWithError(w, r, errAuthFailed)
		return
	}

	sessionID, err := a.Sessions.Create(r.Context(), user.UserID, clientIP, userAgent)
	if err != nil {
		a.Logger.Error("session creation failed", "error", err)
		a.Audit.Record(AuditError, AuditEntry{
			UserID:    user.UserID,
			IPAddress: clientIP,
			UserAgent: userAgent,
			Metadata:  map[string]string{"error": "callback_failed"},
		})
		redirectWithError(w, r, errAuthFailed)
		return
	}

	a.setSessionCookie(w, sessionID)

	a.Audit.Record(AuditLogin, AuditEntry{
		UserID:    user.UserID,
		SessionID: sessionID,
		IPAddress: clientIP,
		UserAgent: userAgent,
	})

	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

// handleLogout deletes the session and clears the cookie. Guarded by
// RequireAuth and VerifyCSRF at the router.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	info, _ := AuthFromContext(r.Context())

	if err := a.Sessions.Delete(r.Context(), info.Session.ID); err != nil {
		a.Logger.Error("logout failed", "error", err)
		a.Audit.Record(AuditError, AuditEntry{
			UserID:    info.User.UserID,
			SessionID: info.Session.ID,
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]string{"error": "logout_failed"},
		})
		writeError(w, http.StatusInternalServerError, "Logout failed")
		return
	}

	a.clearSessionCookie(w)

	a.Audit.Record(AuditLogout, AuditEntry{
		UserID:    info.User.UserID,
		SessionID: info.Session.ID,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleUser returns the current profile together with the CSRF token the
// client must echo back on mutations.
func (a *App) handleUser(w http.ResponseWriter, r *http.Request) {
	info, _ := AuthFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user":      info.User,
		"csrfToken": info.CSRFToken,
	})
}

func (a *App) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   a.Config.Server.CookieDomain,
		HttpOnly: true,
		Secure:   !a.Config.Server.DevMode,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.Config.Sessions.TTL.Seconds()),
	})
}

func (a *App) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   a.Config.Server.CookieDomain,
		HttpOnly: true,
		Secure:   !a.Config.Server.DevMode,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func redirectWithError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/?error="+code, http.StatusFound)
}

// clientIP prefers the first X-Forwarded-For hop and falls back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx != -1 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// notFoundErr is a convenience for handlers distinguishing storage
// failures from missing documents.
func notFoundErr(err error) bool {
	return errors.Is(err, ErrNotFound)
}

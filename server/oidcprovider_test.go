package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

const testClientID = "test-client"

// fakeIDP is a minimal OIDC provider for tests: discovery, JWKS, and a
// token endpoint that signs ID tokens with a throwaway RSA key.
type fakeIDP struct {
	srv *httptest.Server
	key *rsa.PrivateKey

	mu            sync.Mutex
	nonce         string
	subject       string
	email         string
	name          string
	picture       string
	emailVerified bool
	omitIDToken   bool
	lastVerifier  string
}

func newFakeIDP(t *testing.T) *fakeIDP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	idp := &fakeIDP{
		key:           key,
		subject:       "subject-123",
		email:         "user@example.com",
		name:          "Test User",
		picture:       "https://example.com/avatar.png",
		emailVerified: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.handleDiscovery)
	mux.HandleFunc("/keys", idp.handleJWKS)
	mux.HandleFunc("/token", idp.handleToken)

	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)
	return idp
}

func (f *fakeIDP) setNonce(nonce string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonce = nonce
}

func (f *fakeIDP) setOmitIDToken(omit bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.omitIDToken = omit
}

func (f *fakeIDP) verifier() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastVerifier
}

func (f *fakeIDP) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	doc := map[string]any{
		"issuer":                                f.srv.URL,
		"authorization_endpoint":                f.srv.URL + "/authorize",
		"token_endpoint":                        f.srv.URL + "/token",
		"jwks_uri":                              f.srv.URL + "/keys",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (f *fakeIDP) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set := jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &f.key.PublicKey,
			KeyID:     "test-key",
			Algorithm: "RS256",
			Use:       "sig",
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (f *fakeIDP) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.lastVerifier = r.FormValue("code_verifier")
	omit := f.omitIDToken
	claims := jwt.MapClaims{
		"iss":            f.srv.URL,
		"aud":            testClientID,
		"sub":            f.subject,
		"exp":            time.Now().Add(time.Hour).Unix(),
		"iat":            time.Now().Unix(),
		"nonce":          f.nonce,
		"email":          f.email,
		"email_verified": f.emailVerified,
		"name":           f.name,
		"picture":        f.picture,
	}
	f.mu.Unlock()

	resp := map[string]any{
		"access_token": "test-access-token",
		"token_type":   "bearer",
		"expires_in":   3600,
	}
	if !omit {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = "test-key"
		signed, err := token.SignedString(f.key)
		if err != nil {
			http.Error(w, "sign failed", http.StatusInternalServerError)
			return
		}
		resp["id_token"] = signed
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestApp builds an App over a fresh in-memory store, pointed at the
// fake provider.
func newTestApp(t *testing.T, idp *fakeIDP) (*App, *MemoryStore) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Google.Issuer = idp.srv.URL
	cfg.Google.ClientID = testClientID
	cfg.Google.ClientSecret = "test-secret"

	app, err := NewApp(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return app, app.Store.(*MemoryStore)
}

// beginLogin starts a login against the app and returns the state and
// nonce embedded in the provider redirect.
func beginLogin(t *testing.T, app *App) (state, nonce string) {
	t.Helper()

	authURL, state := app.Auth.LoginRedirect()
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	nonce = parsed.Query().Get("nonce")
	if nonce == "" {
		t.Fatalf("authorization url missing nonce: %s", authURL)
	}
	if parsed.Query().Get("state") != state {
		t.Fatalf("state mismatch between return value and url")
	}
	return state, nonce
}

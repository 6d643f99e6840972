package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Login-flow failures. Handlers map these to coarse public error codes;
// the underlying provider detail stays in the server log.
var (
	ErrInvalidState         = errors.New("invalid state parameter")
	ErrNoIDToken            = errors.New("no id token in provider response")
	ErrInvalidToken         = errors.New("id token validation failed")
	ErrInvalidNonce         = errors.New("nonce mismatch")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// Authenticator drives the OIDC authorization-code flow against the
// configured identity provider.
type Authenticator struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	attempts *AttemptStore
	logger   *slog.Logger
}

// NewAuthenticator discovers the provider endpoints and wires the oauth2
// configuration. It requires network access to the issuer.
func NewAuthenticator(ctx context.Context, cfg GoogleConfig, redirectURL string, attempts *AttemptStore, logger *slog.Logger) (*Authenticator, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover provider %s: %w", cfg.Issuer, err)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}

	return &Authenticator{
		oauth:    oauthCfg,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		attempts: attempts,
		logger:   logger,
	}, nil
}

// LoginRedirect records a new attempt and builds the authorization URL,
// requesting offline access with a nonce and an S256 PKCE challenge.
func (a *Authenticator) LoginRedirect() (authURL, state string) {
	att := a.attempts.Begin()
	authURL = a.oauth.AuthCodeURL(att.State,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("nonce", att.Nonce),
		oauth2.SetAuthURLParam("code_challenge", att.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	return authURL, att.State
}

// idTokenClaims covers the optional profile claims we read off the ID
// token. The nonce binds the token to the recorded attempt.
type idTokenClaims struct {
	Nonce         string `json:"nonce"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// CompleteLogin consumes the attempt for state, exchanges the code, and
// validates the returned ID token. Provider and network failures are
// re-signaled uniformly as ErrAuthenticationFailed so callers never see
// upstream detail.
func (a *Authenticator) CompleteLogin(ctx context.Context, code, state string) (Identity, error) {
	att, ok := a.attempts.Consume(state)
	if !ok {
		return Identity{}, ErrInvalidState
	}

	tok, err := a.oauth.Exchange(ctx, code, oauth2.VerifierOption(att.CodeVerifier))
	if err != nil {
		a.logger.Error("token exchange failed", "error", err)
		return Identity{}, ErrAuthenticationFailed
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Identity{}, ErrNoIDToken
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		a.logger.Error("id token verification failed", "error", err)
		return Identity{}, ErrInvalidToken
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		a.logger.Error("id token claims parse failed", "error", err)
		return Identity{}, ErrInvalidToken
	}

	if claims.Nonce != att.Nonce {
		return Identity{}, ErrInvalidNonce
	}

	return Identity{
		Subject:       idToken.Subject,
		Email:         claims.Email,
		Name:          claims.Name,
		Picture:       claims.Picture,
		EmailVerified: claims.EmailVerified,
	}, nil
}

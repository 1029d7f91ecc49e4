package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/ovpn-manager/ovpn-manager/internal/config"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ErrAuthentication means the OIDC callback could not be turned into a verified identity
var ErrAuthentication = errors.New("authentication failed")

// LoginRequest holds the per-login secrets that must be kept in the session
// until the identity provider calls back
type LoginRequest struct {
	URL          string
	State        string
	Nonce        string
	CodeVerifier string
}

// Provider drives the OpenID Connect authorization code flow with PKCE
type Provider struct {
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
	logger       *zap.Logger
}

// NewProvider discovers the issuer and prepares the OAuth2 client
func NewProvider(ctx context.Context, cfg config.OIDCConfig, logger *zap.Logger) (*Provider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile", "groups"}
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Provider{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
			RedirectURL:  cfg.RedirectURL,
		},
		logger: logger,
	}, nil
}

// StartLogin generates fresh state, nonce and PKCE verifier and returns the
// authorization URL to redirect the user to
func (p *Provider) StartLogin() *LoginRequest {
	state := randomString(32)
	nonce := randomString(32)
	verifier := oauth2.GenerateVerifier()

	authURL := p.oauth2Config.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(verifier),
	)

	return &LoginRequest{
		URL:          authURL,
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
	}
}

// Exchange trades an authorization code for tokens, verifies the ID token and
// its nonce, and returns the identity it asserts. Claims from the userinfo
// endpoint are merged in when the provider offers one.
func (p *Provider) Exchange(ctx context.Context, code, codeVerifier, nonce string) (*Identity, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: no authorization code received", ErrAuthentication)
	}

	token, err := p.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange code for token: %v", ErrAuthentication, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: no id_token found in oauth2 token", ErrAuthentication)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to verify ID token: %v", ErrAuthentication, err)
	}

	if idToken.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce in ID token is invalid", ErrAuthentication)
	}

	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse ID token claims: %v", ErrAuthentication, err)
	}

	if p.provider.UserInfoEndpoint() != "" {
		if err := p.mergeUserInfo(ctx, token, claims); err != nil {
			p.logger.Warn("Failed to fetch user info, using ID token claims only", zap.Error(err))
		}
	}

	identity := NewIdentity(claims)
	if identity.Subject == "" {
		return nil, fmt.Errorf("%w: no subject in ID token", ErrAuthentication)
	}

	return identity, nil
}

// mergeUserInfo adds userinfo claims that the ID token does not already carry
func (p *Provider) mergeUserInfo(ctx context.Context, token *oauth2.Token, claims map[string]any) error {
	userInfo, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return fmt.Errorf("failed to get user info: %w", err)
	}

	if userInfo.Subject != claims["sub"] {
		return fmt.Errorf("user info subject %q does not match ID token", userInfo.Subject)
	}

	extra := map[string]any{}
	if err := userInfo.Claims(&extra); err != nil {
		return fmt.Errorf("failed to parse user info claims: %w", err)
	}

	for k, v := range extra {
		if _, exists := claims[k]; !exists {
			claims[k] = v
		}
	}
	return nil
}

func randomString(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	apperrors "github.com/jrsteele09/kb-console/internal/errors"
	"github.com/jrsteele09/kb-console/internal/logging"
	"github.com/jrsteele09/kb-console/sessions"
	"github.com/jrsteele09/kb-console/token"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// OIDCConfig describes the console's registration with the identity provider.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string // Empty for public (PKCE-only) clients
	RedirectURL  string
	Scopes       []string
}

var _ Provider = (*OIDCProvider)(nil)

// OIDCProvider talks to an OpenID Connect provider using the authorization
// code flow with PKCE, and persists the resulting session in a sessions.Repo.
type OIDCProvider struct {
	oauth         *oauth2.Config
	provider      *oidc.Provider
	verifier      *oidc.IDTokenVerifier
	revocationURL string
	repo          sessions.Repo
	events        *Events
	httpClient    *http.Client
	log           zerolog.Logger

	// persist serialises repo writes; epoch advances on every sign-in and
	// sign-out so a refresh that started earlier cannot overwrite them.
	persist sync.Mutex
	epoch   uint64
}

type OIDCOption func(*OIDCProvider)

// WithHTTPClient sets the client used for discovery, token and revocation calls.
func WithHTTPClient(client *http.Client) OIDCOption {
	return func(p *OIDCProvider) {
		p.httpClient = client
	}
}

func WithLogger(log zerolog.Logger) OIDCOption {
	return func(p *OIDCProvider) {
		p.log = logging.Component(log, "identity")
	}
}

// NewOIDCProvider performs discovery against cfg.IssuerURL.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig, repo sessions.Repo, options ...OIDCOption) (*OIDCProvider, error) {
	if repo == nil {
		return nil, errors.New("[identity NewOIDCProvider] session repo is required")
	}

	p := &OIDCProvider{
		repo:   repo,
		events: NewEvents(),
		log:    zerolog.Nop(),
	}
	for _, opt := range options {
		opt(p)
	}

	provider, err := oidc.NewProvider(p.clientContext(ctx), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("[identity NewOIDCProvider] failed to create OIDC provider: %w", err)
	}

	var discovery struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := provider.Claims(&discovery); err != nil {
		return nil, fmt.Errorf("[identity NewOIDCProvider] failed to read discovery document: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess}
	}

	p.provider = provider
	p.revocationURL = discovery.RevocationEndpoint
	p.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
	}
	p.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return p, nil
}

// AuthCodeURL returns the provider's login URL for an authorization code flow
// protected by PKCE (S256) and an ID token nonce.
func (p *OIDCProvider) AuthCodeURL(state, verifier, nonce string) string {
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier), oidc.Nonce(nonce))
}

// CompleteSignIn exchanges the authorization code, verifies the ID token and
// establishes a new interactive session.
func (p *OIDCProvider) CompleteSignIn(ctx context.Context, code, verifier, nonce string) (*sessions.Session, error) {
	tok, err := p.oauth.Exchange(p.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: no ID token in response", apperrors.ErrInvalidSession)
	}

	idToken, err := p.verifier.Verify(p.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("ID token verification failed: %w", err)
	}

	// Validate nonce to prevent replay attacks
	if idToken.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce mismatch", apperrors.ErrInvalidState)
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}

	session, err := sessionFromToken(tok, idToken.Subject, nil)
	if err != nil {
		return nil, err
	}
	if claims.Email != "" {
		session.Email = claims.Email
	}

	return p.establish(ctx, session)
}

// SignInWithPassword uses the resource owner password grant, for providers
// that allow it (the hosted backend's email/password login).
func (p *OIDCProvider) SignInWithPassword(ctx context.Context, username, password string) (*sessions.Session, error) {
	tok, err := p.oauth.PasswordCredentialsToken(p.clientContext(ctx), username, password)
	if err != nil {
		return nil, fmt.Errorf("password sign-in failed: %w", err)
	}

	subject := ""
	if rawIDToken, ok := tok.Extra("id_token").(string); ok && rawIDToken != "" {
		idToken, err := p.verifier.Verify(p.clientContext(ctx), rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("ID token verification failed: %w", err)
		}
		subject = idToken.Subject
	}

	session, err := sessionFromToken(tok, subject, nil)
	if err != nil {
		return nil, err
	}
	if session.Email == "" {
		session.Email = username
	}

	return p.establish(ctx, session)
}

func (p *OIDCProvider) establish(ctx context.Context, session *sessions.Session) (*sessions.Session, error) {
	p.persist.Lock()
	p.epoch++
	err := p.repo.Save(ctx, session)
	p.persist.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	p.log.Info().Str("user_id", session.UserID).Msg("signed in")
	p.events.Publish(Event{Type: SignedIn, Session: session})
	return session, nil
}

// GetSession restores the persisted session. Restoration does not publish an
// event.
func (p *OIDCProvider) GetSession(ctx context.Context) (*sessions.Session, error) {
	return p.repo.Load(ctx)
}

// RefreshSession forces a refresh_token grant. When the provider does not
// rotate the refresh token the previous one is kept.
func (p *OIDCProvider) RefreshSession(ctx context.Context, refreshToken string) (*sessions.Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, apperrors.ErrInvalidRefreshToken
	}
	epoch := p.currentEpoch()

	// An empty access token makes the source treat the token as expired.
	src := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRefreshFailed, err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	previous, _ := p.repo.Load(ctx)

	subject := ""
	if rawIDToken, ok := tok.Extra("id_token").(string); ok && rawIDToken != "" {
		if idToken, err := p.verifier.Verify(p.clientContext(ctx), rawIDToken); err == nil {
			subject = idToken.Subject
		} else {
			p.log.Warn().Err(err).Msg("refreshed ID token failed verification")
		}
	}

	session, err := sessionFromToken(tok, subject, previous)
	if err != nil {
		return nil, err
	}

	if !p.saveRefreshed(ctx, epoch, session) {
		return nil, fmt.Errorf("%w: session changed while refreshing", apperrors.ErrRefreshFailed)
	}
	p.events.Publish(Event{Type: TokenRefreshed, Session: session})
	return session, nil
}

// SignOut revokes the refresh token when the provider advertises a revocation
// endpoint (best effort), forgets the persisted session and publishes
// SignedOut.
func (p *OIDCProvider) SignOut(ctx context.Context) error {
	if previous, err := p.repo.Load(ctx); err == nil && previous.RefreshToken != "" && p.revocationURL != "" {
		if err := p.revoke(ctx, previous.RefreshToken); err != nil {
			p.log.Warn().Err(err).Msg("refresh token revocation failed")
		}
	}

	p.persist.Lock()
	p.epoch++
	clearErr := p.repo.Clear(ctx)
	p.persist.Unlock()
	p.log.Info().Msg("signed out")
	p.events.Publish(Event{Type: SignedOut})
	if clearErr != nil {
		return fmt.Errorf("failed to clear persisted session: %w", clearErr)
	}
	return nil
}

func (p *OIDCProvider) currentEpoch() uint64 {
	p.persist.Lock()
	defer p.persist.Unlock()
	return p.epoch
}

// saveRefreshed persists session unless a sign-in or sign-out happened after
// the refresh began.
func (p *OIDCProvider) saveRefreshed(ctx context.Context, epoch uint64, session *sessions.Session) bool {
	p.persist.Lock()
	defer p.persist.Unlock()
	if p.epoch != epoch {
		return false
	}
	if err := p.repo.Save(ctx, session); err != nil {
		p.log.Warn().Err(err).Msg("failed to persist refreshed session")
	}
	return true
}

func (p *OIDCProvider) Subscribe(fn func(Event)) (unsubscribe func()) {
	return p.events.Subscribe(fn)
}

// revoke implements RFC 7009 token revocation.
func (p *OIDCProvider) revoke(ctx context.Context, refreshToken string) error {
	form := url.Values{
		"token":           {refreshToken},
		"token_type_hint": {"refresh_token"},
	}
	if p.oauth.ClientSecret == "" {
		form.Set("client_id", p.oauth.ClientID)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.oauth.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(p.oauth.ClientID), url.QueryEscape(p.oauth.ClientSecret))
	}

	client := p.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, p.httpClient)
}

// sessionFromToken builds a session from a token response. Expiry and user id
// fall back to the access token's own claims, then to the previous session.
func sessionFromToken(tok *oauth2.Token, subject string, previous *sessions.Session) (*sessions.Session, error) {
	session := &sessions.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		UserID:       subject,
	}
	if rawIDToken, ok := tok.Extra("id_token").(string); ok {
		session.IDToken = rawIDToken
	}
	if !tok.Expiry.IsZero() {
		session.ExpiresAt = tok.Expiry.Unix()
	}

	if session.ExpiresAt == 0 || session.UserID == "" {
		if claims, err := token.ParseClaims(tok.AccessToken); err == nil {
			if session.ExpiresAt == 0 {
				session.ExpiresAt = claims.ExpiresAt
			}
			if session.UserID == "" {
				session.UserID = claims.Subject
			}
			session.Email = claims.Email
		}
	}

	if previous != nil {
		if session.UserID == "" {
			session.UserID = previous.UserID
		}
		if session.Email == "" {
			session.Email = previous.Email
		}
		if session.IDToken == "" {
			session.IDToken = previous.IDToken
		}
	}

	if session.AccessToken == "" {
		return nil, fmt.Errorf("%w: provider returned no access token", apperrors.ErrInvalidSession)
	}
	if session.ExpiresAt == 0 {
		return nil, fmt.Errorf("%w: provider returned no expiry", apperrors.ErrInvalidSession)
	}
	return session, nil
}

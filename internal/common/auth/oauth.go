// internal/common/auth/oauth.go
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"microloan-client/internal/common/config"
	"microloan-client/internal/common/errors"
	"microloan-client/internal/models"
)

// Opener presents the authorization URL to the user, typically by handing
// it to a browser.
type Opener func(authURL string) error

type callbackResult struct {
	code string
	err  error
}

type pendingLogin struct {
	kind     models.ProviderKind
	verifier string
	result   chan callbackResult
}

// OAuthFlow runs the authorization-code flow with PKCE for the federated
// login providers. A login is pending from Begin until its callback arrives
// through Complete.
type OAuthFlow struct {
	configs    map[models.ProviderKind]*oauth2.Config
	httpClient *http.Client
	timeout    time.Duration

	mu      sync.Mutex
	pending map[string]*pendingLogin
}

// NewOAuthFlow builds the flow for every provider with a client id.
func NewOAuthFlow(cfg config.OAuthConfig, httpClient *http.Client) *OAuthFlow {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	f := &OAuthFlow{
		configs:    make(map[models.ProviderKind]*oauth2.Config),
		httpClient: httpClient,
		timeout:    config.GetDuration(cfg.LoginTimeout),
		pending:    make(map[string]*pendingLogin),
	}
	if f.timeout <= 0 {
		f.timeout = 2 * time.Minute
	}
	if cfg.Google.Enabled() {
		f.configs[models.ProviderGoogle] = oauthConfig(cfg.Google, endpoints.Google)
	}
	if cfg.GitHub.Enabled() {
		f.configs[models.ProviderGitHub] = oauthConfig(cfg.GitHub, endpoints.GitHub)
	}
	return f
}

func oauthConfig(p config.OAuthProviderConfig, def oauth2.Endpoint) *oauth2.Config {
	ep := def
	if p.AuthURL != "" {
		ep.AuthURL = p.AuthURL
	}
	if p.TokenURL != "" {
		ep.TokenURL = p.TokenURL
	}
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURL,
		Scopes:       p.Scopes,
		Endpoint:     ep,
	}
}

// Enabled reports whether kind is configured.
func (f *OAuthFlow) Enabled(kind models.ProviderKind) bool {
	_, ok := f.configs[kind]
	return ok
}

// Begin registers a pending login and returns its authorization URL and state.
func (f *OAuthFlow) Begin(kind models.ProviderKind) (string, string, error) {
	cfg, ok := f.configs[kind]
	if !ok {
		return "", "", errors.NewAuthError(fmt.Sprintf("%s sign-in is not configured", kind), nil)
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	f.mu.Lock()
	f.pending[state] = &pendingLogin{
		kind:     kind,
		verifier: verifier,
		result:   make(chan callbackResult, 1),
	}
	f.mu.Unlock()

	return cfg.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier)), state, nil
}

// Complete delivers the provider callback. oauthErr is the provider's
// "error" parameter, empty on success.
func (f *OAuthFlow) Complete(kind models.ProviderKind, state, code, oauthErr string) error {
	f.mu.Lock()
	p, ok := f.pending[state]
	f.mu.Unlock()
	if !ok || p.kind != kind {
		return errors.NewAuthError("Unknown or expired sign-in attempt", nil)
	}

	res := callbackResult{code: code}
	switch {
	case oauthErr != "":
		res.err = errors.NewAuthError("Sign-in was cancelled", fmt.Errorf("provider error: %s", oauthErr))
	case code == "":
		res.err = errors.NewAuthError("Sign-in was cancelled", nil)
	}

	select {
	case p.result <- res:
	default:
		// already completed
	}
	return nil
}

// Await blocks until the callback for state arrives, then exchanges the code.
func (f *OAuthFlow) Await(ctx context.Context, state string) (*oauth2.Token, error) {
	f.mu.Lock()
	p, ok := f.pending[state]
	f.mu.Unlock()
	if !ok {
		return nil, errors.NewAuthError("Unknown or expired sign-in attempt", nil)
	}
	defer f.forget(state)

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	var res callbackResult
	select {
	case res = <-p.result:
	case <-timer.C:
		return nil, errors.NewTimeoutError("oauth callback", context.DeadlineExceeded)
	case <-ctx.Done():
		return nil, errors.NewAuthError("Sign-in was cancelled", ctx.Err())
	}
	if res.err != nil {
		return nil, res.err
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	tok, err := f.configs[p.kind].Exchange(exchangeCtx, res.code, oauth2.VerifierOption(p.verifier))
	if err != nil {
		return nil, errors.NewAuthError("Sign-in failed", fmt.Errorf("code exchange: %w", err))
	}
	return tok, nil
}

// Authorize runs a complete login: Begin, hand the URL to open, Await.
func (f *OAuthFlow) Authorize(ctx context.Context, kind models.ProviderKind, open Opener) (*oauth2.Token, error) {
	authURL, state, err := f.Begin(kind)
	if err != nil {
		return nil, err
	}
	if err := open(authURL); err != nil {
		f.forget(state)
		return nil, errors.NewAuthError("Could not open the sign-in window", err)
	}
	return f.Await(ctx, state)
}

// Pending returns the number of logins awaiting a callback.
func (f *OAuthFlow) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *OAuthFlow) forget(state string) {
	f.mu.Lock()
	delete(f.pending, state)
	f.mu.Unlock()
}

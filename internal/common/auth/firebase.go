// internal/common/auth/firebase.go
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"microloan-client/internal/common/config"
	"microloan-client/internal/common/errors"
	commonhttp "microloan-client/internal/common/http"
	"microloan-client/internal/common/logger"
	"microloan-client/internal/models"
)

// tokenSkew refreshes ID tokens slightly before they expire.
const tokenSkew = time.Minute

// FirebaseProvider talks to the Firebase Identity Toolkit REST API and keeps
// the signed-in identity for this process.
type FirebaseProvider struct {
	apiKey      string
	identityURL string
	tokenURL    string
	httpClient  *http.Client
	oauth       *OAuthFlow
	logger      logger.Logger
	tracer      trace.Tracer
	now         func() time.Time

	mu        sync.RWMutex
	current   *models.ProviderIdentity
	listeners map[int]func(*models.ProviderIdentity)
	nextID    int
}

// NewFirebaseProvider creates the provider. flow may be nil when no
// federated login is configured.
func NewFirebaseProvider(cfg config.FirebaseConfig, flow *OAuthFlow, log logger.Logger) *FirebaseProvider {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	timeout := config.GetDuration(cfg.Timeout)
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FirebaseProvider{
		apiKey:      cfg.APIKey,
		identityURL: strings.TrimSuffix(cfg.IdentityURL, "/"),
		tokenURL:    strings.TrimSuffix(cfg.TokenURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		oauth:       flow,
		logger:      log.With(map[string]interface{}{"component": "identity-provider"}),
		tracer:      otel.Tracer("microloan-client/identity"),
		now:         time.Now,
		listeners:   make(map[int]func(*models.ProviderIdentity)),
	}
}

// ==========================
// Wire types
// ==========================

type accountResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	ProviderID   string `json:"providerId"`
}

type lookupResponse struct {
	Users []struct {
		LocalID     string `json:"localId"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		PhotoURL    string `json:"photoUrl"`
	} `json:"users"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

type firebaseErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ==========================
// Sign-in operations
// ==========================

// SignInWithPassword signs in an email/password account.
func (p *FirebaseProvider) SignInWithPassword(ctx context.Context, email, password string) (*models.ProviderIdentity, error) {
	var resp accountResponse
	err := p.call(ctx, "accounts:signInWithPassword", map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	id := p.identityFrom(resp)
	// signInWithPassword omits the photo; lookup fills it in
	if id.PhotoURL == "" {
		var lr lookupResponse
		if err := p.call(ctx, "accounts:lookup", map[string]interface{}{"idToken": id.IDToken}, &lr); err != nil {
			p.logger.Warn("account lookup failed", map[string]interface{}{"error": err.Error()})
		} else if len(lr.Users) > 0 {
			id.PhotoURL = lr.Users[0].PhotoURL
			if id.DisplayName == "" {
				id.DisplayName = lr.Users[0].DisplayName
			}
		}
	}

	p.setCurrent(id, true)
	return id.Clone(), nil
}

// SignUp creates an email/password account and signs it in.
func (p *FirebaseProvider) SignUp(ctx context.Context, email, password string) (*models.ProviderIdentity, error) {
	var resp accountResponse
	err := p.call(ctx, "accounts:signUp", map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Email == "" {
		resp.Email = email
	}

	id := p.identityFrom(resp)
	p.setCurrent(id, true)
	return id.Clone(), nil
}

// UpdateProfile sets the display name and photo of the current account.
// Listeners are not notified: the signed-in account did not change.
func (p *FirebaseProvider) UpdateProfile(ctx context.Context, displayName, photoURL string) (*models.ProviderIdentity, error) {
	cur := p.snapshot()
	if cur == nil {
		return nil, errors.NewAuthError("Not signed in", nil)
	}

	body := map[string]interface{}{
		"idToken":           cur.IDToken,
		"displayName":       displayName,
		"returnSecureToken": true,
	}
	if photoURL != "" {
		body["photoUrl"] = photoURL
	} else {
		body["deleteAttribute"] = []string{"PHOTO_URL"}
	}

	var resp accountResponse
	if err := p.call(ctx, "accounts:update", body, &resp); err != nil {
		return nil, err
	}

	updated := cur.Clone()
	updated.DisplayName = displayName
	updated.PhotoURL = photoURL
	if resp.IDToken != "" {
		updated.IDToken = resp.IDToken
		updated.RefreshToken = resp.RefreshToken
		updated.ExpiresAt = p.expiry(resp.IDToken, resp.ExpiresIn)
	}

	p.setCurrent(updated, false)
	return updated.Clone(), nil
}

// SignInWithProvider runs the federated login for kind. open receives the
// provider's authorization URL.
func (p *FirebaseProvider) SignInWithProvider(ctx context.Context, kind models.ProviderKind, open Opener) (*models.ProviderIdentity, error) {
	if p.oauth == nil || !p.oauth.Enabled(kind) {
		return nil, errors.NewAuthError(fmt.Sprintf("%s sign-in is not configured", kind), nil)
	}

	tok, err := p.oauth.Authorize(ctx, kind, open)
	if err != nil {
		return nil, err
	}

	var resp accountResponse
	err = p.call(ctx, "accounts:signInWithIdp", map[string]interface{}{
		"postBody":            idpPostBody(kind, tok),
		"requestUri":          "http://localhost",
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	id := p.identityFrom(resp)
	if id.ProviderID == "" {
		id.ProviderID = kind.ProviderID()
	}
	p.setCurrent(id, true)
	return id.Clone(), nil
}

func idpPostBody(kind models.ProviderKind, tok *oauth2.Token) string {
	v := url.Values{}
	v.Set("providerId", kind.ProviderID())
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		v.Set("id_token", idToken)
	} else {
		v.Set("access_token", tok.AccessToken)
	}
	return v.Encode()
}

// SignOut forgets the local identity and notifies listeners.
func (p *FirebaseProvider) SignOut(ctx context.Context) error {
	p.setCurrent(nil, true)
	return nil
}

// CurrentIdentity returns the signed-in identity, refreshing its ID token
// when it is about to expire. Nil means nobody is signed in.
func (p *FirebaseProvider) CurrentIdentity(ctx context.Context) (*models.ProviderIdentity, error) {
	cur := p.snapshot()
	if cur == nil {
		return nil, nil
	}
	if !cur.Expired(p.now(), tokenSkew) || cur.RefreshToken == "" {
		return cur.Clone(), nil
	}

	refreshed, err := p.refresh(ctx, cur)
	if err != nil {
		return nil, err
	}
	p.setCurrent(refreshed, false)
	return refreshed.Clone(), nil
}

// OnAuthStateChanged registers fn for sign-in state changes. fn is invoked
// once immediately with the current identity.
func (p *FirebaseProvider) OnAuthStateChanged(fn func(*models.ProviderIdentity)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	cur := p.current.Clone()
	p.mu.Unlock()

	fn(cur)

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *FirebaseProvider) refresh(ctx context.Context, cur *models.ProviderIdentity) (*models.ProviderIdentity, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cur.RefreshToken)

	target := p.tokenURL + "/token?key=" + url.QueryEscape(p.apiKey)
	var resp refreshResponse
	if err := p.do(ctx, "token", target, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &resp); err != nil {
		return nil, err
	}

	out := cur.Clone()
	out.IDToken = resp.IDToken
	if resp.RefreshToken != "" {
		out.RefreshToken = resp.RefreshToken
	}
	out.ExpiresAt = p.expiry(resp.IDToken, resp.ExpiresIn)
	return out, nil
}

// ==========================
// Helpers
// ==========================

func (p *FirebaseProvider) call(ctx context.Context, method string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.NewInternalError(fmt.Errorf("encode %s: %w", method, err))
	}
	target := p.identityURL + "/" + method + "?key=" + url.QueryEscape(p.apiKey)
	return p.do(ctx, method, target, "application/json", bytes.NewReader(payload), out)
}

func (p *FirebaseProvider) do(ctx context.Context, method, target, contentType string, body io.Reader, out interface{}) error {
	ctx, span := p.tracer.Start(ctx, "identity "+method, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("identity.method", method))

	err := p.roundTrip(ctx, method, target, contentType, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Debug("identity call failed", map[string]interface{}{"method": method, "error": err.Error()})
	}
	return err
}

func (p *FirebaseProvider) roundTrip(ctx context.Context, method, target, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return errors.NewInternalError(fmt.Errorf("build %s request: %w", method, err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return commonhttp.TransportError("identity "+method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return commonhttp.TransportError("identity "+method, err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb firebaseErrorBody
		_ = json.Unmarshal(raw, &eb)
		return mapFirebaseError(eb.Error.Message)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return errors.NewAuthError("Authentication failed", fmt.Errorf("decode %s: %w", method, err))
		}
	}
	return nil
}

// mapFirebaseError turns an Identity Toolkit error code such as
// "WEAK_PASSWORD : Password should be at least 6 characters" into an AuthError.
func mapFirebaseError(message string) *errors.StandardError {
	code := strings.TrimSpace(strings.SplitN(message, ":", 2)[0])
	cause := fmt.Errorf("identity provider: %s", message)

	var e *errors.StandardError
	switch code {
	case "EMAIL_EXISTS":
		e = errors.NewAuthError("Email already in use", cause)
	case "WEAK_PASSWORD":
		e = errors.NewAuthError("Password is too weak", cause)
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "INVALID_EMAIL":
		e = errors.NewAuthError("Invalid email or password", cause)
	case "USER_DISABLED":
		e = errors.NewAuthError("This account has been disabled", cause)
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		e = errors.NewAuthError("Too many attempts, please try again later", cause)
	case "TOKEN_EXPIRED", "INVALID_REFRESH_TOKEN", "INVALID_ID_TOKEN", "USER_NOT_FOUND", "CREDENTIAL_TOO_OLD_LOGIN_AGAIN":
		e = errors.NewAuthError("Please sign in again", cause)
	default:
		e = errors.NewAuthError("Authentication failed", cause)
	}
	if code != "" {
		e = e.WithMetadata("providerCode", code)
	}
	return e
}

func (p *FirebaseProvider) identityFrom(resp accountResponse) *models.ProviderIdentity {
	id := &models.ProviderIdentity{
		UID:          resp.LocalID,
		Email:        resp.Email,
		DisplayName:  resp.DisplayName,
		PhotoURL:     resp.PhotoURL,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    p.expiry(resp.IDToken, resp.ExpiresIn),
		ProviderID:   resp.ProviderID,
	}
	if claims, err := ParseIDToken(resp.IDToken); err == nil {
		if id.UID == "" {
			id.UID = claims.UserID
		}
		if id.Email == "" {
			id.Email = claims.Email
		}
		if id.DisplayName == "" {
			id.DisplayName = claims.Name
		}
		if id.PhotoURL == "" {
			id.PhotoURL = claims.Picture
		}
	}
	return id
}

// expiry prefers the token's exp claim and falls back to expiresIn seconds.
func (p *FirebaseProvider) expiry(idToken, expiresIn string) time.Time {
	if claims, err := ParseIDToken(idToken); err == nil && !claims.Expiry().IsZero() {
		return claims.Expiry()
	}
	secs, err := strconv.Atoi(expiresIn)
	if err != nil || secs <= 0 {
		secs = 3600
	}
	return p.now().Add(time.Duration(secs) * time.Second)
}

func (p *FirebaseProvider) snapshot() *models.ProviderIdentity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.Clone()
}

// setCurrent replaces the identity. When notify is set, listeners run
// synchronously after the lock is released.
func (p *FirebaseProvider) setCurrent(id *models.ProviderIdentity, notify bool) {
	p.mu.Lock()
	p.current = id.Clone()
	var fns []func(*models.ProviderIdentity)
	if notify {
		fns = make([]func(*models.ProviderIdentity), 0, len(p.listeners))
		for _, fn := range p.listeners {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(id.Clone())
	}
}

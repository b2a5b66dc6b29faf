package models

import (
	"strings"
	"time"
)

// ProviderKind identifies a federated login provider.
type ProviderKind string

const (
	ProviderGoogle ProviderKind = "google"
	ProviderGitHub ProviderKind = "github"
)

// ProviderID returns the identity-provider id used by signInWithIdp.
func (k ProviderKind) ProviderID() string {
	switch k {
	case ProviderGoogle:
		return "google.com"
	case ProviderGitHub:
		return "github.com"
	}
	return ""
}

// ParseProviderKind accepts "google" or "github".
func ParseProviderKind(s string) (ProviderKind, bool) {
	switch ProviderKind(strings.ToLower(s)) {
	case ProviderGoogle:
		return ProviderGoogle, true
	case ProviderGitHub:
		return ProviderGitHub, true
	}
	return "", false
}

// ProviderIdentity is a signed-in identity-provider account.
type ProviderIdentity struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName,omitempty"`
	PhotoURL     string    `json:"photoURL,omitempty"`
	IDToken      string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expiresAt"`
	ProviderID   string    `json:"providerId,omitempty"`
}

// Expired reports whether the ID token needs a refresh. skew shortens the lifetime.
func (p *ProviderIdentity) Expired(now time.Time, skew time.Duration) bool {
	return p.ExpiresAt.IsZero() || !now.Add(skew).Before(p.ExpiresAt)
}

// Clone returns a copy, or nil for a nil identity.
func (p *ProviderIdentity) Clone() *ProviderIdentity {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email       string `json:"email"`
	FirebaseUID string `json:"firebaseUid"`
	Name        string `json:"name"`
	PhotoURL    string `json:"photoURL"`
	Role        Role   `json:"role,omitempty"`
}

// NewLoginRequest builds the backend exchange for a provider identity.
// The name falls back to the local part of the email.
func NewLoginRequest(id *ProviderIdentity, role Role) LoginRequest {
	name := id.DisplayName
	if name == "" {
		name = id.Email
		if at := strings.Index(name, "@"); at >= 0 {
			name = name[:at]
		}
	}
	return LoginRequest{
		Email:       id.Email,
		FirebaseUID: id.UID,
		Name:        name,
		PhotoURL:    id.PhotoURL,
		Role:        role,
	}
}

// AuthResponse is returned by POST /auth/login and GET /auth/me.
type AuthResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token,omitempty"`
	User    *UserProfile `json:"user,omitempty"`
	Message string       `json:"message,omitempty"`
}

package api

import (
	"context"

	"microloan-client/internal/common/errors"
	commonhttp "microloan-client/internal/common/http"
	"microloan-client/internal/models"
)

type AuthAPI struct {
	t Transport
}

// Login exchanges a provider identity for a backend token.
func (a *AuthAPI) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	var out models.AuthResponse
	if err := a.t.Post(ctx, "/auth/login", req, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.Token == "" {
		msg := out.Message
		if msg == "" {
			msg = "Login failed"
		}
		return nil, errors.NewAuthError(msg, nil)
	}
	return &out, nil
}

// Me returns the user behind the current token. A 401 comes back as an
// Unauthenticated error and never triggers the forced-logout hook.
func (a *AuthAPI) Me(ctx context.Context) (*models.UserProfile, error) {
	var out models.AuthResponse
	if err := a.t.Get(ctx, commonhttp.IdentityCheckPath, nil, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, errors.NewUnauthenticatedError(commonhttp.IdentityCheckPath)
	}
	return out.User, nil
}

func (a *AuthAPI) Logout(ctx context.Context) error {
	return a.t.Post(ctx, "/auth/logout", struct{}{}, nil)
}

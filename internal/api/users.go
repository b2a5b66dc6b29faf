package api

import (
	"context"
	"net/url"

	"microloan-client/internal/models"
)

type UsersAPI struct {
	t Transport
}

type userEnvelope struct {
	Success bool                `json:"success"`
	User    *models.UserProfile `json:"user"`
}

func (u *UsersAPI) Search(ctx context.Context, search string) ([]*models.UserProfile, error) {
	q := url.Values{}
	setIf(q, "search", search)

	var out models.UserList
	if err := u.t.Get(ctx, "/users", q, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (u *UsersAPI) UpdateRole(ctx context.Context, id string, role models.Role) (*models.UserProfile, error) {
	return u.patch(ctx, id, "role", map[string]interface{}{"role": role})
}

func (u *UsersAPI) Suspend(ctx context.Context, id, reason string) (*models.UserProfile, error) {
	return u.patch(ctx, id, "suspend", map[string]interface{}{"suspendReason": reason})
}

func (u *UsersAPI) Activate(ctx context.Context, id string) (*models.UserProfile, error) {
	return u.patch(ctx, id, "activate", struct{}{})
}

func (u *UsersAPI) patch(ctx context.Context, id, action string, body interface{}) (*models.UserProfile, error) {
	var out userEnvelope
	if err := u.t.Patch(ctx, "/users/"+escape(id)+"/"+action, body, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

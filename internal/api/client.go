// Package api exposes the marketplace backend endpoints as typed calls.
package api

import (
	"context"
	"net/url"
	"strconv"
)

const (
	// DefaultPageSize is the public loan listing page size.
	DefaultPageSize = 9
	// AdminListLimit bounds the admin-wide listings.
	AdminListLimit = 100
)

// Transport is the subset of the backend HTTP client used here;
// *http.Client from internal/common/http satisfies it.
type Transport interface {
	Get(ctx context.Context, path string, query url.Values, out interface{}) error
	Post(ctx context.Context, path string, body, out interface{}) error
	Patch(ctx context.Context, path string, body, out interface{}) error
	Delete(ctx context.Context, path string, out interface{}) error
}

// Client groups the endpoint families.
type Client struct {
	Auth         *AuthAPI
	Loans        *LoansAPI
	Applications *ApplicationsAPI
	Users        *UsersAPI
}

func New(t Transport) *Client {
	return &Client{
		Auth:         &AuthAPI{t: t},
		Loans:        &LoansAPI{t: t},
		Applications: &ApplicationsAPI{t: t},
		Users:        &UsersAPI{t: t},
	}
}

func escape(id string) string {
	return url.PathEscape(id)
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func itoa(n int) string { return strconv.Itoa(n) }

// internal/session/store.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTokenTTL is the lifetime of the backend token.
const DefaultTokenTTL = 7 * 24 * time.Hour

// TokenStore persists the backend bearer token. Only the Manager writes it;
// the HTTP transport reads it through Token.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	Save(ctx context.Context, token string, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// ==========================
// Cookie file store
// ==========================

// CookieStore keeps the token as an HttpOnly cookie serialized to a private
// file, mirroring the browser cookie the web client relies on.
type CookieStore struct {
	path string
	name string
	now  func() time.Time
	mu   sync.Mutex
}

func NewCookieStore(path, name string) *CookieStore {
	if name == "" {
		name = "token"
	}
	return &CookieStore{path: path, name: name, now: time.Now}
}

func (s *CookieStore) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session cookie: %w", err)
	}

	var c http.Cookie
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("decode session cookie: %w", err)
	}
	if c.Name != s.name || !c.Expires.After(s.now()) {
		return "", nil
	}
	return c.Value, nil
}

func (s *CookieStore) Save(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	c := http.Cookie{
		Name:     s.name,
		Value:    token,
		Path:     "/",
		Expires:  s.now().Add(ttl).UTC(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if err := c.Valid(); err != nil {
		return fmt.Errorf("invalid session cookie: %w", err)
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode session cookie: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write session cookie: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *CookieStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session cookie: %w", err)
	}
	return nil
}

// ==========================
// Redis store
// ==========================

// RedisStore keeps the token in redis so several client processes can share
// one signed-in profile.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

func NewRedisStore(client redis.Cmdable, prefix, profile string) *RedisStore {
	if profile == "" {
		profile = "default"
	}
	return &RedisStore{client: client, key: prefix + profile}
}

func (s *RedisStore) Token(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get session: %w", err)
	}
	return v, nil
}

func (s *RedisStore) Save(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if err := s.client.Set(ctx, s.key, token, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

// ==========================
// Memory store
// ==========================

type MemoryStore struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || !s.expires.After(s.now()) {
		return "", nil
	}
	return s.token, nil
}

func (s *MemoryStore) Save(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	s.mu.Lock()
	s.token = token
	s.expires = s.now().Add(ttl)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.expires = time.Time{}
	s.mu.Unlock()
	return nil
}

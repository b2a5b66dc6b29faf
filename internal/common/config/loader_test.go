package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// ==========================
// Tests
// ==========================

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
firebase:
  api_key: test-key
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultBackendURL, cfg.Backend.BaseURL)
	assert.Equal(t, 15000, cfg.Backend.Timeout)
	assert.Equal(t, DefaultIdentityURL, cfg.Firebase.IdentityURL)
	assert.Equal(t, DefaultStripeAPI, cfg.Stripe.APIBase)
	assert.Equal(t, "token", cfg.Session.CookieName)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.TTL())
	assert.Equal(t, "file", cfg.Session.Store)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, []string{"openid", "email", "profile"}, cfg.OAuth.Google.Scopes)
	assert.False(t, cfg.OAuth.Google.Enabled())
}

func TestLoadFromFile_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("TEST_FIREBASE_KEY", "from-env")
	t.Setenv("TEST_BACKEND", "https://api.example.com/api/")

	path := writeConfig(t, `
backend:
  base_url: ${TEST_BACKEND}
firebase:
  api_key: ${TEST_FIREBASE_KEY}
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Firebase.APIKey)
	assert.Equal(t, "https://api.example.com/api", cfg.Backend.BaseURL)
}

func TestLoadFromFile_WebBuildEnvNames(t *testing.T) {
	t.Setenv("VITE_API_URL", "https://loans.example.org/api")
	t.Setenv("VITE_STRIPE_PUBLISHABLE_KEY", "pk_test_123")
	t.Setenv("FIREBASE_API_KEY", "fb-key")
	t.Setenv("GITHUB_CLIENT_ID", "gh-client")

	path := writeConfig(t, "app:\n  name: microloan\n")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://loans.example.org/api", cfg.Backend.BaseURL)
	assert.Equal(t, "pk_test_123", cfg.Stripe.PublishableKey)
	assert.Equal(t, "fb-key", cfg.Firebase.APIKey)
	assert.True(t, cfg.OAuth.GitHub.Enabled())
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing firebase key",
			body:    "backend:\n  base_url: http://localhost:5000/api\n",
			wantErr: "firebase.api_key is required",
		},
		{
			name:    "relative backend url",
			body:    "backend:\n  base_url: /api\nfirebase:\n  api_key: k\n",
			wantErr: "backend.base_url must be an absolute URL",
		},
		{
			name:    "redis store without address",
			body:    "firebase:\n  api_key: k\nsession:\n  store: redis\n",
			wantErr: "database.redis.address is required",
		},
		{
			name:    "unknown store",
			body:    "firebase:\n  api_key: k\nsession:\n  store: sqlite\n",
			wantErr: "session.store must be one of",
		},
		{
			name:    "postgres journal without host",
			body:    "firebase:\n  api_key: k\ndatabase:\n  postgres:\n    enabled: true\n",
			wantErr: "database.postgres.host is required",
		},
		{
			name:    "tracing without endpoint",
			body:    "firebase:\n  api_key: k\ntracing:\n  enabled: true\n",
			wantErr: "tracing.jaeger_endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FIREBASE_API_KEY", "")
			t.Setenv("VITE_FIREBASE_API_KEY", "")
			t.Setenv("REDIS_ADDRESS", "")

			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
	assert.Equal(t, time.Duration(0), GetDuration(0))
}

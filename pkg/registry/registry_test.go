package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)
	require.NotEmpty(t, table.Routes)

	r, ok := table.Find("cancel-application")
	require.True(t, ok)
	assert.Equal(t, "DELETE", r.HTTPMethod())
	assert.Equal(t, "borrower", r.Access)
	assert.True(t, r.Confirm)

	home, ok := table.Find("home")
	require.True(t, ok)
	assert.Equal(t, "/", home.Path)

	for _, id := range []string{"manage-users", "admin-loans", "loan-applications"} {
		r, ok := table.Find(id)
		require.True(t, ok, id)
		assert.Equal(t, "admin", r.Access, id)
	}
	assert.NotEmpty(t, table.ByAccess("manager"))
}

func TestLoadRegistry(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "routes.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"version":"2","routes":[{"id":"home","path":"/"}]}`), 0o644))
	table, err := LoadRegistry(good)
	require.NoError(t, err)
	assert.Equal(t, "GET", table.Routes[0].HTTPMethod())

	_, err = LoadRegistry(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		routes []Route
	}{
		{"missing path", []Route{{ID: "a"}}},
		{"duplicate id", []Route{{ID: "a", Path: "/a"}, {ID: "a", Path: "/b"}}},
		{"duplicate path", []Route{{ID: "a", Path: "/a"}, {ID: "b", Path: "/a", Method: "get"}}},
		{"unknown access", []Route{{ID: "a", Path: "/a", Access: "root"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, (&RouteTable{Routes: tt.routes}).Validate())
		})
	}

	ok := &RouteTable{Routes: []Route{{ID: "a", Path: "/a"}, {ID: "b", Path: "/a", Method: "POST"}}}
	assert.NoError(t, ok.Validate())
}

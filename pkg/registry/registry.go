// pkg/registry/registry.go
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

//go:embed routes.json
var defaultRoutes []byte

// Default returns the built-in route table.
func Default() (*RouteTable, error) {
	return parse(defaultRoutes)
}

// LoadRegistry reads a route table from path.
func LoadRegistry(path string) (*RouteTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*RouteTable, error) {
	var t RouteTable
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode route table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate rejects duplicate ids, duplicate method+path pairs and unknown
// access levels.
func (t *RouteTable) Validate() error {
	ids := make(map[string]bool, len(t.Routes))
	paths := make(map[string]bool, len(t.Routes))
	for i, r := range t.Routes {
		if r.ID == "" || r.Path == "" {
			return fmt.Errorf("route %d: id and path are required", i)
		}
		if ids[r.ID] {
			return fmt.Errorf("route %s: duplicate id", r.ID)
		}
		ids[r.ID] = true

		key := r.HTTPMethod() + " " + r.Path
		if paths[key] {
			return fmt.Errorf("route %s: duplicate %s", r.ID, key)
		}
		paths[key] = true

		switch strings.ToLower(r.Access) {
		case "", "public", "authenticated", "admin", "manager", "borrower":
		default:
			return fmt.Errorf("route %s: unknown access %q", r.ID, r.Access)
		}
	}
	return nil
}

// Find returns the route with the given id.
func (t *RouteTable) Find(id string) (Route, bool) {
	for _, r := range t.Routes {
		if r.ID == id {
			return r, true
		}
	}
	return Route{}, false
}

// ByAccess returns the routes that need the given access.
func (t *RouteTable) ByAccess(access string) []Route {
	var out []Route
	for _, r := range t.Routes {
		if strings.EqualFold(r.Access, access) {
			out = append(out, r)
		}
	}
	return out
}

// HTTPMethod defaults to GET.
func (r Route) HTTPMethod() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

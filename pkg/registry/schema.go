// pkg/registry/schema.go
package registry

// RouteTable lists the dashboard routes and the access each one needs.
type RouteTable struct {
	Version     string  `json:"version"`
	LastUpdated string  `json:"lastUpdated"`
	Routes      []Route `json:"routes"`
}

type Route struct {
	ID          string   `json:"id"`
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	Access      string   `json:"access"`
	Description string   `json:"description"`
	Confirm     bool     `json:"confirm,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// cmd/tools/route-table/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"microloan-client/pkg/registry"
)

const defaultPath = "pkg/registry/routes.json"

func main() {
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)

	listPath := listCmd.String("path", defaultPath, "Path to route table")
	listAccess := listCmd.String("access", "", "Only routes needing this access (public, authenticated, admin, manager, borrower)")

	addPath := addCmd.String("path", defaultPath, "Path to route table")
	idAdd := addCmd.String("id", "", "Route ID (e.g., pending-loans)")
	method := addCmd.String("method", "GET", "HTTP method")
	routePath := addCmd.String("route", "", "URL pattern (e.g., /dashboard/pending-loans)")
	access := addCmd.String("access", "authenticated", "Required access")
	description := addCmd.String("description", "", "Description")
	confirm := addCmd.Bool("confirm", false, "Destructive action that asks for confirmation")
	tags := addCmd.String("tags", "", "Comma separated tags")

	updatePath := updateCmd.String("path", defaultPath, "Path to route table")
	idUpdate := updateCmd.String("id", "", "Route ID to update")
	field := updateCmd.String("field", "", "Field to update (access, method, route, description, confirm, tags)")
	value := updateCmd.String("value", "", "New value for the field")

	validatePath := validateCmd.String("path", defaultPath, "Path to route table")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		listCmd.Parse(os.Args[2:])
		if err := listRoutes(*listPath, *listAccess); err != nil {
			fmt.Printf("Error listing routes: %v\n", err)
			os.Exit(1)
		}

	case "add":
		addCmd.Parse(os.Args[2:])
		if *idAdd == "" || *routePath == "" {
			fmt.Println("Error: id and route are required for add.")
			addCmd.Usage()
			os.Exit(1)
		}
		route := registry.Route{
			ID:          *idAdd,
			Method:      strings.ToUpper(*method),
			Path:        *routePath,
			Access:      strings.ToLower(*access),
			Description: *description,
			Confirm:     *confirm,
			Tags:        splitTags(*tags),
		}
		if err := addRoute(*addPath, route); err != nil {
			fmt.Printf("Error adding route: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added route: %s %s %s\n", *idAdd, route.HTTPMethod(), route.Path)

	case "update":
		updateCmd.Parse(os.Args[2:])
		if *idUpdate == "" || *field == "" {
			fmt.Println("Error: id and field are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		if err := updateRoute(*updatePath, *idUpdate, *field, *value); err != nil {
			fmt.Printf("Error updating route: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated route %s, field %s to %q\n", *idUpdate, *field, *value)

	case "validate":
		validateCmd.Parse(os.Args[2:])
		t, err := registry.LoadRegistry(*validatePath)
		if err != nil {
			fmt.Printf("Route table validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Route table validation passed. Found %d routes.\n", len(t.Routes))

	case "help":
		fallthrough
	default:
		help()
	}
}

func listRoutes(path, access string) error {
	t, err := registry.LoadRegistry(path)
	if err != nil {
		return err
	}
	routes := t.Routes
	if access != "" {
		routes = t.ByAccess(access)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMETHOD\tPATH\tACCESS\tCONFIRM")
	for _, r := range routes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", r.ID, r.HTTPMethod(), r.Path, r.Access, r.Confirm)
	}
	return w.Flush()
}

func addRoute(path string, route registry.Route) error {
	t, err := registry.LoadRegistry(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to load route table: %w", err)
		}
		t = &registry.RouteTable{Version: "1.0.0"}
	}

	t.Routes = append(t.Routes, route)
	if err := t.Validate(); err != nil {
		return err
	}
	return saveTable(t, path)
}

func updateRoute(path, id, field, value string) error {
	t, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load route table: %w", err)
	}

	found := false
	for i := range t.Routes {
		if t.Routes[i].ID != id {
			continue
		}
		found = true
		switch field {
		case "access":
			t.Routes[i].Access = strings.ToLower(value)
		case "method":
			t.Routes[i].Method = strings.ToUpper(value)
		case "route":
			t.Routes[i].Path = value
		case "description":
			t.Routes[i].Description = value
		case "confirm":
			confirm, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid confirm value: %w", err)
			}
			t.Routes[i].Confirm = confirm
		case "tags":
			t.Routes[i].Tags = splitTags(value)
		default:
			return fmt.Errorf("unknown field: %s", field)
		}
		break
	}

	if !found {
		return fmt.Errorf("route with ID %s not found", id)
	}
	if err := t.Validate(); err != nil {
		return err
	}
	return saveTable(t, path)
}

func splitTags(s string) []string {
	var out []string
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func saveTable(t *registry.RouteTable, path string) error {
	t.LastUpdated = time.Now().Format("2006-01-02")
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal route table: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write route table: %w", err)
	}
	return nil
}

func help() {
	fmt.Print(`
Usage: route-table <command> [flags]

Commands:
  list      Print the routes, optionally filtered by access
  add       Add a route
  update    Change one field of a route
  validate  Validate the route table file
  help      Show this help message

Examples:
  route-table list -access manager
  route-table add -id loan-report -method GET -route /dashboard/report -access admin -description "Loan report"
  route-table update -id delete-loan -field confirm -value true
  route-table validate -path pkg/registry/routes.json

Use 'route-table <command> -h' for more information about a command.
` + "\n")
}

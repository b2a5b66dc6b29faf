// internal/guard/guard.go
package guard

import (
	"fmt"
	"strings"

	"microloan-client/internal/common/metrics"
	"microloan-client/internal/models"
)

// Requirement is the access a route needs.
type Requirement int

const (
	Public Requirement = iota
	Authenticated
	Admin
	Manager
	Borrower
)

func (r Requirement) String() string {
	switch r {
	case Public:
		return "public"
	case Authenticated:
		return "authenticated"
	case Admin:
		return "admin"
	case Manager:
		return "manager"
	case Borrower:
		return "borrower"
	}
	return fmt.Sprintf("requirement(%d)", int(r))
}

// ParseRequirement accepts "public", "authenticated", "admin", "manager" or
// "borrower". An empty string is public.
func ParseRequirement(s string) (Requirement, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "public":
		return Public, nil
	case "authenticated", "private":
		return Authenticated, nil
	case "admin":
		return Admin, nil
	case "manager":
		return Manager, nil
	case "borrower":
		return Borrower, nil
	}
	return Public, fmt.Errorf("unknown route requirement %q", s)
}

// Role returns the role a role-gated requirement needs, or "".
func (r Requirement) Role() models.Role {
	switch r {
	case Admin:
		return models.RoleAdmin
	case Manager:
		return models.RoleManager
	case Borrower:
		return models.RoleBorrower
	}
	return ""
}

type Outcome string

const (
	Wait     Outcome = "wait"
	Redirect Outcome = "redirect"
	Render   Outcome = "render"
)

// Decision is what a guarded route does for one session snapshot.
type Decision struct {
	Outcome    Outcome `json:"outcome"`
	RedirectTo string  `json:"redirectTo,omitempty"`
}

// HomePath is where unauthenticated or mismatched users are sent.
const HomePath = "/"

// Evaluate decides a route for the given snapshot. It never sees a
// half-applied session because callers pass one Snapshot.
func Evaluate(s models.Session, req Requirement) Decision {
	d := evaluate(s, req)
	metrics.GuardDecisions.WithLabelValues(req.String(), string(d.Outcome)).Inc()
	return d
}

func evaluate(s models.Session, req Requirement) Decision {
	if req == Public {
		return Decision{Outcome: Render}
	}
	if s.Loading {
		return Decision{Outcome: Wait}
	}
	if s.User == nil {
		return Decision{Outcome: Redirect, RedirectTo: HomePath}
	}
	if role := req.Role(); role != "" && s.User.Role != role {
		return Decision{Outcome: Redirect, RedirectTo: HomePath}
	}
	return Decision{Outcome: Render}
}

// DashboardHome is the landing page of each role's dashboard.
func DashboardHome(role models.Role) string {
	switch role {
	case models.RoleAdmin:
		return "/dashboard/manage-users"
	case models.RoleManager:
		return "/dashboard/add-loan"
	case models.RoleBorrower:
		return "/dashboard/my-loans"
	}
	return HomePath
}

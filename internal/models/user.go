package models

import "time"

// Role is the marketplace role assigned by the backend.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleBorrower Role = "borrower"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleBorrower:
		return true
	}
	return false
}

// UserStatus is the account state managed by admins.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
)

// UserProfile is the backend's view of the signed-in user.
type UserProfile struct {
	ID            string     `json:"_id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	PhotoURL      string     `json:"photoURL"`
	Role          Role       `json:"role"`
	Status        UserStatus `json:"status,omitempty"`
	SuspendReason string     `json:"suspendReason,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
}

// IsSuspended reports whether an admin suspended the account.
func (u *UserProfile) IsSuspended() bool {
	return u != nil && u.Status == UserSuspended
}

// Clone returns a deep copy so callers cannot mutate shared session state.
func (u *UserProfile) Clone() *UserProfile {
	if u == nil {
		return nil
	}
	c := *u
	if u.CreatedAt != nil {
		t := *u.CreatedAt
		c.CreatedAt = &t
	}
	return &c
}

// UserList is the payload of GET /users.
type UserList struct {
	Success bool           `json:"success"`
	Users   []*UserProfile `json:"users"`
}

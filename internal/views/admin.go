package views

import (
	"context"

	"microloan-client/internal/api"
	"microloan-client/internal/common/errors"
	"microloan-client/internal/common/validation"
	"microloan-client/internal/models"
)

type UsersView struct {
	Users  []*models.UserProfile `json:"users"`
	Search string                `json:"search,omitempty"`
}

func (v *Views) ManageUsers(m *Mount, search string) (*UsersView, error) {
	out := &UsersView{Users: []*models.UserProfile{}, Search: search}
	err := Load(m, func(ctx context.Context) ([]*models.UserProfile, error) {
		return v.api.Users.Search(ctx, search)
	}, func(users []*models.UserProfile) {
		if users != nil {
			out.Users = users
		}
	})
	if err != nil {
		return nil, v.fail(m.Context(), "manage_users", err, "Failed to fetch users")
	}
	return out, nil
}

func (v *Views) ChangeRole(ctx context.Context, id string, role models.Role) (*models.UserProfile, error) {
	if r := validation.ValidateRole(role); !r.Valid {
		return nil, r.Err()
	}
	u, err := v.api.Users.UpdateRole(ctx, id, role)
	if err != nil {
		return nil, v.fail(ctx, "change_role", err, "Failed to update role")
	}
	v.notifier.Success(ctx, "Role updated successfully")
	return u, nil
}

// Suspend blocks a user. A reason is mandatory.
func (v *Views) Suspend(ctx context.Context, id, reason string) (*models.UserProfile, error) {
	if r := validation.ValidateSuspension(reason); !r.Valid {
		v.notifier.Error(ctx, "Please provide a reason for suspension")
		return nil, r.Err()
	}
	u, err := v.api.Users.Suspend(ctx, id, reason)
	if err != nil {
		return nil, v.fail(ctx, "suspend_user", err, "Failed to suspend user")
	}
	v.notifier.Success(ctx, "User suspended successfully")
	return u, nil
}

func (v *Views) Activate(ctx context.Context, id string) (*models.UserProfile, error) {
	u, err := v.api.Users.Activate(ctx, id)
	if err != nil {
		return nil, v.fail(ctx, "activate_user", err, "Failed to activate user")
	}
	v.notifier.Success(ctx, "User activated successfully")
	return u, nil
}

// AdminLoans lists every loan for moderation.
func (v *Views) AdminLoans(m *Mount, search string) (*LoansView, error) {
	out := &LoansView{Loans: []*models.Loan{}, Search: search}
	err := Load(m, func(ctx context.Context) ([]*models.Loan, error) {
		return v.api.Loans.All(ctx, search)
	}, func(loans []*models.Loan) {
		if loans != nil {
			out.Loans = loans
		}
	})
	if err != nil {
		return nil, v.fail(m.Context(), "admin_loans", err, "Failed to fetch loans")
	}
	return out, nil
}

// ToggleHome flips whether a loan is featured on the home page.
func (v *Views) ToggleHome(ctx context.Context, id string) (*models.Loan, error) {
	loan, err := v.api.Loans.ToggleHome(ctx, id)
	if err != nil {
		return nil, v.fail(ctx, "toggle_home", err, "Failed to update")
	}
	v.notifier.Success(ctx, "Updated successfully")
	return loan, nil
}

// LoanApplications lists applications across borrowers, optionally filtered
// by status.
func (v *Views) LoanApplications(m *Mount, status string) (*ApplicationsView, error) {
	s := models.ApplicationStatus(status)
	switch s {
	case "", models.StatusPending, models.StatusApproved, models.StatusRejected:
	default:
		return nil, errors.NewValidationError([]errors.FieldError{{
			Field: "status", Message: "Unknown application status", Code: "ENUM",
		}})
	}
	return v.applications(m, "loan_applications", s, api.AdminListLimit, models.RoleAdmin)
}

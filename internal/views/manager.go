package views

import (
	"context"

	"microloan-client/internal/api"
	"microloan-client/internal/common/errors"
	"microloan-client/internal/common/validation"
	"microloan-client/internal/models"
	"microloan-client/internal/workflows/application"
)

// AddLoan publishes a new loan. On success the manager is sent to their
// loans.
func (v *Views) AddLoan(ctx context.Context, draft models.LoanDraftInput) (*models.Loan, string, error) {
	result, loan := validation.ValidateLoanDraft(draft)
	if !result.Valid {
		return nil, "", result.Err()
	}

	created, err := v.api.Loans.Create(ctx, loan)
	if err != nil {
		return nil, "", v.fail(ctx, "add_loan", err, "Failed to create loan")
	}
	v.notifier.Success(ctx, "Loan created successfully!")
	return created, "/dashboard/manage-loans", nil
}

type LoansView struct {
	Loans  []*models.Loan `json:"loans"`
	Search string         `json:"search,omitempty"`
}

// ManageLoans lists the manager's own loans.
func (v *Views) ManageLoans(m *Mount, search string) (*LoansView, error) {
	out := &LoansView{Loans: []*models.Loan{}, Search: search}
	err := Load(m, func(ctx context.Context) ([]*models.Loan, error) {
		return v.api.Loans.Mine(ctx, search)
	}, func(loans []*models.Loan) {
		if loans != nil {
			out.Loans = loans
		}
	})
	if err != nil {
		return nil, v.fail(m.Context(), "manage_loans", err, "Failed to fetch loans")
	}
	return out, nil
}

// DeleteLoan removes a loan after confirmation. Managers and admins share it.
func (v *Views) DeleteLoan(ctx context.Context, id string, confirmer application.Confirmer) (bool, error) {
	if confirmer == nil || !confirmer.Confirm(ctx, "Delete this loan?") {
		return false, nil
	}
	if err := v.api.Loans.Delete(ctx, id); err != nil {
		return false, v.fail(ctx, "delete_loan", err, "Failed to delete loan")
	}
	v.notifier.Success(ctx, "Loan deleted successfully")
	return true, nil
}

func (v *Views) applications(m *Mount, op string, status models.ApplicationStatus, limit int, role models.Role) (*ApplicationsView, error) {
	out := &ApplicationsView{Applications: []ApplicationRow{}, Status: string(status)}
	err := Load(m, func(ctx context.Context) ([]*models.LoanApplication, error) {
		return v.api.Applications.List(ctx, status, limit)
	}, func(apps []*models.LoanApplication) {
		out.Applications = rows(apps, role)
	})
	if err != nil {
		return nil, v.fail(m.Context(), op, err, "Failed to fetch applications")
	}
	return out, nil
}

func (v *Views) PendingApplications(m *Mount) (*ApplicationsView, error) {
	return v.applications(m, "pending_applications", models.StatusPending, 0, models.RoleManager)
}

func (v *Views) ApprovedApplications(m *Mount) (*ApplicationsView, error) {
	return v.applications(m, "approved_applications", models.StatusApproved, 0, models.RoleManager)
}

// findApplication looks id up in the review queue.
func (v *Views) findApplication(ctx context.Context, id string) (*models.LoanApplication, error) {
	apps, err := v.api.Applications.List(ctx, "", api.AdminListLimit)
	if err != nil {
		return nil, v.fail(ctx, "find_application", err, "Failed to fetch applications")
	}
	for _, a := range apps {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, errors.NewBackendError(404, "Application not found")
}

func (v *Views) Approve(ctx context.Context, id string) (*models.LoanApplication, error) {
	app, err := v.findApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	return v.workflow.Approve(ctx, app)
}

func (v *Views) Reject(ctx context.Context, id string) (*models.LoanApplication, error) {
	app, err := v.findApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	return v.workflow.Reject(ctx, app)
}

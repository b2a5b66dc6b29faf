package views

import (
	"context"

	"microloan-client/internal/common/errors"
	"microloan-client/internal/common/payment"
	"microloan-client/internal/guard"
	"microloan-client/internal/models"
	"microloan-client/internal/workflows/application"
)

// ApplicationRow is an application with the actions the viewer may take.
type ApplicationRow struct {
	*models.LoanApplication
	Actions []application.Action `json:"actions"`
}

func rows(apps []*models.LoanApplication, role models.Role) []ApplicationRow {
	out := make([]ApplicationRow, 0, len(apps))
	for _, a := range apps {
		out = append(out, ApplicationRow{LoanApplication: a, Actions: application.AvailableActions(a, role)})
	}
	return out
}

type ApplicationsView struct {
	Applications []ApplicationRow `json:"applications"`
	Status       string           `json:"status,omitempty"`
}

// MyLoans lists the borrower's applications.
func (v *Views) MyLoans(m *Mount) (*ApplicationsView, error) {
	out := &ApplicationsView{Applications: []ApplicationRow{}}
	err := Load(m, v.api.Applications.Mine, func(apps []*models.LoanApplication) {
		out.Applications = rows(apps, models.RoleBorrower)
	})
	if err != nil {
		return nil, v.fail(m.Context(), "my_loans", err, "Failed to fetch applications")
	}
	return out, nil
}

// findMine looks id up among the borrower's applications; the backend has no
// single-application endpoint.
func (v *Views) findMine(ctx context.Context, id string) (*models.LoanApplication, error) {
	apps, err := v.api.Applications.Mine(ctx)
	if err != nil {
		return nil, v.fail(ctx, "my_loans", err, "Failed to fetch applications")
	}
	for _, a := range apps {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, errors.NewBackendError(404, "Application not found")
}

// CancelApplication withdraws a pending application after confirmation.
func (v *Views) CancelApplication(ctx context.Context, id string, confirmer application.Confirmer) (bool, error) {
	app, err := v.findMine(ctx, id)
	if err != nil {
		return false, err
	}
	return v.workflow.Cancel(ctx, app, confirmer)
}

// PayFee pays the $10 application fee.
func (v *Views) PayFee(ctx context.Context, id string, method payment.Method) (*application.PaymentOutcome, error) {
	app, err := v.findMine(ctx, id)
	if err != nil {
		return nil, err
	}
	return v.workflow.PayFee(ctx, app, method)
}

type PaymentDetailsView struct {
	ApplicationID string                 `json:"applicationId"`
	LoanTitle     string                 `json:"loanTitle"`
	Payment       *models.PaymentDetails `json:"paymentDetails"`
}

// PaymentDetails shows the receipt of a paid application.
func (v *Views) PaymentDetails(m *Mount, id string) (*PaymentDetailsView, error) {
	var app *models.LoanApplication
	err := Load(m, func(ctx context.Context) (*models.LoanApplication, error) {
		return v.findMine(ctx, id)
	}, func(a *models.LoanApplication) {
		app = a
	})
	if err != nil {
		return nil, err
	}
	if !app.IsPaid() {
		return nil, errors.NewInvalidTransitionError("view payment", string(app.ApplicationFeeStatus))
	}
	return &PaymentDetailsView{
		ApplicationID: app.ID,
		LoanTitle:     app.LoanTitle,
		Payment:       app.PaymentDetails,
	}, nil
}

type ProfileView struct {
	User          *models.UserProfile `json:"user"`
	DashboardHome string              `json:"dashboardHome"`
}

// Profile shows the signed-in user. It needs no fetch.
func (v *Views) Profile(user *models.UserProfile) *ProfileView {
	if user == nil {
		return &ProfileView{DashboardHome: guard.HomePath}
	}
	return &ProfileView{User: user.Clone(), DashboardHome: guard.DashboardHome(user.Role)}
}

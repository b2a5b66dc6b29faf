package views

import (
	"context"

	"github.com/shopspring/decimal"

	"microloan-client/internal/api"
	"microloan-client/internal/common/errors"
	"microloan-client/internal/models"
)

type HomeView struct {
	FeaturedLoans []*models.Loan `json:"featuredLoans"`
}

// Home shows the loans managers flagged for the home page.
func (v *Views) Home(m *Mount) (*HomeView, error) {
	out := &HomeView{FeaturedLoans: []*models.Loan{}}
	err := Load(m, v.api.Loans.Featured, func(loans []*models.Loan) {
		if loans != nil {
			out.FeaturedLoans = loans
		}
	})
	if err != nil {
		return nil, v.quiet("home", err)
	}
	return out, nil
}

type LoanListView struct {
	Loans       []*models.Loan `json:"loans"`
	TotalPages  int            `json:"totalPages"`
	CurrentPage int            `json:"currentPage"`
	Search      string         `json:"search,omitempty"`
}

// AllLoans is the public paginated catalogue.
func (v *Views) AllLoans(m *Mount, page int, search string) (*LoanListView, error) {
	out := &LoanListView{Loans: []*models.Loan{}, Search: search}
	err := Load(m, func(ctx context.Context) (*models.LoanPage, error) {
		return v.api.Loans.List(ctx, page, api.DefaultPageSize, search)
	}, func(p *models.LoanPage) {
		if p.Loans != nil {
			out.Loans = p.Loans
		}
		out.TotalPages = p.TotalPages
		out.CurrentPage = p.CurrentPage
	})
	if err != nil {
		return nil, v.quiet("all_loans", err)
	}
	return out, nil
}

type LoanDetailsView struct {
	Loan     *models.Loan `json:"loan"`
	CanApply bool         `json:"canApply"`
	ApplyURL string       `json:"applyUrl,omitempty"`
}

// LoanDetails shows one loan. Only borrowers are offered the apply action.
func (v *Views) LoanDetails(m *Mount, id string, user *models.UserProfile) (*LoanDetailsView, error) {
	out := &LoanDetailsView{}
	err := Load(m, func(ctx context.Context) (*models.Loan, error) {
		return v.api.Loans.Get(ctx, id)
	}, func(loan *models.Loan) {
		out.Loan = loan
	})
	if err != nil {
		return nil, v.quiet("loan_details", err)
	}
	if out.Loan == nil {
		return nil, errors.NewBackendError(404, "Loan not found")
	}
	if user != nil && user.Role == models.RoleBorrower {
		out.CanApply = true
		out.ApplyURL = "/apply/" + id
	}
	return out, nil
}

type ApplyFormView struct {
	Loan           *models.Loan    `json:"loan"`
	MaxLoanAmount  decimal.Decimal `json:"maxLoanAmount"`
	ApplicationFee decimal.Decimal `json:"applicationFee"`
	Applicant      string          `json:"applicant,omitempty"`
}

// ApplyForm loads the loan the borrower is applying for.
func (v *Views) ApplyForm(m *Mount, id string, user *models.UserProfile) (*ApplyFormView, error) {
	var loan *models.Loan
	err := Load(m, func(ctx context.Context) (*models.Loan, error) {
		return v.api.Loans.Get(ctx, id)
	}, func(l *models.Loan) {
		loan = l
	})
	if err == nil && loan == nil {
		err = errors.NewBackendError(404, "Loan not found")
	}
	if err != nil {
		return nil, v.fail(m.Context(), "apply_form", err, "Failed to load loan details")
	}

	out := &ApplyFormView{
		Loan:           loan,
		MaxLoanAmount:  loan.MaxLimit,
		ApplicationFee: models.ApplicationFee,
	}
	if user != nil {
		out.Applicant = user.Email
	}
	return out, nil
}

// SubmitApplication applies for loan id. On success the borrower is sent to
// their applications.
func (v *Views) SubmitApplication(ctx context.Context, id string, in models.ApplicationInput) (*models.LoanApplication, string, error) {
	loan, err := v.api.Loans.Get(ctx, id)
	if err == nil && loan == nil {
		err = errors.NewBackendError(404, "Loan not found")
	}
	if err != nil {
		return nil, "", v.fail(ctx, "submit_application", err, "Failed to load loan details")
	}

	app, err := v.workflow.Submit(ctx, loan, in)
	if err != nil {
		return nil, "", err
	}
	return app, "/dashboard/my-loans", nil
}

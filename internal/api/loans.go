package api

import (
	"context"
	"net/url"

	"microloan-client/internal/models"
)

type LoansAPI struct {
	t Transport
}

// List returns one page of the public catalogue.
func (l *LoansAPI) List(ctx context.Context, page, limit int, search string) (*models.LoanPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := url.Values{}
	q.Set("page", itoa(page))
	q.Set("limit", itoa(limit))
	setIf(q, "search", search)

	var out models.LoanPage
	if err := l.t.Get(ctx, "/loans", q, &out); err != nil {
		return nil, err
	}
	if out.CurrentPage == 0 {
		out.CurrentPage = page
	}
	return &out, nil
}

// All returns up to AdminListLimit loans for the admin view.
func (l *LoansAPI) All(ctx context.Context, search string) ([]*models.Loan, error) {
	q := url.Values{}
	q.Set("limit", itoa(AdminListLimit))
	setIf(q, "search", search)

	var out models.LoanPage
	if err := l.t.Get(ctx, "/loans", q, &out); err != nil {
		return nil, err
	}
	return out.Loans, nil
}

func (l *LoansAPI) Featured(ctx context.Context) ([]*models.Loan, error) {
	var out models.LoanPage
	if err := l.t.Get(ctx, "/loans/featured", nil, &out); err != nil {
		return nil, err
	}
	return out.Loans, nil
}

func (l *LoansAPI) Get(ctx context.Context, id string) (*models.Loan, error) {
	var out models.LoanEnvelope
	if err := l.t.Get(ctx, "/loans/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return out.Loan, nil
}

// Mine lists the loans created by the signed-in manager.
func (l *LoansAPI) Mine(ctx context.Context, search string) ([]*models.Loan, error) {
	q := url.Values{}
	setIf(q, "search", search)

	var out models.LoanPage
	if err := l.t.Get(ctx, "/loans/manager/my-loans", q, &out); err != nil {
		return nil, err
	}
	return out.Loans, nil
}

func (l *LoansAPI) Create(ctx context.Context, loan *models.Loan) (*models.Loan, error) {
	var out models.LoanEnvelope
	if err := l.t.Post(ctx, "/loans", loan, &out); err != nil {
		return nil, err
	}
	if out.Loan == nil {
		return loan, nil
	}
	return out.Loan, nil
}

func (l *LoansAPI) Delete(ctx context.Context, id string) error {
	return l.t.Delete(ctx, "/loans/"+escape(id), nil)
}

// ToggleHome flips whether the loan is featured on the home page.
func (l *LoansAPI) ToggleHome(ctx context.Context, id string) (*models.Loan, error) {
	var out models.LoanEnvelope
	if err := l.t.Patch(ctx, "/loans/"+escape(id)+"/toggle-home", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Loan, nil
}

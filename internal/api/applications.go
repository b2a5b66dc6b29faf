package api

import (
	"context"
	"net/url"

	"microloan-client/internal/models"
)

type ApplicationsAPI struct {
	t Transport
}

// List returns applications across all borrowers. status and limit are
// optional filters.
func (a *ApplicationsAPI) List(ctx context.Context, status models.ApplicationStatus, limit int) ([]*models.LoanApplication, error) {
	q := url.Values{}
	setIf(q, "status", string(status))
	if limit > 0 {
		q.Set("limit", itoa(limit))
	}

	var out models.ApplicationList
	if err := a.t.Get(ctx, "/applications", q, &out); err != nil {
		return nil, err
	}
	return out.Applications, nil
}

// Mine returns the signed-in borrower's applications.
func (a *ApplicationsAPI) Mine(ctx context.Context) ([]*models.LoanApplication, error) {
	var out models.ApplicationList
	if err := a.t.Get(ctx, "/applications/my-applications", nil, &out); err != nil {
		return nil, err
	}
	return out.Applications, nil
}

func (a *ApplicationsAPI) Create(ctx context.Context, app *models.LoanApplication) (*models.LoanApplication, error) {
	var out models.ApplicationEnvelope
	if err := a.t.Post(ctx, "/applications", app, &out); err != nil {
		return nil, err
	}
	if out.Application == nil {
		return app, nil
	}
	return out.Application, nil
}

func (a *ApplicationsAPI) Cancel(ctx context.Context, id string) error {
	return a.t.Delete(ctx, "/applications/"+escape(id), nil)
}

func (a *ApplicationsAPI) Approve(ctx context.Context, id string) (*models.LoanApplication, error) {
	return a.decide(ctx, id, "approve")
}

func (a *ApplicationsAPI) Reject(ctx context.Context, id string) (*models.LoanApplication, error) {
	return a.decide(ctx, id, "reject")
}

func (a *ApplicationsAPI) decide(ctx context.Context, id, action string) (*models.LoanApplication, error) {
	var out models.ApplicationEnvelope
	if err := a.t.Patch(ctx, "/applications/"+escape(id)+"/"+action, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Application, nil
}

// CreatePaymentIntent asks the backend for a processor intent covering the
// application fee and returns its client secret.
func (a *ApplicationsAPI) CreatePaymentIntent(ctx context.Context, applicationID string) (string, error) {
	var out models.PaymentIntentResponse
	err := a.t.Post(ctx, "/applications/create-payment-intent",
		models.PaymentIntentRequest{ApplicationID: applicationID}, &out)
	if err != nil {
		return "", err
	}
	return out.ClientSecret, nil
}

// ConfirmPayment records a succeeded intent. The backend may or may not echo
// the updated application; nil means it did not.
func (a *ApplicationsAPI) ConfirmPayment(ctx context.Context, applicationID, paymentIntentID string) (*models.LoanApplication, error) {
	var out models.ApplicationEnvelope
	err := a.t.Post(ctx, "/applications/confirm-payment", models.ConfirmPaymentRequest{
		ApplicationID:   applicationID,
		PaymentIntentID: paymentIntentID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Application, nil
}

// Package application drives a loan application from submission through
// review and the application-fee payment.
package application

import (
	"context"
	"time"

	"microloan-client/internal/common/errors"
	"microloan-client/internal/common/logger"
	"microloan-client/internal/common/metrics"
	"microloan-client/internal/common/notify"
	"microloan-client/internal/common/payment"
	"microloan-client/internal/common/validation"
	"microloan-client/internal/models"
)

// Backend is the application part of the REST API. *api.ApplicationsAPI
// satisfies it.
type Backend interface {
	Create(ctx context.Context, app *models.LoanApplication) (*models.LoanApplication, error)
	Cancel(ctx context.Context, id string) error
	Approve(ctx context.Context, id string) (*models.LoanApplication, error)
	Reject(ctx context.Context, id string) (*models.LoanApplication, error)
	CreatePaymentIntent(ctx context.Context, applicationID string) (string, error)
	ConfirmPayment(ctx context.Context, applicationID, paymentIntentID string) (*models.LoanApplication, error)
}

// Processor confirms a payment intent with the card processor.
type Processor interface {
	ConfirmCardPayment(ctx context.Context, clientSecret string, method payment.Method) (*models.PaymentIntent, error)
}

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

type ConfirmFunc func(ctx context.Context, prompt string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool { return f(ctx, prompt) }

var (
	Confirmed = ConfirmFunc(func(context.Context, string) bool { return true })
	Declined  = ConfirmFunc(func(context.Context, string) bool { return false })
)

type Workflow struct {
	backend   Backend
	processor Processor
	journal   Journal
	notifier  notify.Notifier
	logger    logger.Logger
	errs      *errors.Handler
	now       func() time.Time
}

func New(backend Backend, processor Processor, journal Journal, notifier notify.Notifier, log logger.Logger) *Workflow {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if journal == nil {
		journal = NopJournal{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	log = log.With(map[string]interface{}{"component": "application-workflow"})
	return &Workflow{
		backend:   backend,
		processor: processor,
		journal:   journal,
		notifier:  notifier,
		logger:    log,
		errs:      errors.NewHandler(log),
		now:       time.Now,
	}
}

// ==========================
// Submission
// ==========================

// Submit validates the borrower's form against the loan and creates a
// Pending, Unpaid application.
func (w *Workflow) Submit(ctx context.Context, loan *models.Loan, in models.ApplicationInput) (*models.LoanApplication, error) {
	if loan == nil || loan.ID == "" {
		return nil, errors.NewBackendError(404, "Loan not found")
	}

	result, form := validation.ValidateApplication(in, loan.MaxLimit)
	if !result.Valid {
		metrics.WorkflowOperations.WithLabelValues("submit", "invalid").Inc()
		return nil, result.Err()
	}

	created, err := w.backend.Create(ctx, models.NewApplicationRequest(loan, form))
	if err != nil {
		return nil, w.fail(ctx, "submit", err, "Failed to submit application")
	}

	metrics.WorkflowOperations.WithLabelValues("submit", "ok").Inc()
	w.logger.Info("application submitted", map[string]interface{}{
		"loanId":        loan.ID,
		"applicationId": created.ID,
		"loanAmount":    form.LoanAmount.String(),
	})
	w.notifier.Success(ctx, "Application submitted successfully!")
	return created, nil
}

// ==========================
// Borrower cancellation
// ==========================

// Cancel withdraws a Pending application once the user confirms. A declined
// confirmation returns false and makes no call.
func (w *Workflow) Cancel(ctx context.Context, app *models.LoanApplication, confirmer Confirmer) (bool, error) {
	if !app.CanCancel() {
		return false, w.reject("cancel", errors.NewInvalidTransitionError("cancel", string(app.Status)))
	}
	if confirmer == nil || !confirmer.Confirm(ctx, "Cancel this application?") {
		metrics.WorkflowOperations.WithLabelValues("cancel", "declined").Inc()
		return false, nil
	}

	if err := w.backend.Cancel(ctx, app.ID); err != nil {
		return false, w.fail(ctx, "cancel", err, "Failed to cancel")
	}

	metrics.WorkflowOperations.WithLabelValues("cancel", "ok").Inc()
	w.notifier.Success(ctx, "Application cancelled")
	return true, nil
}

// ==========================
// Manager decisions
// ==========================

func (w *Workflow) Approve(ctx context.Context, app *models.LoanApplication) (*models.LoanApplication, error) {
	return w.decide(ctx, app, "approve", models.StatusApproved, w.backend.Approve,
		"Application approved!", "Failed to approve")
}

func (w *Workflow) Reject(ctx context.Context, app *models.LoanApplication) (*models.LoanApplication, error) {
	return w.decide(ctx, app, "reject", models.StatusRejected, w.backend.Reject,
		"Application rejected", "Failed to reject")
}

func (w *Workflow) decide(
	ctx context.Context,
	app *models.LoanApplication,
	action string,
	to models.ApplicationStatus,
	call func(context.Context, string) (*models.LoanApplication, error),
	success, failure string,
) (*models.LoanApplication, error) {
	if !app.CanDecide() {
		return nil, w.reject(action, errors.NewInvalidTransitionError(action, string(app.Status)))
	}

	returned, err := call(ctx, app.ID)
	if err != nil {
		return nil, w.fail(ctx, action, err, failure)
	}

	out := app.Clone()
	if returned != nil {
		out = returned.Clone()
	}
	out.Status = to

	metrics.WorkflowOperations.WithLabelValues(action, "ok").Inc()
	w.logger.Info("application decided", map[string]interface{}{"applicationId": app.ID, "status": string(to)})
	w.notifier.Success(ctx, success)
	return out, nil
}

// ==========================
// Actions
// ==========================

type Action string

const (
	ActionCancel      Action = "cancel"
	ActionPay         Action = "pay"
	ActionViewPayment Action = "view-payment"
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
)

// AvailableActions lists what role may do with app right now.
func AvailableActions(app *models.LoanApplication, role models.Role) []Action {
	actions := []Action{}
	switch role {
	case models.RoleBorrower:
		if app.CanCancel() {
			actions = append(actions, ActionCancel)
		}
		if app.CanPay() {
			actions = append(actions, ActionPay)
		} else if app.ApplicationFeeStatus == models.FeePaid {
			actions = append(actions, ActionViewPayment)
		}
	case models.RoleManager, models.RoleAdmin:
		if app.CanDecide() {
			actions = append(actions, ActionApprove, ActionReject)
		}
	}
	return actions
}

// Allows reports whether action is currently available to role.
func Allows(app *models.LoanApplication, role models.Role, action Action) bool {
	for _, a := range AvailableActions(app, role) {
		if a == action {
			return true
		}
	}
	return false
}

// ==========================
// Failure reporting
// ==========================

// fail reports a collaborator failure and raises the generic toast.
func (w *Workflow) fail(ctx context.Context, op string, err error, message string) *errors.StandardError {
	stdErr := w.errs.Report(op, err)
	metrics.WorkflowOperations.WithLabelValues(op, "failed").Inc()
	w.notifier.Error(ctx, message)
	return stdErr
}

func (w *Workflow) reject(op string, err *errors.StandardError) *errors.StandardError {
	metrics.WorkflowOperations.WithLabelValues(op, "rejected").Inc()
	w.logger.Warn("action not allowed", map[string]interface{}{
		"operation": op,
		"error":     err.Message,
	})
	return err
}

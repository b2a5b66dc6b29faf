package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"microloan-client/internal/common/errors"
	"microloan-client/internal/common/metrics"
	"microloan-client/internal/common/payment"
	"microloan-client/internal/models"
)

// Phase is a step of the application-fee payment.
type Phase string

const (
	PhaseIntentRequested    Phase = "intent_requested"
	PhaseProcessorConfirmed Phase = "processor_confirmed"
	PhaseBackendConfirmed   Phase = "backend_confirmed"
	PhaseFailed             Phase = "failed"
)

// PaymentOutcome is the result of a completed fee payment. Application is
// marked Paid.
type PaymentOutcome struct {
	SagaID          string                  `json:"sagaId"`
	Application     *models.LoanApplication `json:"application"`
	PaymentIntentID string                  `json:"paymentIntentId"`
	Amount          decimal.Decimal         `json:"amount"`
	Phase           Phase                   `json:"phase"`
}

// PayFee charges the application fee. Three phases run in order: the backend
// creates an intent, the processor confirms the card, the backend records
// the payment. Only the last one marks the application Paid; any failure
// leaves it Unpaid.
func (w *Workflow) PayFee(ctx context.Context, app *models.LoanApplication, method payment.Method) (*PaymentOutcome, error) {
	if !app.CanPay() {
		return nil, w.reject("pay", errors.NewInvalidTransitionError("pay", string(app.ApplicationFeeStatus)))
	}
	if !method.Valid() {
		return nil, errors.NewValidationError([]errors.FieldError{{
			Field: "card", Message: "Card details are required", Code: "REQUIRED",
		}})
	}

	saga := &paymentSaga{w: w, id: uuid.New().String(), app: app}

	secret, err := w.backend.CreatePaymentIntent(ctx, app.ID)
	if err == nil && secret == "" {
		err = errors.NewBackendError(502, "Payment could not be started")
	}
	if err != nil {
		return nil, saga.fail(ctx, err, "Payment failed")
	}
	saga.record(ctx, PhaseIntentRequested, nil)

	intent, err := w.processor.ConfirmCardPayment(ctx, secret, method)
	if err == nil && intent.Status != models.IntentSucceeded {
		err = errors.NewPaymentDeclinedError("Payment was not completed", nil).
			WithMetadata("intentStatus", string(intent.Status))
	}
	if err != nil {
		// processor messages are meant for the card holder
		msg := "Payment failed"
		if errors.IsCategory(err, errors.CategoryPayment) {
			msg = errors.UserMessage(err)
		}
		return nil, saga.fail(ctx, err, msg)
	}
	if err := matchIntent(secret, intent); err != nil {
		return nil, saga.fail(ctx, err, "Payment failed")
	}
	saga.intentID = intent.ID
	saga.record(ctx, PhaseProcessorConfirmed, nil)

	returned, err := w.backend.ConfirmPayment(ctx, app.ID, intent.ID)
	if err != nil {
		confirmErr := errors.NewPaymentConfirmationError(intent.ID, err)
		return nil, saga.fail(ctx, confirmErr, confirmErr.Message)
	}

	paid := w.markPaid(app, returned, intent)
	if !paid.IsPaid() {
		confirmErr := errors.NewPaymentConfirmationError(intent.ID, fmt.Errorf("no transaction recorded"))
		return nil, saga.fail(ctx, confirmErr, confirmErr.Message)
	}
	saga.record(ctx, PhaseBackendConfirmed, nil)

	metrics.WorkflowOperations.WithLabelValues("pay", "ok").Inc()
	w.logger.Info("application fee paid", map[string]interface{}{
		"applicationId":   app.ID,
		"paymentIntentId": intent.ID,
		"sagaId":          saga.id,
	})
	w.notifier.Success(ctx, "Payment successful!")

	return &PaymentOutcome{
		SagaID:          saga.id,
		Application:     paid,
		PaymentIntentID: intent.ID,
		Amount:          paid.PaymentDetails.Amount,
		Phase:           PhaseBackendConfirmed,
	}, nil
}

// markPaid prefers the backend's updated record. Otherwise the local copy
// is settled from the confirmed intent.
func (w *Workflow) markPaid(app, returned *models.LoanApplication, intent *models.PaymentIntent) *models.LoanApplication {
	if returned != nil && returned.IsPaid() {
		return returned.Clone()
	}
	if intent.ID == "" {
		return app.Clone()
	}

	amount := models.ApplicationFee
	if intent.Amount > 0 {
		amount = intent.AmountDecimal()
	}

	out := app.Clone()
	out.ApplicationFeeStatus = models.FeePaid
	out.PaymentDetails = &models.PaymentDetails{
		TransactionID: intent.ID,
		Amount:        amount,
		PaidAt:        w.now().UTC(),
	}
	return out
}

// matchIntent checks that the processor confirmed the intent the backend
// created. Paid requires a transaction id.
func matchIntent(secret string, intent *models.PaymentIntent) error {
	if intent.ID == "" {
		return errors.NewPaymentDeclinedError("Payment failed", fmt.Errorf("processor returned no intent id"))
	}
	want, err := payment.IntentID(secret)
	if err != nil {
		return errors.NewPaymentDeclinedError("Payment failed", err)
	}
	if intent.ID != want {
		return errors.NewPaymentDeclinedError("Payment failed",
			fmt.Errorf("processor confirmed intent %s, expected %s", intent.ID, want))
	}
	return nil
}

type paymentSaga struct {
	w        *Workflow
	id       string
	app      *models.LoanApplication
	intentID string
}

func (s *paymentSaga) record(ctx context.Context, phase Phase, cause error) {
	metrics.PaymentSagaPhases.WithLabelValues(string(phase)).Inc()

	entry := JournalEntry{
		ID:              uuid.New().String(),
		SagaID:          s.id,
		ApplicationID:   s.app.ID,
		Phase:           phase,
		PaymentIntentID: s.intentID,
		RecordedAt:      s.w.now().UTC(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	// the journal is an audit trail; its failures never fail the payment
	if err := s.w.journal.Record(ctx, entry); err != nil {
		s.w.logger.Warn("payment journal write failed", map[string]interface{}{
			"error":  err.Error(),
			"sagaId": s.id,
			"phase":  string(phase),
		})
	}
}

func (s *paymentSaga) fail(ctx context.Context, err error, message string) *errors.StandardError {
	s.record(ctx, PhaseFailed, err)
	return s.w.fail(ctx, "pay", err, message)
}

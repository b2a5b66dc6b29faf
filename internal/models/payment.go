package models

import "github.com/shopspring/decimal"

// PaymentIntentRequest is the body of POST /applications/create-payment-intent.
type PaymentIntentRequest struct {
	ApplicationID string `json:"applicationId"`
}

// PaymentIntentResponse carries the processor client secret.
type PaymentIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
}

// ConfirmPaymentRequest is the body of POST /applications/confirm-payment.
type ConfirmPaymentRequest struct {
	ApplicationID   string `json:"applicationId"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// PaymentIntentStatus mirrors the processor's intent lifecycle.
type PaymentIntentStatus string

const (
	IntentSucceeded             PaymentIntentStatus = "succeeded"
	IntentProcessing            PaymentIntentStatus = "processing"
	IntentRequiresAction        PaymentIntentStatus = "requires_action"
	IntentRequiresPaymentMethod PaymentIntentStatus = "requires_payment_method"
	IntentCanceled              PaymentIntentStatus = "canceled"
)

// PaymentIntent is the processor's confirmed intent.
type PaymentIntent struct {
	ID       string              `json:"id"`
	Status   PaymentIntentStatus `json:"status"`
	Amount   int64               `json:"amount"` // minor units
	Currency string              `json:"currency"`
}

// AmountDecimal converts the minor-unit amount to dollars.
func (p *PaymentIntent) AmountDecimal() decimal.Decimal {
	return decimal.New(p.Amount, -2)
}

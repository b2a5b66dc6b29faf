// internal/common/payment/stripe.go
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"microloan-client/internal/common/config"
	"microloan-client/internal/common/errors"
	commonhttp "microloan-client/internal/common/http"
	"microloan-client/internal/common/logger"
	"microloan-client/internal/models"
)

// Card is raw card data entered by the borrower.
type Card struct {
	Number   string `json:"number" form:"number"`
	ExpMonth int    `json:"expMonth" form:"expMonth"`
	ExpYear  int    `json:"expYear" form:"expYear"`
	CVC      string `json:"cvc" form:"cvc"`
}

// Method is the payment method used to confirm an intent: either a saved
// payment method id or a card.
type Method struct {
	PaymentMethodID string `json:"paymentMethodId,omitempty" form:"paymentMethodId"`
	Card            *Card  `json:"card,omitempty"`
	BillingEmail    string `json:"billingEmail,omitempty" form:"billingEmail"`
}

// Valid reports whether the method carries something to charge.
func (m Method) Valid() bool {
	return m.PaymentMethodID != "" || (m.Card != nil && m.Card.Number != "")
}

// StripeClient confirms payment intents from the client side with the
// publishable key, the way Stripe.js does.
type StripeClient struct {
	publishableKey string
	apiBase        string
	httpClient     *http.Client
	logger         logger.Logger
	tracer         trace.Tracer
}

func NewStripeClient(cfg config.StripeConfig, log logger.Logger) *StripeClient {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	timeout := config.GetDuration(cfg.Timeout)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StripeClient{
		publishableKey: cfg.PublishableKey,
		apiBase:        strings.TrimSuffix(cfg.APIBase, "/"),
		httpClient:     &http.Client{Timeout: timeout},
		logger:         log.With(map[string]interface{}{"component": "payment-processor"}),
		tracer:         otel.Tracer("microloan-client/payment"),
	}
}

type stripeErrorBody struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

// IntentID extracts the payment intent id from its client secret
// ("pi_123_secret_abc" -> "pi_123").
func IntentID(clientSecret string) (string, error) {
	i := strings.Index(clientSecret, "_secret_")
	if i <= 0 {
		return "", fmt.Errorf("malformed client secret")
	}
	return clientSecret[:i], nil
}

// ConfirmCardPayment confirms the intent behind clientSecret with method.
// A declined card or a processor error is a PaymentDeclined error; any
// returned status must still be checked by the caller.
func (s *StripeClient) ConfirmCardPayment(ctx context.Context, clientSecret string, method Method) (*models.PaymentIntent, error) {
	intentID, err := IntentID(clientSecret)
	if err != nil {
		return nil, errors.NewPaymentDeclinedError("Payment could not be started", err)
	}
	if !method.Valid() {
		return nil, errors.NewPaymentDeclinedError("A payment method is required", nil)
	}

	ctx, span := s.tracer.Start(ctx, "processor confirm", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("payment.intent_id", intentID))

	intent, err := s.confirm(ctx, intentID, clientSecret, method)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("payment confirmation failed", map[string]interface{}{
			"paymentIntentId": intentID,
			"error":           err.Error(),
		})
		return nil, err
	}

	span.SetAttributes(attribute.String("payment.status", string(intent.Status)))
	s.logger.Info("payment intent confirmed", map[string]interface{}{
		"paymentIntentId": intent.ID,
		"status":          intent.Status,
	})
	return intent, nil
}

func (s *StripeClient) confirm(ctx context.Context, intentID, clientSecret string, method Method) (*models.PaymentIntent, error) {
	form := url.Values{}
	form.Set("client_secret", clientSecret)
	form.Set("expected_payment_method_type", "card")
	if method.PaymentMethodID != "" {
		form.Set("payment_method", method.PaymentMethodID)
	} else {
		form.Set("payment_method_data[type]", "card")
		form.Set("payment_method_data[card][number]", method.Card.Number)
		form.Set("payment_method_data[card][exp_month]", fmt.Sprint(method.Card.ExpMonth))
		form.Set("payment_method_data[card][exp_year]", fmt.Sprint(method.Card.ExpYear))
		form.Set("payment_method_data[card][cvc]", method.Card.CVC)
		if method.BillingEmail != "" {
			form.Set("payment_method_data[billing_details][email]", method.BillingEmail)
		}
	}

	target := s.apiBase + "/v1/payment_intents/" + url.PathEscape(intentID) + "/confirm"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.NewInternalError(fmt.Errorf("build confirm request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.publishableKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, commonhttp.TransportError("processor confirm", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, commonhttp.TransportError("processor confirm", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb stripeErrorBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.Error.Message
		if msg == "" {
			msg = "Payment failed"
		}
		e := errors.NewPaymentDeclinedError(msg, fmt.Errorf("processor status %d: %s", resp.StatusCode, eb.Error.Code))
		if eb.Error.DeclineCode != "" {
			e = e.WithMetadata("declineCode", eb.Error.DeclineCode)
		}
		return nil, e
	}

	var intent models.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, errors.NewPaymentDeclinedError("Payment failed", fmt.Errorf("decode intent: %w", err))
	}
	return &intent, nil
}

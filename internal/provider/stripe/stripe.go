package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/frahmantamala/storefront-payments/internal/provider"
)

var allowedCurrencies = []string{"KES", "USD", "EUR", "GBP"}

type Config struct {
	APIKey        string
	WebhookSecret string
}

type Adapter struct {
	cfg    Config
	logger *slog.Logger
}

func NewAdapter(cfg Config, logger *slog.Logger) *Adapter {
	stripe.Key = cfg.APIKey
	return &Adapter{
		cfg:    cfg,
		logger: logger,
	}
}

func (a *Adapter) Name() provider.Name {
	return provider.Stripe
}

func (a *Adapter) SupportsCurrency(currency string) bool {
	return provider.SupportedCurrency(allowedCurrencies, currency)
}

// Initiate creates a PaymentIntent; the intent id is the correlation key the
// webhook events carry back.
func (a *Adapter) Initiate(ctx context.Context, req provider.InitiateRequest) (*provider.Handle, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("order_reference", req.Reference)

	intent, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create payment intent: %v", provider.ErrUnavailable, err)
	}

	a.logger.Info("payment intent created",
		"payment_intent_id", intent.ID,
		"reference", req.Reference,
		"amount", req.Amount)

	return &provider.Handle{
		CorrelationKey:  intent.ID,
		ProviderMessage: string(intent.ClientSecret),
	}, nil
}

// ErrInvalidSignature marks a webhook whose Stripe-Signature header does not
// match the HMAC over the raw body.
var ErrInvalidSignature = fmt.Errorf("invalid stripe webhook signature")

// ParseWebhook verifies the signature over the RAW body before any JSON
// parsing (re-serialization is not byte-identical) and translates the event.
// Event types the engine does not care about return (nil, nil).
func (a *Adapter) ParseWebhook(payload []byte, signatureHeader string) (*provider.CallbackResult, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, a.cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case "payment_intent.succeeded":
		return a.translateIntent(event, provider.OutcomeSuccess)
	case "payment_intent.payment_failed":
		return a.translateIntent(event, provider.OutcomeFailure)
	default:
		a.logger.Debug("ignoring stripe event", "event_type", event.Type, "event_id", event.ID)
		return nil, nil
	}
}

func (a *Adapter) translateIntent(event stripe.Event, outcome provider.Outcome) (*provider.CallbackResult, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("failed to parse payment intent from event %s: %w", event.ID, err)
	}

	result := &provider.CallbackResult{
		Provider:       provider.Stripe,
		CorrelationKey: intent.ID,
		Outcome:        outcome,
		Raw:            json.RawMessage(event.Data.Raw),
	}

	if outcome == provider.OutcomeSuccess {
		result.Amount = intent.AmountReceived
		if result.Amount == 0 {
			result.Amount = intent.Amount
		}
		if intent.LatestCharge != nil {
			result.Receipt = intent.LatestCharge.ID
		}
		return result, nil
	}

	result.FailureReason = "payment failed"
	if intent.LastPaymentError != nil {
		if intent.LastPaymentError.Code != "" {
			result.FailureReason = string(intent.LastPaymentError.Code)
		} else if intent.LastPaymentError.Msg != "" {
			result.FailureReason = intent.LastPaymentError.Msg
		}
	}

	return result, nil
}

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Name identifies a payment processor. Values match the strings stored on
// payment attempts.
type Name string

const (
	Mpesa  Name = "mpesa"
	Stripe Name = "stripe"
	Paypal Name = "paypal"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ErrUnavailable wraps any token-exchange, network or auth failure talking to
// a processor. Callers surface it without inventing a half-created attempt.
var ErrUnavailable = errors.New("payment provider unavailable")

// ErrStillProcessing is returned by status queries while the provider has no
// terminal answer yet. Distinct from a failure outcome.
var ErrStillProcessing = errors.New("payment still processing")

// InitiateRequest is the generic initiation call every adapter translates
// into its provider-specific HTTP request.
type InitiateRequest struct {
	Amount      int64 // minor units of Currency
	Currency    string
	Reference   string // order reference, lands in the provider's account-reference field
	Description string
	PhoneNumber string // M-Pesa only
}

// Handle is what an adapter returns from a successful initiation.
type Handle struct {
	CorrelationKey  string // provider-issued id used to match the async callback
	ProviderMessage string // customer-facing message from the provider, if any
}

// CallbackResult is the strongly-typed translation of a provider callback.
// Loosely-typed provider payloads never travel past the adapter boundary.
type CallbackResult struct {
	Provider       Name
	CorrelationKey string
	Outcome        Outcome
	Amount         int64 // minor units; 0 means the provider did not report one
	Receipt        string
	FailureReason  string
	Raw            json.RawMessage
}

// Adapter is the stateless client for one processor. Implementations hold
// credentials and an HTTP client, never persisted state.
type Adapter interface {
	Name() Name
	SupportsCurrency(currency string) bool
	Initiate(ctx context.Context, req InitiateRequest) (*Handle, error)
}

func SupportedCurrency(allowed []string, currency string) bool {
	for _, c := range allowed {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

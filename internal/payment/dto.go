package payment

import (
	"regexp"
	"time"

	errors "github.com/frahmantamala/storefront-payments/internal"
	paymentmodel "github.com/frahmantamala/storefront-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/storefront-payments/internal/core/common/validation"
)

// Safaricom MSISDN in international format, e.g. 254712345678.
var mpesaPhonePattern = regexp.MustCompile(`^254[17]\d{8}$`)

// InitiatePaymentRequest is the transport shape for the three initiation
// endpoints. Provider is set by the route, not the client.
type InitiatePaymentRequest struct {
	OrderID     int64  `json:"order_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Provider    string `json:"-"`
}

func (r *InitiatePaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("order_id", r.OrderID).Required()
	validator.Field("amount", r.Amount).Required().Positive(errors.ErrCodeInvalidAmount)

	if r.Provider == paymentmodel.ProviderMpesa {
		validator.Field("phone_number", r.PhoneNumber).Required().
			MatchesPattern(mpesaPhonePattern, "phone_number must be a 2547XXXXXXXX or 2541XXXXXXXX MSISDN", errors.ErrCodeInvalidPhoneNumber)
	}

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// AttemptView is the caller-facing projection of a PaymentAttempt.
type AttemptView struct {
	ID              int64      `json:"id"`
	OrderID         int64      `json:"order_id"`
	Provider        string     `json:"provider"`
	CorrelationKey  string     `json:"correlation_key"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	State           string     `json:"state"`
	ProviderReceipt *string    `json:"provider_receipt,omitempty"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func ToView(a *paymentmodel.PaymentAttempt) *AttemptView {
	if a == nil {
		return nil
	}
	return &AttemptView{
		ID:              a.ID,
		OrderID:         a.OrderID,
		Provider:        a.Provider,
		CorrelationKey:  a.CorrelationKey,
		Amount:          a.Amount,
		Currency:        a.Currency,
		State:           a.State,
		ProviderReceipt: a.ProviderReceipt,
		FailureReason:   a.FailureReason,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type InitiatePaymentResponse struct {
	Attempt         *AttemptView `json:"attempt"`
	ProviderMessage string       `json:"provider_message,omitempty"`
}

type PaymentStatusResponse struct {
	OrderID     int64        `json:"order_id"`
	IsPaid      bool         `json:"is_paid"`
	OrderStatus string       `json:"order_status"`
	PaidAt      *time.Time   `json:"paid_at,omitempty"`
	TotalAmount int64        `json:"total_amount"`
	Currency    string       `json:"currency"`
	Attempt     *AttemptView `json:"attempt,omitempty"`
}

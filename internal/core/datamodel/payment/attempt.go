package payment

import (
	"encoding/json"
	"time"
)

// Attempt states. Transitions are monotonic: initiated ->
// pending_confirmation -> {succeeded|failed}, nothing leaves a terminal state.
const (
	StateInitiated           = "initiated"
	StatePendingConfirmation = "pending_confirmation"
	StateSucceeded           = "succeeded"
	StateFailed              = "failed"
)

// Provider names as stored on attempts.
const (
	ProviderMpesa  = "mpesa"
	ProviderStripe = "stripe"
	ProviderPaypal = "paypal"
)

// Well-known failure reasons set by the engine rather than a provider.
const (
	FailureAmountMismatch  = "amount_mismatch"
	FailureProviderTimeout = "provider_timeout"
	FailureExpired         = "expired"
)

// PaymentAttempt is the append-only audit record of one payment try against
// an order. An order may accumulate several attempts after failures; the
// (provider, correlation_key) pair identifies exactly one.
type PaymentAttempt struct {
	ID               int64           `gorm:"primaryKey"`
	OrderID          int64           `gorm:"column:order_id;not null;index"`
	Provider         string          `gorm:"column:provider;not null;uniqueIndex:idx_provider_correlation"`
	CorrelationKey   string          `gorm:"column:correlation_key;not null;uniqueIndex:idx_provider_correlation"`
	Amount           int64           `gorm:"column:amount;not null"`
	Currency         string          `gorm:"column:currency;not null"`
	State            string          `gorm:"column:state;default:initiated"`
	ProviderReceipt  *string         `gorm:"column:provider_receipt"`
	FailureReason    *string         `gorm:"column:failure_reason"`
	ProviderResponse json.RawMessage `gorm:"column:provider_response;type:jsonb"`
	CreatedAt        time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;default:now()"`
}

func (PaymentAttempt) TableName() string {
	return "payment_attempts"
}

func (a *PaymentAttempt) IsTerminal() bool {
	return a.State == StateSucceeded || a.State == StateFailed
}

// CanTransitionTo reports whether moving to the target state respects the
// monotonic state machine.
func (a *PaymentAttempt) CanTransitionTo(target string) bool {
	switch a.State {
	case StateInitiated:
		return target == StatePendingConfirmation || target == StateSucceeded || target == StateFailed
	case StatePendingConfirmation:
		return target == StateSucceeded || target == StateFailed
	default:
		return false
	}
}

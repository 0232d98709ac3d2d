package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentSucceeded = "payment.succeeded"
	EventTypePaymentFailed    = "payment.failed"
	EventTypeAmountMismatch   = "payment.amount_mismatch"
)

type PaymentSucceededEvent struct {
	BaseEvent
	AttemptID       int64  `json:"attempt_id"`
	OrderID         int64  `json:"order_id"`
	Provider        string `json:"provider"`
	CorrelationKey  string `json:"correlation_key"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	ProviderReceipt string `json:"provider_receipt"`
}

func NewPaymentSucceededEvent(attemptID, orderID int64, provider, correlationKey string, amount int64, currency, receipt string) *PaymentSucceededEvent {
	return &PaymentSucceededEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentSucceeded,
			Timestamp: time.Now(),
		},
		AttemptID:       attemptID,
		OrderID:         orderID,
		Provider:        provider,
		CorrelationKey:  correlationKey,
		Amount:          amount,
		Currency:        currency,
		ProviderReceipt: receipt,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	AttemptID      int64  `json:"attempt_id"`
	OrderID        int64  `json:"order_id"`
	Provider       string `json:"provider"`
	CorrelationKey string `json:"correlation_key"`
	Amount         int64  `json:"amount"`
	FailureReason  string `json:"failure_reason"`
}

func NewPaymentFailedEvent(attemptID, orderID int64, provider, correlationKey string, amount int64, failureReason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
		},
		AttemptID:      attemptID,
		OrderID:        orderID,
		Provider:       provider,
		CorrelationKey: correlationKey,
		Amount:         amount,
		FailureReason:  failureReason,
	}
}

// AmountMismatchEvent is raised when a success callback reports an amount
// that disagrees with the recorded attempt. These need manual review, so
// they get their own type rather than riding on PaymentFailedEvent.
type AmountMismatchEvent struct {
	BaseEvent
	AttemptID      int64  `json:"attempt_id"`
	OrderID        int64  `json:"order_id"`
	Provider       string `json:"provider"`
	CorrelationKey string `json:"correlation_key"`
	ExpectedAmount int64  `json:"expected_amount"`
	ReportedAmount int64  `json:"reported_amount"`
}

func NewAmountMismatchEvent(attemptID, orderID int64, provider, correlationKey string, expected, reported int64) *AmountMismatchEvent {
	return &AmountMismatchEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeAmountMismatch,
			Timestamp: time.Now(),
		},
		AttemptID:      attemptID,
		OrderID:        orderID,
		Provider:       provider,
		CorrelationKey: correlationKey,
		ExpectedAmount: expected,
		ReportedAmount: reported,
	}
}

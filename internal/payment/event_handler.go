package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/storefront-payments/internal/core/events"
)

// EventHandler consumes payment lifecycle events for side effects that do
// not belong in the reconciliation path: customer notifications and the
// manual-review trail for mismatched amounts.
type EventHandler struct {
	logger *slog.Logger
}

func NewEventHandler(logger *slog.Logger) *EventHandler {
	return &EventHandler{
		logger: logger,
	}
}

func (h *EventHandler) HandlePaymentSucceeded(ctx context.Context, event events.Event) error {
	succeeded, ok := event.(*events.PaymentSucceededEvent)
	if !ok {
		h.logger.Error("invalid event type for payment succeeded handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentSucceededEvent, got %T", event)
	}

	// TODO: hook up the order-confirmation email once the notification
	// service lands; for now the structured log is the receipt trail.
	h.logger.Info("payment confirmed",
		"order_id", succeeded.OrderID,
		"attempt_id", succeeded.AttemptID,
		"provider", succeeded.Provider,
		"amount", succeeded.Amount,
		"currency", succeeded.Currency,
		"provider_receipt", succeeded.ProviderReceipt,
		"event_id", succeeded.EventID())

	return nil
}

func (h *EventHandler) HandlePaymentFailed(ctx context.Context, event events.Event) error {
	failed, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment failed handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentFailedEvent, got %T", event)
	}

	h.logger.Info("payment failed",
		"order_id", failed.OrderID,
		"attempt_id", failed.AttemptID,
		"provider", failed.Provider,
		"failure_reason", failed.FailureReason,
		"event_id", failed.EventID())

	return nil
}

func (h *EventHandler) HandleAmountMismatch(ctx context.Context, event events.Event) error {
	mismatch, ok := event.(*events.AmountMismatchEvent)
	if !ok {
		h.logger.Error("invalid event type for amount mismatch handler", "event_type", event.EventType())
		return fmt.Errorf("expected AmountMismatchEvent, got %T", event)
	}

	h.logger.Error("amount mismatch flagged for manual review",
		"order_id", mismatch.OrderID,
		"attempt_id", mismatch.AttemptID,
		"provider", mismatch.Provider,
		"correlation_key", mismatch.CorrelationKey,
		"expected_amount", mismatch.ExpectedAmount,
		"reported_amount", mismatch.ReportedAmount,
		"event_id", mismatch.EventID())

	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentSucceeded, h.HandlePaymentSucceeded)
	eventBus.Subscribe(events.EventTypePaymentFailed, h.HandlePaymentFailed)
	eventBus.Subscribe(events.EventTypeAmountMismatch, h.HandleAmountMismatch)

	h.logger.Info("payment event handlers registered",
		"handlers", []string{
			events.EventTypePaymentSucceeded,
			events.EventTypePaymentFailed,
			events.EventTypeAmountMismatch,
		})
}

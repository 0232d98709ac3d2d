package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/auth"
	paymentmodel "github.com/frahmantamala/storefront-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/storefront-payments/internal/core/events"
	orderpkg "github.com/frahmantamala/storefront-payments/internal/order"
	"github.com/frahmantamala/storefront-payments/internal/provider"
)

// ErrAttemptNotFound is returned by repositories when no attempt matches.
var ErrAttemptNotFound = errors.New("payment attempt not found")

// AttemptRepository is the persistence boundary for payment attempts.
// MarkTerminal is guarded: it only applies when the attempt is still in a
// non-terminal state, and reports whether the write won.
type AttemptRepository interface {
	Create(a *paymentmodel.PaymentAttempt) error
	GetByCorrelationKey(providerName, correlationKey string) (*paymentmodel.PaymentAttempt, error)
	GetLatestByOrderID(orderID int64) (*paymentmodel.PaymentAttempt, error)
	MarkTerminal(id int64, state string, receipt, failureReason *string, providerResponse json.RawMessage) (bool, error)
	ListStalePending(olderThan time.Time, limit int) ([]*paymentmodel.PaymentAttempt, error)
}

// StatusQuerier is the subset of the M-Pesa adapter the bounded poller needs.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, correlationKey string) (*provider.CallbackResult, error)
}

type EngineConfig struct {
	InitiateTimeout time.Duration
	PollInterval    time.Duration
	PollMaxAttempts int
}

// Engine is the single authority over PaymentAttempt and order payment state.
// Both client-initiated requests and provider callbacks funnel through it;
// route handlers never touch the stores directly.
type Engine struct {
	adapters     map[provider.Name]provider.Adapter
	mpesaQuerier StatusQuerier
	attempts     AttemptRepository
	orders       orderpkg.Repository
	eventBus     *events.EventBus
	logger       *slog.Logger
	cfg          EngineConfig
}

func NewEngine(
	adapters map[provider.Name]provider.Adapter,
	mpesaQuerier StatusQuerier,
	attempts AttemptRepository,
	orders orderpkg.Repository,
	eventBus *events.EventBus,
	logger *slog.Logger,
	cfg EngineConfig,
) *Engine {
	if cfg.InitiateTimeout <= 0 {
		cfg.InitiateTimeout = 30 * time.Second
	}
	return &Engine{
		adapters:     adapters,
		mpesaQuerier: mpesaQuerier,
		attempts:     attempts,
		orders:       orders,
		eventBus:     eventBus,
		logger:       logger,
		cfg:          cfg,
	}
}

// InitiatePayment starts a payment attempt for an order with the requested
// provider. The caller gets back the stored attempt, never the provider's
// raw payload.
func (e *Engine) InitiatePayment(ctx context.Context, user *auth.User, req *InitiatePaymentRequest) (*InitiatePaymentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	order, err := e.orders.GetByID(req.OrderID)
	if err != nil {
		return nil, apperrors.ErrOrderNotFound
	}

	if user.ID != order.UserID && !user.IsAdmin() {
		e.logger.Warn("payment initiation denied",
			"order_id", order.ID,
			"order_owner", order.UserID,
			"requester", user.ID)
		return nil, apperrors.ErrNotAuthorized
	}

	if order.IsPaid {
		return nil, apperrors.ErrOrderAlreadyPaid
	}

	if req.Amount != order.TotalAmount {
		e.logger.Warn("initiation amount does not match order total",
			"order_id", order.ID,
			"order_total", order.TotalAmount,
			"requested", req.Amount)
		return nil, apperrors.ErrInvalidAmount
	}

	// Daraja only takes whole shillings. Truncating would charge the
	// customer less than the attempt records and guarantee an amount
	// mismatch when the callback arrives.
	if req.Provider == string(provider.Mpesa) && req.Amount%100 != 0 {
		return nil, apperrors.NewValidationError(
			"mpesa amounts must be whole shillings",
			apperrors.ErrCodeInvalidAmount)
	}

	currency := req.Currency
	if currency == "" {
		currency = order.Currency
	}
	if currency != order.Currency {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("currency %s does not match order currency %s", currency, order.Currency),
			apperrors.ErrCodeUnsupportedCurrency)
	}

	adapter, ok := e.adapters[provider.Name(req.Provider)]
	if !ok {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("unsupported payment provider: %s", req.Provider),
			apperrors.ErrCodeUnsupportedProvider)
	}

	if !adapter.SupportsCurrency(currency) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("provider %s does not support currency %s", req.Provider, currency),
			apperrors.ErrCodeUnsupportedCurrency)
	}

	initCtx, cancel := apperrors.WithTimeout(ctx, e.cfg.InitiateTimeout)
	defer cancel()

	handle, err := adapter.Initiate(initCtx, provider.InitiateRequest{
		Amount:      req.Amount,
		Currency:    currency,
		Reference:   order.Reference,
		Description: fmt.Sprintf("Payment for order %s", order.Reference),
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		return nil, e.recordInitiationFailure(order.ID, req.Provider, req.Amount, currency, handle, err)
	}

	attempt := &paymentmodel.PaymentAttempt{
		OrderID:        order.ID,
		Provider:       req.Provider,
		CorrelationKey: handle.CorrelationKey,
		Amount:         req.Amount,
		Currency:       currency,
		State:          paymentmodel.StatePendingConfirmation,
	}
	if err := e.attempts.Create(attempt); err != nil {
		e.logger.Error("failed to persist payment attempt",
			"error", err,
			"order_id", order.ID,
			"correlation_key", handle.CorrelationKey)
		return nil, apperrors.NewInternalError("failed to record payment attempt", err)
	}

	e.logger.Info("payment attempt created",
		"attempt_id", attempt.ID,
		"order_id", order.ID,
		"provider", req.Provider,
		"correlation_key", handle.CorrelationKey)

	if provider.Name(req.Provider) == provider.Mpesa && e.mpesaQuerier != nil {
		// STK outcomes usually arrive via the async callback, but customers
		// poll their status page immediately; resolve stuck prompts early.
		go func() {
			if err := e.PollAttempt(context.Background(), handle.CorrelationKey); err != nil && !errors.Is(err, ErrPollTimeout) {
				e.logger.Warn("status polling stopped", "correlation_key", handle.CorrelationKey, "error", err)
			}
		}()
	}

	return &InitiatePaymentResponse{
		Attempt:         ToView(attempt),
		ProviderMessage: handle.ProviderMessage,
	}, nil
}

// recordInitiationFailure keeps failed initiations out of confusing
// half-states. A timeout or an error that arrives after the provider already
// issued a correlation key is recorded as a failed attempt; anything else
// leaves no attempt behind.
func (e *Engine) recordInitiationFailure(orderID int64, providerName string, amount int64, currency string, handle *provider.Handle, cause error) error {
	timedOut := errors.Is(cause, context.DeadlineExceeded)

	correlationKey := ""
	if handle != nil {
		correlationKey = handle.CorrelationKey
	}

	if correlationKey == "" && !timedOut {
		e.logger.Error("payment initiation failed",
			"error", cause,
			"order_id", orderID,
			"provider", providerName)
		return apperrors.NewExternalError("payment provider unavailable", apperrors.ErrCodeProviderUnavailable, cause)
	}

	reason := cause.Error()
	code := apperrors.ErrCodeProviderUnavailable
	if timedOut {
		reason = paymentmodel.FailureProviderTimeout
		code = apperrors.ErrCodeProviderTimeout
	}
	if correlationKey == "" {
		// Attempts are keyed by (provider, correlation_key); synthesize one
		// so the timed-out attempt still lands in the audit trail.
		correlationKey = "timeout-" + uuid.NewString()
	}

	attempt := &paymentmodel.PaymentAttempt{
		OrderID:        orderID,
		Provider:       providerName,
		CorrelationKey: correlationKey,
		Amount:         amount,
		Currency:       currency,
		State:          paymentmodel.StateFailed,
		FailureReason:  &reason,
	}
	if err := e.attempts.Create(attempt); err != nil {
		e.logger.Error("failed to record failed initiation",
			"error", err,
			"order_id", orderID,
			"correlation_key", correlationKey)
	}

	e.logger.Error("payment initiation failed",
		"error", cause,
		"order_id", orderID,
		"provider", providerName,
		"correlation_key", correlationKey,
		"timed_out", timedOut)

	return apperrors.NewExternalError("payment provider unavailable", code, cause)
}

// HandleCallback applies a translated provider callback to the stored
// attempt. Safe to call concurrently and repeatedly for the same payload:
// the guarded terminal transition makes the second and later deliveries
// no-ops.
func (e *Engine) HandleCallback(ctx context.Context, res *provider.CallbackResult) error {
	if res == nil {
		return nil
	}

	attempt, err := e.attempts.GetByCorrelationKey(string(res.Provider), res.CorrelationKey)
	if err != nil {
		if errors.Is(err, ErrAttemptNotFound) {
			// Providers retry aggressively; an unknown correlation is logged
			// and dropped, never surfaced as a transport error.
			e.logger.Warn("callback for unknown correlation key",
				"provider", res.Provider,
				"correlation_key", res.CorrelationKey)
			return nil
		}
		return fmt.Errorf("lookup attempt for callback: %w", err)
	}

	if attempt.IsTerminal() {
		e.logger.Debug("duplicate callback for terminal attempt",
			"attempt_id", attempt.ID,
			"state", attempt.State,
			"correlation_key", res.CorrelationKey)
		return nil
	}

	if res.Outcome == provider.OutcomeFailure {
		return e.applyFailure(ctx, attempt, res.FailureReason, res.Raw)
	}

	if res.Amount != 0 && res.Amount != attempt.Amount {
		return e.applyAmountMismatch(ctx, attempt, res)
	}

	return e.applySuccess(ctx, attempt, res)
}

func (e *Engine) applyFailure(ctx context.Context, attempt *paymentmodel.PaymentAttempt, reason string, raw json.RawMessage) error {
	if reason == "" {
		reason = "payment failed"
	}
	won, err := e.attempts.MarkTerminal(attempt.ID, paymentmodel.StateFailed, nil, &reason, raw)
	if err != nil {
		return fmt.Errorf("mark attempt failed: %w", err)
	}
	if !won {
		return nil
	}

	e.logger.Info("payment attempt failed",
		"attempt_id", attempt.ID,
		"order_id", attempt.OrderID,
		"reason", reason)

	e.eventBus.Publish(ctx, events.NewPaymentFailedEvent(
		attempt.ID, attempt.OrderID, attempt.Provider, attempt.CorrelationKey, attempt.Amount, reason))
	return nil
}

func (e *Engine) applyAmountMismatch(ctx context.Context, attempt *paymentmodel.PaymentAttempt, res *provider.CallbackResult) error {
	reason := paymentmodel.FailureAmountMismatch
	won, err := e.attempts.MarkTerminal(attempt.ID, paymentmodel.StateFailed, nil, &reason, res.Raw)
	if err != nil {
		return fmt.Errorf("mark attempt failed on amount mismatch: %w", err)
	}
	if !won {
		return nil
	}

	// Alert severity: a success callback with the wrong amount is either
	// tampering or a provider bug, and needs a human.
	e.logger.Error("amount mismatch on success callback, escalating for manual review",
		"attempt_id", attempt.ID,
		"order_id", attempt.OrderID,
		"provider", attempt.Provider,
		"correlation_key", attempt.CorrelationKey,
		"expected_amount", attempt.Amount,
		"reported_amount", res.Amount)

	e.eventBus.Publish(ctx, events.NewAmountMismatchEvent(
		attempt.ID, attempt.OrderID, attempt.Provider, attempt.CorrelationKey, attempt.Amount, res.Amount))
	return nil
}

func (e *Engine) applySuccess(ctx context.Context, attempt *paymentmodel.PaymentAttempt, res *provider.CallbackResult) error {
	var receipt *string
	if res.Receipt != "" {
		receipt = &res.Receipt
	}

	won, err := e.attempts.MarkTerminal(attempt.ID, paymentmodel.StateSucceeded, receipt, nil, res.Raw)
	if err != nil {
		return fmt.Errorf("mark attempt succeeded: %w", err)
	}
	if !won {
		// A concurrent delivery finalized the attempt first; it owns the
		// order flip.
		e.logger.Debug("lost terminal-transition race",
			"attempt_id", attempt.ID,
			"correlation_key", attempt.CorrelationKey)
		return nil
	}

	paid, err := e.orders.MarkPaid(attempt.OrderID, time.Now())
	if err != nil {
		e.logger.Error("attempt succeeded but order update failed, needs manual reconciliation",
			"error", err,
			"attempt_id", attempt.ID,
			"order_id", attempt.OrderID)
		return fmt.Errorf("mark order paid: %w", err)
	}
	if !paid {
		// Another attempt already paid this order, e.g. a retry that raced
		// the original. The money needs refunding, so shout.
		e.logger.Error("attempt succeeded for an already-paid order",
			"attempt_id", attempt.ID,
			"order_id", attempt.OrderID,
			"correlation_key", attempt.CorrelationKey)
	}

	e.logger.Info("payment succeeded",
		"attempt_id", attempt.ID,
		"order_id", attempt.OrderID,
		"provider", attempt.Provider,
		"receipt", res.Receipt)

	e.eventBus.Publish(ctx, events.NewPaymentSucceededEvent(
		attempt.ID, attempt.OrderID, attempt.Provider, attempt.CorrelationKey,
		attempt.Amount, attempt.Currency, res.Receipt))
	return nil
}

// GetStatus projects the order's payment state plus its most recent attempt.
// Read-only; same ownership rule as initiation.
func (e *Engine) GetStatus(ctx context.Context, user *auth.User, orderID int64) (*PaymentStatusResponse, error) {
	order, err := e.orders.GetByID(orderID)
	if err != nil {
		return nil, apperrors.ErrOrderNotFound
	}

	if user.ID != order.UserID && !user.IsAdmin() {
		return nil, apperrors.ErrNotAuthorized
	}

	resp := &PaymentStatusResponse{
		OrderID:     order.ID,
		IsPaid:      order.IsPaid,
		OrderStatus: order.Status,
		PaidAt:      order.PaidAt,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
	}

	attempt, err := e.attempts.GetLatestByOrderID(orderID)
	if err != nil {
		if errors.Is(err, ErrAttemptNotFound) {
			return resp, nil
		}
		return nil, apperrors.NewInternalError("failed to load payment attempt", err)
	}
	resp.Attempt = ToView(attempt)

	return resp, nil
}

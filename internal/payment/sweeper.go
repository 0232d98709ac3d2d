package payment

import (
	"context"
	"log/slog"
	"time"

	paymentmodel "github.com/frahmantamala/storefront-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/storefront-payments/internal/core/events"
)

const sweepBatchSize = 100

// Sweeper fails attempts stuck in a non-terminal state past a configured
// window, so a customer whose callback never arrives eventually sees a
// deterministic terminal answer instead of pending_confirmation forever.
type Sweeper struct {
	attempts AttemptRepository
	eventBus *events.EventBus
	logger   *slog.Logger
	interval time.Duration
	maxAge   time.Duration
}

func NewSweeper(attempts AttemptRepository, eventBus *events.EventBus, logger *slog.Logger, interval, maxAge time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &Sweeper{
		attempts: attempts,
		eventBus: eventBus,
		logger:   logger,
		interval: interval,
		maxAge:   maxAge,
	}
}

// Run loops until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("stale attempt sweeper started",
		"interval", s.interval,
		"max_age", s.maxAge)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stale attempt sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one pass and returns how many attempts it expired. It uses
// the same guarded terminal transition as callbacks, so a callback landing
// mid-sweep still wins or loses cleanly.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.maxAge)

	stale, err := s.attempts.ListStalePending(cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	reason := paymentmodel.FailureExpired
	for _, attempt := range stale {
		won, err := s.attempts.MarkTerminal(attempt.ID, paymentmodel.StateFailed, nil, &reason, nil)
		if err != nil {
			s.logger.Error("failed to expire attempt", "attempt_id", attempt.ID, "error", err)
			continue
		}
		if !won {
			continue
		}

		expired++
		s.logger.Info("expired stale payment attempt",
			"attempt_id", attempt.ID,
			"order_id", attempt.OrderID,
			"provider", attempt.Provider,
			"age", time.Since(attempt.CreatedAt))

		s.eventBus.Publish(ctx, events.NewPaymentFailedEvent(
			attempt.ID, attempt.OrderID, attempt.Provider, attempt.CorrelationKey, attempt.Amount, reason))
	}

	return expired, nil
}

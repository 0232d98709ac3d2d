package payment

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/storefront-payments/internal/provider"
)

// ErrPollTimeout is returned when the bounded status poll gives up without a
// terminal answer. The attempt stays pending_confirmation for the callback
// or the sweeper to resolve.
var ErrPollTimeout = errors.New("status polling exceeded maximum attempts")

// PollAttempt repeatedly queries the STK Push status until the provider
// reports an outcome or the attempt budget runs out. "Still processing" is
// not a failure; it just means the customer has not answered the prompt
// yet. Only failures are applied from here; successes wait for the
// callback, which is the document of record for the receipt.
func (e *Engine) PollAttempt(ctx context.Context, correlationKey string) error {
	interval := e.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxAttempts := e.cfg.PollMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 12
	}

	for i := 0; i < maxAttempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		queryCtx, cancel := context.WithTimeout(ctx, e.cfg.InitiateTimeout)
		res, err := e.mpesaQuerier.QueryStatus(queryCtx, correlationKey)
		cancel()

		if errors.Is(err, provider.ErrStillProcessing) {
			continue
		}
		if err != nil {
			// Transient query failures burn an attempt but don't abort:
			// the next tick may succeed.
			e.logger.Warn("status query failed",
				"correlation_key", correlationKey,
				"attempt", i+1,
				"error", err)
			continue
		}

		// The query response carries neither the receipt nor the paid
		// amount, so a success here only means stop polling: the callback
		// finalizes the attempt with the receipt, or the sweeper expires
		// it if the callback never lands. Failures are authoritative.
		if res.Outcome == provider.OutcomeSuccess {
			e.logger.Info("status query reports success, awaiting callback",
				"correlation_key", correlationKey)
			return nil
		}

		return e.HandleCallback(ctx, res)
	}

	e.logger.Info("status polling gave up, awaiting callback or sweep",
		"correlation_key", correlationKey,
		"max_attempts", maxAttempts)
	return ErrPollTimeout
}

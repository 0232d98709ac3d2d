package payment_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	ordermodel "github.com/frahmantamala/storefront-payments/internal/core/datamodel/order"
	paymentmodel "github.com/frahmantamala/storefront-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/storefront-payments/internal/core/events"
	"github.com/frahmantamala/storefront-payments/internal/payment"
	"github.com/frahmantamala/storefront-payments/internal/provider"
)

// mockStatusQuerier replays a scripted sequence of query outcomes.
type mockStatusQuerier struct {
	results []queryStep
	calls   int
}

type queryStep struct {
	res *provider.CallbackResult
	err error
}

func (m *mockStatusQuerier) QueryStatus(ctx context.Context, correlationKey string) (*provider.CallbackResult, error) {
	step := m.results[len(m.results)-1]
	if m.calls < len(m.results) {
		step = m.results[m.calls]
	}
	m.calls++
	return step.res, step.err
}

var _ = Describe("PollAttempt", func() {
	var (
		engine      *payment.Engine
		attemptRepo *mockAttemptRepo
		orderRepo   *mockOrderRepo
		querier     *mockStatusQuerier
		testLogger  *slog.Logger
	)

	newPollingEngine := func(maxAttempts int) *payment.Engine {
		eventBus := events.NewEventBus(testLogger)
		return payment.NewEngine(nil, querier, attemptRepo, orderRepo, eventBus, testLogger, payment.EngineConfig{
			InitiateTimeout: time.Second,
			PollInterval:    time.Millisecond,
			PollMaxAttempts: maxAttempts,
		})
	}

	BeforeEach(func() {
		attemptRepo = newMockAttemptRepo()
		orderRepo = newMockOrderRepo()
		querier = &mockStatusQuerier{}
		testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

		orderRepo.orders[10] = &ordermodel.Order{
			ID:          10,
			UserID:      1,
			Reference:   "ORD-2025-0001",
			TotalAmount: 150000,
			Currency:    "KES",
			Status:      ordermodel.StatusPending,
		}
		attempt := &paymentmodel.PaymentAttempt{
			OrderID:        10,
			Provider:       paymentmodel.ProviderMpesa,
			CorrelationKey: "ws_CO_12345",
			Amount:         150000,
			Currency:       "KES",
			State:          paymentmodel.StatePendingConfirmation,
		}
		Expect(attemptRepo.Create(attempt)).To(Succeed())
	})

	Context("when the customer eventually completes the prompt", func() {
		It("should stop polling and leave finalization to the callback", func() {
			querier.results = []queryStep{
				{err: provider.ErrStillProcessing},
				{err: provider.ErrStillProcessing},
				{res: &provider.CallbackResult{
					Provider:       provider.Mpesa,
					CorrelationKey: "ws_CO_12345",
					Outcome:        provider.OutcomeSuccess,
				}},
			}
			engine = newPollingEngine(5)

			err := engine.PollAttempt(context.Background(), "ws_CO_12345")

			Expect(err).ToNot(HaveOccurred())
			Expect(querier.calls).To(Equal(3))
			// The query result has no receipt and no amount, so the
			// attempt must stay pending for the callback.
			Expect(attemptRepo.get(1).State).To(Equal(paymentmodel.StatePendingConfirmation))
		})

		It("should record the callback receipt after a poll-reported success", func() {
			querier.results = []queryStep{
				{res: &provider.CallbackResult{
					Provider:       provider.Mpesa,
					CorrelationKey: "ws_CO_12345",
					Outcome:        provider.OutcomeSuccess,
				}},
			}
			engine = newPollingEngine(5)

			Expect(engine.PollAttempt(context.Background(), "ws_CO_12345")).To(Succeed())

			err := engine.HandleCallback(context.Background(), &provider.CallbackResult{
				Provider:       provider.Mpesa,
				CorrelationKey: "ws_CO_12345",
				Outcome:        provider.OutcomeSuccess,
				Amount:         150000,
				Receipt:        "NLJ7RT61SV",
			})

			Expect(err).ToNot(HaveOccurred())
			attempt := attemptRepo.get(1)
			Expect(attempt.State).To(Equal(paymentmodel.StateSucceeded))
			Expect(attempt.ProviderReceipt).ToNot(BeNil())
			Expect(*attempt.ProviderReceipt).To(Equal("NLJ7RT61SV"))
			Expect(orderRepo.markPaidCalls).To(Equal(1))
		})
	})

	Context("when the prompt stays unanswered", func() {
		It("should give up after the attempt budget", func() {
			querier.results = []queryStep{{err: provider.ErrStillProcessing}}
			engine = newPollingEngine(3)

			err := engine.PollAttempt(context.Background(), "ws_CO_12345")

			Expect(err).To(MatchError(payment.ErrPollTimeout))
			Expect(querier.calls).To(Equal(3))
			Expect(attemptRepo.get(1).State).To(Equal(paymentmodel.StatePendingConfirmation))
		})
	})

	Context("when a query fails transiently", func() {
		It("should keep polling", func() {
			querier.results = []queryStep{
				{err: errors.New("dns failure")},
				{res: &provider.CallbackResult{
					Provider:       provider.Mpesa,
					CorrelationKey: "ws_CO_12345",
					Outcome:        provider.OutcomeFailure,
					FailureReason:  "Request cancelled by user",
				}},
			}
			engine = newPollingEngine(5)

			err := engine.PollAttempt(context.Background(), "ws_CO_12345")

			Expect(err).ToNot(HaveOccurred())
			Expect(attemptRepo.get(1).State).To(Equal(paymentmodel.StateFailed))
		})
	})

	Context("when the context is cancelled", func() {
		It("should stop immediately", func() {
			querier.results = []queryStep{{err: provider.ErrStillProcessing}}
			engine = newPollingEngine(1000)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := engine.PollAttempt(ctx, "ws_CO_12345")

			Expect(err).To(MatchError(context.Canceled))
		})
	})
})

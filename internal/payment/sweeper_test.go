package payment_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	paymentmodel "github.com/frahmantamala/storefront-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/storefront-payments/internal/core/events"
	"github.com/frahmantamala/storefront-payments/internal/payment"
)

var _ = Describe("Sweeper", func() {
	var (
		sweeper     *payment.Sweeper
		attemptRepo *mockAttemptRepo
		eventBus    *events.EventBus
		testLogger  *slog.Logger
	)

	stale := func(key string, age time.Duration) *paymentmodel.PaymentAttempt {
		a := &paymentmodel.PaymentAttempt{
			OrderID:        10,
			Provider:       paymentmodel.ProviderMpesa,
			CorrelationKey: key,
			Amount:         150000,
			Currency:       "KES",
			State:          paymentmodel.StatePendingConfirmation,
		}
		Expect(attemptRepo.Create(a)).To(Succeed())
		attemptRepo.mu.Lock()
		attemptRepo.attempts[a.ID].CreatedAt = time.Now().Add(-age)
		attemptRepo.mu.Unlock()
		return a
	}

	BeforeEach(func() {
		attemptRepo = newMockAttemptRepo()
		testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		eventBus = events.NewEventBus(testLogger)
		sweeper = payment.NewSweeper(attemptRepo, eventBus, testLogger, time.Minute, 30*time.Minute)
	})

	Context("when attempts have been pending past the maximum age", func() {
		It("should fail them with an expired reason", func() {
			old := stale("ws_CO_old", time.Hour)
			fresh := stale("ws_CO_fresh", time.Minute)

			expired, err := sweeper.Sweep(context.Background())

			Expect(err).ToNot(HaveOccurred())
			Expect(expired).To(Equal(1))

			expiredAttempt := attemptRepo.get(old.ID)
			Expect(expiredAttempt.State).To(Equal(paymentmodel.StateFailed))
			Expect(*expiredAttempt.FailureReason).To(Equal(paymentmodel.FailureExpired))

			Expect(attemptRepo.get(fresh.ID).State).To(Equal(paymentmodel.StatePendingConfirmation))
		})
	})

	Context("when a callback finalizes an attempt mid-sweep", func() {
		It("should not count the attempt it lost to the callback", func() {
			old := stale("ws_CO_raced", time.Hour)

			// Callback wins before the sweeper writes.
			receipt := "NLJ7RT61SV"
			won, err := attemptRepo.MarkTerminal(old.ID, paymentmodel.StateSucceeded, &receipt, nil, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(won).To(BeTrue())

			expired, err := sweeper.Sweep(context.Background())

			Expect(err).ToNot(HaveOccurred())
			Expect(expired).To(BeZero())
			Expect(attemptRepo.get(old.ID).State).To(Equal(paymentmodel.StateSucceeded))
		})
	})

	Context("when nothing is stale", func() {
		It("should do nothing", func() {
			stale("ws_CO_fresh", time.Minute)

			expired, err := sweeper.Sweep(context.Background())

			Expect(err).ToNot(HaveOccurred())
			Expect(expired).To(BeZero())
		})
	})
})

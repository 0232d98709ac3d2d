package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/storefront-payments/internal/payment"
	"github.com/frahmantamala/storefront-payments/internal/provider"
	"github.com/frahmantamala/storefront-payments/internal/provider/stripe"
	"github.com/frahmantamala/storefront-payments/internal/transport"
)

type mockReconciler struct {
	received []*provider.CallbackResult
	err      error
}

func (m *mockReconciler) HandleCallback(ctx context.Context, result *provider.CallbackResult) error {
	m.received = append(m.received, result)
	return m.err
}

type mockMpesaParser struct {
	result *provider.CallbackResult
	err    error
}

func (m *mockMpesaParser) ParseCallback(body []byte) (*provider.CallbackResult, error) {
	return m.result, m.err
}

type mockStripeParser struct {
	result  *provider.CallbackResult
	err     error
	lastSig string
}

func (m *mockStripeParser) ParseWebhook(payload []byte, signatureHeader string) (*provider.CallbackResult, error) {
	m.lastSig = signatureHeader
	return m.result, m.err
}

type mockPaypalCapturer struct {
	result      *provider.CallbackResult
	err         error
	capturedIDs []string
}

func (m *mockPaypalCapturer) Capture(ctx context.Context, paypalOrderID string) (*provider.CallbackResult, error) {
	m.capturedIDs = append(m.capturedIDs, paypalOrderID)
	return m.result, m.err
}

var _ = Describe("WebhookHandler", func() {
	var (
		handler      *payment.WebhookHandler
		reconciler   *mockReconciler
		mpesaParser  *mockMpesaParser
		stripeParser *mockStripeParser
		capturer     *mockPaypalCapturer
	)

	BeforeEach(func() {
		testLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		reconciler = &mockReconciler{}
		mpesaParser = &mockMpesaParser{}
		stripeParser = &mockStripeParser{}
		capturer = &mockPaypalCapturer{}
		handler = payment.NewWebhookHandler(
			transport.NewBaseHandler(testLogger), reconciler, mpesaParser, stripeParser, capturer, testLogger)
	})

	Describe("HandleMpesaCallback", func() {
		It("should reconcile the parsed result and acknowledge with ResultCode 0", func() {
			mpesaParser.result = &provider.CallbackResult{
				Provider:       provider.Mpesa,
				CorrelationKey: "ws_CO_12345",
				Outcome:        provider.OutcomeSuccess,
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback/mpesa", bytes.NewBufferString(`{}`))
			rec := httptest.NewRecorder()
			handler.HandleMpesaCallback(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(reconciler.received).To(HaveLen(1))
			Expect(reconciler.received[0].CorrelationKey).To(Equal("ws_CO_12345"))

			var ack map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &ack)).To(Succeed())
			Expect(ack["ResultCode"]).To(BeEquivalentTo(0))
		})

		It("should still acknowledge a malformed payload", func() {
			mpesaParser.err = errors.New("unexpected shape")

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback/mpesa", bytes.NewBufferString(`not json`))
			rec := httptest.NewRecorder()
			handler.HandleMpesaCallback(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(reconciler.received).To(BeEmpty())
		})

		It("should still acknowledge when reconciliation fails", func() {
			mpesaParser.result = &provider.CallbackResult{
				Provider:       provider.Mpesa,
				CorrelationKey: "ws_CO_12345",
			}
			reconciler.err = errors.New("db down")

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback/mpesa", bytes.NewBufferString(`{}`))
			rec := httptest.NewRecorder()
			handler.HandleMpesaCallback(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("HandleStripeWebhook", func() {
		It("should pass the raw body and signature header to the verifier", func() {
			stripeParser.result = &provider.CallbackResult{
				Provider:       provider.Stripe,
				CorrelationKey: "pi_test_123",
				Outcome:        provider.OutcomeSuccess,
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback/stripe", bytes.NewBufferString(`{"type":"payment_intent.succeeded"}`))
			req.Header.Set("Stripe-Signature", "t=123,v1=abc")
			rec := httptest.NewRecorder()
			handler.HandleStripeWebhook(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(stripeParser.lastSig).To(Equal("t=123,v1=abc"))
			Expect(reconciler.received).To(HaveLen(1))
		})

		It("should reject an invalid signature with 400", func() {
			stripeParser.err = stripe.ErrInvalidSignature

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback/stripe", bytes.NewBufferString(`{}`))
			req.Header.Set("Stripe-Signature", "t=123,v1=forged")
			rec := httptest.NewRecorder()
			handler.HandleStripeWebhook(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(reconciler.received).To(BeEmpty())
		})

		It("should acknowledge event types it does not subscribe to", func() {
			stripeParser.result = nil

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback/stripe", bytes.NewBufferString(`{"type":"charge.refunded"}`))
			req.Header.Set("Stripe-Signature", "t=123,v1=abc")
			rec := httptest.NewRecorder()
			handler.HandleStripeWebhook(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(reconciler.received).To(BeEmpty())
		})
	})

	Describe("HandlePaypalReturn", func() {
		It("should capture the order and reconcile the outcome", func() {
			capturer.result = &provider.CallbackResult{
				Provider:       provider.Paypal,
				CorrelationKey: "5O190127TN364715T",
				Outcome:        provider.OutcomeSuccess,
			}

			body := `{"orderId":"5O190127TN364715T","payerId":"PAYER123"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback/paypal", bytes.NewBufferString(body))
			rec := httptest.NewRecorder()
			handler.HandlePaypalReturn(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(capturer.capturedIDs).To(Equal([]string{"5O190127TN364715T"}))
			Expect(reconciler.received).To(HaveLen(1))
		})

		It("should acknowledge without capturing when the order id is missing", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback/paypal", bytes.NewBufferString(`{"payerId":"PAYER123"}`))
			rec := httptest.NewRecorder()
			handler.HandlePaypalReturn(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(capturer.capturedIDs).To(BeEmpty())
		})

		It("should acknowledge when the capture call fails", func() {
			capturer.err = errors.New("gateway unavailable")

			body := `{"orderId":"5O190127TN364715T"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback/paypal", bytes.NewBufferString(body))
			rec := httptest.NewRecorder()
			handler.HandlePaypalReturn(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(reconciler.received).To(BeEmpty())
		})
	})
})

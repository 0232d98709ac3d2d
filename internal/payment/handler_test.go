package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/auth"
	paymentmodel "github.com/frahmantamala/storefront-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/storefront-payments/internal/payment"
	"github.com/frahmantamala/storefront-payments/internal/transport"
)

type mockService struct {
	initiateResp *payment.InitiatePaymentResponse
	initiateErr  error
	statusResp   *payment.PaymentStatusResponse
	statusErr    error
	lastReq      *payment.InitiatePaymentRequest
	lastOrderID  int64
}

func (m *mockService) InitiatePayment(ctx context.Context, user *auth.User, req *payment.InitiatePaymentRequest) (*payment.InitiatePaymentResponse, error) {
	m.lastReq = req
	return m.initiateResp, m.initiateErr
}

func (m *mockService) GetStatus(ctx context.Context, user *auth.User, orderID int64) (*payment.PaymentStatusResponse, error) {
	m.lastOrderID = orderID
	return m.statusResp, m.statusErr
}

var _ = Describe("PaymentHandler", func() {
	var (
		handler *payment.Handler
		service *mockService
		user    *auth.User
	)

	withUser := func(req *http.Request) *http.Request {
		return req.WithContext(context.WithValue(req.Context(), auth.ContextUserKey, user))
	}

	BeforeEach(func() {
		testLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = &mockService{}
		handler = payment.NewHandler(transport.NewBaseHandler(testLogger), service, testLogger)
		user = &auth.User{ID: 1, Email: "wanjiku@mail.com", Role: auth.RoleCustomer}
	})

	Describe("initiation endpoints", func() {
		BeforeEach(func() {
			service.initiateResp = &payment.InitiatePaymentResponse{
				Attempt: &payment.AttemptView{
					ID:             1,
					OrderID:        10,
					Provider:       paymentmodel.ProviderMpesa,
					CorrelationKey: "ws_CO_12345",
					State:          paymentmodel.StatePendingConfirmation,
				},
			}
		})

		It("should stamp the provider from the route, not the body", func() {
			body := `{"order_id":10,"amount":150000,"phone_number":"254712345678","provider":"paypal"}`
			req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/payments/mpesa/initiate", bytes.NewBufferString(body)))
			rec := httptest.NewRecorder()

			handler.InitiateMpesa(rec, req)

			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(service.lastReq.Provider).To(Equal(paymentmodel.ProviderMpesa))
		})

		It("should respond 202 with the attempt view", func() {
			body := `{"order_id":10,"amount":150000}`
			req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/payments/stripe/initiate", bytes.NewBufferString(body)))
			rec := httptest.NewRecorder()

			handler.InitiateStripe(rec, req)

			Expect(rec.Code).To(Equal(http.StatusAccepted))
			var resp payment.InitiatePaymentResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Attempt.CorrelationKey).To(Equal("ws_CO_12345"))
		})

		It("should require an authenticated user", func() {
			body := `{"order_id":10,"amount":150000}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/paypal/initiate", bytes.NewBufferString(body))
			rec := httptest.NewRecorder()

			handler.InitiatePaypal(rec, req)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("should reject an unreadable body", func() {
			req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/payments/stripe/initiate", bytes.NewBufferString(`{`)))
			rec := httptest.NewRecorder()

			handler.InitiateStripe(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should map conflict errors to 409", func() {
			service.initiateErr = apperrors.ErrOrderAlreadyPaid
			body := `{"order_id":10,"amount":150000}`
			req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/payments/stripe/initiate", bytes.NewBufferString(body)))
			rec := httptest.NewRecorder()

			handler.InitiateStripe(rec, req)

			Expect(rec.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("GetStatus", func() {
		statusRequest := func(orderID string) *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/status/"+orderID, nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("orderID", orderID)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
			return withUser(req)
		}

		It("should return the status payload", func() {
			service.statusResp = &payment.PaymentStatusResponse{
				OrderID: 10,
				IsPaid:  true,
			}
			rec := httptest.NewRecorder()

			handler.GetStatus(rec, statusRequest("10"))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(service.lastOrderID).To(Equal(int64(10)))

			var resp payment.PaymentStatusResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.IsPaid).To(BeTrue())
		})

		It("should reject a non-numeric order id", func() {
			rec := httptest.NewRecorder()

			handler.GetStatus(rec, statusRequest("abc"))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should map ownership errors to 403", func() {
			service.statusErr = apperrors.ErrNotAuthorized
			rec := httptest.NewRecorder()

			handler.GetStatus(rec, statusRequest("10"))

			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})
	})
})

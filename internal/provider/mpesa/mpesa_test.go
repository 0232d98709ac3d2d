package mpesa

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/storefront-payments/internal/provider"
)

func TestMpesaAdapter(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "MpesaAdapter Suite")
}

var _ = Describe("MpesaAdapter", func() {
	var (
		adapter    *Adapter
		server     *httptest.Server
		pushStatus int
		pushResp   string
		queryResp  string
		lastPush   map[string]any
	)

	BeforeEach(func() {
		pushStatus = http.StatusOK
		pushResp = `{
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResponseCode": "0",
			"ResponseDescription": "Success. Request accepted for processing",
			"CustomerMessage": "Success. Request accepted for processing"
		}`
		queryResp = `{"ResponseCode":"0","ResultCode":"0","ResultDesc":"The service request is processed successfully."}`
		lastPush = nil

		mux := http.NewServeMux()
		mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			Expect(ok).To(BeTrue())
			Expect(user).To(Equal("ck"))
			Expect(pass).To(Equal("cs"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"token-abc","expires_in":"3599"}`))
		})
		mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer token-abc"))
			Expect(json.NewDecoder(r.Body).Decode(&lastPush)).To(Succeed())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(pushStatus)
			w.Write([]byte(pushResp))
		})
		mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(queryResp))
		})
		server = httptest.NewServer(mux)

		adapter = NewAdapter(Config{
			BaseURL:        server.URL,
			ConsumerKey:    "ck",
			ConsumerSecret: "cs",
			ShortCode:      "174379",
			Passkey:        "passkey",
			CallbackURL:    "https://example.com/api/v1/payments/callback/mpesa",
		}, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("SupportsCurrency", func() {
		It("should only settle shillings", func() {
			Expect(adapter.SupportsCurrency("KES")).To(BeTrue())
			Expect(adapter.SupportsCurrency("kes")).To(BeTrue())
			Expect(adapter.SupportsCurrency("USD")).To(BeFalse())
		})
	})

	Describe("Initiate", func() {
		It("should send whole shillings and return the CheckoutRequestID", func() {
			handle, err := adapter.Initiate(context.Background(), provider.InitiateRequest{
				Amount:      150000,
				Currency:    "KES",
				Reference:   "ORD-2025-0001",
				Description: "Payment for order ORD-2025-0001",
				PhoneNumber: "254712345678",
			})

			Expect(err).ToNot(HaveOccurred())
			Expect(handle.CorrelationKey).To(Equal("ws_CO_191220191020363925"))

			// 150000 minor units goes over the wire as 1500 shillings.
			Expect(lastPush["Amount"]).To(BeEquivalentTo(1500))
			Expect(lastPush["PhoneNumber"]).To(Equal("254712345678"))
			Expect(lastPush["AccountReference"]).To(Equal("ORD-2025-0001"))
			Expect(lastPush["TransactionType"]).To(Equal("CustomerPayBillOnline"))
			Expect(lastPush["Password"]).ToNot(BeEmpty())
		})

		It("should fail when Daraja rejects the push", func() {
			pushResp = `{"ResponseCode":"1","ResponseDescription":"Invalid PhoneNumber"}`

			_, err := adapter.Initiate(context.Background(), provider.InitiateRequest{
				Amount:      150000,
				PhoneNumber: "254712345678",
				Reference:   "ORD-2025-0001",
			})

			Expect(err).To(MatchError(provider.ErrUnavailable))
		})

		It("should fail on a non-200 response", func() {
			pushStatus = http.StatusServiceUnavailable

			_, err := adapter.Initiate(context.Background(), provider.InitiateRequest{
				Amount:      150000,
				PhoneNumber: "254712345678",
				Reference:   "ORD-2025-0001",
			})

			Expect(err).To(MatchError(provider.ErrUnavailable))
		})
	})

	Describe("ParseCallback", func() {
		It("should translate a successful stkCallback with metadata", func() {
			payload := []byte(`{
				"Body": {
					"stkCallback": {
						"MerchantRequestID": "29115-34620561-1",
						"CheckoutRequestID": "ws_CO_191220191020363925",
						"ResultCode": 0,
						"ResultDesc": "The service request is processed successfully.",
						"CallbackMetadata": {
							"Item": [
								{"Name": "Amount", "Value": 1500.00},
								{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
								{"Name": "TransactionDate", "Value": 20191219102115},
								{"Name": "PhoneNumber", "Value": 254712345678}
							]
						}
					}
				}
			}`)

			result, err := adapter.ParseCallback(payload)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Provider).To(Equal(provider.Mpesa))
			Expect(result.CorrelationKey).To(Equal("ws_CO_191220191020363925"))
			Expect(result.Outcome).To(Equal(provider.OutcomeSuccess))
			Expect(result.Amount).To(Equal(int64(150000)))
			Expect(result.Receipt).To(Equal("NLJ7RT61SV"))
		})

		It("should translate a cancelled prompt into a failure", func() {
			payload := []byte(`{
				"Body": {
					"stkCallback": {
						"CheckoutRequestID": "ws_CO_191220191020363925",
						"ResultCode": 1032,
						"ResultDesc": "Request cancelled by user"
					}
				}
			}`)

			result, err := adapter.ParseCallback(payload)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Outcome).To(Equal(provider.OutcomeFailure))
			Expect(result.FailureReason).To(Equal("Request cancelled by user"))
			Expect(result.Amount).To(BeZero())
		})

		It("should reject an envelope without a CheckoutRequestID", func() {
			_, err := adapter.ParseCallback([]byte(`{"Body":{"stkCallback":{}}}`))
			Expect(err).To(HaveOccurred())
		})

		It("should reject junk", func() {
			_, err := adapter.ParseCallback([]byte(`not json`))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("QueryStatus", func() {
		It("should report success without an amount", func() {
			result, err := adapter.QueryStatus(context.Background(), "ws_CO_191220191020363925")

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Outcome).To(Equal(provider.OutcomeSuccess))
			Expect(result.Amount).To(BeZero())
			Expect(result.CorrelationKey).To(Equal("ws_CO_191220191020363925"))
		})

		It("should report still processing while the prompt is open", func() {
			queryResp = `{"errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`

			_, err := adapter.QueryStatus(context.Background(), "ws_CO_191220191020363925")

			Expect(err).To(MatchError(provider.ErrStillProcessing))
		})

		It("should report a declined prompt as failure", func() {
			queryResp = `{"ResponseCode":"0","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`

			result, err := adapter.QueryStatus(context.Background(), "ws_CO_191220191020363925")

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Outcome).To(Equal(provider.OutcomeFailure))
			Expect(result.FailureReason).To(Equal("Request cancelled by user"))
		})
	})
})

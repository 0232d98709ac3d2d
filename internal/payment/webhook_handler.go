package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/storefront-payments/internal/provider"
	"github.com/frahmantamala/storefront-payments/internal/provider/stripe"
	"github.com/frahmantamala/storefront-payments/internal/transport"
)

// maxCallbackBody caps provider callback payloads. Real callbacks are a
// few KB at most.
const maxCallbackBody = 1 << 20

type MpesaCallbackParser interface {
	ParseCallback(body []byte) (*provider.CallbackResult, error)
}

type StripeWebhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) (*provider.CallbackResult, error)
}

type PaypalCapturer interface {
	Capture(ctx context.Context, paypalOrderID string) (*provider.CallbackResult, error)
}

type Reconciler interface {
	HandleCallback(ctx context.Context, result *provider.CallbackResult) error
}

// WebhookHandler terminates provider callbacks. Outcomes are acknowledged
// to the provider regardless of reconciliation result: a retry of an
// already-processed callback must not look like a failure to the
// provider's delivery machinery.
type WebhookHandler struct {
	*transport.BaseHandler
	Reconciler Reconciler
	Mpesa      MpesaCallbackParser
	Stripe     StripeWebhookParser
	Paypal     PaypalCapturer
	Logger     *slog.Logger
}

func NewWebhookHandler(
	baseHandler *transport.BaseHandler,
	reconciler Reconciler,
	mpesa MpesaCallbackParser,
	stripeParser StripeWebhookParser,
	paypal PaypalCapturer,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		Reconciler:  reconciler,
		Mpesa:       mpesa,
		Stripe:      stripeParser,
		Paypal:      paypal,
		Logger:      logger,
	}
}

// HandleMpesaCallback handles POST /api/v1/payments/callback/mpesa
//
// Daraja expects ResultCode 0 in the acknowledgement body; anything else
// triggers redelivery.
func (h *WebhookHandler) HandleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		h.Logger.Error("mpesa callback: failed to read body", "error", err)
		h.ackMpesa(w)
		return
	}

	result, err := h.Mpesa.ParseCallback(body)
	if err != nil {
		h.Logger.Error("mpesa callback: malformed payload", "error", err)
		h.ackMpesa(w)
		return
	}

	if err := h.Reconciler.HandleCallback(r.Context(), result); err != nil {
		h.Logger.Error("mpesa callback: reconciliation failed",
			"error", err,
			"correlation_key", result.CorrelationKey)
	}

	h.ackMpesa(w)
}

func (h *WebhookHandler) ackMpesa(w http.ResponseWriter) {
	h.WriteJSON(w, http.StatusOK, map[string]any{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}

// HandleStripeWebhook handles POST /api/v1/payments/callback/stripe
//
// The signature covers the raw body, so the body must not be decoded
// before verification. An invalid signature is the one case that is
// rejected instead of acknowledged.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		h.Logger.Error("stripe webhook: failed to read body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	result, err := h.Stripe.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, stripe.ErrInvalidSignature) {
			h.Logger.Warn("stripe webhook: invalid signature")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		h.Logger.Error("stripe webhook: failed to parse event", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Event types we do not subscribe to.
	if result == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.Reconciler.HandleCallback(r.Context(), result); err != nil {
		h.Logger.Error("stripe webhook: reconciliation failed",
			"error", err,
			"correlation_key", result.CorrelationKey)
	}

	w.WriteHeader(http.StatusOK)
}

type paypalReturnRequest struct {
	OrderID string `json:"orderId"`
	PayerID string `json:"payerId"`
}

// HandlePaypalReturn handles POST /api/v1/payments/callback/paypal
//
// PayPal's approval flow only tells us the buyer approved; the capture
// call against the Orders API is what settles the money and yields the
// authoritative outcome.
func (h *WebhookHandler) HandlePaypalReturn(w http.ResponseWriter, r *http.Request) {
	var req paypalReturnRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCallbackBody)).Decode(&req); err != nil {
		h.Logger.Error("paypal return: malformed payload", "error", err)
		h.WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
		return
	}
	if req.OrderID == "" {
		h.Logger.Error("paypal return: missing order id")
		h.WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
		return
	}

	result, err := h.Paypal.Capture(r.Context(), req.OrderID)
	if err != nil {
		h.Logger.Error("paypal return: capture failed", "error", err, "paypal_order_id", req.OrderID)
		h.WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
		return
	}

	if err := h.Reconciler.HandleCallback(r.Context(), result); err != nil {
		h.Logger.Error("paypal return: reconciliation failed",
			"error", err,
			"correlation_key", result.CorrelationKey)
	}

	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/auth"
	paymentmodel "github.com/frahmantamala/storefront-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/storefront-payments/internal/transport"
)

// ServiceAPI is what the HTTP layer needs from the reconciliation engine.
type ServiceAPI interface {
	InitiatePayment(ctx context.Context, user *auth.User, req *InitiatePaymentRequest) (*InitiatePaymentResponse, error)
	GetStatus(ctx context.Context, user *auth.User, orderID int64) (*PaymentStatusResponse, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
	Logger  *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
		Logger:      logger,
	}
}

// InitiateMpesa handles POST /api/v1/payments/mpesa/initiate
func (h *Handler) InitiateMpesa(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, paymentmodel.ProviderMpesa)
}

// InitiateStripe handles POST /api/v1/payments/stripe/initiate
func (h *Handler) InitiateStripe(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, paymentmodel.ProviderStripe)
}

// InitiatePaypal handles POST /api/v1/payments/paypal/initiate
func (h *Handler) InitiatePaypal(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, paymentmodel.ProviderPaypal)
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request, providerName string) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		h.Logger.Error("initiate: user not found in context", "provider", providerName)
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	var req InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("initiate: failed to parse request body", "error", err, "provider", providerName)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	req.Provider = providerName

	resp, err := h.Service.InitiatePayment(r.Context(), user, &req)
	if err != nil {
		h.Logger.Error("initiate: service error",
			"error", err,
			"provider", providerName,
			"order_id", req.OrderID,
			"user_id", user.ID)
		h.HandleError(w, err)
		return
	}

	h.Logger.Info("initiate: payment attempt started",
		"provider", providerName,
		"order_id", req.OrderID,
		"correlation_key", resp.Attempt.CorrelationKey,
		"user_id", user.ID)

	h.WriteJSON(w, http.StatusAccepted, resp)
}

// GetStatus handles GET /api/v1/payments/status/{orderID}
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		h.HandleError(w, errors.NewValidationError("invalid order ID", errors.ErrCodeValidationFailed))
		return
	}

	status, err := h.Service.GetStatus(r.Context(), user, orderID)
	if err != nil {
		h.Logger.Error("status: service error", "error", err, "order_id", orderID, "user_id", user.ID)
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, status)
}

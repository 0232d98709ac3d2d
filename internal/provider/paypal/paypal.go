package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/frahmantamala/storefront-payments/internal/provider"
)

var allowedCurrencies = []string{"USD", "EUR", "GBP"}

const (
	oauthPath  = "/v1/oauth2/token"
	ordersPath = "/v2/checkout/orders"
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type Adapter struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewAdapter(cfg Config, logger *slog.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (a *Adapter) Name() provider.Name {
	return provider.Paypal
}

func (a *Adapter) SupportsCurrency(currency string) bool {
	return provider.SupportedCurrency(allowedCurrencies, currency)
}

func (a *Adapter) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+oauthPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: token exchange returned status %d: %s", provider.ErrUnavailable, resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode token response: %v", provider.ErrUnavailable, err)
	}

	a.accessToken = tokenResp.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)

	return a.accessToken, nil
}

type orderAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string      `json:"reference_id,omitempty"`
	Description string      `json:"description,omitempty"`
	Amount      orderAmount `json:"amount"`
}

type createOrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

type createOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Initiate creates a PayPal order with CAPTURE intent; the PayPal order id is
// the correlation key the approve-and-capture callback carries back.
func (a *Adapter) Initiate(ctx context.Context, req provider.InitiateRequest) (*provider.Handle, error) {
	accessToken, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	createReq := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: req.Reference,
			Description: req.Description,
			Amount: orderAmount{
				CurrencyCode: req.Currency,
				Value:        formatAmount(req.Amount),
			},
		}},
	}

	body, err := json.Marshal(createReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal create order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+ordersPath, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	a.logger.Info("creating paypal order",
		"reference", req.Reference,
		"amount", req.Amount,
		"currency", req.Currency)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: create order: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read create order response: %v", provider.ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: create order returned status %d: %s", provider.ErrUnavailable, resp.StatusCode, string(respBody))
	}

	var orderResp createOrderResponse
	if err := json.Unmarshal(respBody, &orderResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode create order response: %v", provider.ErrUnavailable, err)
	}

	a.logger.Info("paypal order created", "paypal_order_id", orderResp.ID, "status", orderResp.Status)

	return &provider.Handle{
		CorrelationKey:  orderResp.ID,
		ProviderMessage: orderResp.Status,
	}, nil
}

type captureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string      `json:"id"`
				Status string      `json:"status"`
				Amount orderAmount `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// Capture settles an approved PayPal order. The callback the storefront
// receives is just {orderId, payerId}; the authoritative outcome comes from
// this capture call, so its response becomes the CallbackResult.
func (a *Adapter) Capture(ctx context.Context, paypalOrderID string) (*provider.CallbackResult, error) {
	accessToken, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	captureURL := fmt.Sprintf("%s%s/%s/capture", a.cfg.BaseURL, ordersPath, paypalOrderID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, captureURL, bytes.NewBufferString("{}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create capture request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: capture: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read capture response: %v", provider.ErrUnavailable, err)
	}

	result := &provider.CallbackResult{
		Provider:       provider.Paypal,
		CorrelationKey: paypalOrderID,
		Raw:            json.RawMessage(respBody),
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		result.Outcome = provider.OutcomeFailure
		result.FailureReason = fmt.Sprintf("capture returned status %d", resp.StatusCode)
		return result, nil
	}

	var capResp captureResponse
	if err := json.Unmarshal(respBody, &capResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode capture response: %v", provider.ErrUnavailable, err)
	}

	if capResp.Status != "COMPLETED" {
		result.Outcome = provider.OutcomeFailure
		result.FailureReason = fmt.Sprintf("capture status %s", capResp.Status)
		return result, nil
	}

	result.Outcome = provider.OutcomeSuccess
	if len(capResp.PurchaseUnits) > 0 && len(capResp.PurchaseUnits[0].Payments.Captures) > 0 {
		capture := capResp.PurchaseUnits[0].Payments.Captures[0]
		result.Receipt = capture.ID
		result.Amount = parseAmount(capture.Amount.Value)
	}

	return result, nil
}

// PayPal expresses amounts as decimal strings while attempts store minor units.
func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

func parseAmount(value string) int64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return int64(f*100 + 0.5)
}

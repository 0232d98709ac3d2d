package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/frahmantamala/storefront-payments/internal/provider"
)

// M-Pesa STK Push only settles in Kenyan shillings.
var allowedCurrencies = []string{"KES"}

const (
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"
	oauthPath    = "/oauth/v1/generate?grant_type=client_credentials"

	transactionType = "CustomerPayBillOnline"
	timestampLayout = "20060102150405"

	// Daraja error code meaning the STK prompt is still on the customer's
	// phone when the status query runs.
	stillProcessingCode = "500.001.1001"
)

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
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
	return provider.Mpesa
}

func (a *Adapter) SupportsCurrency(currency string) bool {
	return provider.SupportedCurrency(allowedCurrencies, currency)
}

// token returns a cached OAuth access token, refreshing it via the Daraja
// client-credentials exchange when expired.
func (a *Adapter) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+oauthPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(a.cfg.ConsumerKey, a.cfg.ConsumerSecret)

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
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode token response: %v", provider.ErrUnavailable, err)
	}

	a.accessToken = tokenResp.AccessToken
	// Daraja tokens last an hour; refresh early to avoid using one mid-expiry.
	a.tokenExpiry = time.Now().Add(50 * time.Minute)

	return a.accessToken, nil
}

func (a *Adapter) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(a.cfg.ShortCode + a.cfg.Passkey + timestamp))
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Initiate sends the STK Push prompt to the customer's phone. The returned
// correlation key is the Daraja CheckoutRequestID.
func (a *Adapter) Initiate(ctx context.Context, req provider.InitiateRequest) (*provider.Handle, error) {
	accessToken, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format(timestampLayout)
	pushReq := stkPushRequest{
		BusinessShortCode: a.cfg.ShortCode,
		Password:          a.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            wholeUnits(req.Amount),
		PartyA:            req.PhoneNumber,
		PartyB:            a.cfg.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       a.cfg.CallbackURL,
		AccountReference:  req.Reference,
		TransactionDesc:   req.Description,
	}

	body, err := json.Marshal(pushReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stk push request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+stkPushPath, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create stk push request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	a.logger.Info("sending stk push",
		"reference", req.Reference,
		"amount", req.Amount,
		"phone", req.PhoneNumber)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: stk push: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read stk push response: %v", provider.ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: stk push returned status %d: %s", provider.ErrUnavailable, resp.StatusCode, string(respBody))
	}

	var pushResp stkPushResponse
	if err := json.Unmarshal(respBody, &pushResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode stk push response: %v", provider.ErrUnavailable, err)
	}

	if pushResp.ResponseCode != "0" {
		return nil, fmt.Errorf("%w: stk push rejected: %s", provider.ErrUnavailable, pushResp.ResponseDescription)
	}

	a.logger.Info("stk push accepted",
		"checkout_request_id", pushResp.CheckoutRequestID,
		"merchant_request_id", pushResp.MerchantRequestID)

	return &provider.Handle{
		CorrelationKey:  pushResp.CheckoutRequestID,
		ProviderMessage: pushResp.CustomerMessage,
	}, nil
}

type metadataItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []metadataItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback translates the Daraja stkCallback envelope into the generic
// callback shape. The Name/Value metadata pairs are resolved here; nothing
// loosely typed leaves this package.
func (a *Adapter) ParseCallback(payload []byte) (*provider.CallbackResult, error) {
	var envelope stkCallbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode stk callback: %w", err)
	}

	cb := envelope.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("stk callback missing CheckoutRequestID")
	}

	result := &provider.CallbackResult{
		Provider:       provider.Mpesa,
		CorrelationKey: cb.CheckoutRequestID,
		Raw:            json.RawMessage(payload),
	}

	if cb.ResultCode != 0 {
		result.Outcome = provider.OutcomeFailure
		result.FailureReason = cb.ResultDesc
		return result, nil
	}

	result.Outcome = provider.OutcomeSuccess
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if f, ok := item.Value.(float64); ok {
				result.Amount = minorUnits(f)
			}
		case "MpesaReceiptNumber":
			if s, ok := item.Value.(string); ok {
				result.Receipt = s
			}
		}
	}

	return result, nil
}

type stkQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// QueryStatus asks Daraja for the outcome of a previously initiated STK Push.
// Returns ErrStillProcessing while the customer has not answered the prompt.
// The query response carries no amount or receipt, so a success result here
// has Amount zero and relies on the callback for the receipt.
func (a *Adapter) QueryStatus(ctx context.Context, checkoutRequestID string) (*provider.CallbackResult, error) {
	accessToken, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format(timestampLayout)
	queryReq := map[string]string{
		"BusinessShortCode": a.cfg.ShortCode,
		"Password":          a.password(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	body, err := json.Marshal(queryReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stk query request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+stkQueryPath, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create stk query request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: stk query: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read stk query response: %v", provider.ErrUnavailable, err)
	}

	var queryResp stkQueryResponse
	if err := json.Unmarshal(respBody, &queryResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode stk query response: %v", provider.ErrUnavailable, err)
	}

	if queryResp.ErrorCode == stillProcessingCode {
		return nil, provider.ErrStillProcessing
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: stk query returned status %d: %s", provider.ErrUnavailable, resp.StatusCode, string(respBody))
	}

	result := &provider.CallbackResult{
		Provider:       provider.Mpesa,
		CorrelationKey: checkoutRequestID,
		Raw:            json.RawMessage(respBody),
	}

	if queryResp.ResultCode == "0" {
		result.Outcome = provider.OutcomeSuccess
	} else {
		result.Outcome = provider.OutcomeFailure
		result.FailureReason = queryResp.ResultDesc
	}

	return result, nil
}

// Daraja deals in whole shillings while attempts store minor units. The
// engine rejects amounts that are not whole shillings before dispatch, so
// the division here is exact.
func wholeUnits(minor int64) int64 {
	return minor / 100
}

func minorUnits(whole float64) int64 {
	return int64(whole*100 + 0.5)
}

// Package gateway is the HTTP client for the external payment provider.
// It creates payment attempts and polls their status, signing every request
// with the partner secret and retrying transient failures with bounded
// exponential backoff.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vaxflow/vaxflow/internal/platform/apperr"
)

// Payment request types accepted by the provider.
const (
	RequestTypeWallet     = "WALLET"
	RequestTypeATM        = "ATM"
	RequestTypeCreditCard = "CREDIT_CARD"
	RequestTypeAggregator = "AGGREGATOR"
)

// CreateRequest describes a payment attempt to open with the provider.
// AppointmentID travels in a dedicated field and is echoed back verbatim in
// callbacks, so correlation never depends on parsing free text.
type CreateRequest struct {
	OrderID       string    `json:"order_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Amount        int64     `json:"amount"`
	RequestType   string    `json:"request_type"`
	ReturnURL     string    `json:"return_url,omitempty"`
}

// CreateResponse is the provider's answer to a create call.
type CreateResponse struct {
	OrderID       string `json:"order_id"`
	ResultCode    string `json:"result_code"`
	RedirectURL   string `json:"redirect_url,omitempty"`
	PaymentRef    string `json:"payment_ref,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// StatusResponse is the provider's answer to a status poll.
type StatusResponse struct {
	OrderID       string `json:"order_id"`
	ResultCode    string `json:"result_code"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Client is the provider API surface the payment engine depends on.
type Client interface {
	CreatePayment(ctx context.Context, req CreateRequest) (*CreateResponse, error)
	QueryStatus(ctx context.Context, orderID string) (*StatusResponse, error)
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *HTTPClient) { g.httpClient = c }
}

// WithMaxAttempts sets the total number of attempts per call.
func WithMaxAttempts(n int) Option {
	return func(g *HTTPClient) { g.maxAttempts = n }
}

// WithBackoffBase sets the first retry delay; each retry doubles it.
func WithBackoffBase(d time.Duration) Option {
	return func(g *HTTPClient) { g.backoffBase = d }
}

// HTTPClient talks to the provider's REST API.
type HTTPClient struct {
	baseURL     string
	partnerCode string
	secretKey   string
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration
}

// NewHTTPClient creates a client with sensible defaults: 10s request
// timeout, 5 attempts, 200ms initial backoff.
func NewHTTPClient(baseURL, partnerCode, secretKey string, opts ...Option) *HTTPClient {
	g := &HTTPClient{
		baseURL:     baseURL,
		partnerCode: partnerCode,
		secretKey:   secretKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxAttempts: 5,
		backoffBase: 200 * time.Millisecond,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Sign computes the hex HMAC-SHA256 of the payload under the partner secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *HTTPClient) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	body := struct {
		PartnerCode string `json:"partner_code"`
		CreateRequest
	}{
		PartnerCode:   g.partnerCode,
		CreateRequest: req,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal create request: %w", err)
	}

	var out CreateResponse
	if err := g.do(ctx, http.MethodPost, g.baseURL+"/v2/payments", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *HTTPClient) QueryStatus(ctx context.Context, orderID string) (*StatusResponse, error) {
	url := fmt.Sprintf("%s/v2/payments/%s?partner_code=%s", g.baseURL, orderID, g.partnerCode)

	var out StatusResponse
	if err := g.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do issues the request, retrying network errors and 5xx responses. A 4xx
// response is final. Exhaustion surfaces as a Gateway error so callers can
// fall back to the status poll.
func (g *HTTPClient) do(ctx context.Context, method, url string, payload []byte, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := g.backoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return apperr.Wrap(apperr.Gateway, ctx.Err(), "%s %s cancelled", method, url)
			case <-time.After(delay):
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Signature", Sign(payload, g.secretKey))
		} else {
			req.Header.Set("X-Signature", Sign([]byte(url), g.secretKey))
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if err := json.Unmarshal(bodyBytes, out); err != nil {
				return apperr.Wrap(apperr.Gateway, err, "decode provider response")
			}
			return nil
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("provider returned %d", resp.StatusCode)
			continue
		default:
			return apperr.New(apperr.Gateway, "provider rejected request: status %d: %s",
				resp.StatusCode, string(bodyBytes))
		}
	}

	return apperr.Wrap(apperr.Gateway, lastErr, "provider unreachable after %d attempts", g.maxAttempts)
}

package cryptopay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// ErrUnexpectedResponse is returned when the API answers with a shape we do not understand
var ErrUnexpectedResponse = errors.New("unexpected crypto pay response")

// Client is a minimal Crypto Pay API client able to issue invoices
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new Crypto Pay client
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 1), // ~4 RPS
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Crypto-Pay-API-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

// CreateInvoice issues an invoice and returns its id and payment link.
// payload is echoed back by the provider and correlates the payment.
func (c *Client) CreateInvoice(ctx context.Context, asset string, amount decimal.Decimal, description, payload string) (*Invoice, error) {
	body := createInvoiceRequest{
		Asset:       asset,
		Amount:      amount.String(),
		Description: description,
		Payload:     payload,
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/createInvoice", body)
	if err != nil {
		return nil, err
	}

	var resp createInvoiceResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if !resp.OK || resp.Result == nil || resp.Result.InvoiceID == 0 {
		return nil, ErrUnexpectedResponse
	}

	payURL := resp.Result.PayURL
	if payURL == "" {
		payURL = resp.Result.BotInvoiceURL
	}
	if payURL == "" {
		return nil, ErrUnexpectedResponse
	}

	return &Invoice{
		ID:     strconv.FormatInt(resp.Result.InvoiceID, 10),
		PayURL: payURL,
	}, nil
}

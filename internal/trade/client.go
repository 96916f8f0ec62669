// Package trade executes orders against the PumpPortal trade API.
package trade

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Request describes one trade order.
type Request struct {
	// Action is "buy" or "sell"
	Action string

	// Mint is the token to trade
	Mint string

	// Amount to trade, in SOL or tokens depending on DenominatedInSol
	Amount float64

	DenominatedInSol bool

	// Slippage tolerance in percent
	Slippage float64

	// PriorityFee in SOL
	PriorityFee float64

	// Pool the order routes through ("pump", "raydium", ...)
	Pool string
}

// APIError is a non-200 response from the trade API, carrying the upstream
// status and body for the operator surface to relay.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trade api returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the PumpPortal trade endpoint.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a trade Client for the given endpoint.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Execute submits the order using the wallet's API key and returns the raw
// response payload.
func (c *Client) Execute(ctx context.Context, apiKey string, order Request) (json.RawMessage, error) {
	form := url.Values{}
	form.Set("action", order.Action)
	form.Set("mint", order.Mint)
	form.Set("amount", strconv.FormatFloat(order.Amount, 'f', -1, 64))
	form.Set("denominatedInSol", strconv.FormatBool(order.DenominatedInSol))
	form.Set("slippage", strconv.FormatFloat(order.Slippage, 'f', -1, 64))
	form.Set("priorityFee", strconv.FormatFloat(order.PriorityFee, 'f', -1, 64))
	form.Set("pool", order.Pool)

	endpoint := fmt.Sprintf("%s?api-key=%s", c.baseURL, url.QueryEscape(apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return json.RawMessage(body), nil
}

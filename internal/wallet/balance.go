package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// LamportsPerSol converts the RPC's lamport balances to SOL.
const LamportsPerSol = 1_000_000_000

// BalanceClient fetches wallet balances over Solana JSON-RPC.
type BalanceClient struct {
	rpcURL string
	client *http.Client
}

// NewBalanceClient creates a BalanceClient for the given RPC endpoint.
func NewBalanceClient(rpcURL string) *BalanceClient {
	return &BalanceClient{
		rpcURL: rpcURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result *struct {
		Value int64 `json:"value"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Balance returns the wallet's balance in SOL.
func (c *BalanceClient) Balance(ctx context.Context, publicKey string) (float64, error) {
	body, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		ID:      1,
		Method:  "getBalance",
		Params:  []any{publicKey},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal getBalance request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return 0, fmt.Errorf("decode failed: %w", err)
	}
	if rpcResp.Error != nil {
		return 0, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.Result == nil {
		return 0, fmt.Errorf("rpc response missing result")
	}

	return float64(rpcResp.Result.Value) / LamportsPerSol, nil
}

// FillBalances annotates wallets with their balances and returns the total.
// Lookup failures degrade to a zero balance so one bad RPC call cannot take
// down the status endpoint.
func (c *BalanceClient) FillBalances(ctx context.Context, wallets []Wallet) float64 {
	total := 0.0
	for i := range wallets {
		bal, err := c.Balance(ctx, wallets[i].PublicKey)
		if err != nil {
			slog.Error("balance_fetch_failed", "public_key", wallets[i].PublicKey, "error", err)
			bal = 0
		}
		wallets[i].Balance = bal
		total += bal
	}
	return total
}

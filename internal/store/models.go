// Package store holds the in-memory token state tracked by the engine.
package store

// DefaultSupply is assumed when the feed omits the token supply.
const DefaultSupply int64 = 1_000_000_000

// EarlyTradeWindowMs is the window after creation during which a trade
// counts as early.
const EarlyTradeWindowMs int64 = 3000

// Trade event types as they appear on the feed.
const (
	TxTypeCreate = "create"
	TxTypeBuy    = "buy"
	TxTypeSell   = "sell"
)

// TradeEvent is one entry in a token's trade history.
type TradeEvent struct {
	// TxType is "buy" or "sell"
	TxType string `json:"type"`

	// Amount is the SOL amount moved by the trade
	Amount float64 `json:"amount"`

	// MarketCap is the market cap in SOL after the trade
	MarketCap float64 `json:"marketCap"`

	// TimestampMs is when the engine processed the trade (epoch ms)
	TimestampMs int64 `json:"timestamp"`

	// IsEarlyTrade marks trades within EarlyTradeWindowMs of creation
	IsEarlyTrade bool `json:"isEarlyTrade"`
}

// TokenRecord is the aggregate state for a single tracked token.
type TokenRecord struct {
	// Mint is the token mint address, the unique id on the feed
	Mint string `json:"mint"`

	// Name and Symbol are set once at creation
	Name   string `json:"name"`
	Symbol string `json:"symbol"`

	// MarketCapSol is the latest market cap in SOL
	MarketCapSol float64 `json:"marketCapSol"`

	// SolAmount is the SOL amount of the most recent trade
	SolAmount float64 `json:"solAmount"`

	// InitialMarketCap is the market cap when the token was created
	InitialMarketCap float64 `json:"initialMarketCap"`

	// CreatedAtMs is the creation time observed by the engine (epoch ms)
	CreatedAtMs int64 `json:"timestamp"`

	// Supply is the total token supply; immutable after creation
	Supply int64 `json:"supply"`

	// Trades is the append-only trade history, in arrival order
	Trades []TradeEvent `json:"trades"`
}

// LastTxType returns the type of the most recent trade, or "create" when
// the token has no trades yet.
func (r *TokenRecord) LastTxType() string {
	if len(r.Trades) == 0 {
		return TxTypeCreate
	}
	return r.Trades[len(r.Trades)-1].TxType
}

// EarlyTradeCount returns how many trades landed inside the early window.
func (r *TokenRecord) EarlyTradeCount() int {
	n := 0
	for _, t := range r.Trades {
		if t.IsEarlyTrade {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers never alias the live trade slice.
func (r *TokenRecord) Clone() *TokenRecord {
	cp := *r
	cp.Trades = make([]TradeEvent, len(r.Trades))
	copy(cp.Trades, r.Trades)
	return &cp
}

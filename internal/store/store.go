package store

import (
	"sync"
	"time"
)

// TokenStore maps mint addresses to their aggregate records. Mutations come
// from the single ingestion goroutine; the RWMutex exists so the HTTP surface
// can read snapshots concurrently.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*TokenRecord

	// now is swapped out in tests to pin the early-trade boundary
	now func() int64
}

// NewTokenStore creates an empty TokenStore.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]*TokenRecord),
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// NewTokenInput carries the creation-event fields used to seed a record.
// A nil Supply means the feed omitted it and DefaultSupply applies; a
// present value is kept as sent.
type NewTokenInput struct {
	Mint         string
	Name         string
	Symbol       string
	MarketCapSol float64
	SolAmount    float64
	Supply       *int64
}

// Create inserts a record for the mint if none exists. The first creation
// event wins; later ones are no-ops. Returns the record snapshot and whether
// it was newly created.
func (s *TokenStore) Create(in NewTokenInput) (*TokenRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tokens[in.Mint]; ok {
		return existing.Clone(), false
	}

	supply := DefaultSupply
	if in.Supply != nil {
		supply = *in.Supply
	}

	rec := &TokenRecord{
		Mint:             in.Mint,
		Name:             in.Name,
		Symbol:           in.Symbol,
		MarketCapSol:     in.MarketCapSol,
		SolAmount:        in.SolAmount,
		InitialMarketCap: in.MarketCapSol,
		CreatedAtMs:      s.now(),
		Supply:           supply,
		Trades:           []TradeEvent{},
	}
	s.tokens[in.Mint] = rec

	return rec.Clone(), true
}

// TradeInput carries the trade-event fields applied to a record. Nil pointers
// mean the feed omitted the field and the previous value is kept.
type TradeInput struct {
	TxType       string
	MarketCapSol *float64
	SolAmount    *float64
}

// ApplyTrade folds a buy/sell event into the mint's record. The trade is
// timestamped at processing time and flagged early when it lands within
// EarlyTradeWindowMs of creation. Trades for unknown mints are dropped and
// return ok=false.
func (s *TokenStore) ApplyTrade(mint string, in TradeInput) (*TokenRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[mint]
	if !ok {
		return nil, false
	}

	if in.MarketCapSol != nil {
		rec.MarketCapSol = *in.MarketCapSol
	}
	if in.SolAmount != nil {
		rec.SolAmount = *in.SolAmount
	}

	now := s.now()
	rec.Trades = append(rec.Trades, TradeEvent{
		TxType:       in.TxType,
		Amount:       rec.SolAmount,
		MarketCap:    rec.MarketCapSol,
		TimestampMs:  now,
		IsEarlyTrade: now-rec.CreatedAtMs <= EarlyTradeWindowMs,
	})

	return rec.Clone(), true
}

// Get returns a snapshot of the mint's record, or nil when untracked.
func (s *TokenStore) Get(mint string) *TokenRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tokens[mint]
	if !ok {
		return nil
	}
	return rec.Clone()
}

// All returns snapshots of every tracked record.
func (s *TokenStore) All() []*TokenRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*TokenRecord, 0, len(s.tokens))
	for _, rec := range s.tokens {
		out = append(out, rec.Clone())
	}
	return out
}

// Len returns the number of tracked tokens.
func (s *TokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// Package ingest maintains the PumpPortal feed connection and folds its
// events into the token store.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/pumpwatch/engine/internal/store"
)

// FeedEvent is one decoded message from the feed. Pointer fields distinguish
// absent values from zero so the aggregator can fall back to previous state.
type FeedEvent struct {
	TxType       string   `json:"txType"`
	Mint         string   `json:"mint"`
	Name         string   `json:"name"`
	Symbol       string   `json:"symbol"`
	MarketCapSol *float64 `json:"marketCapSol"`
	SolAmount    *float64 `json:"solAmount"`
	Supply       *int64   `json:"supply"`
}

// IsCreate reports whether the event announces a new token.
func (e *FeedEvent) IsCreate() bool {
	return e.TxType == store.TxTypeCreate
}

// IsTrade reports whether the event is a buy or sell.
func (e *FeedEvent) IsTrade() bool {
	return e.TxType == store.TxTypeBuy || e.TxType == store.TxTypeSell
}

// ParseEvent decodes a raw feed message. Messages that are not valid JSON or
// are missing the mint or txType discriminant are rejected; events with an
// unrecognized txType parse fine and are classified by the caller.
func ParseEvent(data []byte) (*FeedEvent, error) {
	var ev FeedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feed event: %w", err)
	}

	if ev.Mint == "" {
		return nil, fmt.Errorf("feed event missing mint")
	}
	if ev.TxType == "" {
		return nil, fmt.Errorf("feed event missing txType")
	}

	return &ev, nil
}

// marketCapOrZero returns the event's market cap, defaulting to 0 when absent.
func (e *FeedEvent) marketCapOrZero() float64 {
	if e.MarketCapSol == nil {
		return 0
	}
	return *e.MarketCapSol
}

// solAmountOrZero returns the event's SOL amount, defaulting to 0 when absent.
func (e *FeedEvent) solAmountOrZero() float64 {
	if e.SolAmount == nil {
		return 0
	}
	return *e.SolAmount
}

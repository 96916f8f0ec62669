// Package notify fans token updates out to attached observers.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pumpwatch/engine/internal/store"
)

// Observer is a delivery target for serialized token updates. Send must not
// block indefinitely; slow-consumer policy belongs to the implementation.
type Observer interface {
	ID() string
	Send(msg []byte) error
}

// TokenUpdate is the payload pushed to observers on every state change.
type TokenUpdate struct {
	Mint         string             `json:"mint"`
	Name         string             `json:"name"`
	Symbol       string             `json:"symbol"`
	MarketCapSol float64            `json:"marketCapSol"`
	SolAmount    float64            `json:"solAmount"`
	Timestamp    int64              `json:"timestamp"`
	TxType       string             `json:"txType"`
	Trades       []store.TradeEvent `json:"trades"`
}

// Envelope wraps a TokenUpdate for the wire.
type Envelope struct {
	Type string      `json:"type"`
	Data TokenUpdate `json:"data"`
}

// Notifier holds the observer registry. Registration and removal are driven
// by external connection lifecycles and may race with Publish, so the set is
// lock-guarded and snapshotted before iteration.
type Notifier struct {
	mu        sync.RWMutex
	observers map[string]Observer
}

// NewNotifier creates a Notifier with no observers.
func NewNotifier() *Notifier {
	return &Notifier{
		observers: make(map[string]Observer),
	}
}

// Register attaches an observer. A second observer with the same ID replaces
// the first.
func (n *Notifier) Register(obs Observer) {
	n.mu.Lock()
	n.observers[obs.ID()] = obs
	n.mu.Unlock()

	slog.Info("observer_registered", "id", obs.ID(), "total", n.Count())
}

// Remove detaches the observer with the given ID.
func (n *Notifier) Remove(id string) {
	n.mu.Lock()
	delete(n.observers, id)
	n.mu.Unlock()

	slog.Info("observer_removed", "id", id, "total", n.Count())
}

// Count returns the number of attached observers.
func (n *Notifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.observers)
}

// Publish serializes the record into the token_update envelope and attempts
// delivery to every observer. A failed send is logged and skipped; it never
// aborts delivery to the rest and never removes the observer (removal is the
// transport's job).
func (n *Notifier) Publish(rec *store.TokenRecord) {
	msg, err := json.Marshal(Envelope{
		Type: "token_update",
		Data: TokenUpdate{
			Mint:         rec.Mint,
			Name:         rec.Name,
			Symbol:       rec.Symbol,
			MarketCapSol: rec.MarketCapSol,
			SolAmount:    rec.SolAmount,
			Timestamp:    rec.CreatedAtMs,
			TxType:       rec.LastTxType(),
			Trades:       rec.Trades,
		},
	})
	if err != nil {
		slog.Error("notify_marshal_failed", "mint", rec.Mint, "error", err)
		return
	}

	n.mu.RLock()
	targets := make([]Observer, 0, len(n.observers))
	for _, obs := range n.observers {
		targets = append(targets, obs)
	}
	n.mu.RUnlock()

	for _, obs := range targets {
		if err := obs.Send(msg); err != nil {
			slog.Warn("observer_send_failed", "id", obs.ID(), "error", err)
		}
	}
}

package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumpwatch/engine/internal/store"
)

type fakeObserver struct {
	id   string
	mu   sync.Mutex
	msgs [][]byte
	fail bool
}

func (f *fakeObserver) ID() string { return f.id }

func (f *fakeObserver) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeObserver) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func testRecord() *store.TokenRecord {
	return &store.TokenRecord{
		Mint:         "X",
		Name:         "Foo",
		Symbol:       "FOO",
		MarketCapSol: 12,
		SolAmount:    1,
		CreatedAtMs:  1_700_000_000_000,
		Supply:       store.DefaultSupply,
		Trades: []store.TradeEvent{
			{TxType: store.TxTypeBuy, Amount: 1, MarketCap: 12, TimestampMs: 1_700_000_001_000, IsEarlyTrade: true},
		},
	}
}

func TestPublishDeliversToAllObservers(t *testing.T) {
	n := NewNotifier()
	a := &fakeObserver{id: "a"}
	b := &fakeObserver{id: "b"}
	n.Register(a)
	n.Register(b)

	n.Publish(testRecord())

	assert.Equal(t, 1, a.received())
	assert.Equal(t, 1, b.received())
}

func TestPublishEnvelopeShape(t *testing.T) {
	n := NewNotifier()
	obs := &fakeObserver{id: "a"}
	n.Register(obs)

	n.Publish(testRecord())
	require.Equal(t, 1, obs.received())

	var env Envelope
	require.NoError(t, json.Unmarshal(obs.msgs[0], &env))
	assert.Equal(t, "token_update", env.Type)
	assert.Equal(t, "X", env.Data.Mint)
	assert.Equal(t, store.TxTypeBuy, env.Data.TxType)
	require.Len(t, env.Data.Trades, 1)
	assert.True(t, env.Data.Trades[0].IsEarlyTrade)
}

func TestPublishTxTypeCreateWhenNoTrades(t *testing.T) {
	n := NewNotifier()
	obs := &fakeObserver{id: "a"}
	n.Register(obs)

	rec := testRecord()
	rec.Trades = nil
	n.Publish(rec)

	var env Envelope
	require.NoError(t, json.Unmarshal(obs.msgs[0], &env))
	assert.Equal(t, store.TxTypeCreate, env.Data.TxType)
}

func TestFailingObserverDoesNotBlockOthers(t *testing.T) {
	n := NewNotifier()
	bad := &fakeObserver{id: "bad", fail: true}
	good := &fakeObserver{id: "good"}
	n.Register(bad)
	n.Register(good)

	n.Publish(testRecord())

	assert.Equal(t, 1, good.received())
	// the failing observer stays registered; removal is transport-driven
	assert.Equal(t, 2, n.Count())
}

func TestRemoveStopsDelivery(t *testing.T) {
	n := NewNotifier()
	obs := &fakeObserver{id: "a"}
	n.Register(obs)
	n.Remove("a")

	n.Publish(testRecord())

	assert.Equal(t, 0, obs.received())
	assert.Equal(t, 0, n.Count())
}

func TestConcurrentRegisterAndPublish(t *testing.T) {
	n := NewNotifier()
	rec := testRecord()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		id := string(rune('a' + i))
		go func() {
			defer wg.Done()
			n.Register(&fakeObserver{id: id})
		}()
		go func() {
			defer wg.Done()
			n.Publish(rec)
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, n.Count())
}

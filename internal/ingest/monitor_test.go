package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumpwatch/engine/internal/metrics"
	"github.com/pumpwatch/engine/internal/notify"
	"github.com/pumpwatch/engine/internal/store"
)

// fakeFeed is a WebSocket server standing in for PumpPortal. It records every
// control message it receives and lets tests push events and kill connections.
type fakeFeed struct {
	srv     *httptest.Server
	control chan controlMessage

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeFeed(t *testing.T) *fakeFeed {
	t.Helper()

	f := &fakeFeed{
		control: make(chan controlMessage, 64),
	}

	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		for {
			var msg controlMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.control <- msg
		}
	}))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeFeed) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeFeed) send(t *testing.T, raw string) {
	t.Helper()
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	require.NotNil(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (f *fakeFeed) dropConnection() {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (f *fakeFeed) nextControl(t *testing.T) controlMessage {
	t.Helper()
	select {
	case msg := <-f.control:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for control message")
		return controlMessage{}
	}
}

// chanObserver records published updates for assertions.
type chanObserver struct {
	ch chan []byte
}

func newChanObserver() *chanObserver {
	return &chanObserver{ch: make(chan []byte, 64)}
}

func (o *chanObserver) ID() string { return "test-observer" }

func (o *chanObserver) Send(msg []byte) error {
	o.ch <- msg
	return nil
}

func (o *chanObserver) next(t *testing.T) []byte {
	t.Helper()
	select {
	case msg := <-o.ch:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for token update")
		return nil
	}
}

func newTestMonitor(t *testing.T, feed *fakeFeed) (*Monitor, *store.TokenStore, *chanObserver, *metrics.Tracker) {
	t.Helper()

	st := store.NewTokenStore()
	notifier := notify.NewNotifier()
	obs := newChanObserver()
	notifier.Register(obs)
	tracker := metrics.NewTracker()

	m := NewMonitor(feed.url(), st, notifier, tracker, 10*time.Millisecond, 80*time.Millisecond)
	return m, st, obs, tracker
}

func TestConnectSubscribesToNewTokens(t *testing.T) {
	feed := newFakeFeed(t)
	m, _, _, _ := newTestMonitor(t, feed)

	require.NoError(t, m.Connect(context.Background()))
	defer m.closeConnection()

	msg := feed.nextControl(t)
	assert.Equal(t, methodSubscribeNewToken, msg.Method)
	assert.Empty(t, msg.Keys)
}

func TestConnectTearsDownConnOnSubscribeFailure(t *testing.T) {
	feed := newFakeFeed(t)
	m, _, _, _ := newTestMonitor(t, feed)

	// hand Connect a connection whose socket is already dead, so the
	// creation subscribe fails after a successful dial
	m.dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		require.NoError(t, err)
		conn.UnderlyingConn().Close()
		return conn, nil
	}

	err := m.Connect(context.Background())
	require.Error(t, err)

	// the dead connection must not linger, or the run loop would read from
	// an unsubscribed socket instead of redialing
	assert.Nil(t, m.currentConn())

	m.dial = dialFeed
	require.NoError(t, m.Connect(context.Background()))
	defer m.closeConnection()
	assert.Equal(t, methodSubscribeNewToken, feed.nextControl(t).Method)
}

func TestRegisterTokenConnectsFirstAndDedups(t *testing.T) {
	feed := newFakeFeed(t)
	m, st, _, _ := newTestMonitor(t, feed)
	ctx := context.Background()

	// no connection yet: RegisterToken must dial before subscribing
	sent, err := m.RegisterToken(ctx, "X", store.NewTokenInput{Mint: "X", Name: "Foo", MarketCapSol: 10})
	require.NoError(t, err)
	assert.True(t, sent)

	assert.Equal(t, methodSubscribeNewToken, feed.nextControl(t).Method)
	sub := feed.nextControl(t)
	assert.Equal(t, methodSubscribeTokenTrade, sub.Method)
	assert.Equal(t, []string{"X"}, sub.Keys)

	require.NotNil(t, st.Get("X"))
	assert.True(t, m.Subscribed("X"))

	// second registration for the same mint sends nothing
	sent, err = m.RegisterToken(ctx, "X", store.NewTokenInput{Mint: "X"})
	require.NoError(t, err)
	assert.False(t, sent)

	select {
	case msg := <-feed.control:
		t.Fatalf("unexpected control message %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}

	m.closeConnection()
}

func TestCreateAndTradeFlow(t *testing.T) {
	feed := newFakeFeed(t)
	m, st, obs, tracker := newTestMonitor(t, feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	require.Equal(t, methodSubscribeNewToken, feed.nextControl(t).Method)

	// Scenario A: creation event
	feed.send(t, `{"txType":"create","mint":"X","name":"Foo","symbol":"FOO","marketCapSol":10,"solAmount":0}`)

	sub := feed.nextControl(t)
	assert.Equal(t, methodSubscribeTokenTrade, sub.Method)
	assert.Equal(t, []string{"X"}, sub.Keys)

	update := parseUpdate(t, obs.next(t))
	assert.Equal(t, "token_update", update.Type)
	assert.Equal(t, "X", update.Data.Mint)
	assert.Equal(t, "create", update.Data.TxType)
	assert.Empty(t, update.Data.Trades)

	rec := st.Get("X")
	require.NotNil(t, rec)
	assert.Equal(t, 10.0, rec.InitialMarketCap)
	assert.Equal(t, store.DefaultSupply, rec.Supply)
	assert.Empty(t, rec.Trades)

	// Scenario B: buy right after creation is an early trade
	feed.send(t, `{"txType":"buy","mint":"X","marketCapSol":12,"solAmount":1}`)

	update = parseUpdate(t, obs.next(t))
	assert.Equal(t, "buy", update.Data.TxType)
	require.Len(t, update.Data.Trades, 1)
	assert.True(t, update.Data.Trades[0].IsEarlyTrade)

	rec = st.Get("X")
	assert.Equal(t, 12.0, rec.MarketCapSol)
	require.Len(t, rec.Trades, 1)
	assert.Equal(t, 12.0, rec.Trades[0].MarketCap)

	// Scenario C: trade for an unknown mint is dropped without notification
	feed.send(t, `{"txType":"buy","mint":"Y","marketCapSol":5,"solAmount":2}`)
	// a followup event proves Y produced nothing: processing is in order,
	// so the next update must be for Z
	feed.send(t, `{"txType":"create","mint":"Z","name":"Bar","symbol":"BAR","marketCapSol":3}`)

	update = parseUpdate(t, obs.next(t))
	assert.Equal(t, "Z", update.Data.Mint)
	assert.Nil(t, st.Get("Y"))

	snap := tracker.Snapshot()
	assert.Equal(t, int64(1), snap.UnknownDropped)
	assert.Equal(t, int64(2), snap.TokensCreated)
	assert.Equal(t, int64(1), snap.TradesApplied)
}

func TestDuplicateCreationIsNoOp(t *testing.T) {
	feed := newFakeFeed(t)
	m, st, obs, _ := newTestMonitor(t, feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	require.Equal(t, methodSubscribeNewToken, feed.nextControl(t).Method)

	feed.send(t, `{"txType":"create","mint":"X","name":"Foo","symbol":"FOO","marketCapSol":10}`)
	require.Equal(t, methodSubscribeTokenTrade, feed.nextControl(t).Method)
	obs.next(t)

	// repeated creation for X must not notify or mutate; the later create
	// for W flushes through to prove it
	feed.send(t, `{"txType":"create","mint":"X","name":"Other","symbol":"OTH","marketCapSol":99}`)
	feed.send(t, `{"txType":"create","mint":"W","name":"Baz","symbol":"BAZ","marketCapSol":1}`)

	update := parseUpdate(t, obs.next(t))
	assert.Equal(t, "W", update.Data.Mint)

	rec := st.Get("X")
	assert.Equal(t, "Foo", rec.Name)
	assert.Equal(t, 10.0, rec.MarketCapSol)
}

func TestMalformedMessageDoesNotKillLoop(t *testing.T) {
	feed := newFakeFeed(t)
	m, st, obs, tracker := newTestMonitor(t, feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	require.Equal(t, methodSubscribeNewToken, feed.nextControl(t).Method)

	feed.send(t, `this is not json`)
	feed.send(t, `{"txType":"create","mint":"X","name":"Foo","marketCapSol":10}`)

	update := parseUpdate(t, obs.next(t))
	assert.Equal(t, "X", update.Data.Mint)
	require.NotNil(t, st.Get("X"))
	assert.Equal(t, int64(1), tracker.Snapshot().ParseErrors)
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	feed := newFakeFeed(t)
	m, _, obs, _ := newTestMonitor(t, feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	require.Equal(t, methodSubscribeNewToken, feed.nextControl(t).Method)

	feed.send(t, `{"txType":"create","mint":"A","name":"A","marketCapSol":1}`)
	require.Equal(t, methodSubscribeTokenTrade, feed.nextControl(t).Method)
	obs.next(t)
	feed.send(t, `{"txType":"create","mint":"B","name":"B","marketCapSol":2}`)
	require.Equal(t, methodSubscribeTokenTrade, feed.nextControl(t).Method)
	obs.next(t)

	// Scenario D: kill the connection mid-loop
	feed.dropConnection()

	// after backoff the monitor reconnects: creation subscribe first, then
	// exactly one batched trade resubscribe carrying the full set
	assert.Equal(t, methodSubscribeNewToken, feed.nextControl(t).Method)
	resub := feed.nextControl(t)
	assert.Equal(t, methodSubscribeTokenTrade, resub.Method)
	assert.ElementsMatch(t, []string{"A", "B"}, resub.Keys)
}

func TestStopUnsubscribesAndExits(t *testing.T) {
	feed := newFakeFeed(t)
	m, _, obs, _ := newTestMonitor(t, feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.Equal(t, methodSubscribeNewToken, feed.nextControl(t).Method)

	feed.send(t, `{"txType":"create","mint":"A","name":"A","marketCapSol":1}`)
	require.Equal(t, methodSubscribeTokenTrade, feed.nextControl(t).Method)
	obs.next(t)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	assert.Equal(t, methodUnsubscribeNewToken, feed.nextControl(t).Method)
	unsub := feed.nextControl(t)
	assert.Equal(t, methodUnsubscribeTokenTrade, unsub.Method)
	assert.Equal(t, []string{"A"}, unsub.Keys)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStopWithoutConnectIsSafe(t *testing.T) {
	m := NewMonitor("ws://127.0.0.1:1/feed", store.NewTokenStore(), notify.NewNotifier(), metrics.NewTracker(), 10*time.Millisecond, 80*time.Millisecond)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop hung without a connection")
	}
}

func parseUpdate(t *testing.T, raw []byte) notify.Envelope {
	t.Helper()
	var env notify.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pumpwatch/engine/internal/metrics"
	"github.com/pumpwatch/engine/internal/notify"
	"github.com/pumpwatch/engine/internal/store"
)

const (
	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout = 10 * time.Second

	// WriteTimeout bounds control-message writes.
	WriteTimeout = 10 * time.Second

	// PongWait is how long a silent connection is tolerated before a read
	// times out.
	PongWait = 60 * time.Second

	// PingInterval is how long the feed may be idle before we probe it.
	PingInterval = 20 * time.Second
)

// Feed control methods.
const (
	methodSubscribeNewToken     = "subscribeNewToken"
	methodUnsubscribeNewToken   = "unsubscribeNewToken"
	methodSubscribeTokenTrade   = "subscribeTokenTrade"
	methodUnsubscribeTokenTrade = "unsubscribeTokenTrade"
)

// controlMessage is the outbound subscribe/unsubscribe frame.
type controlMessage struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

// Monitor owns the single upstream feed connection. It subscribes to token
// creation events, folds inbound events into the store, manages the per-token
// trade subscriptions, and republishes every state change through the
// notifier. One goroutine drives the whole decode-mutate-notify pipeline, so
// per-token update ordering follows arrival order.
type Monitor struct {
	url      string
	store    *store.TokenStore
	notifier *notify.Notifier
	tracker  *metrics.Tracker

	conn   *websocket.Conn
	connMu sync.Mutex
	dial   func(ctx context.Context, url string) (*websocket.Conn, error)

	subscribed map[string]struct{}
	subMu      sync.Mutex

	baseDelay  time.Duration
	maxDelay   time.Duration
	retryDelay time.Duration

	running  atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	lastMsg   time.Time
	lastMsgMu sync.RWMutex
}

// NewMonitor creates a Monitor for the given feed URL.
func NewMonitor(url string, st *store.TokenStore, notifier *notify.Notifier, tracker *metrics.Tracker, baseDelay, maxDelay time.Duration) *Monitor {
	return &Monitor{
		url:        url,
		store:      st,
		notifier:   notifier,
		tracker:    tracker,
		dial:       dialFeed,
		subscribed: make(map[string]struct{}),
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		retryDelay: baseDelay,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the monitoring loop with automatic reconnection.
func (m *Monitor) Start(ctx context.Context) {
	m.running.Store(true)

	m.wg.Add(1)
	go m.runLoop(ctx)

	m.wg.Add(1)
	go m.heartbeatMonitor(ctx)
}

// Stop shuts the monitor down: best-effort unsubscribes, closes the
// connection, and waits for the loop to exit. Safe to call even if the
// monitor never connected.
func (m *Monitor) Stop() {
	m.running.Store(false)
	m.stopOnce.Do(func() { close(m.stopChan) })

	if m.currentConn() != nil {
		if err := m.sendControl(methodUnsubscribeNewToken, nil); err != nil {
			slog.Warn("feed_unsubscribe_failed", "method", methodUnsubscribeNewToken, "error", err)
		}
		if keys := m.subscribedKeys(); len(keys) > 0 {
			if err := m.sendControl(methodUnsubscribeTokenTrade, keys); err != nil {
				slog.Warn("feed_unsubscribe_failed", "method", methodUnsubscribeTokenTrade, "error", err)
			}
		}
	}

	m.closeConnection()
	m.wg.Wait()
}

// runLoop handles connection, reading, and reconnection with backoff.
func (m *Monitor) runLoop(ctx context.Context) {
	defer m.wg.Done()

	for m.running.Load() {
		select {
		case <-ctx.Done():
			slog.Info("feed_loop_stopping", "reason", "context cancelled")
			return
		case <-m.stopChan:
			slog.Info("feed_loop_stopping", "reason", "stop signal")
			return
		default:
		}

		if m.currentConn() == nil {
			if err := m.Connect(ctx); err != nil {
				slog.Error("feed_connect_failed", "error", err, "backoff", m.retryDelay)
				m.tracker.RecordReconnect()
				m.waitBackoff(ctx)
				continue
			}
		}

		if err := m.readLoop(ctx); err != nil {
			slog.Warn("feed_read_error", "error", err)
		}

		m.closeConnection()
		m.tracker.SetFeedStatus("disconnected")

		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		default:
			m.tracker.RecordReconnect()
			m.waitBackoff(ctx)
		}
	}
}

// dialFeed dials the feed endpoint with the standard handshake timeout.
func dialFeed(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return conn, nil
}

// Connect closes any existing connection, dials the feed, subscribes to new
// token events, and replays the trade subscriptions for every tracked token.
// The retry delay resets only after all of that succeeds; a failure after the
// dial tears the connection down again so the caller redials.
func (m *Monitor) Connect(ctx context.Context) error {
	m.closeConnection()

	conn, err := m.dial(ctx, m.url)
	if err != nil {
		return err
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	slog.Info("feed_connected", "endpoint", m.url)

	// Creation subscribe first, then one batched trade resubscribe.
	if err := m.sendControl(methodSubscribeNewToken, nil); err != nil {
		m.closeConnection()
		return fmt.Errorf("subscribe new tokens: %w", err)
	}

	if keys := m.subscribedKeys(); len(keys) > 0 {
		if err := m.sendControl(methodSubscribeTokenTrade, keys); err != nil {
			m.closeConnection()
			return fmt.Errorf("resubscribe token trades: %w", err)
		}
		slog.Info("feed_resubscribed", "tokens", len(keys))
	}

	m.retryDelay = m.baseDelay
	m.tracker.SetFeedStatus("connected")
	m.updateLastMsg()

	return nil
}

// readLoop reads feed messages until the connection fails. Each message is
// fully processed before the next read.
func (m *Monitor) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopChan:
			return nil
		default:
		}

		conn := m.currentConn()
		if conn == nil {
			return errors.New("connection is nil")
		}

		conn.SetReadDeadline(time.Now().Add(PongWait))

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		m.updateLastMsg()
		m.processMessage(ctx, message)
	}
}

// processMessage decodes one feed message and applies it. Failures are
// logged and dropped; nothing here may kill the read loop.
func (m *Monitor) processMessage(ctx context.Context, data []byte) {
	ev, err := ParseEvent(data)
	if err != nil {
		m.tracker.RecordParseError()
		slog.Error("feed_parse_error", "error", err)
		return
	}

	switch {
	case ev.IsCreate():
		m.handleCreate(ctx, ev)
	case ev.IsTrade():
		m.handleTrade(ev)
	default:
		slog.Debug("feed_event_ignored", "tx_type", ev.TxType, "mint", ev.Mint)
	}
}

// handleCreate registers a newly created token and announces it. A repeated
// creation event for a tracked mint is a no-op.
func (m *Monitor) handleCreate(ctx context.Context, ev *FeedEvent) {
	if m.store.Get(ev.Mint) != nil {
		slog.Debug("token_already_tracked", "mint", ev.Mint)
		return
	}

	if _, err := m.RegisterToken(ctx, ev.Mint, store.NewTokenInput{
		Mint:         ev.Mint,
		Name:         ev.Name,
		Symbol:       ev.Symbol,
		MarketCapSol: ev.marketCapOrZero(),
		SolAmount:    ev.solAmountOrZero(),
		Supply:       ev.Supply,
	}); err != nil {
		slog.Warn("token_subscribe_failed", "mint", ev.Mint, "error", err)
	}

	rec := m.store.Get(ev.Mint)
	if rec == nil {
		return
	}

	m.tracker.RecordEvent(store.TxTypeCreate)
	m.tracker.SetTrackedTokens(m.store.Len())
	m.notifier.Publish(rec)

	slog.Info("token_created", "name", ev.Name, "symbol", ev.Symbol, "mint", ev.Mint, "market_cap", rec.MarketCapSol)
}

// handleTrade folds a buy/sell into the token's record. Trades for untracked
// mints are dropped silently; that is the normal race between a subscribe and
// its first trade.
func (m *Monitor) handleTrade(ev *FeedEvent) {
	rec, ok := m.store.ApplyTrade(ev.Mint, store.TradeInput{
		TxType:       ev.TxType,
		MarketCapSol: ev.MarketCapSol,
		SolAmount:    ev.SolAmount,
	})
	if !ok {
		m.tracker.RecordUnknownDropped()
		return
	}

	m.tracker.RecordEvent(ev.TxType)
	m.notifier.Publish(rec)

	last := rec.Trades[len(rec.Trades)-1]
	slog.Info("token_trade",
		"name", rec.Name,
		"tx_type", ev.TxType,
		"sol_amount", last.Amount,
		"market_cap", last.MarketCap,
		"early", last.IsEarlyTrade,
	)
}

// RegisterToken idempotently creates the token's record and subscribes to its
// trade stream. When no connection is live it connects first, so a subscribe
// message always goes over a live connection. Returns whether a subscribe
// message was actually sent (false when already subscribed).
func (m *Monitor) RegisterToken(ctx context.Context, mint string, in store.NewTokenInput) (bool, error) {
	if m.currentConn() == nil {
		if err := m.Connect(ctx); err != nil {
			return false, fmt.Errorf("connect before subscribe: %w", err)
		}
	}

	m.store.Create(in)

	m.subMu.Lock()
	_, already := m.subscribed[mint]
	if !already {
		m.subscribed[mint] = struct{}{}
	}
	m.subMu.Unlock()

	if already {
		return false, nil
	}

	if err := m.sendControl(methodSubscribeTokenTrade, []string{mint}); err != nil {
		// the mint stays in the set; the next reconnect replays it
		return false, err
	}

	slog.Info("token_subscribed", "mint", mint)
	return true, nil
}

// Subscribed reports whether the monitor holds a trade subscription for the mint.
func (m *Monitor) Subscribed(mint string) bool {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	_, ok := m.subscribed[mint]
	return ok
}

// subscribedKeys snapshots the subscription set.
func (m *Monitor) subscribedKeys() []string {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	keys := make([]string, 0, len(m.subscribed))
	for mint := range m.subscribed {
		keys = append(keys, mint)
	}
	return keys
}

// sendControl writes one subscribe/unsubscribe frame.
func (m *Monitor) sendControl(method string, keys []string) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.conn == nil {
		return errors.New("connection is nil")
	}

	m.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := m.conn.WriteJSON(controlMessage{Method: method, Keys: keys}); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return nil
}

// heartbeatMonitor probes an idle connection and forces a reconnect when the
// probe fails.
func (m *Monitor) heartbeatMonitor(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.checkHeartbeat()
		}
	}
}

// checkHeartbeat pings the feed when no message has arrived recently.
func (m *Monitor) checkHeartbeat() {
	m.lastMsgMu.RLock()
	lastMsg := m.lastMsg
	m.lastMsgMu.RUnlock()

	if lastMsg.IsZero() || time.Since(lastMsg) < PingInterval {
		return
	}

	m.connMu.Lock()
	conn := m.conn
	var err error
	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		err = conn.WriteMessage(websocket.PingMessage, nil)
	}
	m.connMu.Unlock()

	if err != nil {
		slog.Warn("feed_ping_failed", "error", err)
		m.closeConnection()
	}
}

// currentConn returns the live connection, if any.
func (m *Monitor) currentConn() *websocket.Conn {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.conn
}

// closeConnection safely closes the feed connection.
func (m *Monitor) closeConnection() {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
		slog.Info("feed_disconnected")
	}
}

// updateLastMsg records the arrival time of the latest feed message.
func (m *Monitor) updateLastMsg() {
	m.lastMsgMu.Lock()
	m.lastMsg = time.Now()
	m.lastMsgMu.Unlock()
}

// waitBackoff sleeps for the current retry delay, then doubles it up to the
// cap. Interruptible by stop or context cancellation.
func (m *Monitor) waitBackoff(ctx context.Context) {
	slog.Debug("feed_waiting_backoff", "duration", m.retryDelay)

	select {
	case <-ctx.Done():
	case <-m.stopChan:
	case <-time.After(m.retryDelay):
	}

	m.retryDelay *= 2
	if m.retryDelay > m.maxDelay {
		m.retryDelay = m.maxDelay
	}
}

// Package metrics provides real-time metrics tracking for the engine.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a point-in-time view of engine metrics.
type Snapshot struct {
	EventsTotal     int64
	TokensCreated   int64
	TradesApplied   int64
	ParseErrors     int64
	UnknownDropped  int64
	Reconnects      int64
	EventRate       float64 // events per second over the last minute
	FeedStatus      string
	ObserverCount   int
	TrackedTokens   int
	Uptime          time.Duration
}

// Tracker provides thread-safe metrics tracking. Counters are mirrored into
// Prometheus collectors so the same numbers feed the TUI and /metrics.
type Tracker struct {
	mu              sync.RWMutex
	eventsTotal     int64
	tokensCreated   int64
	tradesApplied   int64
	parseErrors     int64
	unknownDropped  int64
	reconnects      int64
	feedStatus      string
	observerCount   int
	trackedTokens   int
	startTime       time.Time
	eventTimestamps []time.Time

	registry *prometheus.Registry

	promEvents     *prometheus.CounterVec
	promErrors     *prometheus.CounterVec
	promReconnects prometheus.Counter
	promFeedUp     prometheus.Gauge
	promObservers  prometheus.Gauge
	promTokens     prometheus.Gauge
}

// NewTracker creates a Tracker with its own Prometheus registry.
func NewTracker() *Tracker {
	t := &Tracker{
		feedStatus:      "disconnected",
		startTime:       time.Now(),
		eventTimestamps: make([]time.Time, 0, 1000),
		registry:        prometheus.NewRegistry(),

		promEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pumpwatch",
				Subsystem: "feed",
				Name:      "events_total",
				Help:      "Total number of feed events processed",
			},
			[]string{"type"},
		),
		promErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pumpwatch",
				Subsystem: "feed",
				Name:      "errors_total",
				Help:      "Total number of feed processing errors",
			},
			[]string{"kind"},
		),
		promReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pumpwatch",
				Subsystem: "feed",
				Name:      "reconnects_total",
				Help:      "Total number of upstream reconnect attempts",
			},
		),
		promFeedUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pumpwatch",
				Subsystem: "feed",
				Name:      "connected",
				Help:      "Whether the upstream feed connection is up (0/1)",
			},
		),
		promObservers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pumpwatch",
				Subsystem: "fanout",
				Name:      "observers",
				Help:      "Number of attached observers",
			},
		),
		promTokens: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pumpwatch",
				Subsystem: "store",
				Name:      "tracked_tokens",
				Help:      "Number of tokens in the state store",
			},
		),
	}

	t.registry.MustRegister(
		t.promEvents,
		t.promErrors,
		t.promReconnects,
		t.promFeedUp,
		t.promObservers,
		t.promTokens,
	)

	return t
}

// Registry exposes the Prometheus registry for the /metrics handler.
func (t *Tracker) Registry() *prometheus.Registry {
	return t.registry
}

// RecordEvent counts a processed feed event of the given type.
func (t *Tracker) RecordEvent(eventType string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.eventsTotal++
	switch eventType {
	case "create":
		t.tokensCreated++
	case "buy", "sell":
		t.tradesApplied++
	}

	now := time.Now()
	t.eventTimestamps = append(t.eventTimestamps, now)

	// Keep only the last 60 seconds for rate calculation
	cutoff := now.Add(-60 * time.Second)
	validIdx := 0
	for i, ts := range t.eventTimestamps {
		if ts.After(cutoff) {
			validIdx = i
			break
		}
	}
	if validIdx > 0 {
		t.eventTimestamps = t.eventTimestamps[validIdx:]
	}

	t.promEvents.WithLabelValues(eventType).Inc()
}

// RecordParseError counts a malformed inbound message.
func (t *Tracker) RecordParseError() {
	t.mu.Lock()
	t.parseErrors++
	t.mu.Unlock()
	t.promErrors.WithLabelValues("parse").Inc()
}

// RecordUnknownDropped counts a trade dropped for an untracked mint.
func (t *Tracker) RecordUnknownDropped() {
	t.mu.Lock()
	t.unknownDropped++
	t.mu.Unlock()
	t.promErrors.WithLabelValues("unknown_mint").Inc()
}

// RecordReconnect counts an upstream reconnect attempt.
func (t *Tracker) RecordReconnect() {
	t.mu.Lock()
	t.reconnects++
	t.mu.Unlock()
	t.promReconnects.Inc()
}

// SetFeedStatus sets the upstream connection status.
func (t *Tracker) SetFeedStatus(status string) {
	t.mu.Lock()
	t.feedStatus = status
	t.mu.Unlock()

	if status == "connected" {
		t.promFeedUp.Set(1)
	} else {
		t.promFeedUp.Set(0)
	}
}

// SetObserverCount sets the current observer count.
func (t *Tracker) SetObserverCount(n int) {
	t.mu.Lock()
	t.observerCount = n
	t.mu.Unlock()
	t.promObservers.Set(float64(n))
}

// SetTrackedTokens sets the current store size.
func (t *Tracker) SetTrackedTokens(n int) {
	t.mu.Lock()
	t.trackedTokens = n
	t.mu.Unlock()
	t.promTokens.Set(float64(n))
}

// Snapshot returns a point-in-time snapshot of metrics.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rate := 0.0
	if len(t.eventTimestamps) > 0 {
		duration := time.Since(t.eventTimestamps[0]).Seconds()
		if duration > 0 {
			rate = float64(len(t.eventTimestamps)) / duration
		}
	}

	return Snapshot{
		EventsTotal:    t.eventsTotal,
		TokensCreated:  t.tokensCreated,
		TradesApplied:  t.tradesApplied,
		ParseErrors:    t.parseErrors,
		UnknownDropped: t.unknownDropped,
		Reconnects:     t.reconnects,
		EventRate:      rate,
		FeedStatus:     t.feedStatus,
		ObserverCount:  t.observerCount,
		TrackedTokens:  t.trackedTokens,
		Uptime:         time.Since(t.startTime),
	}
}

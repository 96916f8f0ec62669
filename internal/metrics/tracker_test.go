package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerCounters(t *testing.T) {
	tr := NewTracker()

	tr.RecordEvent("create")
	tr.RecordEvent("buy")
	tr.RecordEvent("buy")
	tr.RecordEvent("sell")
	tr.RecordParseError()
	tr.RecordUnknownDropped()
	tr.RecordReconnect()
	tr.SetFeedStatus("connected")
	tr.SetObserverCount(3)
	tr.SetTrackedTokens(2)

	snap := tr.Snapshot()
	assert.Equal(t, int64(4), snap.EventsTotal)
	assert.Equal(t, int64(1), snap.TokensCreated)
	assert.Equal(t, int64(3), snap.TradesApplied)
	assert.Equal(t, int64(1), snap.ParseErrors)
	assert.Equal(t, int64(1), snap.UnknownDropped)
	assert.Equal(t, int64(1), snap.Reconnects)
	assert.Equal(t, "connected", snap.FeedStatus)
	assert.Equal(t, 3, snap.ObserverCount)
	assert.Equal(t, 2, snap.TrackedTokens)
	assert.Greater(t, snap.EventRate, 0.0)
}

func TestTrackerPrometheusMirrors(t *testing.T) {
	tr := NewTracker()

	tr.RecordEvent("buy")
	tr.RecordEvent("buy")
	tr.RecordReconnect()
	tr.SetFeedStatus("connected")

	assert.Equal(t, 2.0, testutil.ToFloat64(tr.promEvents.WithLabelValues("buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.promReconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.promFeedUp))

	tr.SetFeedStatus("disconnected")
	assert.Equal(t, 0.0, testutil.ToFloat64(tr.promFeedUp))
}

package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/pumpwatch/engine/internal/metrics"
)

// StatsView displays engine health and throughput.
type StatsView struct {
	textView *tview.TextView
}

// NewStatsView creates the stats panel.
func NewStatsView() *StatsView {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)

	textView.SetTitle(" Engine ").SetBorder(true)

	return &StatsView{textView: textView}
}

// Widget returns the tview primitive.
func (v *StatsView) Widget() tview.Primitive {
	return v.textView
}

// Update refreshes the panel from a metrics snapshot.
func (v *StatsView) Update(snap metrics.Snapshot) {
	v.textView.Clear()

	feedColor := "red"
	if snap.FeedStatus == "connected" {
		feedColor = "green"
	}

	fmt.Fprintf(v.textView,
		"Feed: [%s]%s[-]  Uptime: %s  Reconnects: %d\n"+
			"Events: %d (%.1f/s)  Created: %d  Trades: %d\n"+
			"Tokens: %d  Observers: %d  Parse errors: %d  Unknown dropped: %d\n",
		feedColor, snap.FeedStatus, formatDuration(snap.Uptime), snap.Reconnects,
		snap.EventsTotal, snap.EventRate, snap.TokensCreated, snap.TradesApplied,
		snap.TrackedTokens, snap.ObserverCount, snap.ParseErrors, snap.UnknownDropped,
	)
}

// formatDuration renders an uptime as h/m/s.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	s := d - m*time.Minute

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, int(s.Seconds()))
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, int(s.Seconds()))
	}
	return fmt.Sprintf("%ds", int(s.Seconds()))
}

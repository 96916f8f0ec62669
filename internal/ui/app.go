// Package ui provides the operator terminal dashboard.
package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/pumpwatch/engine/internal/metrics"
	"github.com/pumpwatch/engine/internal/notify"
)

// App is the TUI application. It attaches to the notifier as an in-process
// observer and renders live token state next to engine health.
type App struct {
	app    *tview.Application
	layout *tview.Flex

	tokenTable *TokenTableView
	statsPanel *StatsView

	updates chan notify.Envelope
	tracker *metrics.Tracker
	refresh time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates a TUI application.
func NewApp(tracker *metrics.Tracker, refresh time.Duration) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:        tview.NewApplication(),
		tokenTable: NewTokenTableView(),
		statsPanel: NewStatsView(),
		updates:    make(chan notify.Envelope, 256),
		tracker:    tracker,
		refresh:    refresh,
		ctx:        ctx,
		cancel:     cancel,
	}

	a.setupLayout()
	a.setupKeyboard()

	return a
}

// setupLayout stacks the token table over the stats panel.
func (a *App) setupLayout() {
	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.tokenTable.Widget(), 0, 4, false).
		AddItem(a.statsPanel.Widget(), 0, 1, false)

	a.app.SetRoot(a.layout, true)
}

// setupKeyboard configures keyboard shortcuts.
func (a *App) setupKeyboard() {
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			a.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				a.Stop()
				return nil
			}
		}
		return event
	})
}

// Observer returns the in-process observer to register with the notifier.
func (a *App) Observer() notify.Observer {
	return &uiObserver{app: a}
}

// Run starts the TUI (blocking).
func (a *App) Run() error {
	go a.processUpdates()
	go a.updateLoop()

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("app run failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the application.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// processUpdates folds token updates into the table.
func (a *App) processUpdates() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case update := <-a.updates:
			a.app.QueueUpdateDraw(func() {
				a.tokenTable.Apply(update.Data)
			})
		}
	}
}

// updateLoop periodically refreshes the stats panel.
func (a *App) updateLoop() {
	ticker := time.NewTicker(a.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			snapshot := a.tracker.Snapshot()
			a.app.QueueUpdateDraw(func() {
				a.statsPanel.Update(snapshot)
			})
		}
	}
}

// uiObserver adapts the app to the notifier's Observer interface.
type uiObserver struct {
	app *App
}

func (o *uiObserver) ID() string { return "operator-tui" }

func (o *uiObserver) Send(msg []byte) error {
	var env notify.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return fmt.Errorf("decode token update: %w", err)
	}

	select {
	case o.app.updates <- env:
	default:
		// the table only shows latest state; dropping under burst is fine
	}
	return nil
}

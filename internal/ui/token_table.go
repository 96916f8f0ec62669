package ui

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/pumpwatch/engine/internal/notify"
)

// TokenTableView displays the latest state of every tracked token, most
// recently updated first.
type TokenTableView struct {
	table   *tview.Table
	rows    []notify.TokenUpdate
	index   map[string]int
	initial map[string]float64
	maxRows int
}

// NewTokenTableView creates the live token table.
func NewTokenTableView() *TokenTableView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Tracked Tokens ").SetBorder(true)

	v := &TokenTableView{
		table:   table,
		index:   make(map[string]int),
		initial: make(map[string]float64),
		maxRows: 200,
	}
	v.renderHeader()

	return v
}

// Widget returns the tview primitive.
func (v *TokenTableView) Widget() tview.Primitive {
	return v.table
}

// Apply folds one token update into the table.
func (v *TokenTableView) Apply(update notify.TokenUpdate) {
	if _, ok := v.initial[update.Mint]; !ok {
		v.initial[update.Mint] = update.MarketCapSol
	}

	if i, ok := v.index[update.Mint]; ok {
		v.rows = append(v.rows[:i], v.rows[i+1:]...)
	}

	// newest first
	v.rows = append([]notify.TokenUpdate{update}, v.rows...)
	if len(v.rows) > v.maxRows {
		v.rows = v.rows[:v.maxRows]
	}

	v.index = make(map[string]int, len(v.rows))
	for i, row := range v.rows {
		v.index[row.Mint] = i
	}

	v.render()
}

func (v *TokenTableView) renderHeader() {
	headers := []string{"Mint", "Symbol", "Name", "Market Cap (SOL)", "Change", "Last", "Trades", "Early"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		v.table.SetCell(0, col, cell)
	}
}

func (v *TokenTableView) render() {
	v.table.Clear()
	v.renderHeader()

	for i, row := range v.rows {
		early := 0
		for _, t := range row.Trades {
			if t.IsEarlyTrade {
				early++
			}
		}

		change := "-"
		if base := v.initial[row.Mint]; base > 0 {
			change = fmt.Sprintf("%+.1f%%", (row.MarketCapSol-base)/base*100)
		}

		cells := []string{
			truncate(row.Mint, 12),
			row.Symbol,
			truncate(row.Name, 20),
			fmt.Sprintf("%.3f", row.MarketCapSol),
			change,
			row.TxType,
			fmt.Sprintf("%d", len(row.Trades)),
			fmt.Sprintf("%d", early),
		}

		for col, text := range cells {
			v.table.SetCell(i+1, col, tview.NewTableCell(text).SetAlign(tview.AlignLeft))
		}
	}
}

// truncate shortens a string for display.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

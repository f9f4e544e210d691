package jobs

import (
	"context"

	"github.com/Rajchodisetti/vote-trader/internal/observ"
	"github.com/Rajchodisetti/vote-trader/internal/portfolio"
)

// AccountReader is the read side of the ledger.
type AccountReader interface {
	Snapshot() portfolio.Account
}

// EquityReport logs the account summary and refreshes the equity gauges
// between cycles, so dashboards stay current while the scheduler is idle.
type EquityReport struct {
	Account AccountReader
}

func (EquityReport) Name() string { return "equity_report" }

func (j EquityReport) Run(context.Context) error {
	a := j.Account.Snapshot()
	dd := a.Drawdown()
	halted := 0.0
	if a.Halted {
		halted = 1
	}
	observ.SetGauge("equity_current", a.Equity, nil)
	observ.SetGauge("peak_equity", a.PeakEquity, nil)
	observ.SetGauge("drawdown_pct", dd, nil)
	observ.SetGauge("halted", halted, nil)

	observ.Log("equity_report", map[string]any{
		"symbol":         a.Symbol,
		"equity":         a.Equity,
		"cash":           a.Cash,
		"peak_equity":    a.PeakEquity,
		"drawdown":       dd,
		"realized_pnl":   a.RealizedPnL,
		"unrealized_pnl": a.UnrealizedPnL(),
		"positions":      len(a.Positions),
		"halted":         a.Halted,
	})
	return nil
}

// Checkpointer flushes pending persistence.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// Checkpoint retries pending trade-log rows and writes a dirty snapshot.
type Checkpoint struct {
	Target Checkpointer
}

func (Checkpoint) Name() string { return "checkpoint" }

func (j Checkpoint) Run(ctx context.Context) error {
	return j.Target.Checkpoint(ctx)
}

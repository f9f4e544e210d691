package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Rajchodisetti/vote-trader/internal/adapters"
	"github.com/Rajchodisetti/vote-trader/internal/decision"
	"github.com/Rajchodisetti/vote-trader/internal/indicator"
	"github.com/Rajchodisetti/vote-trader/internal/observ"
	"github.com/Rajchodisetti/vote-trader/internal/portfolio"
	"github.com/Rajchodisetti/vote-trader/internal/risk"
)

// ParseSide accepts buy, sell or exit in any case.
func ParseSide(s string) (risk.Side, error) {
	switch side := risk.Side(strings.ToUpper(strings.TrimSpace(s))); side {
	case risk.Buy, risk.Sell, risk.Exit:
		return side, nil
	default:
		return "", fmt.Errorf("unsupported side %q", s)
	}
}

// OrderPreview is what the gate would do with a manual order now.
type OrderPreview struct {
	Verdict  risk.Verdict `json:"verdict"`
	Price    float64      `json:"price"`
	Notional float64      `json:"notional"` // stake for a BUY, proceeds for a SELL
	CashFree float64      `json:"cash_free"`
}

// Preview evaluates a manual order against the last committed account at
// the last seen price. It mutates nothing.
func (e *Engine) Preview(side risk.Side, fraction float64) (OrderPreview, error) {
	price := e.telemetry.Load().tick.Price
	if price <= 0 {
		return OrderPreview{}, ErrNoPrice
	}
	acct := e.ledger.Snapshot()
	if side == risk.Exit {
		fraction = 1
	}
	v := risk.NewGate(acct.Risk).PreTrade(acct.Book(), e.cfg.Symbol, side, fraction, price)

	p := OrderPreview{Verdict: v, Price: price, CashFree: acct.Cash - acct.Risk.MinCashReservePct*v.Equity}
	if v.Allowed {
		if side == risk.Buy {
			p.Notional = v.Stake
		} else {
			p.Notional = v.Qty * price
		}
	}
	return p, nil
}

// OrderResult is the outcome of Submit. Trade is nil when the gate
// rejected the order.
type OrderResult struct {
	Verdict risk.Verdict             `json:"verdict"`
	Trade   *portfolio.TradeLogEntry `json:"trade,omitempty"`
}

// Submit places a manual order at a fresh price under the same writer
// lock as the cycle. SELL and EXIT respect the halt latch like BUY. The
// fill is persisted after the lock is released; on a persistence error
// Trade is still set because the fill is committed.
func (e *Engine) Submit(ctx context.Context, side risk.Side, fraction float64) (OrderResult, error) {
	price, err := e.orderPrice(ctx)
	if err != nil {
		return OrderResult{}, err
	}
	res, err := e.submit(side, fraction, price)
	if err != nil {
		return res, err
	}
	return res, e.ledger.Checkpoint(ctx)
}

func (e *Engine) submit(side risk.Side, fraction, price float64) (OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct := e.ledger.Mark(price)
	if side == risk.Exit {
		fraction = 1
	}
	v := risk.NewGate(acct.Risk).PreTrade(acct.Book(), e.cfg.Symbol, side, fraction, price)
	res := OrderResult{Verdict: v}

	if v.Latch {
		e.halt(v.Equity, "drawdown")
		return res, nil
	}
	if !v.Allowed {
		observ.Log("order_rejected", map[string]any{
			"side": string(side), "reason": string(v.Reason), "equity": v.Equity, "source": "manual",
		})
		return res, nil
	}

	entry, err := e.ledger.Apply(portfolio.Fill{
		Side: side, Quantity: v.Qty, Price: price, Stake: v.Stake, Note: "manual",
	})
	if err != nil {
		return res, err
	}
	e.filled(entry, "manual")
	res.Trade = &entry
	return res, nil
}

// orderPrice fetches a fresh price, falling back to the last seen one.
func (e *Engine) orderPrice(ctx context.Context) (float64, error) {
	if t, err := e.fetch(ctx); err == nil {
		return t.Price, nil
	}
	if p := e.telemetry.Load().tick.Price; p > 0 {
		return p, nil
	}
	return 0, ErrNoPrice
}

// Status is a copy-on-read view for telemetry.
type Status struct {
	Account       portfolio.Account   `json:"account"`
	Equity        float64             `json:"equity"`
	UnrealizedPnL float64             `json:"unrealized_pnl"`
	Drawdown      float64             `json:"drawdown"`
	LastTick      *adapters.Tick      `json:"last_tick,omitempty"`
	LastDecision  *decision.Decision  `json:"last_decision,omitempty"`
	Readiness     indicator.Readiness `json:"readiness"`
	Strategies    []string            `json:"strategies"`
	Cycles        int64               `json:"cycles"`
	Scheduler     *SchedulerStatus    `json:"scheduler,omitempty"`
	AsOf          time.Time           `json:"as_of"`
}

// Status never blocks on the writer lock.
func (e *Engine) Status() Status {
	tel := e.telemetry.Load()
	acct := e.ledger.Snapshot()
	st := Status{
		Account:       acct,
		Equity:        acct.Equity,
		UnrealizedPnL: acct.UnrealizedPnL(),
		Drawdown:      acct.Drawdown(),
		Readiness:     tel.readiness,
		Strategies:    append([]string(nil), tel.strategies...),
		Cycles:        tel.cycles,
		AsOf:          time.Now().UTC(),
	}
	if tel.tick.Price > 0 {
		t := tel.tick
		st.LastTick = &t
	}
	if tel.decision != nil {
		d := *tel.decision
		st.LastDecision = &d
	}
	return st
}

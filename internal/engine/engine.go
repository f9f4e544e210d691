// Package engine runs the trading cycle: price, votes, decision, risk,
// fills and persistence, plus the operator actions that share its lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rajchodisetti/vote-trader/internal/adapters"
	"github.com/Rajchodisetti/vote-trader/internal/alerts"
	"github.com/Rajchodisetti/vote-trader/internal/decision"
	"github.com/Rajchodisetti/vote-trader/internal/indicator"
	"github.com/Rajchodisetti/vote-trader/internal/observ"
	"github.com/Rajchodisetti/vote-trader/internal/portfolio"
	"github.com/Rajchodisetti/vote-trader/internal/risk"
	"github.com/Rajchodisetti/vote-trader/internal/strategy"
)

// ErrNoPrice is returned by manual orders before any price was seen.
var ErrNoPrice = errors.New("no price available")

// Config tunes how decisions become orders.
type Config struct {
	Symbol string
	// BuyFraction is the share of cash a BUY decision requests before the
	// gate applies its caps.
	BuyFraction float64
	// SellFraction is the share of the position a SELL decision sells.
	SellFraction float64
	Thresholds   decision.Thresholds
	PriceTimeout time.Duration
	// ReadinessWindow is how many closes feed the readiness telemetry.
	ReadinessWindow int
}

func (c *Config) defaults() {
	if c.BuyFraction <= 0 || c.BuyFraction > 1 {
		c.BuyFraction = 1
	}
	if c.SellFraction <= 0 || c.SellFraction > 1 {
		c.SellFraction = 1
	}
	if c.Thresholds == (decision.Thresholds{}) {
		c.Thresholds = decision.DefaultThresholds
	}
	if c.PriceTimeout <= 0 {
		c.PriceTimeout = 5 * time.Second
	}
	if c.ReadinessWindow < 30 {
		c.ReadinessWindow = 200
	}
}

// Engine is the single writer for one account. mu serializes cycles,
// manual orders, risk updates and halt clears; readers use the ledger's
// committed copy and the telemetry pointer and never take it.
type Engine struct {
	cfg      Config
	source   adapters.PriceSource
	ledger   *portfolio.Ledger
	sink     alerts.Sink
	registry *strategy.Registry

	mu         sync.Mutex
	strategies []strategy.Strategy
	closes     *indicator.CloseBuffer

	telemetry atomic.Pointer[telemetry]
}

type telemetry struct {
	tick       adapters.Tick
	decision   *decision.Decision
	readiness  indicator.Readiness
	strategies []string
	cycles     int64
}

// New wires an engine. strategies must come from reg.Build.
func New(cfg Config, source adapters.PriceSource, ledger *portfolio.Ledger, reg *strategy.Registry, strategies []strategy.Strategy, sink alerts.Sink) *Engine {
	cfg.defaults()
	if sink == nil {
		sink = alerts.NopSink{}
	}
	if reg == nil {
		reg = strategy.NewRegistry()
	}
	e := &Engine{
		cfg:        cfg,
		source:     source,
		ledger:     ledger,
		sink:       sink,
		registry:   reg,
		strategies: strategies,
		closes:     indicator.NewCloseBuffer(cfg.ReadinessWindow),
	}
	e.telemetry.Store(&telemetry{strategies: names(strategies)})
	return e
}

// CycleResult summarizes one Tick.
type CycleResult struct {
	Tick     adapters.Tick             `json:"tick"`
	Decision decision.Decision         `json:"decision"`
	Exits    []portfolio.TradeLogEntry `json:"exits,omitempty"`
	Verdict  *risk.Verdict             `json:"verdict,omitempty"`
	Trade    *portfolio.TradeLogEntry  `json:"trade,omitempty"`
	Halted   bool                      `json:"halted"`
	Equity   float64                   `json:"equity"`
}

// Tick runs one full cycle. The price fetch happens before the writer lock
// is taken and persistence after it is released. Risk rejections are part
// of the result, not errors. A persistence error still returns every fill
// the cycle committed.
func (e *Engine) Tick(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	observ.IncCounter("cycles_total", nil)
	defer func() { observ.RecordDuration("cycle_duration", time.Since(start), nil) }()

	tick, err := e.fetch(ctx)
	if err != nil {
		return CycleResult{}, e.cycleFailed("price", err)
	}

	res, err := e.cycle(tick)
	if err != nil {
		return res, err
	}
	if err := e.ledger.Checkpoint(ctx); err != nil {
		return res, e.cycleFailed("persist", err)
	}
	return res, nil
}

// cycle does the in-memory part of Tick under mu.
func (e *Engine) cycle(tick adapters.Tick) (CycleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := CycleResult{Tick: tick}
	acct := e.ledger.Mark(tick.Price)
	e.closes.Push(tick.Price)

	votes := make([]strategy.Vote, 0, len(e.strategies))
	for _, s := range e.strategies {
		votes = append(votes, s.OnPrice(tick.Price))
	}
	res.Decision = decision.CombineWith(votes, e.cfg.Thresholds)
	e.sink.Publish(alerts.Event{Kind: alerts.KindDecision, TS: tick.Timestamp, Payload: decisionPayload(tick, res.Decision)})

	gate := risk.NewGate(acct.Risk)

	// safety exits run before the decision and ignore it
	if !acct.Halted {
		for _, x := range gate.ExitScan(acct.Book(), tick.Price) {
			entry, err := e.ledger.Apply(portfolio.Fill{
				Side:       risk.Sell,
				Quantity:   x.Qty,
				Price:      tick.Price,
				Note:       x.Reason,
				TakeProfit: x.Reason == risk.ExitTakeProfit,
			})
			if err != nil {
				return e.finish(res, e.cycleFailed("exit", err))
			}
			e.filled(entry, x.Reason)
			res.Exits = append(res.Exits, entry)
		}
	}

	e.latchIfBreached(tick.Price)

	if side, frac, ok := e.orderFor(res.Decision.Action); ok {
		book := e.ledger.Book()
		v := risk.NewGate(e.ledger.Snapshot().Risk).PreTrade(book, e.cfg.Symbol, side, frac, tick.Price)
		res.Verdict = &v
		switch {
		case v.Latch:
			e.halt(v.Equity, "drawdown")
		case v.Allowed:
			entry, err := e.ledger.Apply(portfolio.Fill{
				Side: side, Quantity: v.Qty, Price: tick.Price, Stake: v.Stake, Note: "decision " + res.Decision.Reason,
			})
			if err != nil {
				return e.finish(res, e.cycleFailed("trade", err))
			}
			e.filled(entry, "decision")
			res.Trade = &entry
		default:
			observ.Log("order_rejected", map[string]any{
				"side": string(side), "reason": string(v.Reason), "equity": v.Equity, "source": "decision",
			})
		}
	}
	return e.finish(res, nil)
}

func (e *Engine) fetch(ctx context.Context) (adapters.Tick, error) {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.PriceTimeout)
	defer cancel()
	t, err := e.source.Next(pctx)
	if err != nil {
		return adapters.Tick{}, err
	}
	if t.Price <= 0 {
		return adapters.Tick{}, fmt.Errorf("price source returned %v", t.Price)
	}
	if t.Symbol == "" {
		t.Symbol = e.cfg.Symbol
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	return t, nil
}

func (e *Engine) orderFor(a decision.Action) (risk.Side, float64, bool) {
	switch a {
	case decision.Buy:
		return risk.Buy, e.cfg.BuyFraction, true
	case decision.Sell:
		if _, held := e.ledger.Snapshot().Position(e.cfg.Symbol); !held {
			return "", 0, false
		}
		return risk.Sell, e.cfg.SellFraction, true
	}
	return "", 0, false
}

// latchIfBreached halts when equity is below the drawdown floor. Must hold mu.
func (e *Engine) latchIfBreached(mark float64) {
	acct := e.ledger.Snapshot()
	if acct.Halted {
		return
	}
	if !risk.NewGate(acct.Risk).DrawdownBreached(acct.Book(), mark) {
		return
	}
	e.halt(acct.Book().Equity(mark), "drawdown")
}

// halt sets the latch in memory; the caller persists it. Must hold mu.
func (e *Engine) halt(equity float64, reason string) {
	if !e.ledger.Latch(reason) {
		return
	}
	after := e.ledger.Snapshot()
	observ.SetGauge("halted", 1, nil)
	e.sink.Publish(alerts.Event{Kind: alerts.KindHalt, TS: time.Now().UTC(), Payload: map[string]any{
		"reason":         reason,
		"equity":         equity,
		"initial_equity": after.InitialEquity,
		"max_drawdown":   after.Risk.MaxDrawdownPct,
	}})
}

func (e *Engine) filled(entry portfolio.TradeLogEntry, reason string) {
	observ.IncCounter("fills_total", map[string]string{"side": string(entry.Side), "reason": reason})
	observ.Log("fill", map[string]any{
		"id": entry.ID, "side": string(entry.Side), "quantity": entry.Quantity, "price": entry.Price,
		"stake_or_proceeds": entry.StakeOrProceeds, "balance_after": entry.BalanceAfter, "reason": reason,
	})
	e.sink.Publish(alerts.Event{Kind: alerts.KindFill, TS: entry.Timestamp, Payload: fillPayload{TradeLogEntry: entry, Reason: reason}})
}

type fillPayload struct {
	portfolio.TradeLogEntry
	Reason string `json:"reason"`
}

func decisionPayload(t adapters.Tick, d decision.Decision) map[string]any {
	return map[string]any{
		"symbol":     t.Symbol,
		"price":      t.Price,
		"source":     t.Source,
		"action":     string(d.Action),
		"score":      d.Score,
		"confidence": d.Confidence,
		"reason":     d.Reason,
		"votes":      d.Votes,
	}
}

func (e *Engine) cycleFailed(stage string, err error) error {
	observ.IncCounter("cycle_errors_total", map[string]string{"stage": stage})
	observ.Error("cycle_failed", err, map[string]any{"stage": stage})
	return fmt.Errorf("%s: %w", stage, err)
}

// finish publishes telemetry and gauges. Must hold mu.
func (e *Engine) finish(res CycleResult, err error) (CycleResult, error) {
	acct := e.ledger.Snapshot()
	res.Halted = acct.Halted
	res.Equity = acct.Equity

	halted := 0.0
	if acct.Halted {
		halted = 1
	}
	observ.SetGauge("equity_current", acct.Equity, nil)
	observ.SetGauge("peak_equity", acct.PeakEquity, nil)
	observ.SetGauge("drawdown_pct", acct.Drawdown(), nil)
	observ.SetGauge("halted", halted, nil)

	_, inPos := acct.Position(e.cfg.Symbol)
	prev := e.telemetry.Load()
	d := res.Decision
	e.telemetry.Store(&telemetry{
		tick:       res.Tick,
		decision:   &d,
		readiness:  indicator.ComputeReadiness(e.closes.Values(), res.Tick.Price, inPos),
		strategies: names(e.strategies),
		cycles:     prev.cycles + 1,
	})

	observ.Log("cycle", map[string]any{
		"price": res.Tick.Price, "source": res.Tick.Source, "action": string(d.Action),
		"score": d.Score, "confidence": d.Confidence, "equity": acct.Equity,
		"cash": acct.Cash, "halted": acct.Halted, "exits": len(res.Exits), "traded": res.Trade != nil,
	})
	return res, err
}

// ReloadStrategies replaces the whole strategy list between cycles.
func (e *Engine) ReloadStrategies(specs []strategy.Spec) error {
	built, err := e.registry.Build(specs)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies = built

	prev := *e.telemetry.Load()
	prev.strategies = names(built)
	e.telemetry.Store(&prev)
	observ.Log("strategies_reloaded", map[string]any{"strategies": prev.strategies})
	return nil
}

// UpdateRisk applies a partial risk update. Invalid updates keep the
// previous limits and return risk.ErrInvalidConfig. A persistence error
// means the new limits are in force but not yet durable.
func (e *Engine) UpdateRisk(ctx context.Context, p risk.Patch) (risk.Config, error) {
	next, err := e.stageRisk(p)
	if err != nil {
		return next, err
	}
	observ.Log("risk_updated", map[string]any{"risk": next})
	return next, e.ledger.Checkpoint(ctx)
}

func (e *Engine) stageRisk(p risk.Patch) (risk.Config, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.ledger.Snapshot().Risk
	next, err := cur.Apply(p)
	if err != nil {
		return cur, err
	}
	if err := e.ledger.StageRisk(next); err != nil {
		return cur, err
	}
	return next, nil
}

// ClearHalt is the operator reset of the halt latch.
func (e *Engine) ClearHalt(ctx context.Context) error {
	e.mu.Lock()
	if e.ledger.Unlatch() {
		observ.SetGauge("halted", 0, nil)
	}
	e.mu.Unlock()
	return e.ledger.Checkpoint(ctx)
}

// Checkpoint flushes pending persistence. It does not take mu.
func (e *Engine) Checkpoint(ctx context.Context) error {
	return e.ledger.Checkpoint(ctx)
}

// Ledger exposes the account for read-only callers.
func (e *Engine) Ledger() *portfolio.Ledger { return e.ledger }

func names(ss []strategy.Strategy) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.Name()
	}
	return out
}

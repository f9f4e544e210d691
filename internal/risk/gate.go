package risk

import (
	"math"

	"github.com/Rajchodisetti/vote-trader/internal/observ"
)

// Reason explains a gate verdict. Rejections are ordinary outcomes the
// caller branches on, not errors.
type Reason string

const (
	ReasonOK              Reason = "ok"
	ReasonDrawdownHalt    Reason = "drawdown_halt"
	ReasonReserve         Reason = "reserve_violation"
	ReasonPositionCap     Reason = "position_cap_reached"
	ReasonZeroSize        Reason = "zero_size"
	ReasonNoPosition      Reason = "no_position"
	ReasonUnsupportedSide Reason = "unsupported_side"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
	Exit Side = "EXIT" // sell the whole position
)

// Holding is the gate's view of one open position.
type Holding struct {
	Symbol          string
	Quantity        float64
	AvgEntry        float64
	Stake           float64
	Lots            int
	TakeProfitTaken bool
}

// Book is the gate's read-only view of the account.
type Book struct {
	Cash          float64
	InitialEquity float64
	Halted        bool
	Holdings      []Holding
}

// Equity marks every holding at mark.
func (b Book) Equity(mark float64) float64 {
	eq := b.Cash
	for _, h := range b.Holdings {
		eq += h.Quantity * mark
	}
	return eq
}

// OpenLots counts entry fills aggregated into open positions.
func (b Book) OpenLots() int {
	n := 0
	for _, h := range b.Holdings {
		if h.Quantity > 0 {
			n += max(h.Lots, 1)
		}
	}
	return n
}

func (b Book) holding(symbol string) (Holding, bool) {
	for _, h := range b.Holdings {
		if h.Symbol == symbol && h.Quantity > 0 {
			return h, true
		}
	}
	return Holding{}, false
}

// Verdict is the outcome of a pre-trade check.
type Verdict struct {
	Allowed bool    `json:"allowed"`
	Reason  Reason  `json:"reason"`
	Side    Side    `json:"side"`
	Stake   float64 `json:"stake,omitempty"`    // capital to spend on a BUY
	Qty     float64 `json:"quantity,omitempty"` // units to buy or sell
	Equity  float64 `json:"equity"`
	// Latch is set when this check found a fresh drawdown breach; the
	// caller must set the account's halt latch.
	Latch bool `json:"latch,omitempty"`
}

// Gate validates and sizes proposed trades against a Config.
type Gate struct {
	cfg Config
}

func NewGate(cfg Config) Gate {
	return Gate{cfg: cfg}
}

func (g Gate) Config() Config { return g.cfg }

// DrawdownBreached reports whether equity at mark is below the allowed
// floor under initial equity.
func (g Gate) DrawdownBreached(b Book, mark float64) bool {
	if b.InitialEquity <= 0 {
		return false
	}
	return b.Equity(mark) < b.InitialEquity*(1-g.cfg.MaxDrawdownPct)
}

// Drawdown is the fractional decline of equity from initial equity, 0 when
// equity is at or above it.
func Drawdown(b Book, mark float64) float64 {
	if b.InitialEquity <= 0 {
		return 0
	}
	dd := (b.InitialEquity - b.Equity(mark)) / b.InitialEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// PreTrade checks a proposed order. fraction is the share of cash (BUY)
// or of the held position (SELL) requested, in [0,1].
func (g Gate) PreTrade(b Book, symbol string, side Side, fraction, mark float64) Verdict {
	v := g.preTrade(b, symbol, side, fraction, mark)
	if !v.Allowed {
		observ.IncCounter("risk_rejections_total", map[string]string{"reason": string(v.Reason), "side": string(side)})
	}
	return v
}

func (g Gate) preTrade(b Book, symbol string, side Side, fraction, mark float64) Verdict {
	eq := b.Equity(mark)
	v := Verdict{Side: side, Equity: eq, Reason: ReasonOK}

	if b.Halted {
		v.Reason = ReasonDrawdownHalt
		return v
	}
	if g.DrawdownBreached(b, mark) {
		v.Reason = ReasonDrawdownHalt
		v.Latch = true
		return v
	}
	fraction = math.Max(0, math.Min(1, fraction))

	switch side {
	case Buy:
		return g.sizeBuy(b, v, fraction, mark)
	case Sell, Exit:
		h, ok := b.holding(symbol)
		if !ok {
			v.Reason = ReasonNoPosition
			return v
		}
		qty := h.Quantity
		if side == Sell {
			qty *= fraction
		}
		if qty <= 0 {
			v.Reason = ReasonZeroSize
			return v
		}
		v.Allowed = true
		v.Qty = qty
		return v
	default:
		v.Reason = ReasonUnsupportedSide
		return v
	}
}

func (g Gate) sizeBuy(b Book, v Verdict, fraction, mark float64) Verdict {
	if b.OpenLots() >= g.cfg.MaxOpenPositions {
		v.Reason = ReasonPositionCap
		return v
	}

	stake := math.Min(fraction, g.cfg.StakeCapPct) * b.Cash
	if g.cfg.MaxPerTrade > 0 {
		stake = math.Min(stake, g.cfg.MaxPerTrade)
	}

	room := b.Cash - g.cfg.MinCashReservePct*v.Equity
	if room <= 0 {
		v.Reason = ReasonReserve
		return v
	}
	stake = math.Min(stake, room)

	// whole cents only
	stake = math.Floor(stake*100) / 100
	if stake <= 0 || mark <= 0 {
		v.Reason = ReasonZeroSize
		return v
	}

	v.Allowed = true
	v.Stake = stake
	v.Qty = stake / mark
	return v
}

// ExitOrder is a forced sell produced by the stop-loss/take-profit scan.
type ExitOrder struct {
	Symbol string  `json:"symbol"`
	Qty    float64 `json:"quantity"`
	Full   bool    `json:"full"`
	Reason string  `json:"reason"` // stop_loss | take_profit
	PnL    float64 `json:"unrealized_pnl"`
}

const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
)

// ExitScan returns the forced exits due at mark. It ignores the current
// decision; safety exits always run first.
func (g Gate) ExitScan(b Book, mark float64) []ExitOrder {
	var exits []ExitOrder
	for _, h := range b.Holdings {
		if h.Quantity <= 0 || h.AvgEntry <= 0 {
			continue
		}
		stake := h.Stake
		if stake <= 0 {
			stake = h.Quantity * h.AvgEntry
		}
		pnl := h.Quantity * (mark - h.AvgEntry)

		switch {
		case pnl <= -g.cfg.StopLossPct*stake:
			exits = append(exits, ExitOrder{Symbol: h.Symbol, Qty: h.Quantity, Full: true, Reason: ExitStopLoss, PnL: pnl})
		case !h.TakeProfitTaken && pnl >= g.cfg.TakeProfitPct*stake:
			qty := h.Quantity * g.cfg.TakeProfitPartialPct
			full := g.cfg.TakeProfitPartialPct >= 1
			if full {
				qty = h.Quantity
			}
			exits = append(exits, ExitOrder{Symbol: h.Symbol, Qty: qty, Full: full, Reason: ExitTakeProfit, PnL: pnl})
		}
	}
	return exits
}

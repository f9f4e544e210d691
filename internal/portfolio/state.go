package portfolio

import (
	"time"

	"github.com/Rajchodisetti/vote-trader/internal/risk"
)

// SchemaVersion is the current persisted snapshot layout.
const SchemaVersion = 1

// Position is the single weighted-average long position for a symbol.
type Position struct {
	Symbol          string    `json:"symbol" msgpack:"symbol"`
	Quantity        float64   `json:"quantity" msgpack:"quantity"`
	AvgEntry        float64   `json:"avg_entry" msgpack:"avg_entry"` // 0 when flat
	Stake           float64   `json:"stake" msgpack:"stake"`         // capital still committed
	Lots            int       `json:"lots" msgpack:"lots"`           // entry fills aggregated into this position
	TakeProfitTaken bool      `json:"take_profit_taken" msgpack:"take_profit_taken"`
	Mark            float64   `json:"mark" msgpack:"mark"`
	OpenedAt        time.Time `json:"opened_at" msgpack:"opened_at"`
}

// UnrealizedPnL at the position's last mark.
func (p Position) UnrealizedPnL() float64 {
	if p.Quantity <= 0 {
		return 0
	}
	return p.Quantity * (p.Mark - p.AvgEntry)
}

// Account is the complete persisted trading state for one symbol.
type Account struct {
	SchemaVersion int         `json:"schema_version" msgpack:"schema_version"`
	Seq           int64       `json:"seq" msgpack:"seq"` // monotonic, bumped on every committed change
	UpdatedAt     time.Time   `json:"updated_at" msgpack:"updated_at"`
	Symbol        string      `json:"symbol" msgpack:"symbol"`
	Cash          float64     `json:"cash" msgpack:"cash"`
	Equity        float64     `json:"equity" msgpack:"equity"`
	InitialEquity float64     `json:"initial_equity" msgpack:"initial_equity"`
	PeakEquity    float64     `json:"peak_equity" msgpack:"peak_equity"`
	RealizedPnL   float64     `json:"realized_pnl" msgpack:"realized_pnl"`
	Halted        bool        `json:"halted" msgpack:"halted"`
	HaltReason    string      `json:"halt_reason,omitempty" msgpack:"halt_reason"`
	Positions     []Position  `json:"positions" msgpack:"positions"`
	Risk          risk.Config `json:"risk_config" msgpack:"risk_config"`
}

// NewAccount returns a flat account funded with startEquity.
func NewAccount(symbol string, startEquity float64, cfg risk.Config) Account {
	return Account{
		SchemaVersion: SchemaVersion,
		Symbol:        symbol,
		Cash:          startEquity,
		Equity:        startEquity,
		InitialEquity: startEquity,
		PeakEquity:    startEquity,
		Positions:     []Position{},
		Risk:          cfg,
	}
}

// Clone returns a deep copy.
func (a Account) Clone() Account {
	out := a
	out.Positions = make([]Position, len(a.Positions))
	copy(out.Positions, a.Positions)
	return out
}

// Position returns the open position for symbol.
func (a Account) Position(symbol string) (Position, bool) {
	for _, p := range a.Positions {
		if p.Symbol == symbol && p.Quantity > 0 {
			return p, true
		}
	}
	return Position{}, false
}

// UnrealizedPnL sums open positions at their last marks.
func (a Account) UnrealizedPnL() float64 {
	var u float64
	for _, p := range a.Positions {
		u += p.UnrealizedPnL()
	}
	return u
}

// Drawdown from initial equity, floored at 0.
func (a Account) Drawdown() float64 {
	if a.InitialEquity <= 0 || a.Equity >= a.InitialEquity {
		return 0
	}
	return (a.InitialEquity - a.Equity) / a.InitialEquity
}

// Book is the risk gate's view of the account.
func (a Account) Book() risk.Book {
	b := risk.Book{
		Cash:          a.Cash,
		InitialEquity: a.InitialEquity,
		Halted:        a.Halted,
		Holdings:      make([]risk.Holding, 0, len(a.Positions)),
	}
	for _, p := range a.Positions {
		b.Holdings = append(b.Holdings, risk.Holding{
			Symbol:          p.Symbol,
			Quantity:        p.Quantity,
			AvgEntry:        p.AvgEntry,
			Stake:           p.Stake,
			Lots:            p.Lots,
			TakeProfitTaken: p.TakeProfitTaken,
		})
	}
	return b
}

func (a *Account) index(symbol string) int {
	for i := range a.Positions {
		if a.Positions[i].Symbol == symbol {
			return i
		}
	}
	return -1
}

// revalue recomputes equity from marks and ratchets the peak.
func (a *Account) revalue() {
	eq := a.Cash
	for _, p := range a.Positions {
		eq += p.Quantity * p.Mark
	}
	a.Equity = eq
	if eq > a.PeakEquity {
		a.PeakEquity = eq
	}
}

// TradeLogEntry is one append-only row per executed fill.
type TradeLogEntry struct {
	ID              string    `json:"id" msgpack:"id"`
	Seq             int64     `json:"seq" msgpack:"seq"`
	Timestamp       time.Time `json:"timestamp" msgpack:"timestamp"`
	Symbol          string    `json:"symbol" msgpack:"symbol"`
	Side            risk.Side `json:"side" msgpack:"side"`
	Quantity        float64   `json:"quantity" msgpack:"quantity"`
	Price           float64   `json:"price" msgpack:"price"`
	StakeOrProceeds float64   `json:"stake_or_proceeds" msgpack:"stake_or_proceeds"`
	BalanceAfter    float64   `json:"balance_after" msgpack:"balance_after"`
	RealizedPnL     float64   `json:"realized_pnl" msgpack:"realized_pnl"` // of this fill
	Note            string    `json:"note" msgpack:"note"`
}

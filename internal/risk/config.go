package risk

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig marks a rejected risk parameter update.
var ErrInvalidConfig = errors.New("invalid risk config")

// Config holds the limits the gate enforces. Percentages are fractions
// (0.15 means 15%).
type Config struct {
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct" msgpack:"max_drawdown_pct"`
	StakeCapPct          float64 `yaml:"stake_cap_pct" json:"stake_cap_pct" msgpack:"stake_cap_pct"`
	MaxPerTrade          float64 `yaml:"max_per_trade" json:"max_per_trade" msgpack:"max_per_trade"` // absolute, 0 = uncapped
	MinCashReservePct    float64 `yaml:"min_cash_reserve_pct" json:"min_cash_reserve_pct" msgpack:"min_cash_reserve_pct"`
	StopLossPct          float64 `yaml:"stop_loss_pct" json:"stop_loss_pct" msgpack:"stop_loss_pct"`
	TakeProfitPct        float64 `yaml:"take_profit_pct" json:"take_profit_pct" msgpack:"take_profit_pct"`
	TakeProfitPartialPct float64 `yaml:"take_profit_partial_pct" json:"take_profit_partial_pct" msgpack:"take_profit_partial_pct"`
	MaxOpenPositions     int     `yaml:"max_open_positions" json:"max_open_positions" msgpack:"max_open_positions"`
}

// DefaultConfig mirrors the limits the engine ships with.
func DefaultConfig() Config {
	return Config{
		MaxDrawdownPct:       0.15,
		StakeCapPct:          0.10,
		MaxPerTrade:          10,
		MinCashReservePct:    0.50,
		StopLossPct:          0.20,
		TakeProfitPct:        0.30,
		TakeProfitPartialPct: 0.25,
		MaxOpenPositions:     5,
	}
}

// Validate reports the first out-of-range parameter.
func (c Config) Validate() error {
	check := func(name string, v, lo, hi float64, loOpen bool) error {
		if v != v || v > hi || v < lo || (loOpen && v == lo) {
			return fmt.Errorf("%w: %s=%v out of range", ErrInvalidConfig, name, v)
		}
		return nil
	}
	for _, err := range []error{
		check("max_drawdown_pct", c.MaxDrawdownPct, 0, 1, true),
		check("stake_cap_pct", c.StakeCapPct, 0, 1, true),
		check("min_cash_reserve_pct", c.MinCashReservePct, 0, 1, false),
		check("stop_loss_pct", c.StopLossPct, 0, 1, true),
		check("take_profit_pct", c.TakeProfitPct, 0, 100, true),
		check("take_profit_partial_pct", c.TakeProfitPartialPct, 0, 1, true),
	} {
		if err != nil {
			return err
		}
	}
	if c.MaxDrawdownPct >= 1 {
		return fmt.Errorf("%w: max_drawdown_pct must be below 1", ErrInvalidConfig)
	}
	if c.MaxPerTrade < 0 || c.MaxPerTrade != c.MaxPerTrade {
		return fmt.Errorf("%w: max_per_trade=%v must be >= 0", ErrInvalidConfig, c.MaxPerTrade)
	}
	if c.MaxOpenPositions < 1 {
		return fmt.Errorf("%w: max_open_positions=%d must be >= 1", ErrInvalidConfig, c.MaxOpenPositions)
	}
	return nil
}

// Patch is a partial update; nil fields keep their current value.
type Patch struct {
	MaxDrawdownPct       *float64 `json:"max_drawdown_pct,omitempty"`
	StakeCapPct          *float64 `json:"stake_cap_pct,omitempty"`
	MaxPerTrade          *float64 `json:"max_per_trade,omitempty"`
	MinCashReservePct    *float64 `json:"min_cash_reserve_pct,omitempty"`
	StopLossPct          *float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct        *float64 `json:"take_profit_pct,omitempty"`
	TakeProfitPartialPct *float64 `json:"take_profit_partial_pct,omitempty"`
	MaxOpenPositions     *int     `json:"max_open_positions,omitempty"`
}

// Apply returns c with the patch applied and validated. c is unchanged
// when the result is invalid.
func (c Config) Apply(p Patch) (Config, error) {
	next := c
	setF := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setF(&next.MaxDrawdownPct, p.MaxDrawdownPct)
	setF(&next.StakeCapPct, p.StakeCapPct)
	setF(&next.MaxPerTrade, p.MaxPerTrade)
	setF(&next.MinCashReservePct, p.MinCashReservePct)
	setF(&next.StopLossPct, p.StopLossPct)
	setF(&next.TakeProfitPct, p.TakeProfitPct)
	setF(&next.TakeProfitPartialPct, p.TakeProfitPartialPct)
	if p.MaxOpenPositions != nil {
		next.MaxOpenPositions = *p.MaxOpenPositions
	}
	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/vote-trader/internal/observ"
)

const sym = "BTCUSDT"

func longBook(cash, qty, avg float64) Book {
	return Book{
		Cash:          cash,
		InitialEquity: 100,
		Holdings:      []Holding{{Symbol: sym, Quantity: qty, AvgEntry: avg, Stake: qty * avg, Lots: 1}},
	}
}

func TestPreTrade_DrawdownHalt(t *testing.T) {
	g := NewGate(DefaultConfig()) // 15% max drawdown
	b := longBook(0, 1, 100)

	t.Run("equity_84_breaches", func(t *testing.T) {
		assert.True(t, g.DrawdownBreached(b, 84))
		v := g.PreTrade(b, sym, Buy, 1, 84)
		assert.False(t, v.Allowed)
		assert.Equal(t, ReasonDrawdownHalt, v.Reason)
		assert.True(t, v.Latch)
		assert.Equal(t, 84.0, v.Equity)
	})

	t.Run("equity_85_is_at_the_floor", func(t *testing.T) {
		assert.False(t, g.DrawdownBreached(b, 85))
	})

	t.Run("halted_rejects_every_side_regardless_of_price", func(t *testing.T) {
		halted := b
		halted.Halted = true
		for _, side := range []Side{Buy, Sell, Exit} {
			v := g.PreTrade(halted, sym, side, 1, 500)
			assert.False(t, v.Allowed)
			assert.Equal(t, ReasonDrawdownHalt, v.Reason)
			assert.False(t, v.Latch, "already latched")
		}
	})
}

func TestPreTrade_ReserveClampsStake(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinCashReservePct = 0.5
	cfg.StakeCapPct = 1.0
	cfg.MaxPerTrade = 0
	g := NewGate(cfg)

	b := Book{Cash: 100, InitialEquity: 100}
	v := g.PreTrade(b, sym, Buy, 1.0, 10)
	require.True(t, v.Allowed)
	assert.Equal(t, 50.0, v.Stake)
	assert.InDelta(t, 5.0, v.Qty, 1e-12)
	assert.GreaterOrEqual(t, b.Cash-v.Stake, 50.0)
}

func TestPreTrade_StakeCaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinCashReservePct = 0
	g := NewGate(cfg)
	b := Book{Cash: 1000, InitialEquity: 1000}

	t.Run("absolute_cap", func(t *testing.T) {
		v := g.PreTrade(b, sym, Buy, 1, 10)
		require.True(t, v.Allowed)
		assert.Equal(t, 10.0, v.Stake) // min(10% of 1000, 10)
	})

	t.Run("fraction_cap", func(t *testing.T) {
		cfg := cfg
		cfg.MaxPerTrade = 0
		v := NewGate(cfg).PreTrade(b, sym, Buy, 1, 10)
		require.True(t, v.Allowed)
		assert.Equal(t, 100.0, v.Stake)
	})

	t.Run("smaller_request_wins", func(t *testing.T) {
		cfg := cfg
		cfg.MaxPerTrade = 0
		v := NewGate(cfg).PreTrade(b, sym, Buy, 0.05, 10)
		require.True(t, v.Allowed)
		assert.Equal(t, 50.0, v.Stake)
	})
}

func TestPreTrade_Rejections(t *testing.T) {
	g := NewGate(DefaultConfig())

	cases := []struct {
		name   string
		book   Book
		side   Side
		mark   float64
		reason Reason
	}{
		{
			name:   "reserve_violation",
			book:   longBook(40, 1, 60), // equity 100, reserve needs 50
			side:   Buy,
			mark:   60,
			reason: ReasonReserve,
		},
		{
			name: "position_cap",
			book: Book{Cash: 100, InitialEquity: 100, Holdings: []Holding{
				{Symbol: sym, Quantity: 0.01, AvgEntry: 100, Stake: 1, Lots: 5},
			}},
			side:   Buy,
			mark:   100,
			reason: ReasonPositionCap,
		},
		{
			name:   "zero_size",
			book:   Book{Cash: 0.005},
			side:   Buy,
			mark:   100,
			reason: ReasonZeroSize,
		},
		{
			name:   "sell_without_position",
			book:   Book{Cash: 100, InitialEquity: 100},
			side:   Sell,
			mark:   100,
			reason: ReasonNoPosition,
		},
		{
			name:   "unknown_side",
			book:   Book{Cash: 100, InitialEquity: 100},
			side:   Side("SHORT"),
			mark:   100,
			reason: ReasonUnsupportedSide,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			observ.Reset()
			v := g.PreTrade(tc.book, sym, tc.side, 1, tc.mark)
			assert.False(t, v.Allowed)
			assert.Equal(t, tc.reason, v.Reason)
			assert.Equal(t, int64(1), observ.CounterValue("risk_rejections_total",
				map[string]string{"reason": string(tc.reason), "side": string(tc.side)}))
		})
	}
}

func TestPreTrade_SellSizing(t *testing.T) {
	g := NewGate(DefaultConfig())
	b := longBook(50, 2, 100)

	v := g.PreTrade(b, sym, Sell, 0.25, 100)
	require.True(t, v.Allowed)
	assert.Equal(t, 0.5, v.Qty)

	v = g.PreTrade(b, sym, Exit, 0, 100)
	require.True(t, v.Allowed)
	assert.Equal(t, 2.0, v.Qty, "exit ignores fraction")

	v = g.PreTrade(b, sym, Sell, 0, 100)
	assert.Equal(t, ReasonZeroSize, v.Reason)
}

func TestExitScan(t *testing.T) {
	g := NewGate(DefaultConfig()) // SL 20%, TP 30%, partial 25%
	b := longBook(0, 1, 100)

	t.Run("inside_band", func(t *testing.T) {
		assert.Empty(t, g.ExitScan(b, 100))
		assert.Empty(t, g.ExitScan(b, 81))
		assert.Empty(t, g.ExitScan(b, 129))
	})

	t.Run("stop_loss_exits_everything", func(t *testing.T) {
		exits := g.ExitScan(b, 80)
		require.Len(t, exits, 1)
		assert.Equal(t, ExitStopLoss, exits[0].Reason)
		assert.True(t, exits[0].Full)
		assert.Equal(t, 1.0, exits[0].Qty)
		assert.InDelta(t, -20.0, exits[0].PnL, 1e-9)
	})

	t.Run("take_profit_is_partial", func(t *testing.T) {
		exits := g.ExitScan(b, 130)
		require.Len(t, exits, 1)
		assert.Equal(t, ExitTakeProfit, exits[0].Reason)
		assert.False(t, exits[0].Full)
		assert.Equal(t, 0.25, exits[0].Qty)
	})

	t.Run("take_profit_fires_once_per_position", func(t *testing.T) {
		taken := longBook(0, 0.75, 100)
		taken.Holdings[0].TakeProfitTaken = true
		assert.Empty(t, g.ExitScan(taken, 150))
		// stop loss still applies
		assert.Len(t, g.ExitScan(taken, 50), 1)
	})

	t.Run("full_take_profit_when_partial_is_100pct", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TakeProfitPartialPct = 1
		exits := NewGate(cfg).ExitScan(b, 200)
		require.Len(t, exits, 1)
		assert.True(t, exits[0].Full)
		assert.Equal(t, 1.0, exits[0].Qty)
	})
}

func TestDrawdown(t *testing.T) {
	b := longBook(0, 1, 100)
	assert.InDelta(t, 0.16, Drawdown(b, 84), 1e-12)
	assert.Equal(t, 0.0, Drawdown(b, 120))
	assert.Equal(t, 0.0, Drawdown(Book{Cash: 5}, 1))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cases := map[string]func(*Config){
		"drawdown_zero":      func(c *Config) { c.MaxDrawdownPct = 0 },
		"drawdown_one":       func(c *Config) { c.MaxDrawdownPct = 1 },
		"stake_cap_above_1":  func(c *Config) { c.StakeCapPct = 1.5 },
		"negative_reserve":   func(c *Config) { c.MinCashReservePct = -0.1 },
		"zero_stop_loss":     func(c *Config) { c.StopLossPct = 0 },
		"zero_partial":       func(c *Config) { c.TakeProfitPartialPct = 0 },
		"negative_max_trade": func(c *Config) { c.MaxPerTrade = -1 },
		"no_positions":       func(c *Config) { c.MaxOpenPositions = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigApply(t *testing.T) {
	base := DefaultConfig()

	sl := 0.1
	next, err := base.Apply(Patch{StopLossPct: &sl})
	require.NoError(t, err)
	assert.Equal(t, 0.1, next.StopLossPct)
	assert.Equal(t, base.TakeProfitPct, next.TakeProfitPct)

	bad := 2.0
	kept, err := base.Apply(Patch{StopLossPct: &sl, MaxDrawdownPct: &bad})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, base, kept)
}

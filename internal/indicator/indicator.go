// Package indicator holds the streaming numeric primitives strategies build on.
package indicator

// EMA returns the next exponential moving average value. A nil previous
// value is a cold start and yields price unchanged.
func EMA(previous *float64, price float64, period int) float64 {
	if previous == nil {
		return price
	}
	if period < 1 {
		period = 1
	}
	k := 2.0 / (float64(period) + 1.0)
	return price*k + *previous*(1-k)
}

// EMATracker keeps the running EMA for one period.
type EMATracker struct {
	period int
	value  *float64
}

func NewEMATracker(period int) *EMATracker {
	if period < 1 {
		period = 1
	}
	return &EMATracker{period: period}
}

// Update folds price into the average and returns the new value.
func (t *EMATracker) Update(price float64) float64 {
	v := EMA(t.value, price, t.period)
	t.value = &v
	return v
}

// Value returns the current average, false before the first update.
func (t *EMATracker) Value() (float64, bool) {
	if t.value == nil {
		return 0, false
	}
	return *t.value, true
}

// RSIState carries Wilder-smoothed averages between RSI calls.
type RSIState struct {
	AvgGain     float64 `json:"avg_gain"`
	AvgLoss     float64 `json:"avg_loss"`
	Last        float64 `json:"last"`
	Initialized bool    `json:"initialized"`
	Samples     int     `json:"samples"`
}

// RSINeutral is returned on the very first observation.
const RSINeutral = 50.0

// RSI folds price into state and returns the relative strength index in
// [0,100]. The first call only seeds state.
func RSI(state *RSIState, price float64, period int) float64 {
	if period < 1 {
		period = 14
	}
	if !state.Initialized {
		*state = RSIState{Last: price, Initialized: true}
		return RSINeutral
	}

	change := price - state.Last
	state.Last = price
	state.Samples++

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	p := float64(period)
	state.AvgGain = state.AvgGain*(p-1)/p + gain/p
	state.AvgLoss = state.AvgLoss*(p-1)/p + loss/p

	if state.AvgLoss == 0 {
		return 100.0
	}
	rs := state.AvgGain / state.AvgLoss
	return 100 - 100/(1+rs)
}

package strategy

import (
	"fmt"

	"github.com/Rajchodisetti/vote-trader/internal/indicator"
)

// neutralConfidence keeps an in-band RSI vote from being weightless.
const neutralConfidence = 0.2

// RSIThreshold buys oversold and sells overbought.
type RSIThreshold struct {
	name      string
	low, high float64
	period    int
	state     indicator.RSIState
}

func NewRSIThreshold(low, high float64, period int) *RSIThreshold {
	if period < 1 {
		period = 14
	}
	if low <= 0 || low >= 100 {
		low = 30
	}
	if high <= low || high >= 100 {
		high = 70
	}
	return &RSIThreshold{
		name:   fmt.Sprintf("RSI_%d_%g_%g", period, low, high),
		low:    low,
		high:   high,
		period: period,
	}
}

func (s *RSIThreshold) Name() string { return s.name }

func (s *RSIThreshold) OnPrice(price float64) Vote {
	if !validPrice(price) {
		return invalid(s.name, price)
	}
	v := indicator.RSI(&s.state, price, s.period)
	if s.state.Samples < s.period {
		return warming(s.name)
	}

	var bias, conf float64
	switch {
	case v < s.low:
		bias = 1
		conf = (s.low - v) / s.low
	case v > s.high:
		bias = -1
		conf = (v - s.high) / (100 - s.high)
	default:
		conf = neutralConfidence
	}
	return Vote{
		Strategy:   s.name,
		Bias:       bias,
		Confidence: clamp(conf, 0, 1),
		Note:       fmt.Sprintf("rsi=%.2f", v),
	}
}

// Package strategy contains the vote-producing signal generators and the
// static registry that builds them from configuration.
package strategy

import (
	"fmt"
	"math"
)

// Vote is one strategy's opinion on the latest price.
type Vote struct {
	Strategy   string  `json:"strategy"`
	Bias       float64 `json:"bias"`       // [-1..1], positive is bullish
	Confidence float64 `json:"confidence"` // [0..1], trust weight
	Note       string  `json:"note"`
}

// Strategy consumes prices in tick order and votes on each one.
// Implementations keep only private streaming state.
type Strategy interface {
	Name() string
	OnPrice(price float64) Vote
}

const warmingNote = "warming"

func warming(name string) Vote {
	return Vote{Strategy: name, Note: warmingNote}
}

// clamp bounds x to [lo,hi]; NaN collapses to 0 so it never reaches the
// aggregator.
func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(lo, math.Min(hi, x))
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

func invalid(name string, p float64) Vote {
	return Vote{Strategy: name, Note: fmt.Sprintf("ignored price %v", p)}
}

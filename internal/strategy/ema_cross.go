package strategy

import (
	"fmt"
	"math"

	"github.com/Rajchodisetti/vote-trader/internal/indicator"
)

// EMACross leans with the spread between a fast and a slow EMA.
type EMACross struct {
	name       string
	fast, slow *indicator.EMATracker
	warmup     int
	seen       int
}

func NewEMACross(fast, slow int) *EMACross {
	if fast < 1 {
		fast = 1
	}
	if slow <= fast {
		slow = fast + 1
	}
	return &EMACross{
		name:   fmt.Sprintf("EMA_%d_%d", fast, slow),
		fast:   indicator.NewEMATracker(fast),
		slow:   indicator.NewEMATracker(slow),
		warmup: slow,
	}
}

func (s *EMACross) Name() string { return s.name }

func (s *EMACross) OnPrice(price float64) Vote {
	if !validPrice(price) {
		return invalid(s.name, price)
	}
	f := s.fast.Update(price)
	sl := s.slow.Update(price)
	s.seen++
	if s.seen < s.warmup {
		return warming(s.name)
	}

	diff := (f - sl) / math.Max(sl, 1e-9)
	return Vote{
		Strategy:   s.name,
		Bias:       clamp(diff*5, -1, 1),
		Confidence: clamp(math.Abs(diff)*20, 0, 1),
		Note:       fmt.Sprintf("diff=%.5f", diff),
	}
}

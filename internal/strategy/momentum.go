package strategy

import (
	"fmt"
	"math"
)

// Momentum leans with the relative slope across a fixed window.
type Momentum struct {
	name   string
	window int
	buf    []float64
}

func NewMomentum(window int) *Momentum {
	if window < 2 {
		window = 2
	}
	return &Momentum{
		name:   fmt.Sprintf("MOM_%d", window),
		window: window,
		buf:    make([]float64, 0, window),
	}
}

func (s *Momentum) Name() string { return s.name }

func (s *Momentum) OnPrice(price float64) Vote {
	if !validPrice(price) {
		return invalid(s.name, price)
	}
	if len(s.buf) == s.window {
		copy(s.buf, s.buf[1:])
		s.buf = s.buf[:s.window-1]
	}
	s.buf = append(s.buf, price)
	if len(s.buf) < s.window {
		return warming(s.name)
	}

	first := s.buf[0]
	slope := (s.buf[len(s.buf)-1] - first) / math.Max(first, 1e-9)
	return Vote{
		Strategy:   s.name,
		Bias:       clamp(slope*5, -1, 1),
		Confidence: clamp(math.Abs(slope)*10, 0, 1),
		Note:       fmt.Sprintf("slope=%.5f", slope),
	}
}

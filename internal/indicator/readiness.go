package indicator

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Readiness summarises how close the market is to a signal, computed over
// a rolling buffer of closes. It is telemetry only; strategies never read it.
type Readiness struct {
	Trend         string     `json:"trend,omitempty"` // up | down | flat
	TrendStrength *float64   `json:"trend_strength,omitempty"`
	EMA12         *float64   `json:"ema12,omitempty"`
	EMA26         *float64   `json:"ema26,omitempty"`
	RSI           *RSIBounds `json:"rsi,omitempty"`
	InPosition    bool       `json:"in_position"`
}

// RSIBounds is the RSI value with its distance to the 30/70 edges.
type RSIBounds struct {
	Value float64 `json:"value"`
	To30  float64 `json:"to30"`
	To70  float64 `json:"to70"`
}

// CloseBuffer is a fixed-capacity window of recent prices.
type CloseBuffer struct {
	max    int
	closes []float64
}

func NewCloseBuffer(max int) *CloseBuffer {
	if max < 2 {
		max = 2
	}
	return &CloseBuffer{max: max}
}

func (b *CloseBuffer) Push(price float64) {
	b.closes = append(b.closes, price)
	if len(b.closes) > b.max {
		b.closes = append(b.closes[:0], b.closes[len(b.closes)-b.max:]...)
	}
}

func (b *CloseBuffer) Len() int { return len(b.closes) }

// Values returns a copy of the buffered closes, oldest first.
func (b *CloseBuffer) Values() []float64 {
	out := make([]float64, len(b.closes))
	copy(out, b.closes)
	return out
}

// ComputeReadiness derives readiness from the buffered closes.
func ComputeReadiness(closes []float64, price float64, inPosition bool) Readiness {
	r := Readiness{InPosition: inPosition}

	if len(closes) >= 26 {
		ema12 := last(talib.Ema(closes, 12))
		ema26 := last(talib.Ema(closes, 26))
		if finite(ema12) && finite(ema26) {
			r.EMA12 = ptr(round(ema12, 2))
			r.EMA26 = ptr(round(ema26, 2))
			spread := ema12 - ema26
			switch {
			case spread > 0:
				r.Trend = "up"
			case spread < 0:
				r.Trend = "down"
			default:
				r.Trend = "flat"
			}
			if price > 0 {
				r.TrendStrength = ptr(round(math.Abs(spread)/price, 4))
			}
		}
	}

	if len(closes) >= 15 {
		v := last(talib.Rsi(closes, 14))
		if finite(v) {
			r.RSI = &RSIBounds{
				Value: round(v, 2),
				To30:  round(math.Abs(v-30), 2),
				To70:  round(math.Abs(v-70), 2),
			}
		}
	}
	return r
}

func last(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return xs[len(xs)-1]
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func ptr(x float64) *float64 { return &x }

// Package decision folds strategy votes into a single trading action.
package decision

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Rajchodisetti/vote-trader/internal/strategy"
)

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// weightFloor keeps zero-confidence votes from zeroing the denominator.
const weightFloor = 1e-6

// ReasonNoVotes is the reason given when there is nothing to combine.
const ReasonNoVotes = "no-votes"

// Thresholds are the fused-score cut-offs for BUY and SELL.
type Thresholds struct {
	Buy  float64 `yaml:"buy" json:"buy"`   // score above this is BUY
	Sell float64 `yaml:"sell" json:"sell"` // score below this is SELL
}

// DefaultThresholds are tuned constants, not derived values.
var DefaultThresholds = Thresholds{Buy: 0.15, Sell: -0.15}

// Decision is the aggregated verdict for one tick.
type Decision struct {
	Action     Action          `json:"action"`
	Confidence float64         `json:"confidence"`
	Score      float64         `json:"score"`
	Reason     string          `json:"reason"`
	Votes      []strategy.Vote `json:"votes"`
}

// Combine fuses votes with the default thresholds.
func Combine(votes []strategy.Vote) Decision {
	return CombineWith(votes, DefaultThresholds)
}

// CombineWith computes the confidence-weighted mean bias and maps it to
// an action. The same votes always produce the same Decision.
func CombineWith(votes []strategy.Vote, th Thresholds) Decision {
	if len(votes) == 0 {
		return Decision{Action: Hold, Confidence: 0, Reason: ReasonNoVotes, Votes: []strategy.Vote{}}
	}

	biases := make([]float64, len(votes))
	weights := make([]float64, len(votes))
	confs := make([]float64, len(votes))
	for i, v := range votes {
		biases[i] = bound(v.Bias, -1, 1)
		confs[i] = bound(v.Confidence, 0, 1)
		weights[i] = math.Max(confs[i], weightFloor)
	}

	score := floats.Dot(biases, weights) / floats.Sum(weights)
	conf := math.Min(stat.Mean(confs, nil), 1)

	action := Hold
	switch {
	case score > th.Buy:
		action = Buy
	case score < th.Sell:
		action = Sell
	}

	kept := make([]strategy.Vote, len(votes))
	copy(kept, votes)
	return Decision{
		Action:     action,
		Confidence: conf,
		Score:      score,
		Reason:     fmt.Sprintf("score=%.3f conf=%.2f", score, conf),
		Votes:      kept,
	}
}

func bound(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(lo, math.Min(hi, x))
}

package adapters

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

const minSyntheticPrice = 0.01

// SyntheticConfig shapes the random walk.
type SyntheticConfig struct {
	Symbol     string
	Start      float64
	Volatility float64 // per-step log-return bound
	Drift      float64 // additive, decays each step
	DriftDecay float64
	Seed       int64 // 0 seeds from the clock
}

func (c *SyntheticConfig) defaults() {
	if c.Start <= 0 {
		c.Start = 50000
	}
	if c.Volatility <= 0 {
		c.Volatility = 0.002
	}
	if c.DriftDecay <= 0 || c.DriftDecay > 1 {
		c.DriftDecay = 0.95
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// SyntheticSource is a seeded geometric random walk. It is safe for
// concurrent use.
type SyntheticSource struct {
	cfg SyntheticConfig

	mu     sync.Mutex
	random *rand.Rand
	price  float64
	drift  float64
	now    func() time.Time
}

func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	cfg.defaults()
	return &SyntheticSource{
		cfg:    cfg,
		random: rand.New(rand.NewSource(cfg.Seed)),
		price:  cfg.Start,
		drift:  cfg.Drift,
		now:    time.Now,
	}
}

// Next advances the walk one step: p*exp(U(-vol,vol)) + drift.
func (s *SyntheticSource) Next(ctx context.Context) (Tick, error) {
	if err := ctx.Err(); err != nil {
		return Tick{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	shock := (s.random.Float64()*2 - 1) * s.cfg.Volatility
	p := s.price*math.Exp(shock) + s.drift
	s.drift *= s.cfg.DriftDecay
	if p < minSyntheticPrice || math.IsNaN(p) {
		p = minSyntheticPrice
	}
	s.price = p

	return Tick{Symbol: s.cfg.Symbol, Price: p, Timestamp: s.now().UTC(), Source: "synthetic"}, nil
}

// Reseed continues the walk from price, so a fallback picks up where the
// real feed left off.
func (s *SyntheticSource) Reseed(price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	s.mu.Lock()
	s.price = price
	s.mu.Unlock()
}

// Last returns the current walk price without advancing it.
func (s *SyntheticSource) Last() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price
}

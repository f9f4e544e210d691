package strategy

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownStrategy is returned for a configured name with no constructor.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Spec names a strategy and its numeric parameters.
type Spec struct {
	Name   string             `yaml:"name" json:"name"`
	Params map[string]float64 `yaml:"params" json:"params,omitempty"`
}

// Factory builds a strategy from its parameters.
type Factory func(params map[string]float64) Strategy

// Registry maps strategy names to constructors, resolved at startup.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register("ema_cross", func(p map[string]float64) Strategy {
		return NewEMACross(intParam(p, "fast", 8), intParam(p, "slow", 21))
	})
	r.Register("rsi", func(p map[string]float64) Strategy {
		return NewRSIThreshold(param(p, "low", 30), param(p, "high", 70), intParam(p, "period", 14))
	})
	r.Register("momentum", func(p map[string]float64) Strategy {
		return NewMomentum(intParam(p, "window", 12))
	})
	return r
}

// Register adds or replaces a constructor.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Names lists registered strategy names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build constructs fresh strategies for every spec, in order.
func (r *Registry) Build(specs []Spec) ([]Strategy, error) {
	out := make([]Strategy, 0, len(specs))
	for _, s := range specs {
		f, ok := r.factories[s.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, s.Name)
		}
		out = append(out, f(s.Params))
	}
	return out, nil
}

// DefaultSpecs is the strategy set used when configuration names none.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: "ema_cross", Params: map[string]float64{"fast": 8, "slow": 21}},
		{Name: "rsi", Params: map[string]float64{"low": 30, "high": 70, "period": 14}},
		{Name: "momentum", Params: map[string]float64{"window": 12}},
	}
}

func param(p map[string]float64, key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

func intParam(p map[string]float64, key string, def int) int {
	return int(param(p, key, float64(def)))
}

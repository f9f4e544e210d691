package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrExhausted is returned once a replay has handed out every tick.
var ErrExhausted = errors.New("replay exhausted")

// ticksFile is the recorded fixture layout: {"ticks":[{"symbol":..,"last":..}]}.
type ticksFile struct {
	Ticks []struct {
		Symbol string    `json:"symbol"`
		Last   float64   `json:"last"`
		TS     time.Time `json:"ts"`
	} `json:"ticks"`
}

// LoadTicks reads a ticks fixture, keeping rows for symbol only (any
// symbol when empty). Rows without a timestamp are spaced one second apart.
func LoadTicks(path, symbol string) ([]Tick, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f ticksFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("json %s: %w", path, err)
	}
	symbol = strings.ToUpper(symbol)
	base := time.Unix(0, 0).UTC()
	out := make([]Tick, 0, len(f.Ticks))
	for i, t := range f.Ticks {
		s := strings.ToUpper(t.Symbol)
		if symbol != "" && s != symbol {
			continue
		}
		if t.Last <= 0 {
			return nil, NewBadPriceError(s, fmt.Sprintf("row %d: last=%v", i, t.Last))
		}
		ts := t.TS.UTC()
		if t.TS.IsZero() {
			ts = base.Add(time.Duration(i) * time.Second)
		}
		out = append(out, Tick{Symbol: s, Price: t.Last, Timestamp: ts, Source: "replay"})
	}
	return out, nil
}

// ReplaySource plays recorded ticks in order, then fails with ErrExhausted.
type ReplaySource struct {
	mu    sync.Mutex
	ticks []Tick
	next  int
}

func NewReplaySource(ticks []Tick) *ReplaySource {
	return &ReplaySource{ticks: ticks}
}

func (r *ReplaySource) Next(ctx context.Context) (Tick, error) {
	if err := ctx.Err(); err != nil {
		return Tick{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.ticks) {
		return Tick{}, ErrExhausted
	}
	t := r.ticks[r.next]
	r.next++
	return t, nil
}

// Remaining is the number of ticks not yet handed out.
func (r *ReplaySource) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks) - r.next
}

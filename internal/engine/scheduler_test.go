package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingCycler records calls and the highest observed concurrency.
type countingCycler struct {
	calls    atomic.Int64
	inflight atomic.Int64
	maxSeen  atomic.Int64
	hold     time.Duration
	err      error
}

func (c *countingCycler) Tick(context.Context) (CycleResult, error) {
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	for {
		m := c.maxSeen.Load()
		if n <= m || c.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	c.calls.Add(1)
	time.Sleep(c.hold)
	return CycleResult{}, c.err
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	c := &countingCycler{hold: 5 * time.Millisecond}
	s := NewScheduler(c, MinInterval)

	assert.Equal(t, Idle, s.State())
	assert.True(t, s.Start(context.Background()))
	assert.False(t, s.Start(context.Background()), "second start is a no-op")
	assert.Equal(t, Running, s.State())

	require.Eventually(t, func() bool { return c.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Stop())
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, int64(1), c.maxSeen.Load(), "cycles never overlap")

	assert.False(t, s.Stop(), "stop when idle is a no-op")
}

func TestScheduler_StopThenStartResumes(t *testing.T) {
	c := &countingCycler{}
	s := NewScheduler(c, MinInterval)

	require.True(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return c.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.True(t, s.Stop())
	stopped := c.calls.Load()

	time.Sleep(3 * MinInterval)
	assert.Equal(t, stopped, c.calls.Load(), "no cycles after stop")

	require.True(t, s.Start(context.Background()))
	assert.Equal(t, Running, s.State())
	require.Eventually(t, func() bool { return c.calls.Load() > stopped }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestScheduler_StopWaitsForInflightCycle(t *testing.T) {
	c := &countingCycler{hold: 100 * time.Millisecond}
	s := NewScheduler(c, MinInterval)
	s.Start(context.Background())
	require.Eventually(t, func() bool { return c.inflight.Load() == 1 }, time.Second, time.Millisecond)

	s.Stop()
	assert.Equal(t, int64(0), c.inflight.Load())
}

func TestScheduler_ParentCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(&countingCycler{}, MinInterval)
	s.Start(ctx)
	cancel()
	require.Eventually(t, func() bool { return s.State() == Idle }, time.Second, 5*time.Millisecond)
}

// ctxCycler keeps the context of its most recent cycle.
type ctxCycler struct {
	mu   sync.Mutex
	last context.Context
}

func (c *ctxCycler) Tick(ctx context.Context) (CycleResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = ctx
	return CycleResult{}, nil
}

func (c *ctxCycler) seen() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func TestScheduler_ParentCancelReleasesLoopAndRestarts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &ctxCycler{}
	s := NewScheduler(c, MinInterval)
	require.True(t, s.Start(ctx))
	require.Eventually(t, func() bool { return c.seen() != nil }, time.Second, 5*time.Millisecond)
	first := c.seen()

	cancel()
	require.Eventually(t, func() bool { return s.State() == Idle }, time.Second, 5*time.Millisecond)
	assert.Error(t, first.Err())
	assert.False(t, s.Stop(), "loop already ended")

	require.True(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return c.seen() != first }, time.Second, 5*time.Millisecond)
	assert.NoError(t, c.seen().Err())
	require.True(t, s.Stop())
	assert.Error(t, c.seen().Err(), "stop cancels the loop context")
}

func TestScheduler_IntervalFloor(t *testing.T) {
	s := NewScheduler(&countingCycler{}, time.Millisecond)
	assert.Equal(t, MinInterval, s.Interval())
	assert.Equal(t, MinInterval, s.SetInterval(0))
	assert.Equal(t, 2*time.Second, s.SetInterval(2*time.Second))
	assert.Equal(t, 2000.0, s.Status().IntervalMs)
}

func TestScheduler_DisabledSkipsCycles(t *testing.T) {
	c := &countingCycler{err: errors.New("boom")}
	s := NewScheduler(c, MinInterval)
	s.SetEnabled(false)
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(3 * MinInterval)
	assert.Equal(t, int64(0), c.calls.Load())
	assert.Equal(t, "running", s.Status().State)

	s.SetEnabled(true)
	require.Eventually(t, func() bool { return s.Status().Failures >= 1 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, s.Status().Runs, s.Status().Failures)
}

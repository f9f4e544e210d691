package engine

import (
	"context"
	"sync"
	"time"

	"github.com/Rajchodisetti/vote-trader/internal/observ"
)

// MinInterval keeps the loop from spinning.
const MinInterval = 50 * time.Millisecond

type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Cycler runs one trading cycle.
type Cycler interface {
	Tick(ctx context.Context) (CycleResult, error)
}

// SchedulerStatus is reported alongside engine status.
type SchedulerStatus struct {
	State      string  `json:"state"`
	Enabled    bool    `json:"enabled"`
	IntervalMs float64 `json:"interval_ms"`
	Runs       int64   `json:"runs"`
	Failures   int64   `json:"failures"`
}

// Scheduler drives a Cycler on a fixed interval from one goroutine, so
// cycles never overlap. Start and Stop are idempotent.
type Scheduler struct {
	cycler Cycler

	mu       sync.Mutex
	state    State
	enabled  bool
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	runs     int64
	failures int64
}

func NewScheduler(c Cycler, interval time.Duration) *Scheduler {
	return &Scheduler{cycler: c, enabled: true, interval: clampInterval(interval)}
}

func clampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// Start launches the loop. It returns false when already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = Running
	go s.loop(loopCtx, s.done)
	observ.Log("scheduler_started", map[string]any{"interval_ms": s.interval.Milliseconds()})
	return true
}

// Stop requests cancellation and waits for the in-flight cycle to end.
// It returns false when the loop was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return false
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	return true
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.state = Idle
		if s.cancel != nil {
			s.cancel()
		}
		s.cancel = nil
		s.mu.Unlock()
		observ.Log("scheduler_stopped", nil)
		close(done)
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if s.Enabled() {
			_, err := s.cycler.Tick(ctx)
			s.mu.Lock()
			s.runs++
			if err != nil {
				s.failures++
			}
			s.mu.Unlock()
		}
		// stop is checked between cycles, never inside one
		if ctx.Err() != nil {
			return
		}
		timer.Reset(s.Interval())
	}
}

// SetInterval changes the sleep between cycles and returns the value
// applied after clamping. It takes effect after the current sleep.
func (s *Scheduler) SetInterval(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = clampInterval(d)
	return s.interval
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetEnabled pauses or resumes cycles without stopping the loop.
func (s *Scheduler) SetEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = on
}

func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{
		State:      s.state.String(),
		Enabled:    s.enabled,
		IntervalMs: float64(s.interval) / float64(time.Millisecond),
		Runs:       s.runs,
		Failures:   s.failures,
	}
}

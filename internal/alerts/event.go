package alerts

import (
	"time"

	"github.com/Rajchodisetti/vote-trader/internal/observ"
)

type Kind string

const (
	KindHalt     Kind = "halt"
	KindFill     Kind = "fill"
	KindDecision Kind = "decision"
)

// Event is one engine notification. Delivery is best effort.
type Event struct {
	Kind    Kind      `json:"kind"`
	TS      time.Time `json:"ts"`
	Payload any       `json:"payload"`
}

// Sink receives events. Publish must not block the caller.
type Sink interface {
	Publish(Event)
}

type NopSink struct{}

func (NopSink) Publish(Event) {}

// Fanout publishes to every sink in order.
type Fanout []Sink

func (f Fanout) Publish(e Event) {
	for _, s := range f {
		s.Publish(e)
	}
}

// LogSink writes halt and fill events to the structured log. Decisions
// are left to the engine's own cycle log.
type LogSink struct{}

func (LogSink) Publish(e Event) {
	switch e.Kind {
	case KindHalt:
		observ.Warn("alert_halt", map[string]any{"payload": e.Payload})
	case KindFill:
		observ.Log("alert_fill", map[string]any{"payload": e.Payload})
	}
}

// Package history exports application lifecycle events (actions and health
// transitions) to external stores for auditing and statistics.
package history

import (
	"context"
	"io"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventRestart EventType = "restart"
	EventHealth  EventType = "health"
)

// Table is the relational table (and default index) events are written to.
const Table = "app_history"

// Event represents a lifecycle event to be exported to external systems.
// For actions Status is "success" or "failure"; for health events it is the
// new health status.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	App        string    `json:"app"`
	PID        int       `json:"pid"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Close releases s if it holds resources.
func Close(s Sink) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Send(ctx context.Context, e Event) error { return f(ctx, e) }

package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart         EventType = "start"
	EventStartFailed   EventType = "start_failed"
	EventStop          EventType = "stop"
	EventRestart       EventType = "restart"
	EventRestartFailed EventType = "restart_failed"
	EventReclaimed     EventType = "reclaimed"
)

// Record is the task snapshot attached to an event.
type Record struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// Event represents a lifecycle event exported for diagnostics.
type Event struct {
	ID         string    `json:"id"` // unique per event
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans an event out to every sink concurrently. A failing sink does not
// cancel the others; Send returns the first error once all have finished.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var g errgroup.Group
	for i, s := range m {
		g.Go(func() error {
			if err := s.Send(ctx, e); err != nil {
				return fmt.Errorf("history sink %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes every sink that implements io.Closer.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

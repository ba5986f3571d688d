package publisher

import (
	"context"

	"github.com/pkg/errors"

	"tickcast/internal/bus"
)

// Local broadcasts events in-process, e.g. to WebSocket clients of the query
// surface. Slow subscribers lose events rather than block the publisher.
type Local struct {
	bus *bus.FanOut[Event]

	// OnDrop is called when a subscriber misses an event because its buffer
	// is full. Set before the first Publish.
	OnDrop func(subscriberID int)
}

// NewLocal creates a Local publisher whose subscribers buffer up to
// bufSize events.
func NewLocal(bufSize int) *Local {
	l := &Local{bus: bus.New[Event](bufSize)}
	l.bus.OnDrop = func(id int) {
		if l.OnDrop != nil {
			l.OnDrop(id)
		}
	}
	return l
}

func (l *Local) Publish(_ context.Context, ev Event) error {
	l.bus.Publish(ev)
	return nil
}

// Subscribe returns a channel of future events and a function that cancels
// the subscription.
func (l *Local) Subscribe() (<-chan Event, func()) {
	id, ch := l.bus.Subscribe()
	return ch, func() { l.bus.Unsubscribe(id) }
}

// Subscribers returns the number of active subscriptions.
func (l *Local) Subscribers() int {
	return l.bus.Len()
}

// Close ends every subscription.
func (l *Local) Close() error {
	l.bus.Close()
	return nil
}

// Multi publishes to every publisher in order. All are attempted; the first
// error is returned.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, p := range m {
		if err := p.Close(); err != nil && first == nil {
			first = errors.Wrap(err, "close publisher")
		}
	}
	return first
}

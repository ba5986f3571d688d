package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	// ErrQueueFull is returned by Async.Publish when the queue has no room;
	// the event is dropped.
	ErrQueueFull = errors.New("publish queue is full")
	// ErrQueueClosed is returned by Async.Publish after Close.
	ErrQueueClosed = errors.New("publish queue is closed")
)

// AsyncConfig configures an Async publisher.
type AsyncConfig struct {
	Name string
	// QueueSize bounds the events waiting for delivery (default 1024).
	QueueSize int
	// Timeout bounds one delivery to the wrapped publisher (default 10s).
	Timeout time.Duration

	OnDrop  func(ev Event)
	OnError func(ev Event, err error)
}

// Async hands events to a slower publisher through a bounded queue drained
// by one goroutine, so Publish never waits on the network. Events keep
// their order; when the queue is full new events are dropped.
type Async struct {
	next  Publisher
	cfg   AsyncConfig
	queue chan Event
	done  chan struct{}
	log   zerolog.Logger

	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// NewAsync starts the delivery goroutine for next.
func NewAsync(next Publisher, cfg AsyncConfig, log zerolog.Logger) *Async {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	a := &Async{
		next:  next,
		cfg:   cfg,
		queue: make(chan Event, cfg.QueueSize),
		done:  make(chan struct{}),
		log:   log.With().Str("component", "async_publisher").Str("sink", cfg.Name).Logger(),
	}
	go a.run()
	return a
}

// Publish enqueues ev without blocking.
func (a *Async) Publish(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrQueueClosed
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		if a.cfg.OnDrop != nil {
			a.cfg.OnDrop(ev)
		}
		return ErrQueueFull
	}
}

// Close stops accepting events, waits for the queued ones to be delivered
// and closes the wrapped publisher.
func (a *Async) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()

		<-a.done
		a.closeErr = a.next.Close()
	})
	return a.closeErr
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
		err := a.next.Publish(ctx, ev)
		cancel()
		if err != nil {
			a.log.Debug().Err(err).Str("type", ev.Type).Str("symbol", ev.Instrument).Msg("delivery failed")
			if a.cfg.OnError != nil {
				a.cfg.OnError(ev, err)
			}
		}
	}
}

// Package bus broadcasts in-process events to any number of subscribers.
package bus

import "sync"

// FanOut broadcasts values to N subscriber channels. If a subscriber's
// channel is full the value is dropped for that subscriber, so a slow
// consumer never blocks the publisher.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs map[int]chan T
	nextID  int
	bufSize int
	closed  bool

	// OnDrop is called when a value is dropped for a subscriber.
	OnDrop func(subscriberID int)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int) *FanOut[T] {
	if outputBufferSize < 0 {
		outputBufferSize = 0
	}
	return &FanOut[T]{
		outputs: make(map[int]chan T),
		bufSize: outputBufferSize,
	}
}

// Subscribe creates a new output channel and returns it with its id. After
// Close the returned channel is already closed.
func (f *FanOut[T]) Subscribe() (int, <-chan T) {
	ch := make(chan T, f.bufSize)

	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	if f.closed {
		close(ch)
		return id, ch
	}
	f.outputs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber's channel. Unknown ids are
// ignored.
func (f *FanOut[T]) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.outputs[id]; ok {
		delete(f.outputs, id)
		close(ch)
	}
}

// Publish offers v to every subscriber without blocking and returns how many
// received it.
func (f *FanOut[T]) Publish(v T) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	delivered := 0
	for id, ch := range f.outputs {
		select {
		case ch <- v:
			delivered++
		default:
			if f.OnDrop != nil {
				f.OnDrop(id)
			}
		}
	}
	return delivered
}

// Close closes every subscriber channel. Later Publish calls deliver nothing.
func (f *FanOut[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.outputs {
		close(ch)
		delete(f.outputs, id)
	}
}

// Len returns the number of subscribers.
func (f *FanOut[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.outputs)
}

// Package ledger stores outstanding and resolved price forecasts and matches
// later observed prices against them.
//
// The ledger is a single bounded FIFO shared by all instruments. Capacity
// eviction and age purging both ignore resolution state. Matching walks the
// FIFO oldest-first and resolves the first pending forecast for the
// instrument whose target time is within the tolerance, so earlier-created
// forecasts win ties over closer ones.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"tickcast/internal/model"
	"tickcast/internal/ringbuf"
)

const (
	// DefaultCapacity is the number of forecasts retained.
	DefaultCapacity = 200
	// DefaultToleranceMs is the reconcile window (strict).
	DefaultToleranceMs = 30_000
)

// Ledger is the prediction ledger. Safe for concurrent use.
type Ledger struct {
	mu          sync.RWMutex
	ring        *ringbuf.Ring[model.Forecast]
	toleranceMs int64

	now func() time.Time
}

// New creates a ledger holding at most capacity forecasts and matching
// observations within toleranceMs of a target. Non-positive arguments take
// the defaults.
func New(capacity int, toleranceMs int64) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if toleranceMs <= 0 {
		toleranceMs = DefaultToleranceMs
	}
	return &Ledger{
		ring:        ringbuf.New[model.Forecast](capacity),
		toleranceMs: toleranceMs,
		now:         time.Now,
	}
}

// Record appends a pending forecast and returns it. The oldest forecast is
// dropped when the ledger is full.
func (l *Ledger) Record(targetTS int64, predicted float64, instrument string) model.Forecast {
	f := model.Forecast{
		ID:         uuid.NewString(),
		Instrument: model.Key(instrument),
		TargetTS:   targetTS,
		Predicted:  predicted,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f.CreatedAt = l.now().UnixMilli()
	l.ring.Push(f)
	return f
}

// Reconcile resolves at most one pending forecast for the instrument whose
// target is strictly within the tolerance of observedTS, choosing the first
// in storage order. It returns a copy of the resolved forecast.
func (l *Ledger) Reconcile(instrument string, observedTS int64, observedPrice float64) (model.Forecast, bool) {
	key := model.Key(instrument)

	l.mu.Lock()
	defer l.mu.Unlock()

	for i := 0; i < l.ring.Len(); i++ {
		f := l.ring.At(i)
		if f.Instrument != key || f.Resolved() {
			continue
		}
		if abs(f.TargetTS-observedTS) >= l.toleranceMs {
			continue
		}
		observed := observedPrice
		f.Observed = &observed
		return clone(*f), true
	}
	return model.Forecast{}, false
}

// Purge removes every forecast whose target is older than
// currentTS-maxAgeMs, resolved or not, and returns how many were removed.
func (l *Ledger) Purge(currentTS, maxAgeMs int64) int {
	cutoff := currentTS - maxAgeMs

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.ring.Filter(func(f model.Forecast) bool {
		return f.TargetTS >= cutoff
	})
}

// List returns copies of all retained forecasts for the instrument in
// storage order.
func (l *Ledger) List(instrument string) []model.Forecast {
	key := model.Key(instrument)

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []model.Forecast{}
	for i := 0; i < l.ring.Len(); i++ {
		if f := l.ring.At(i); f.Instrument == key {
			out = append(out, clone(*f))
		}
	}
	return out
}

// Latest returns the most recently recorded forecast for the instrument.
func (l *Ledger) Latest(instrument string) (model.Forecast, bool) {
	key := model.Key(instrument)

	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := l.ring.Len() - 1; i >= 0; i-- {
		if f := l.ring.At(i); f.Instrument == key {
			return clone(*f), true
		}
	}
	return model.Forecast{}, false
}

// Len returns the number of forecasts retained across all instruments.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.Len()
}

// clone deep-copies a forecast so callers never alias the stored Observed.
func clone(f model.Forecast) model.Forecast {
	if f.Observed != nil {
		v := *f.Observed
		f.Observed = &v
	}
	return f
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

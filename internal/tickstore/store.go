// Package tickstore keeps a bounded, validated tick series per instrument.
//
// Each instrument owns two independent rings: the series of accepted ticks
// (capacity N) and a validation window of the last W accepted prices. A new
// price is admitted only if it lies within [mean*MinRatio, mean*MaxRatio] of
// the validation window as it stood before the tick arrived. The whole store
// is guarded by one lock.
package tickstore

import (
	"math"
	"sort"
	"sync"

	"tickcast/internal/model"
	"tickcast/internal/ringbuf"
)

// bootstrapSamples is the validation-window size below which any positive
// price is accepted.
const bootstrapSamples = 5

// Config configures a Store. Zero fields take the defaults below.
type Config struct {
	Capacity         int     // series capacity N (default 1000)
	ValidationWindow int     // validation ring size W (default 20)
	MinRatio         float64 // lower admission multiplier (default 0.01)
	MaxRatio         float64 // upper admission multiplier (default 10.0)
}

func (c *Config) defaults() {
	if c.Capacity <= 0 {
		c.Capacity = 1000
	}
	if c.ValidationWindow <= 0 {
		c.ValidationWindow = 20
	}
	if c.MinRatio <= 0 {
		c.MinRatio = 0.01
	}
	if c.MaxRatio <= 0 {
		c.MaxRatio = 10.0
	}
}

type series struct {
	ticks  *ringbuf.Ring[model.Tick]
	prices *ringbuf.Ring[float64]
	warm   bool
}

// Store is the validated tick store. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	series map[string]*series

	// Optional hooks, called with the lock held; must not call back into the Store.
	OnEvict func(instrument string)
}

// New creates an empty Store.
func New(cfg Config) *Store {
	cfg.defaults()
	return &Store{
		cfg:    cfg,
		series: make(map[string]*series),
	}
}

// Admit validates price and, if accepted, appends the tick to the
// instrument's series and then to its validation window. Non-positive or
// non-finite prices are rejected without touching any state.
func (s *Store) Admit(instrument string, price float64, ts int64) bool {
	key := model.Key(instrument)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitLocked(key, price, ts)
}

// LoadHistory admits ticks in order through the same validation gate as
// Admit, silently dropping rejects, then marks the instrument warm.
// Returns the number of ticks admitted.
func (s *Store) LoadHistory(instrument string, ticks []model.Tick) int {
	key := model.Key(instrument)

	s.mu.Lock()
	defer s.mu.Unlock()

	admitted := 0
	for _, t := range ticks {
		if s.admitLocked(key, t.Price, t.TS) {
			admitted++
		}
	}
	s.getOrCreate(key).warm = true
	return admitted
}

// Snapshot returns the newest limit ticks (all when limit <= 0) in insertion
// order. Unknown instruments yield an empty slice.
func (s *Store) Snapshot(instrument string, limit int) []model.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[model.Key(instrument)]
	if !ok {
		return []model.Tick{}
	}
	return sr.ticks.Last(limit)
}

// Last returns the most recent accepted tick.
func (s *Store) Last(instrument string) (model.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[model.Key(instrument)]
	if !ok || sr.ticks.Len() == 0 {
		return model.Tick{}, false
	}
	return *sr.ticks.At(sr.ticks.Len() - 1), true
}

// Len returns the number of ticks held for the instrument.
func (s *Store) Len(instrument string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sr, ok := s.series[model.Key(instrument)]; ok {
		return sr.ticks.Len()
	}
	return 0
}

// IsWarm reports whether historical backfill has completed for the instrument.
func (s *Store) IsWarm(instrument string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[model.Key(instrument)]
	return ok && sr.warm
}

// Stats returns the validation-window statistics. Unknown instruments yield
// a zero PriceStats carrying only the normalised symbol.
func (s *Store) Stats(instrument string) model.PriceStats {
	key := model.Key(instrument)

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := model.PriceStats{Instrument: key}
	sr, ok := s.series[key]
	if !ok || sr.prices.Len() == 0 {
		return st
	}
	st.Mean = mean(sr.prices)
	st.MinValid = st.Mean * s.cfg.MinRatio
	st.MaxValid = st.Mean * s.cfg.MaxRatio
	st.Samples = sr.prices.Len()
	return st
}

// Instruments returns the known instrument keys, sorted.
func (s *Store) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.series))
	for k := range s.series {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Store) admitLocked(key string, price float64, ts int64) bool {
	if !(price > 0) || math.IsInf(price, 1) {
		return false
	}

	sr := s.series[key]
	if sr != nil && !s.validLocked(sr, price) {
		return false
	}
	if sr == nil {
		sr = s.getOrCreate(key)
	}

	// Series first, validation window second: a tick never validates against itself.
	if _, evicted := sr.ticks.Push(model.Tick{Instrument: key, Price: price, TS: ts}); evicted && s.OnEvict != nil {
		s.OnEvict(key)
	}
	sr.prices.Push(price)
	return true
}

func (s *Store) validLocked(sr *series, price float64) bool {
	if sr.prices.Len() < bootstrapSamples {
		return true
	}
	m := mean(sr.prices)
	return price >= m*s.cfg.MinRatio && price <= m*s.cfg.MaxRatio
}

func (s *Store) getOrCreate(key string) *series {
	sr, ok := s.series[key]
	if !ok {
		sr = &series{
			ticks:  ringbuf.New[model.Tick](s.cfg.Capacity),
			prices: ringbuf.New[float64](s.cfg.ValidationWindow),
		}
		s.series[key] = sr
	}
	return sr
}

func mean(r *ringbuf.Ring[float64]) float64 {
	n := r.Len()
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += *r.At(i)
	}
	return sum / float64(n)
}

// Package publisher fans forecast lifecycle events and alerts out to
// downstream subscribers: in-process streams, Redis pub/sub and Kafka.
//
// On Redis every event is published on tickcast:forecast:<SYMBOL>. Forecast events
// additionally update tickcast:forecast:latest:<SYMBOL> and are appended to
// the capped stream tickcast:forecasts:<SYMBOL>.
package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"tickcast/internal/model"
)

// Event types.
const (
	EventCreated  = "created"
	EventResolved = "resolved"
	EventAlert    = "alert"
)

const (
	streamMaxLen     = 1000
	latestTTL        = 10 * time.Minute
	defaultMaxBuffer = 1000
)

// Event is the payload published for one forecast transition or alert.
type Event struct {
	Type       string          `json:"type"`
	Instrument string          `json:"symbol"`
	Forecast   *model.Forecast `json:"forecast,omitempty"`
	Alert      *model.Alert    `json:"alert,omitempty"`
}

// Channel returns the pub/sub channel for an instrument.
func Channel(instrument string) string {
	return "tickcast:forecast:" + model.Key(instrument)
}

func latestKey(instrument string) string {
	return "tickcast:forecast:latest:" + model.Key(instrument)
}

func streamKey(instrument string) string {
	return "tickcast:forecasts:" + model.Key(instrument)
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event. It is used when Redis is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error { return nil }

// Config configures the Redis publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	MaxFailures  int
	ResetTimeout time.Duration
	// MaxBuffer bounds the events held while the circuit is open; the
	// oldest are dropped beyond it.
	MaxBuffer int
}

// Redis publishes events through a circuit breaker. Events rejected by an
// open breaker are buffered and flushed once the breaker closes.
type Redis struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	log     zerolog.Logger

	mu     sync.Mutex
	buffer []Event
	maxBuf int

	// Optional hooks.
	OnDrop        func(ev Event)
	OnStateChange func(from, to State)
}

// NewRedis connects to Redis and pings it.
func NewRedis(cfg Config, log zerolog.Logger) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}

	log.Info().Str("addr", cfg.Addr).Msg("connected to redis")
	return NewRedisFromClient(client, cfg, log), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *goredis.Client, cfg Config, log zerolog.Logger) *Redis {
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = defaultMaxBuffer
	}
	r := &Redis{
		client:  client,
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		log:     log.With().Str("component", "publisher").Logger(),
		buffer:  make([]Event, 0, 64),
		maxBuf:  cfg.MaxBuffer,
	}
	r.breaker.OnStateChange = func(from, to State) {
		r.log.Warn().Stringer("from", from).Stringer("to", to).Msg("redis circuit breaker state change")
		if r.OnStateChange != nil {
			r.OnStateChange(from, to)
		}
		if to == StateClosed {
			go r.flush()
		}
	}
	return r
}

// Client returns the underlying Redis client for health checks.
func (r *Redis) Client() *goredis.Client { return r.client }

// Publish sends ev. When the breaker is open the event is buffered and
// ErrCircuitOpen is returned.
func (r *Redis) Publish(ctx context.Context, ev Event) error {
	err := r.breaker.Execute(func() error { return r.write(ctx, ev) })
	if errors.Is(err, ErrCircuitOpen) {
		r.enqueue(ev)
	}
	return err
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) write(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	payload := string(data)

	pipe := r.client.Pipeline()
	pipe.Publish(ctx, Channel(ev.Instrument), payload)
	if ev.Forecast != nil {
		pipe.Set(ctx, latestKey(ev.Instrument), payload, latestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamKey(ev.Instrument),
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": payload},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "publish %s %s", ev.Type, ev.Instrument)
	}
	return nil
}

func (r *Redis) enqueue(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffer) >= r.maxBuf {
		dropped := r.buffer[0]
		r.buffer = r.buffer[1:]
		if r.OnDrop != nil {
			r.OnDrop(dropped)
		}
	}
	r.buffer = append(r.buffer, ev)
}

// flush replays buffered events in order. Events that fail again stay
// buffered.
func (r *Redis) flush() {
	r.mu.Lock()
	pending := r.buffer
	r.buffer = make([]Event, 0, 64)
	r.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sent := 0
	for i, ev := range pending {
		if err := r.write(ctx, ev); err != nil {
			r.log.Error().Err(err).Int("remaining", len(pending)-i).Msg("flush failed, re-buffering")
			r.mu.Lock()
			r.buffer = append(append([]Event{}, pending[i:]...), r.buffer...)
			if over := len(r.buffer) - r.maxBuf; over > 0 {
				r.buffer = r.buffer[over:]
			}
			r.mu.Unlock()
			return
		}
		sent++
	}
	r.log.Info().Int("count", sent).Msg("flushed buffered events")
}

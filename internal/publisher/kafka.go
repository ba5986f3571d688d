package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// DefaultKafkaTopic receives every event when no topic is configured.
const DefaultKafkaTopic = "tickcast.events"

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds one publish (default 5s).
	WriteTimeout time.Duration

	MaxFailures  int
	ResetTimeout time.Duration
}

// Kafka publishes events to a topic keyed by instrument, so every event of
// one instrument lands on the same partition in order. Writes go through a
// circuit breaker; events rejected while it is open are dropped.
type Kafka struct {
	w       messageWriter
	timeout time.Duration
	breaker *CircuitBreaker
	log     zerolog.Logger

	// OnStateChange is called on every breaker transition.
	OnStateChange func(from, to State)
}

// NewKafka creates a Kafka publisher. Connections are made lazily on the
// first publish.
func NewKafka(cfg KafkaConfig, log zerolog.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultKafkaTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("kafka publisher ready")
	return newKafka(w, cfg, log), nil
}

func newKafka(w messageWriter, cfg KafkaConfig, log zerolog.Logger) *Kafka {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	k := &Kafka{
		w:       w,
		timeout: cfg.WriteTimeout,
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		log:     log.With().Str("component", "kafka_publisher").Logger(),
	}
	k.breaker.OnStateChange = func(from, to State) {
		k.log.Warn().Stringer("from", from).Stringer("to", to).Msg("kafka circuit breaker state change")
		if k.OnStateChange != nil {
			k.OnStateChange(from, to)
		}
	}
	return k
}

func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	msg := kafka.Message{
		Key:   []byte(ev.Instrument),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
		Time: time.Now().UTC(),
	}
	err = k.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, k.timeout)
		defer cancel()
		return k.w.WriteMessages(ctx, msg)
	})
	if errors.Is(err, ErrCircuitOpen) {
		return err
	}
	if err != nil {
		k.log.Debug().Err(err).Str("type", ev.Type).Str("symbol", ev.Instrument).Msg("kafka write failed")
		return errors.Wrapf(err, "kafka publish %s", ev.Type)
	}
	return nil
}

func (k *Kafka) Close() error {
	return errors.Wrap(k.w.Close(), "close kafka writer")
}

package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Prefix is prepended to every environment variable name, e.g. TICKCAST_SYMBOLS.
const Prefix = "TICKCAST"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Instruments
	Symbols []string `envconfig:"SYMBOLS" default:"ETHUSDT,BTCUSDT,BNBUSDT,XRPUSDT,ADAUSDT"`

	// Tick store
	BufferCapacity   int     `envconfig:"BUFFER_CAPACITY" default:"1000"`
	ValidationWindow int     `envconfig:"VALIDATION_WINDOW" default:"20"`
	MinPriceRatio    float64 `envconfig:"MIN_PRICE_RATIO" default:"0.01"`
	MaxPriceRatio    float64 `envconfig:"MAX_PRICE_RATIO" default:"10.0"`

	// Forecasting
	ForecastInterval time.Duration `envconfig:"FORECAST_INTERVAL" default:"10s"`
	ForecastHorizon  time.Duration `envconfig:"FORECAST_HORIZON" default:"60s"`
	MinTicks         int           `envconfig:"MIN_TICKS" default:"100"`

	// DirectionThreshold is the relative move below which a forecast is flat.
	DirectionThreshold float64 `envconfig:"DIRECTION_THRESHOLD" default:"0.001"`

	// Prediction ledger
	LedgerCapacity int   `envconfig:"LEDGER_CAPACITY" default:"200"`
	RetentionMs    int64 `envconfig:"RETENTION_MS" default:"300000"`
	ToleranceMs    int64 `envconfig:"TOLERANCE_MS" default:"30000"`

	// Feed + backfill
	FeedURL          string        `envconfig:"FEED_URL" default:"wss://fstream.binance.com/stream"`
	RESTURL          string        `envconfig:"REST_URL" default:"https://api.binance.com"`
	ReconnectBackoff time.Duration `envconfig:"RECONNECT_BACKOFF" default:"5s"`
	ReadTimeout      time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	HistoryMinutes   int           `envconfig:"HISTORY_MINUTES" default:"5"`

	// ReplayFile replaces the live feed with a JSON-lines tick recording
	// played at ReplaySpeed (0 = as fast as possible). Backfill is skipped.
	ReplayFile  string  `envconfig:"REPLAY_FILE"`
	ReplaySpeed float64 `envconfig:"REPLAY_SPEED" default:"1"`
	// RecordFile appends every tick read from the feed as JSON lines.
	RecordFile string `envconfig:"RECORD_FILE"`

	// Surfaces
	APIAddr     string `envconfig:"API_ADDR" default:":8000"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// Optional downstream collaborators (disabled when empty)
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	WebhookURL    string `envconfig:"WEBHOOK_URL"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"tickcast.events"`

	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `envconfig:"TELEGRAM_CHAT_ID"`

	Debug bool `envconfig:"DEBUG" default:"false"`
}

// Load reads an optional dotenv file and then the environment.
// A missing envFile is not an error; variables already set in the
// environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(err, "config: load %s", envFile)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, errors.Wrap(err, "config: process env")
	}
	cfg.Symbols = normalizeSymbols(cfg.Symbols)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	switch {
	case len(c.Symbols) == 0:
		return errors.New("config: at least one symbol is required")
	case c.BufferCapacity <= 0:
		return errors.Errorf("config: BUFFER_CAPACITY must be positive, got %d", c.BufferCapacity)
	case c.ValidationWindow <= 0:
		return errors.Errorf("config: VALIDATION_WINDOW must be positive, got %d", c.ValidationWindow)
	case c.MinPriceRatio <= 0 || c.MaxPriceRatio <= c.MinPriceRatio:
		return errors.Errorf("config: price ratios must satisfy 0 < min < max, got %v..%v", c.MinPriceRatio, c.MaxPriceRatio)
	case c.ForecastInterval <= 0:
		return errors.New("config: FORECAST_INTERVAL must be positive")
	case c.ForecastHorizon <= 0:
		return errors.New("config: FORECAST_HORIZON must be positive")
	case c.MinTicks <= 0:
		return errors.Errorf("config: MIN_TICKS must be positive, got %d", c.MinTicks)
	case c.LedgerCapacity <= 0:
		return errors.Errorf("config: LEDGER_CAPACITY must be positive, got %d", c.LedgerCapacity)
	case c.RetentionMs <= 0 || c.ToleranceMs <= 0:
		return errors.New("config: RETENTION_MS and TOLERANCE_MS must be positive")
	case c.ReconnectBackoff <= 0 || c.ReadTimeout <= 0:
		return errors.New("config: RECONNECT_BACKOFF and READ_TIMEOUT must be positive")
	case c.HistoryMinutes < 0:
		return errors.New("config: HISTORY_MINUTES must not be negative")
	case c.ReplaySpeed < 0:
		return errors.New("config: REPLAY_SPEED must not be negative")
	case c.DirectionThreshold < 0:
		return errors.New("config: DIRECTION_THRESHOLD must not be negative")
	case (c.TelegramBotToken == "") != (c.TelegramChatID == ""):
		return errors.New("config: TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return nil
}

// normalizeSymbols upper-cases, trims and de-duplicates symbols, keeping order.
func normalizeSymbols(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

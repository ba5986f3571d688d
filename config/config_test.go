package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"ETHUSDT", "BTCUSDT", "BNBUSDT", "XRPUSDT", "ADAUSDT"}, cfg.Symbols)
	assert.Equal(t, 1000, cfg.BufferCapacity)
	assert.Equal(t, 20, cfg.ValidationWindow)
	assert.Equal(t, 0.01, cfg.MinPriceRatio)
	assert.Equal(t, 10.0, cfg.MaxPriceRatio)
	assert.Equal(t, 10*time.Second, cfg.ForecastInterval)
	assert.Equal(t, 60*time.Second, cfg.ForecastHorizon)
	assert.Equal(t, 100, cfg.MinTicks)
	assert.Equal(t, 200, cfg.LedgerCapacity)
	assert.Equal(t, int64(300000), cfg.RetentionMs)
	assert.Equal(t, int64(30000), cfg.ToleranceMs)
	assert.Equal(t, 5*time.Second, cfg.ReconnectBackoff)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.False(t, cfg.Debug)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 0.001, cfg.DirectionThreshold)
	assert.Empty(t, cfg.TelegramBotToken)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "tickcast.events", cfg.KafkaTopic)
	assert.Empty(t, cfg.ReplayFile)
	assert.Equal(t, 1.0, cfg.ReplaySpeed)
	assert.Empty(t, cfg.RecordFile)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TICKCAST_SYMBOLS", " btcusdt, ethusdt ,BTCUSDT,")
	t.Setenv("TICKCAST_BUFFER_CAPACITY", "50")
	t.Setenv("TICKCAST_FORECAST_HORIZON", "30s")
	t.Setenv("TICKCAST_DEBUG", "true")
	t.Setenv("TICKCAST_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TICKCAST_REPLAY_FILE", "ticks.jsonl")
	t.Setenv("TICKCAST_REPLAY_SPEED", "20")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "ticks.jsonl", cfg.ReplayFile)
	assert.Equal(t, 20.0, cfg.ReplaySpeed)
	assert.Equal(t, 50, cfg.BufferCapacity)
	assert.Equal(t, 30*time.Second, cfg.ForecastHorizon)
	assert.True(t, cfg.Debug)
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TICKCAST_MIN_TICKS=42\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TICKCAST_MIN_TICKS") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.MinTicks)
}

func TestLoad_MissingDotEnvIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.NoError(t, err)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("TICKCAST_BUFFER_CAPACITY", "lots")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(c *Config){
		"no symbols":          func(c *Config) { c.Symbols = nil },
		"zero capacity":       func(c *Config) { c.BufferCapacity = 0 },
		"inverted ratios":     func(c *Config) { c.MinPriceRatio, c.MaxPriceRatio = 2, 1 },
		"zero interval":       func(c *Config) { c.ForecastInterval = 0 },
		"zero min ticks":      func(c *Config) { c.MinTicks = 0 },
		"negative history":    func(c *Config) { c.HistoryMinutes = -1 },
		"zero tolerance":      func(c *Config) { c.ToleranceMs = 0 },
		"zero read timeout":   func(c *Config) { c.ReadTimeout = 0 },
		"negative threshold":  func(c *Config) { c.DirectionThreshold = -1 },
		"negative speed":      func(c *Config) { c.ReplaySpeed = -2 },
		"telegram token only": func(c *Config) { c.TelegramBotToken = "t" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	assert.NoError(t, base().Validate())
}

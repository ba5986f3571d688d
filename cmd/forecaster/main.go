// Command forecaster ingests live Binance trades (or a tick recording),
// forecasts each instrument on a fixed interval and serves the results over
// HTTP.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tickcast/config"
	"tickcast/internal/alert"
	"tickcast/internal/api"
	"tickcast/internal/coordinator"
	"tickcast/internal/forecast"
	"tickcast/internal/ledger"
	"tickcast/internal/logger"
	"tickcast/internal/marketdata/binance"
	"tickcast/internal/marketdata/replay"
	"tickcast/internal/metrics"
	"tickcast/internal/model"
	"tickcast/internal/notification"
	"tickcast/internal/publisher"
	"tickcast/internal/tickstore"
)

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log := logger.Init("forecaster", "info")
		log.Fatal().Err(err).Msg("load config")
	}

	log := logger.Init("forecaster", logger.LevelFor(cfg.Debug))
	log.Info().Strs("symbols", cfg.Symbols).Msg("starting")

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, prometheus.DefaultGatherer, log)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Core state ----
	store := tickstore.New(tickstore.Config{
		Capacity:         cfg.BufferCapacity,
		ValidationWindow: cfg.ValidationWindow,
		MinRatio:         cfg.MinPriceRatio,
		MaxRatio:         cfg.MaxPriceRatio,
	})
	store.OnEvict = func(instrument string) {
		prom.TicksEvicted.WithLabelValues(instrument).Inc()
	}
	ldg := ledger.New(cfg.LedgerCapacity, cfg.ToleranceMs)

	// ---- Publishers: local stream always, Redis and Kafka when configured ----
	// Remote sinks sit behind a bounded queue so a slow broker never holds up
	// tick handling or the forecast cycle.
	local := publisher.NewLocal(256)
	local.OnDrop = func(int) { prom.StreamDropped.Inc() }
	pubs := publisher.Multi{local}
	queued := func(name string, p publisher.Publisher) publisher.Publisher {
		return publisher.NewAsync(p, publisher.AsyncConfig{
			Name: name,
			OnDrop: func(publisher.Event) {
				prom.PublishDropped.WithLabelValues(name).Inc()
			},
			OnError: func(publisher.Event, error) {
				prom.PublishFailures.WithLabelValues(name).Inc()
			},
		}, log)
	}

	var redisPub *publisher.Redis
	if cfg.RedisAddr != "" {
		health.SetRedisEnabled(true)
		redisPub, err = publisher.NewRedis(publisher.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("redis init failed, continuing without redis")
		} else {
			redisPub.OnStateChange = func(_, to publisher.State) {
				prom.CircuitBreakerState.Set(float64(to))
				if to == publisher.StateOpen {
					prom.CircuitBreakerTrips.Inc()
				}
			}
			redisPub.OnDrop = func(ev publisher.Event) {
				log.Warn().Str("type", ev.Type).Str("symbol", ev.Instrument).Msg("buffered event dropped")
			}
			pubs = append(pubs, queued("redis", redisPub))
			health.StartLivenessChecker(ctx, redisPub.Client(), 10*time.Second)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub, err := publisher.NewKafka(publisher.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("kafka init failed, continuing without kafka")
		} else {
			kafkaPub.OnStateChange = func(_, to publisher.State) {
				prom.KafkaBreakerState.Set(float64(to))
			}
			pubs = append(pubs, queued("kafka", kafkaPub))
		}
	}

	// ---- Notifiers ----
	notifiers := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}

	// ---- Feed: live exchange stream, or a recording when REPLAY_FILE is set ----
	var feed coordinator.TickSource
	historySpan := time.Duration(cfg.HistoryMinutes) * time.Minute
	if cfg.ReplayFile != "" {
		ticks, err := loadRecording(cfg.ReplayFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.ReplayFile).Msg("load replay file")
		}
		rp := replay.New(ticks, cfg.ReplaySpeed, log)
		rp.Rebase = true
		feed = rp
		historySpan = 0
		health.SetFeedConnected(true)
	} else {
		live, err := binance.NewFeed(binance.FeedConfig{
			URL:              cfg.FeedURL,
			Symbols:          cfg.Symbols,
			ReconnectBackoff: cfg.ReconnectBackoff,
			ReadTimeout:      cfg.ReadTimeout,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("feed init failed")
		}
		live.OnConnect = func() {
			health.SetFeedConnected(true)
		}
		live.OnReconnect = func(err error) {
			health.SetFeedConnected(false)
			prom.FeedReconnects.Inc()
		}
		live.OnMalformed = func(_ []byte, _ error) {
			prom.MalformedMessages.Inc()
		}
		feed = live
	}

	if cfg.RecordFile != "" {
		f, err := os.OpenFile(cfg.RecordFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.RecordFile).Msg("open record file")
		}
		defer f.Close()
		feed = replay.NewRecorder(feed, f, log)
		log.Info().Str("file", cfg.RecordFile).Msg("recording ticks")
	}

	hist := binance.NewHistory(cfg.RESTURL, nil)
	hist.Log = log

	coord := coordinator.New(coordinator.Config{
		Symbols:            cfg.Symbols,
		ForecastInterval:   cfg.ForecastInterval,
		Horizon:            cfg.ForecastHorizon,
		RetentionMs:        cfg.RetentionMs,
		HistorySpan:        historySpan,
		DirectionThreshold: cfg.DirectionThreshold,
	}, coordinator.Deps{
		Store:     store,
		Ledger:    ldg,
		Engine:    forecast.New(cfg.MinTicks),
		Feed:      feed,
		History:   hist,
		Publisher: pubs,
		Notifier:  notifiers,
		Alerts:    alert.New(alert.DefaultConfig()),
		Metrics:   prom,
		Health:    health,
		Log:       log,
	})

	// ---- Query API ----
	apiSrv := api.NewServer(cfg.APIAddr, api.Deps{
		Store:  store,
		Ledger: ldg,
		Events: local,
		Log:    log,
	})
	apiSrv.Start()

	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received, cleaning up...")
		cancel()
	}()

	// ---- Backfill, then run until cancelled ----
	coord.Backfill(ctx)
	if err := coord.Run(ctx); err != nil {
		log.Error().Err(err).Msg("coordinator error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api server shutdown")
	}
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown")
	}
	if err := pubs.Close(); err != nil {
		log.Warn().Err(err).Msg("publisher close")
	}

	log.Info().Msg("shutdown complete")
}

func loadRecording(path string) ([]model.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return replay.Load(f)
}

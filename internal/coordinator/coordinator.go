// Package coordinator wires the live feed, the tick store, the forecast
// engine and the prediction ledger together.
//
// Two tasks run under one context. The feed task admits every inbound tick,
// reconciles it against the ledger and purges stale forecasts. The
// scheduler task forecasts every configured instrument on a fixed wall-clock
// interval, records the forecasts, publishes them and evaluates alert rules.
// Neither task stops on a per-tick or per-instrument failure.
package coordinator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"tickcast/internal/alert"
	"tickcast/internal/forecast"
	"tickcast/internal/ledger"
	"tickcast/internal/logger"
	"tickcast/internal/metrics"
	"tickcast/internal/model"
	"tickcast/internal/notification"
	"tickcast/internal/publisher"
	"tickcast/internal/tickstore"
)

// TickSource streams live ticks into out until ctx is cancelled.
type TickSource interface {
	Run(ctx context.Context, out chan<- model.Tick) error
}

// HistorySource returns recent ticks for one instrument, oldest first.
type HistorySource interface {
	Fetch(ctx context.Context, instrument string, span time.Duration) ([]model.Tick, error)
}

// Config holds the coordinator's scheduling parameters.
type Config struct {
	Symbols          []string
	ForecastInterval time.Duration // default 10s
	Horizon          time.Duration // default 60s
	RetentionMs      int64         // default 300000
	HistorySpan      time.Duration // 0 disables backfill
	// DirectionThreshold is the relative move between the last price and a
	// forecast below which the forecast counts as flat (default 0.001).
	DirectionThreshold float64
	TickBuffer         int // default 1024
}

func (c *Config) defaults() {
	if c.ForecastInterval <= 0 {
		c.ForecastInterval = 10 * time.Second
	}
	if c.Horizon <= 0 {
		c.Horizon = 60 * time.Second
	}
	if c.RetentionMs <= 0 {
		c.RetentionMs = 300_000
	}
	if c.DirectionThreshold <= 0 {
		c.DirectionThreshold = 0.001
	}
	if c.TickBuffer <= 0 {
		c.TickBuffer = 1024
	}
	syms := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		if k := model.Key(s); k != "" {
			syms = append(syms, k)
		}
	}
	c.Symbols = syms
}

// Deps are the collaborators. Store and Ledger are required; every other
// field has a working default.
type Deps struct {
	Store     *tickstore.Store
	Ledger    *ledger.Ledger
	Engine    *forecast.Engine
	Feed      TickSource
	History   HistorySource
	Publisher publisher.Publisher
	Notifier  notification.Notifier
	Alerts    *alert.Evaluator
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Log       zerolog.Logger
}

// Coordinator drives ingestion and forecasting.
type Coordinator struct {
	cfg Config

	store    *tickstore.Store
	ledger   *ledger.Ledger
	engine   *forecast.Engine
	feed     TickSource
	history  HistorySource
	pub      publisher.Publisher
	notifier notification.Notifier
	alerts   *alert.Evaluator
	m        *metrics.Metrics
	health   *metrics.HealthStatus
	log      zerolog.Logger
}

// New creates a Coordinator. It panics if Store or Ledger is nil.
func New(cfg Config, d Deps) *Coordinator {
	if d.Store == nil || d.Ledger == nil {
		panic("coordinator: Store and Ledger are required")
	}
	cfg.defaults()

	c := &Coordinator{
		cfg:      cfg,
		store:    d.Store,
		ledger:   d.Ledger,
		engine:   d.Engine,
		feed:     d.Feed,
		history:  d.History,
		pub:      d.Publisher,
		notifier: d.Notifier,
		alerts:   d.Alerts,
		m:        d.Metrics,
		health:   d.Health,
		log:      d.Log.With().Str("component", "coordinator").Logger(),
	}
	if c.engine == nil {
		c.engine = forecast.New(forecast.DefaultMinTicks)
	}
	if c.pub == nil {
		c.pub = publisher.Nop{}
	}
	if c.notifier == nil {
		c.notifier = notification.NewLogNotifier(d.Log)
	}
	if c.alerts == nil {
		c.alerts = alert.New(alert.DefaultConfig())
	}
	if c.m == nil {
		c.m = metrics.NewMetrics(prometheus.NewRegistry())
	}
	if c.health == nil {
		c.health = metrics.NewHealthStatus()
	}
	for _, sym := range cfg.Symbols {
		c.health.SetWarm(sym, c.store.IsWarm(sym))
	}
	return c
}

// Backfill loads recent history for every instrument before the live feed
// starts. An instrument whose history cannot be fetched is logged and left
// cold; the others are still loaded.
func (c *Coordinator) Backfill(ctx context.Context) {
	if c.history == nil || c.cfg.HistorySpan <= 0 {
		c.log.Info().Msg("backfill disabled")
		return
	}

	for _, sym := range c.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		ticks, err := c.history.Fetch(ctx, sym, c.cfg.HistorySpan)
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", sym).Msg("backfill failed, instrument stays cold")
			c.m.BackfillFailures.WithLabelValues(sym).Inc()
			continue
		}

		admitted := c.store.LoadHistory(sym, ticks)
		c.m.BackfillTicks.WithLabelValues(sym).Add(float64(admitted))
		c.health.SetWarm(sym, true)
		c.log.Info().
			Str("symbol", sym).
			Int("fetched", len(ticks)).
			Int("admitted", admitted).
			Msg("history loaded")
	}
	c.m.WarmInstruments.Set(float64(c.warmCount()))
}

// Run starts the feed and scheduler tasks and blocks until ctx is
// cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticks := make(chan model.Tick, c.cfg.TickBuffer)
	var wg sync.WaitGroup

	if c.feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.feed.Run(ctx, ticks); err != nil {
				c.log.Error().Err(err).Msg("feed stopped")
			}
		}()
	} else {
		c.log.Warn().Msg("no feed configured, only forecasting")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.consume(ctx, ticks)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.schedule(ctx)
	}()

	c.log.Info().
		Strs("symbols", c.cfg.Symbols).
		Dur("interval", c.cfg.ForecastInterval).
		Dur("horizon", c.cfg.Horizon).
		Msg("coordinator running")

	wg.Wait()
	c.log.Info().Msg("coordinator stopped")
	return nil
}

func (c *Coordinator) consume(ctx context.Context, ticks <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticks:
			c.HandleTick(ctx, t)
		}
	}
}

func (c *Coordinator) schedule(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ForecastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.ForecastOnce(ctx, now)
		}
	}
}

// HandleTick processes one inbound tick: admit it, and if accepted resolve
// a matching forecast and purge forecasts older than the retention window
// relative to the tick. It reports whether the tick was admitted.
func (c *Coordinator) HandleTick(ctx context.Context, t model.Tick) bool {
	sym := model.Key(t.Instrument)
	c.health.SetLastTickTime(time.Now())

	if !c.store.Admit(sym, t.Price, t.TS) {
		c.m.TicksTotal.WithLabelValues(sym, "rejected").Inc()
		c.log.Debug().Str("symbol", sym).Float64("price", t.Price).Msg("tick rejected")
		return false
	}
	c.m.TicksTotal.WithLabelValues(sym, "accepted").Inc()

	if f, ok := c.ledger.Reconcile(sym, t.TS, t.Price); ok {
		c.m.ForecastsResolved.WithLabelValues(sym).Inc()
		if f.Predicted != 0 {
			c.m.ForecastErrorPct.Observe(math.Abs(f.Residual()) / math.Abs(f.Predicted) * 100)
		}
		c.log.Debug().
			Str("symbol", sym).
			Str("forecast_id", f.ID).
			Float64("predicted", f.Predicted).
			Float64("observed", *f.Observed).
			Msg("forecast resolved")
		c.publish(ctx, publisher.Event{Type: publisher.EventResolved, Instrument: sym, Forecast: &f})
	}

	if n := c.ledger.Purge(t.TS, c.cfg.RetentionMs); n > 0 {
		c.m.LedgerPurged.Add(float64(n))
	}
	c.m.LedgerSize.Set(float64(c.ledger.Len()))
	return true
}

// ForecastOnce runs one forecast cycle over every instrument and returns the
// forecasts recorded. Instruments with too few ticks are skipped.
func (c *Coordinator) ForecastOnce(ctx context.Context, now time.Time) []model.Forecast {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID("cycle", now))
	log := logger.Ctx(ctx, c.log)

	var recorded []model.Forecast
	for _, sym := range c.cfg.Symbols {
		if ctx.Err() != nil {
			break
		}

		ticks := c.store.Snapshot(sym, 0)
		start := time.Now()
		predicted, ok := c.engine.Forecast(ticks, c.cfg.Horizon)
		c.m.ForecastDur.Observe(time.Since(start).Seconds())
		if !ok {
			c.m.ForecastsSkipped.WithLabelValues(sym, "insufficient_ticks").Inc()
			log.Debug().Str("symbol", sym).Int("ticks", len(ticks)).Msg("not enough ticks to forecast")
			continue
		}

		last := ticks[len(ticks)-1]
		f := c.ledger.Record(last.TS+c.cfg.Horizon.Milliseconds(), predicted, sym)
		recorded = append(recorded, f)
		c.m.ForecastsTotal.WithLabelValues(sym).Inc()
		log.Info().
			Str("symbol", sym).
			Float64("last_price", last.Price).
			Float64("predicted", predicted).
			Int64("target_ts", f.TargetTS).
			Msg("forecast recorded")
		c.publish(ctx, publisher.Event{Type: publisher.EventCreated, Instrument: sym, Forecast: &f})

		c.evaluateAlerts(ctx, log, sym, ticks, predicted, now)
	}
	c.m.LedgerSize.Set(float64(c.ledger.Len()))
	return recorded
}

func (c *Coordinator) evaluateAlerts(ctx context.Context, log zerolog.Logger, sym string, ticks []model.Tick, predicted float64, now time.Time) {
	prices := make([]float64, len(ticks))
	for i, t := range ticks {
		prices[i] = t.Price
	}
	dir := alert.DirectionOf(prices[len(prices)-1], predicted, c.cfg.DirectionThreshold)

	for _, a := range c.alerts.Evaluate(sym, prices, dir, now.UnixMilli()) {
		a := a
		c.m.AlertsTotal.WithLabelValues(sym, string(a.Kind)).Inc()
		if err := c.notifier.Send(ctx, a); err != nil {
			c.m.NotificationsFailures.Inc()
			log.Warn().Err(err).Str("symbol", sym).Str("kind", string(a.Kind)).Msg("alert notification failed")
		}
		c.publish(ctx, publisher.Event{Type: publisher.EventAlert, Instrument: sym, Alert: &a})
	}
}

func (c *Coordinator) publish(ctx context.Context, ev publisher.Event) {
	if err := c.pub.Publish(ctx, ev); err != nil {
		c.m.PublishErrors.Inc()
		c.log.Debug().Err(err).Str("type", ev.Type).Str("symbol", ev.Instrument).Msg("publish failed")
	}
}

func (c *Coordinator) warmCount() int {
	n := 0
	for _, sym := range c.cfg.Symbols {
		if c.store.IsWarm(sym) {
			n++
		}
	}
	return n
}

package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickcast/internal/ledger"
	"tickcast/internal/metrics"
	"tickcast/internal/model"
	"tickcast/internal/publisher"
	"tickcast/internal/tickstore"
)

const t0 = int64(1_700_000_000_000)

type recordingPublisher struct {
	mu     sync.Mutex
	events []publisher.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev publisher.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// stalledPublisher blocks every publish until release is closed, like a
// broker that accepts connections but never acknowledges.
type stalledPublisher struct {
	release chan struct{}
}

func (p *stalledPublisher) Publish(ctx context.Context, _ publisher.Event) error {
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *stalledPublisher) Close() error { return nil }

type stubNotifier struct {
	mu   sync.Mutex
	sent []model.Alert
	err  error
}

func (n *stubNotifier) Send(_ context.Context, a model.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, a)
	return n.err
}

type sliceFeed struct {
	ticks []model.Tick
}

func (f *sliceFeed) Run(ctx context.Context, out chan<- model.Tick) error {
	for _, t := range f.ticks {
		select {
		case out <- t:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

type stubHistory struct {
	ticks map[string][]model.Tick
	errs  map[string]error
	spans []time.Duration
}

func (h *stubHistory) Fetch(_ context.Context, instrument string, span time.Duration) ([]model.Tick, error) {
	h.spans = append(h.spans, span)
	if err := h.errs[instrument]; err != nil {
		return nil, err
	}
	return h.ticks[instrument], nil
}

// ramp returns n ticks one second apart, rising by step from start.
func ramp(sym string, n int, start, step float64) []model.Tick {
	out := make([]model.Tick, n)
	for i := range out {
		out[i] = model.Tick{Instrument: sym, Price: start + step*float64(i), TS: t0 + int64(i)*1000}
	}
	return out
}

type fixture struct {
	c      *Coordinator
	store  *tickstore.Store
	ledger *ledger.Ledger
	pub    *recordingPublisher
	notif  *stubNotifier
	m      *metrics.Metrics
	health *metrics.HealthStatus
}

func newFixture(t *testing.T, cfg Config, d Deps) *fixture {
	t.Helper()
	f := &fixture{
		store:  tickstore.New(tickstore.Config{}),
		ledger: ledger.New(0, 0),
		pub:    &recordingPublisher{},
		notif:  &stubNotifier{},
		m:      metrics.NewMetrics(prometheus.NewRegistry()),
		health: metrics.NewHealthStatus(),
	}
	d.Store = f.store
	d.Ledger = f.ledger
	if d.Publisher == nil {
		d.Publisher = f.pub
	}
	d.Notifier = f.notif
	d.Metrics = f.m
	d.Health = f.health
	d.Log = zerolog.Nop()
	f.c = New(cfg, d)
	return f
}

func (f *fixture) feed(ticks []model.Tick) {
	for _, t := range ticks {
		f.c.HandleTick(context.Background(), t)
	}
}

func TestNew_RequiresStoreAndLedger(t *testing.T) {
	assert.Panics(t, func() { New(Config{}, Deps{}) })
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Symbols: []string{" btcusdt", "", "ETHUSDT"}}
	cfg.defaults()
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, 10*time.Second, cfg.ForecastInterval)
	assert.Equal(t, 60*time.Second, cfg.Horizon)
	assert.Equal(t, int64(300_000), cfg.RetentionMs)
	assert.Equal(t, 0.001, cfg.DirectionThreshold)
	assert.Equal(t, 1024, cfg.TickBuffer)
}

func TestForecastAndResolve_EndToEnd(t *testing.T) {
	f := newFixture(t, Config{Symbols: []string{"BTCUSDT"}}, Deps{})
	f.feed(ramp("BTCUSDT", 150, 100, 0.1))

	recorded := f.c.ForecastOnce(context.Background(), time.UnixMilli(t0+150_000))
	require.Len(t, recorded, 1)
	fc := recorded[0]
	assert.Equal(t, "BTCUSDT", fc.Instrument)
	assert.Equal(t, t0+149_000+60_000, fc.TargetTS)
	assert.InEpsilon(t, 120.9, fc.Predicted, 1e-6)
	assert.False(t, fc.Resolved())

	require.True(t, f.c.HandleTick(context.Background(), model.Tick{Instrument: "BTCUSDT", Price: 121.3, TS: fc.TargetTS}))

	list := f.ledger.List("BTCUSDT")
	require.Len(t, list, 1)
	require.True(t, list[0].Resolved())
	assert.Equal(t, 121.3, *list[0].Observed)
	assert.InDelta(t, 0.4, list[0].Residual(), 1e-6)

	types := f.pub.types()
	require.NotEmpty(t, types)
	assert.Equal(t, publisher.EventCreated, types[0])
	assert.Equal(t, publisher.EventResolved, types[len(types)-1])

	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.ForecastsTotal.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.ForecastsResolved.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 151.0, testutil.ToFloat64(f.m.TicksTotal.WithLabelValues("BTCUSDT", "accepted")))
}

func TestForecastOnce_SkipsColdInstruments(t *testing.T) {
	f := newFixture(t, Config{Symbols: []string{"BTCUSDT", "ETHUSDT"}}, Deps{})
	f.feed(ramp("BTCUSDT", 99, 100, 0.1))
	f.feed(ramp("ETHUSDT", 120, 2000, 1))

	recorded := f.c.ForecastOnce(context.Background(), time.Now())
	require.Len(t, recorded, 1)
	assert.Equal(t, "ETHUSDT", recorded[0].Instrument)
	assert.Empty(t, f.ledger.List("BTCUSDT"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.ForecastsSkipped.WithLabelValues("BTCUSDT", "insufficient_ticks")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.LedgerSize))
}

func TestForecastOnce_RaisesAlerts(t *testing.T) {
	f := newFixture(t, Config{Symbols: []string{"BTCUSDT"}}, Deps{})
	f.feed(ramp("BTCUSDT", 150, 100, 0.1))

	f.c.ForecastOnce(context.Background(), time.UnixMilli(t0+150_000))

	// A steady climb is overbought on RSI.
	require.NotEmpty(t, f.notif.sent)
	assert.Equal(t, model.AlertOverbought, f.notif.sent[0].Kind)
	assert.Equal(t, t0+150_000, f.notif.sent[0].TS)
	assert.Contains(t, f.pub.types(), publisher.EventAlert)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.AlertsTotal.WithLabelValues("BTCUSDT", "overbought")))
}

func TestForecastOnce_DeliveryFailuresDoNotStopTheCycle(t *testing.T) {
	f := newFixture(t, Config{Symbols: []string{"BTCUSDT", "ETHUSDT"}}, Deps{})
	f.pub.err = errors.New("redis down")
	f.notif.err = errors.New("webhook down")
	f.feed(ramp("BTCUSDT", 150, 100, 0.1))
	f.feed(ramp("ETHUSDT", 150, 2000, 1))

	recorded := f.c.ForecastOnce(context.Background(), time.Now())
	assert.Len(t, recorded, 2)
	assert.Greater(t, testutil.ToFloat64(f.m.PublishErrors), 0.0)
	assert.Greater(t, testutil.ToFloat64(f.m.NotificationsFailures), 0.0)
}

func TestHandleTick_DoesNotWaitOnStalledPublisher(t *testing.T) {
	stalled := &stalledPublisher{release: make(chan struct{})}
	async := publisher.NewAsync(stalled, publisher.AsyncConfig{QueueSize: 4}, zerolog.Nop())
	t.Cleanup(func() {
		close(stalled.release)
		_ = async.Close()
	})

	f := newFixture(t, Config{Symbols: []string{"BTCUSDT"}}, Deps{Publisher: async})
	f.feed(ramp("BTCUSDT", 150, 100, 0.1))

	ctx := context.Background()
	start := time.Now()
	recorded := f.c.ForecastOnce(ctx, time.UnixMilli(t0+150_000))
	require.Len(t, recorded, 1)
	assert.Less(t, time.Since(start), time.Second, "forecast cycle waited on delivery")

	start = time.Now()
	require.True(t, f.c.HandleTick(ctx, model.Tick{Instrument: "BTCUSDT", Price: 121.3, TS: recorded[0].TargetTS}))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "tick handling waited on delivery")
	assert.True(t, f.ledger.List("BTCUSDT")[0].Resolved())
}

func TestHandleTick_RejectedTickSkipsLedger(t *testing.T) {
	f := newFixture(t, Config{Symbols: []string{"BTCUSDT"}}, Deps{})
	f.feed(ramp("BTCUSDT", 10, 100, 0))
	fc := f.ledger.Record(t0+20_000, 100, "BTCUSDT")

	// 20x the window mean is outside the admission band.
	assert.False(t, f.c.HandleTick(context.Background(), model.Tick{Instrument: "BTCUSDT", Price: 2000, TS: fc.TargetTS}))
	latest, ok := f.ledger.Latest("BTCUSDT")
	require.True(t, ok)
	assert.False(t, latest.Resolved())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.TicksTotal.WithLabelValues("BTCUSDT", "rejected")))
}

func TestHandleTick_PurgesRelativeToTickTime(t *testing.T) {
	f := newFixture(t, Config{Symbols: []string{"BTCUSDT"}, RetentionMs: 60_000}, Deps{})
	f.ledger.Record(t0, 100, "BTCUSDT")
	f.ledger.Record(t0+200_000, 100, "BTCUSDT")

	require.True(t, f.c.HandleTick(context.Background(), model.Tick{Instrument: "BTCUSDT", Price: 100, TS: t0 + 90_000}))

	list := f.ledger.List("BTCUSDT")
	require.Len(t, list, 1)
	assert.Equal(t, t0+200_000, list[0].TargetTS)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.LedgerPurged))
}

func TestBackfill(t *testing.T) {
	hist := &stubHistory{
		ticks: map[string][]model.Tick{"BTCUSDT": ramp("BTCUSDT", 120, 100, 0.1)},
		errs:  map[string]error{"ETHUSDT": errors.New("status 418")},
	}
	f := newFixture(t, Config{Symbols: []string{"BTCUSDT", "ETHUSDT"}, HistorySpan: 5 * time.Minute}, Deps{History: hist})

	f.c.Backfill(context.Background())

	assert.Equal(t, []time.Duration{5 * time.Minute, 5 * time.Minute}, hist.spans)
	assert.True(t, f.store.IsWarm("BTCUSDT"))
	assert.Equal(t, 120, f.store.Len("BTCUSDT"))
	assert.False(t, f.store.IsWarm("ETHUSDT"))
	assert.Equal(t, 120.0, testutil.ToFloat64(f.m.BackfillTicks.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.BackfillFailures.WithLabelValues("ETHUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.WarmInstruments))

	// A warm instrument forecasts immediately.
	recorded := f.c.ForecastOnce(context.Background(), time.Now())
	require.Len(t, recorded, 1)
	assert.Equal(t, "BTCUSDT", recorded[0].Instrument)
}

func TestBackfill_Disabled(t *testing.T) {
	hist := &stubHistory{}
	f := newFixture(t, Config{Symbols: []string{"BTCUSDT"}}, Deps{History: hist})
	f.c.Backfill(context.Background())
	assert.Empty(t, hist.spans)
}

func TestRun_ConsumesFeedAndForecasts(t *testing.T) {
	feed := &sliceFeed{ticks: ramp("BTCUSDT", 150, 100, 0.1)}
	f := newFixture(t, Config{
		Symbols:          []string{"BTCUSDT"},
		ForecastInterval: 20 * time.Millisecond,
	}, Deps{Feed: feed})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.c.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return f.store.Len("BTCUSDT") == 150 && len(f.ledger.List("BTCUSDT")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

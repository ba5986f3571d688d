package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the forecaster.
type Metrics struct {
	// Ingestion
	TicksTotal        *prometheus.CounterVec // labels: symbol, result=accepted|rejected
	TicksEvicted      *prometheus.CounterVec // labels: symbol
	MalformedMessages prometheus.Counter
	FeedReconnects    prometheus.Counter
	BackfillTicks     *prometheus.CounterVec // labels: symbol
	BackfillFailures  *prometheus.CounterVec // labels: symbol
	WarmInstruments   prometheus.Gauge

	// Forecasting
	ForecastsTotal   *prometheus.CounterVec // labels: symbol
	ForecastsSkipped *prometheus.CounterVec // labels: symbol, reason
	ForecastDur      prometheus.Histogram

	// Ledger
	ForecastsResolved *prometheus.CounterVec // labels: symbol
	ForecastErrorPct  prometheus.Histogram   // |observed-predicted|/predicted*100
	LedgerPurged      prometheus.Counter
	LedgerSize        prometheus.Gauge

	// Alerts and publishing
	AlertsTotal           *prometheus.CounterVec // labels: symbol, kind
	PublishErrors         prometheus.Counter
	PublishDropped        *prometheus.CounterVec // labels: sink
	PublishFailures       *prometheus.CounterVec // labels: sink
	StreamDropped         prometheus.Counter
	CircuitBreakerState   prometheus.Gauge // 0=closed, 1=open, 2=half-open
	CircuitBreakerTrips   prometheus.Counter
	KafkaBreakerState     prometheus.Gauge
	NotificationsFailures prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler;
// tests pass a fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickcast_ticks_total",
			Help: "Trade ticks offered to the tick store, by admission result",
		}, []string{"symbol", "result"}),
		TicksEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickcast_ticks_evicted_total",
			Help: "Ticks overwritten because the series ring was full",
		}, []string{"symbol"}),
		MalformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickcast_feed_malformed_messages_total",
			Help: "Feed messages dropped because they could not be parsed",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickcast_feed_reconnects_total",
			Help: "Trade stream reconnection attempts",
		}),
		BackfillTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickcast_backfill_ticks_total",
			Help: "Historical ticks admitted during backfill",
		}, []string{"symbol"}),
		BackfillFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickcast_backfill_failures_total",
			Help: "Backfill requests that failed",
		}, []string{"symbol"}),
		WarmInstruments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickcast_warm_instruments",
			Help: "Instruments whose history has been loaded",
		}),

		ForecastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickcast_forecasts_total",
			Help: "Forecasts recorded in the ledger",
		}, []string{"symbol"}),
		ForecastsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickcast_forecasts_skipped_total",
			Help: "Forecast cycles skipped for an instrument",
		}, []string{"symbol", "reason"}),
		ForecastDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickcast_forecast_duration_seconds",
			Help:    "Time to compute one instrument's forecast",
			Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
		}),

		ForecastsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickcast_forecasts_resolved_total",
			Help: "Forecasts matched against an observed price",
		}, []string{"symbol"}),
		ForecastErrorPct: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickcast_forecast_error_percent",
			Help:    "Absolute forecast error of resolved forecasts, percent of prediction",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		LedgerPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickcast_ledger_purged_total",
			Help: "Forecasts removed from the ledger by age",
		}),
		LedgerSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickcast_ledger_size",
			Help: "Forecasts currently held in the ledger",
		}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickcast_alerts_total",
			Help: "Alerts raised after a forecast cycle",
		}, []string{"symbol", "kind"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickcast_publish_errors_total",
			Help: "Events that could not be published",
		}),
		PublishDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickcast_publish_dropped_total",
			Help: "Events dropped because a sink's publish queue was full",
		}, []string{"sink"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickcast_publish_delivery_failures_total",
			Help: "Queued events a sink failed to deliver",
		}, []string{"sink"}),
		StreamDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickcast_stream_events_dropped_total",
			Help: "Events skipped for WebSocket clients whose buffer was full",
		}),
		CircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickcast_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		CircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickcast_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		KafkaBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickcast_kafka_circuit_breaker_state",
			Help: "Kafka circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		NotificationsFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickcast_notification_failures_total",
			Help: "Alert notifications that could not be delivered",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TicksEvicted,
		m.MalformedMessages,
		m.FeedReconnects,
		m.BackfillTicks,
		m.BackfillFailures,
		m.WarmInstruments,
		m.ForecastsTotal,
		m.ForecastsSkipped,
		m.ForecastDur,
		m.ForecastsResolved,
		m.ForecastErrorPct,
		m.LedgerPurged,
		m.LedgerSize,
		m.AlertsTotal,
		m.PublishErrors,
		m.PublishDropped,
		m.PublishFailures,
		m.StreamDropped,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
		m.KafkaBreakerState,
		m.NotificationsFailures,
	)

	return m
}

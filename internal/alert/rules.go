// Package alert evaluates alert rules against an instrument's recent prices
// and its latest forecast.
package alert

import (
	"fmt"
	"math"

	"tickcast/internal/indicator"
	"tickcast/internal/model"
)

// Direction is the sign of a forecast relative to the last observed price.
type Direction int

const (
	Flat Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "flat"
	}
}

// DirectionOf classifies a prediction against the last price. Relative moves
// within threshold (e.g. 0.001 = 0.1%) are Flat.
func DirectionOf(last, predicted, threshold float64) Direction {
	if last <= 0 {
		return Flat
	}
	change := (predicted - last) / last
	switch {
	case change > threshold:
		return Up
	case change < -threshold:
		return Down
	default:
		return Flat
	}
}

// Config holds rule thresholds.
type Config struct {
	RSIPeriod      int
	Overbought     float64
	Oversold       float64
	BandWindow     int
	BandK          float64
	DivergenceFrac float64 // single-tick move that counts as sharp, e.g. 0.005
	MinPrices      int
}

// DefaultConfig returns the standard thresholds: RSI(14) 70/30,
// Bollinger(20, 2) and a 0.5% divergence move over at least 20 prices.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:      indicator.DefaultRSIPeriod,
		Overbought:     70,
		Oversold:       30,
		BandWindow:     indicator.DefaultBollingerWindow,
		BandK:          indicator.DefaultBollingerK,
		DivergenceFrac: 0.005,
		MinPrices:      20,
	}
}

// Evaluator applies the rules. It holds no state between calls.
type Evaluator struct {
	cfg Config
}

// New creates an Evaluator. Zero fields of cfg take DefaultConfig values.
func New(cfg Config) *Evaluator {
	def := DefaultConfig()
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.Overbought <= 0 {
		cfg.Overbought = def.Overbought
	}
	if cfg.Oversold <= 0 {
		cfg.Oversold = def.Oversold
	}
	if cfg.BandWindow <= 0 {
		cfg.BandWindow = def.BandWindow
	}
	if cfg.BandK <= 0 {
		cfg.BandK = def.BandK
	}
	if cfg.DivergenceFrac <= 0 {
		cfg.DivergenceFrac = def.DivergenceFrac
	}
	if cfg.MinPrices < 2 {
		cfg.MinPrices = def.MinPrices
	}
	return &Evaluator{cfg: cfg}
}

// Evaluate returns the alerts raised by prices (oldest first) given the
// direction of the latest forecast. At most one RSI alert, one band alert
// and one divergence alert are raised. Fewer than MinPrices prices raise
// nothing.
func (e *Evaluator) Evaluate(instrument string, prices []float64, dir Direction, ts int64) []model.Alert {
	if len(prices) < e.cfg.MinPrices {
		return nil
	}
	symbol := model.Key(instrument)
	last := prices[len(prices)-1]
	prev := prices[len(prices)-2]

	var alerts []model.Alert
	raise := func(kind model.AlertKind, value float64, format string, args ...interface{}) {
		alerts = append(alerts, model.Alert{
			Instrument: symbol,
			Kind:       kind,
			Message:    symbol + ": " + fmt.Sprintf(format, args...),
			Value:      value,
			TS:         ts,
		})
	}

	if rsi, ok := indicator.RSIOf(prices, e.cfg.RSIPeriod); ok {
		switch {
		case rsi > e.cfg.Overbought:
			raise(model.AlertOverbought, rsi, "OVERBOUGHT (RSI %.1f)", rsi)
		case rsi < e.cfg.Oversold:
			raise(model.AlertOversold, rsi, "OVERSOLD (RSI %.1f)", rsi)
		}
	}

	// A zero-width band (flat window) is not a band touch.
	if bands, ok := indicator.BollingerOf(prices, e.cfg.BandWindow, e.cfg.BandK); ok && bands.Upper > bands.Lower {
		switch {
		case last >= bands.Upper:
			raise(model.AlertUpperBand, last, "UPPER BOLLINGER BAND (%.4f)", last)
		case last <= bands.Lower:
			raise(model.AlertLowerBand, last, "LOWER BOLLINGER BAND (%.4f)", last)
		}
	}

	if prev > 0 {
		change := indicator.PercentChange(prev, last)
		limit := e.cfg.DivergenceFrac * 100
		switch {
		case dir == Up && change < -limit:
			raise(model.AlertSharpDrop, change, "SHARP DROP (-%.2f%%) DURING BULLISH PREDICTION", math.Abs(change))
		case dir == Down && change > limit:
			raise(model.AlertSharpSpike, change, "SHARP SPIKE (+%.2f%%) DURING BEARISH PREDICTION", change)
		}
	}

	return alerts
}

// Package forecast extrapolates a near-future price from a tick series.
//
// The procedure is: take the most recent Window ticks, smooth their prices
// with a degree-2 Savitzky-Golay filter, fit a line to price over elapsed
// seconds with exponential recency weights, and evaluate the line at the
// last tick's offset plus the horizon. The engine keeps no state between
// calls.
package forecast

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"tickcast/internal/model"
)

const (
	// DefaultMinTicks is the fewest ticks a forecast is attempted on.
	DefaultMinTicks = 100
	// Window is the number of most recent ticks used by a forecast.
	Window = 200
	// MaxSpan is the widest smoothing span.
	MaxSpan = 51
	// PolyDegree is the smoothing polynomial degree.
	PolyDegree = 2
	// minSmoothPoints: at or below this many points smoothing is skipped.
	minSmoothPoints = 10
)

// Fit is the weighted regression line price ≈ Slope·t + Intercept, where t is
// seconds since the window's first tick.
type Fit struct {
	Slope     float64
	Intercept float64
	LastT     float64 // offset of the newest tick, seconds
	N         int     // points in the window
}

// At evaluates the line at t seconds.
func (f Fit) At(t float64) float64 {
	return f.Slope*t + f.Intercept
}

// Engine computes forecasts. The zero value uses DefaultMinTicks.
type Engine struct {
	MinTicks int
}

// New creates an Engine requiring at least minTicks ticks.
func New(minTicks int) *Engine {
	return &Engine{MinTicks: minTicks}
}

func (e *Engine) minTicks() int {
	if e == nil || e.MinTicks <= 0 {
		return DefaultMinTicks
	}
	return e.MinTicks
}

// Forecast predicts the price horizon after the newest tick. ok is false when
// fewer than MinTicks ticks are supplied.
func (e *Engine) Forecast(ticks []model.Tick, horizon time.Duration) (price float64, ok bool) {
	if len(ticks) < e.minTicks() {
		return 0, false
	}
	fit := FitWindow(ticks)
	return fit.At(fit.LastT + horizon.Seconds()), true
}

// FitWindow fits the regression line over the most recent Window ticks.
// ticks must not be empty.
func FitWindow(ticks []model.Tick) Fit {
	if len(ticks) > Window {
		ticks = ticks[len(ticks)-Window:]
	}
	n := len(ticks)

	t0 := ticks[0].TS
	times := make([]float64, n)
	prices := make([]float64, n)
	for i, tk := range ticks {
		times[i] = float64(tk.TS-t0) / 1000.0
		prices[i] = tk.Price
	}
	smoothed := Smooth(prices)

	// Residuals are scaled by w, so the squared-error weights are w².
	weights := recencyWeights(n)
	sq := make([]float64, n)
	for i, w := range weights {
		sq[i] = w * w
	}

	fit := Fit{LastT: times[n-1], N: n}
	if constant(times) {
		fit.Intercept = stat.Mean(smoothed, sq)
		return fit
	}
	fit.Intercept, fit.Slope = stat.LinearRegression(times, smoothed, sq, false)
	if !finite(fit.Slope) || !finite(fit.Intercept) {
		fit.Slope = 0
		fit.Intercept = stat.Mean(smoothed, sq)
	}
	return fit
}

// Smooth returns the Savitzky-Golay smoothed copy of prices, or an unmodified
// copy when there are too few points for the filter to be meaningful.
func Smooth(prices []float64) []float64 {
	if len(prices) <= minSmoothPoints {
		out := make([]float64, len(prices))
		copy(out, prices)
		return out
	}
	return savgol(prices, oddSpan(len(prices), MaxSpan), PolyDegree)
}

// recencyWeights returns exp(linspace(-1, 0, n)).
func recencyWeights(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = math.Exp(-1 + float64(i)/float64(n-1))
	}
	return w
}

func constant(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

package indicator

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultBollingerWindow = 20
	DefaultBollingerK      = 2.0
)

// Bands is one Bollinger reading.
type Bands struct {
	Lower  float64 `json:"lower"`
	Middle float64 `json:"middle"`
	Upper  float64 `json:"upper"`
}

// Bollinger computes Bollinger bands: the SMA of the window plus and minus
// k population standard deviations.
type Bollinger struct {
	sma *SMA
	k   float64
}

// NewBollinger creates Bollinger bands over window prices with k deviations.
func NewBollinger(window int, k float64) *Bollinger {
	if window <= 0 {
		window = DefaultBollingerWindow
	}
	if k <= 0 {
		k = DefaultBollingerK
	}
	return &Bollinger{sma: NewSMA(window), k: k}
}

func (b *Bollinger) Name() string { return "BB" }

func (b *Bollinger) Update(price float64) { b.sma.Update(price) }

// Value returns the middle band.
func (b *Bollinger) Value() float64 { return b.sma.Value() }
func (b *Bollinger) Ready() bool    { return b.sma.Ready() }

// Peek returns the middle band if price were added next.
func (b *Bollinger) Peek(price float64) float64 { return b.sma.Peek(price) }

// Bands returns the current bands. The zero value is returned until ready.
func (b *Bollinger) Bands() Bands {
	if !b.Ready() {
		return Bands{}
	}
	mean, sd := popMeanStdDev(b.sma.Window())
	return Bands{Lower: mean - b.k*sd, Middle: mean, Upper: mean + b.k*sd}
}

// BollingerOf computes bands over the last window prices. ok is false when
// there are fewer than window prices.
func BollingerOf(prices []float64, window int, k float64) (Bands, bool) {
	b := NewBollinger(window, k)
	if len(prices) > b.sma.period {
		prices = prices[len(prices)-b.sma.period:]
	}
	for _, p := range prices {
		b.Update(p)
	}
	return b.Bands(), b.Ready()
}

// popMeanStdDev returns the mean and the population (ddof=0) standard
// deviation of xs.
func popMeanStdDev(xs []float64) (mean, sd float64) {
	n := float64(len(xs))
	if n == 0 {
		return 0, 0
	}
	if n == 1 {
		return xs[0], 0
	}
	mean, variance := stat.MeanVariance(xs, nil)
	return mean, math.Sqrt(variance * (n - 1) / n)
}

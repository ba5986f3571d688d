package indicator

// DefaultRSIPeriod is the conventional RSI lookback.
const DefaultRSIPeriod = 14

// lossEpsilon: an average loss below this is treated as no loss at all.
const lossEpsilon = 1e-10

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// The first value is seeded with the simple average of the first period
// gains and losses. Update is O(1) per price.
type RSI struct {
	period    int
	count     int
	prevPrice float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	if period <= 0 {
		period = DefaultRSIPeriod
	}
	return &RSI{period: period}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(price float64) {
	r.count++

	if r.count == 1 {
		r.prevPrice = price
		return
	}

	gain, loss := split(price - r.prevPrice)
	r.prevPrice = price

	if r.count <= r.period+1 {
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiValue(r.avgGain, r.avgLoss)
		}
		return
	}

	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiValue(r.avgGain, r.avgLoss)
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }

// Peek computes what RSI would be with an additional price without mutating
// state. Before the indicator is ready it returns the current value.
func (r *RSI) Peek(price float64) float64 {
	if r.count <= r.period {
		return r.current
	}
	gain, loss := split(price - r.prevPrice)
	p := float64(r.period)
	return rsiValue((r.avgGain*(p-1)+gain)/p, (r.avgLoss*(p-1)+loss)/p)
}

// RSIOf runs an RSI of the given period over prices. ok is false when there
// are fewer than period+1 prices.
func RSIOf(prices []float64, period int) (value float64, ok bool) {
	r := NewRSI(period)
	for _, p := range prices {
		r.Update(p)
	}
	return r.Value(), r.Ready()
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// rsiValue maps average gain and loss to 0..100. With no losses the RSI is
// 100 if anything was gained and a neutral 50 for a flat series.
func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss < lossEpsilon {
		if avgGain > 0 {
			return 100.0
		}
		return 50.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// Package indicator provides technical indicator calculations over price
// series.
//
// Streaming indicators implement the Indicator interface and are fed one
// price at a time. The package-level helpers (RSI, Bollinger) run a fresh
// indicator over a whole slice for callers that only hold snapshots.
package indicator

// Indicator is the interface for streaming technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g. "RSI", "SMA").
	Name() string

	// Update feeds the next price and recalculates.
	Update(price float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Peek computes what Value() would be if price were added next, WITHOUT
	// mutating internal state.
	Peek(price float64) float64
}

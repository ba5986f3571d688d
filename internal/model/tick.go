package model

import "strings"

// Tick represents a single accepted trade observation for an instrument.
// TS is the exchange trade time in epoch milliseconds.
type Tick struct {
	Instrument string  `json:"instrument"`
	Price      float64 `json:"price"`
	TS         int64   `json:"timestamp"`
}

// Key normalises an instrument symbol to the upper-case form used as a map key
// by the stores ("btcusdt" and "BTCUSDT" address the same series).
func Key(instrument string) string {
	return strings.ToUpper(strings.TrimSpace(instrument))
}

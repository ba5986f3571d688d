package model

import "time"

// AlertKind classifies an alert raised after a forecast cycle.
type AlertKind string

const (
	AlertOverbought AlertKind = "overbought"
	AlertOversold   AlertKind = "oversold"
	AlertUpperBand  AlertKind = "upper_band"
	AlertLowerBand  AlertKind = "lower_band"
	AlertSharpDrop  AlertKind = "sharp_drop"
	AlertSharpSpike AlertKind = "sharp_spike"
)

// Alert is a market condition worth notifying about.
type Alert struct {
	Instrument string    `json:"symbol"`
	Kind       AlertKind `json:"kind"`
	Message    string    `json:"message"`
	Value      float64   `json:"value"`
	TS         int64     `json:"timestamp"`
}

// Time returns the alert timestamp as a UTC time.Time.
func (a Alert) Time() time.Time {
	return time.UnixMilli(a.TS).UTC()
}

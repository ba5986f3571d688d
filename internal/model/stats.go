package model

// PriceStats describes the validation window of one instrument: the mean of
// the recent accepted prices and the admission range derived from it.
type PriceStats struct {
	Instrument string  `json:"symbol"`
	Mean       float64 `json:"current_avg"`
	MinValid   float64 `json:"min_valid"`
	MaxValid   float64 `json:"max_valid"`
	Samples    int     `json:"samples"`
}

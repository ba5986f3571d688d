package model

// Forecast is a price prediction for an instrument at TargetTS (epoch ms).
// Observed is nil while the forecast is pending and is set exactly once when
// a later tick is reconciled against it.
type Forecast struct {
	ID         string   `json:"id"`
	Instrument string   `json:"instrument"`
	TargetTS   int64    `json:"target_timestamp"`
	Predicted  float64  `json:"predicted_price"`
	Observed   *float64 `json:"observed_price"`
	CreatedAt  int64    `json:"created_at"`
}

// Resolved reports whether an observed price has been matched.
func (f *Forecast) Resolved() bool {
	return f.Observed != nil
}

// Residual returns observed minus predicted, or 0 while pending.
func (f *Forecast) Residual() float64 {
	if f.Observed == nil {
		return 0
	}
	return *f.Observed - f.Predicted
}

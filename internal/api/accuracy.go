package api

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"tickcast/internal/model"
)

// Accuracy summarises resolved forecasts for one instrument. Errors are
// absolute percentages of the predicted price.
type Accuracy struct {
	Instrument string  `json:"symbol"`
	Total      int     `json:"total"`
	Resolved   int     `json:"resolved"`
	MAE        float64 `json:"mae"`
	MAPE       float64 `json:"mape"`
	P50        float64 `json:"p50_error_pct"`
	P95        float64 `json:"p95_error_pct"`
	HitRate    float64 `json:"direction_hit_rate"`
}

// Summarize computes accuracy over the resolved forecasts in list, which
// must be in creation order. HitRate is the share of consecutive resolved
// pairs whose predicted and observed moves point the same way.
func Summarize(instrument string, list []model.Forecast) Accuracy {
	acc := Accuracy{Instrument: instrument, Total: len(list)}

	var abs, pct []float64
	var prev *model.Forecast
	hits, pairs := 0, 0
	for i := range list {
		f := &list[i]
		if !f.Resolved() {
			continue
		}
		abs = append(abs, math.Abs(f.Residual()))
		if f.Predicted != 0 {
			pct = append(pct, math.Abs(f.Residual())/math.Abs(f.Predicted)*100)
		}
		if prev != nil {
			pairs++
			if sameSide(f.Predicted-prev.Predicted, *f.Observed-*prev.Observed) {
				hits++
			}
		}
		prev = f
	}

	acc.Resolved = len(abs)
	if acc.Resolved == 0 {
		return acc
	}
	acc.MAE = stat.Mean(abs, nil)
	if len(pct) > 0 {
		acc.MAPE = stat.Mean(pct, nil)
		sort.Float64s(pct)
		acc.P50 = stat.Quantile(0.50, stat.Empirical, pct, nil)
		acc.P95 = stat.Quantile(0.95, stat.Empirical, pct, nil)
	}
	if pairs > 0 {
		acc.HitRate = float64(hits) / float64(pairs)
	}
	return acc
}

func sameSide(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0) || (a == 0 && b == 0)
}

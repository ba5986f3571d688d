package forecast

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// savgol applies a Savitzky-Golay filter of the given polynomial degree over
// an odd span. Interior points use the centred least-squares polynomial; the
// first and last span/2 points are evaluated on the polynomial fitted to the
// first and last span samples respectively.
//
// span must be odd, greater than degree and not larger than len(y).
func savgol(y []float64, span, degree int) []float64 {
	n := len(y)
	half := span / 2
	hat := hatMatrix(span, degree)

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var row, start int
		switch {
		case i < half:
			row, start = i, 0
		case i >= n-half:
			row, start = i-(n-span), n-span
		default:
			row, start = half, i-half
		}
		sum := 0.0
		for k := 0; k < span; k++ {
			sum += hat.At(row, k) * y[start+k]
		}
		out[i] = sum
	}
	return out
}

// hatMatrix returns V (VᵀV)⁻¹ Vᵀ for the Vandermonde matrix V of centred
// positions -span/2..span/2. Row r applied to a window gives the fitted
// polynomial's value at position r.
func hatMatrix(span, degree int) *mat.Dense {
	half := span / 2
	v := mat.NewDense(span, degree+1, nil)
	for i := 0; i < span; i++ {
		x := float64(i - half)
		for j := 0; j <= degree; j++ {
			v.Set(i, j, math.Pow(x, float64(j)))
		}
	}

	var vtv, inv, proj, hat mat.Dense
	vtv.Mul(v.T(), v)
	if err := inv.Inverse(&vtv); err != nil {
		// Centred Vandermonde with span > degree is always well conditioned;
		// fall back to the identity (no smoothing) rather than panic.
		return identity(span)
	}
	proj.Mul(v, &inv)
	hat.Mul(&proj, v.T())
	return &hat
}

func identity(n int) *mat.Dense {
	id := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		id.Set(i, i, 1)
	}
	return id
}

// oddSpan returns min(maxSpan, n) rounded down to an odd number.
func oddSpan(n, maxSpan int) int {
	span := n
	if span > maxSpan {
		span = maxSpan
	}
	if span%2 == 0 {
		span--
	}
	return span
}

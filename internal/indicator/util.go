package indicator

// PercentChange returns the change from "from" to "to" in percent, or 0 when
// from is zero.
func PercentChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}

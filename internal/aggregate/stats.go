package aggregate

import (
	"math"
	"sort"
)

// The statistics here are small fixed formulas over short slices, computed
// exactly as the summary rows define them. No numerical library earns its
// keep for quartiles over a handful of prices.

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// median assumes values are sorted ascending.
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// stdDev is the population standard deviation.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// percentile interpolates linearly between the two nearest ranks of a sorted
// slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func quartiles(sorted []float64) (q1, q3 float64) {
	return percentile(sorted, 0.25), percentile(sorted, 0.75)
}

// filterOutliers drops values outside the 1.5-IQR fences. When filtering
// would remove everything, the original set is returned untouched so a
// non-empty input never produces an empty summary.
func filterOutliers(values []float64) (kept []float64, removed int) {
	if len(values) <= 2 {
		return values, 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	q1, q3 := quartiles(sorted)
	iqr := q3 - q1
	lo := q1 - 1.5*iqr
	hi := q3 + 1.5*iqr

	for _, v := range sorted {
		if v >= lo && v <= hi {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return sorted, 0
	}
	return kept, len(sorted) - len(kept)
}

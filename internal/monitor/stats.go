package monitor

import (
	"math"
	"sort"
)

// SampleStats summarizes one fetched window of values.
type SampleStats struct {
	Count  int     `json:"count"`
	Avg    float64 `json:"avg"`
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
	StdDev float64 `json:"stddev"`
}

func computeStats(values []float64) SampleStats {
	n := len(values)
	if n == 0 {
		return SampleStats{}
	}
	sum := 0.0
	max := values[0]
	min := values[0]
	for _, v := range values {
		sum += v
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	avg := sum / float64(n)

	// Population variance; these windows are the whole observed set,
	// not a sample of something larger.
	variance := 0.0
	for _, v := range values {
		d := v - avg
		variance += d * d
	}
	variance /= float64(n)

	return SampleStats{Count: n, Avg: avg, Max: max, Min: min, StdDev: math.Sqrt(variance)}
}

// percentile computes the p-th percentile with continuous (linear)
// interpolation over an ascending-sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// deviationPct is the percentage deviation of an observed value from a
// baseline value, 0 when the baseline is 0.
func deviationPct(observed, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return (observed - baseline) / baseline * 100
}

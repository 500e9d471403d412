package models

import (
	"math"
	"sort"
)

// ComputeStats summarises a value series. Std is the population standard
// deviation; an empty series yields the zero value.
func ComputeStats(values []float64) MetricStats {
	n := len(values)
	if n == 0 {
		return MetricStats{}
	}

	sum := 0.0
	min := values[0]
	max := values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(n)

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return MetricStats{
		Mean:    mean,
		Std:     math.Sqrt(variance),
		Min:     min,
		Max:     max,
		Median:  median,
		Samples: n,
	}
}

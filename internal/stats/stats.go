// Package stats provides pure statistical helpers over timing samples.
// Packet loss is expressed as a ratio in [0, 1] everywhere; display code
// multiplies by 100 when it wants a percentage.
package stats

import (
	"math"
	"sort"
	"time"
)

// Mean returns the arithmetic mean of durations, or zero for empty input.
func Mean(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return sum / time.Duration(len(durations))
}

// StdDev returns the population standard deviation around mean. Squared
// deviations are accumulated in float64 nanoseconds so sub-millisecond
// samples don't lose precision. Zero for fewer than two samples.
func StdDev(durations []time.Duration, mean time.Duration) time.Duration {
	if len(durations) <= 1 {
		return 0
	}
	var sumSq float64
	for _, d := range durations {
		diff := float64(d) - float64(mean)
		sumSq += diff * diff
	}
	variance := sumSq / float64(len(durations))
	return time.Duration(math.Sqrt(variance))
}

// PacketLoss returns failed/total as a ratio in [0, 1]. A zero total reports
// zero loss rather than dividing by zero.
func PacketLoss(failed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// Median returns the midpoint of the sorted samples, averaging the two middle
// values for even-length input. ok is false for empty input.
func Median(durations []time.Duration) (median time.Duration, ok bool) {
	if len(durations) == 0 {
		return 0, false
	}
	sorted := sortedCopy(durations)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2, true
	}
	return sorted[n/2], true
}

// Percentile returns the pth percentile using the nearest-rank index
// round(p/100 * (n-1)) over the sorted samples. ok is false for empty input
// or p outside [0, 100]; callers must check rather than rely on a zero value.
func Percentile(durations []time.Duration, p float64) (value time.Duration, ok bool) {
	if len(durations) == 0 || p < 0 || p > 100 {
		return 0, false
	}
	sorted := sortedCopy(durations)
	idx := int(math.Round(p / 100 * float64(len(sorted)-1)))
	return sorted[idx], true
}

// Min returns the smallest sample, or zero for empty input.
func Min(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	min := durations[0]
	for _, d := range durations[1:] {
		if d < min {
			min = d
		}
	}
	return min
}

// Max returns the largest sample, or zero for empty input.
func Max(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	max := durations[0]
	for _, d := range durations[1:] {
		if d > max {
			max = d
		}
	}
	return max
}

func sortedCopy(durations []time.Duration) []time.Duration {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

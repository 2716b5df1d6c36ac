package stats

import (
	"testing"
	"time"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestMean(t *testing.T) {
	tests := []struct {
		name    string
		samples []time.Duration
		want    time.Duration
	}{
		{"empty", nil, 0},
		{"single", []time.Duration{ms(40)}, ms(40)},
		{"several", []time.Duration{ms(10), ms(20), ms(30)}, ms(20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mean(tt.samples); got != tt.want {
				t.Errorf("Mean() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeanWithinRange(t *testing.T) {
	samples := []time.Duration{ms(13), ms(87), ms(45), ms(62), ms(29)}
	mean := Mean(samples)
	if mean < Min(samples) || mean > Max(samples) {
		t.Errorf("mean %v outside [min, max] = [%v, %v]", mean, Min(samples), Max(samples))
	}
}

func TestStdDev(t *testing.T) {
	identical := []time.Duration{ms(25), ms(25), ms(25), ms(25)}
	if got := StdDev(identical, Mean(identical)); got != 0 {
		t.Errorf("StdDev of identical values = %v, want 0", got)
	}

	if got := StdDev([]time.Duration{ms(10)}, ms(10)); got != 0 {
		t.Errorf("StdDev of single sample = %v, want 0", got)
	}

	// Population stddev of {10ms, 30ms} around 20ms is exactly 10ms.
	samples := []time.Duration{ms(10), ms(30)}
	if got := StdDev(samples, Mean(samples)); got != ms(10) {
		t.Errorf("StdDev = %v, want %v", got, ms(10))
	}
}

func TestPacketLoss(t *testing.T) {
	tests := []struct {
		failed, total int
		want          float64
	}{
		{0, 6, 0},
		{6, 6, 1},
		{3, 6, 0.5},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := PacketLoss(tt.failed, tt.total); got != tt.want {
			t.Errorf("PacketLoss(%d, %d) = %v, want %v", tt.failed, tt.total, got, tt.want)
		}
	}
}

func TestMedian(t *testing.T) {
	if _, ok := Median(nil); ok {
		t.Error("Median of empty input should not be ok")
	}

	odd := []time.Duration{ms(30), ms(10), ms(20)}
	if got, _ := Median(odd); got != ms(20) {
		t.Errorf("Median(odd) = %v, want %v", got, ms(20))
	}

	even := []time.Duration{ms(40), ms(10), ms(20), ms(30)}
	if got, _ := Median(even); got != ms(25) {
		t.Errorf("Median(even) = %v, want %v", got, ms(25))
	}
}

func TestPercentile(t *testing.T) {
	samples := []time.Duration{ms(50), ms(10), ms(40), ms(20), ms(30)}

	if got, _ := Percentile(samples, 0); got != Min(samples) {
		t.Errorf("Percentile(0) = %v, want min %v", got, Min(samples))
	}
	if got, _ := Percentile(samples, 100); got != Max(samples) {
		t.Errorf("Percentile(100) = %v, want max %v", got, Max(samples))
	}
	if got, _ := Percentile(samples, 50); got != ms(30) {
		t.Errorf("Percentile(50) = %v, want %v", got, ms(30))
	}

	if _, ok := Percentile(samples, -1); ok {
		t.Error("Percentile(-1) should not be ok")
	}
	if _, ok := Percentile(samples, 101); ok {
		t.Error("Percentile(101) should not be ok")
	}
	if _, ok := Percentile(nil, 50); ok {
		t.Error("Percentile of empty input should not be ok")
	}
}

func TestPercentileDoesNotMutateInput(t *testing.T) {
	samples := []time.Duration{ms(30), ms(10), ms(20)}
	Percentile(samples, 50)
	if samples[0] != ms(30) || samples[1] != ms(10) || samples[2] != ms(20) {
		t.Error("Percentile mutated its input")
	}
}

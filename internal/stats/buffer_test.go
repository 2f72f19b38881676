package stats

import (
	"math"
	"testing"
	"time"

	"github.com/kvmonitor/kvmonitor/internal/models"
)

const tolerance = 1e-9

func naiveStats(window []float64) (mean, stdDev float64) {
	if len(window) == 0 {
		return 0, 0
	}
	for _, v := range window {
		mean += v
	}
	mean /= float64(len(window))
	if len(window) < 2 {
		return mean, 0
	}
	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(window))
	return mean, math.Sqrt(variance)
}

func TestIncrementalStatsMatchNaive(t *testing.T) {
	const capacity = 16
	buf := NewBuffer(models.MetricOpsPerSec, capacity, 4)
	now := time.Now()

	// Deterministic but irregular sequence spanning several window slides.
	values := make([]float64, 0, 100)
	for i := 0; i < 100; i++ {
		v := 50 + 30*math.Sin(float64(i)/3) + float64(i%7)*11
		values = append(values, v)
	}

	for i, v := range values {
		buf.AddSample(v, now.Add(time.Duration(i)*time.Second))

		lo := 0
		if i+1 > capacity {
			lo = i + 1 - capacity
		}
		wantMean, wantStd := naiveStats(values[lo : i+1])
		got := buf.Stats()
		if math.Abs(got.Mean-wantMean) > tolerance {
			t.Fatalf("sample %d: mean %v, want %v", i, got.Mean, wantMean)
		}
		if math.Abs(got.StdDev-wantStd) > 1e-6 {
			t.Fatalf("sample %d: stddev %v, want %v", i, got.StdDev, wantStd)
		}
	}

	if got := buf.Len(); got != capacity {
		t.Fatalf("expected window pinned at capacity %d, got %d", capacity, got)
	}
}

func TestReadinessFloor(t *testing.T) {
	buf := NewBuffer(models.MetricMemoryUsed, 60, 30)
	now := time.Now()

	for i := 0; i < 29; i++ {
		buf.AddSample(100, now)
		if buf.Stats().Ready {
			t.Fatalf("buffer ready after %d samples, warmup is 30", i+1)
		}
	}
	buf.AddSample(100, now)
	if !buf.Stats().Ready {
		t.Fatalf("buffer not ready after warmup floor reached")
	}
}

func TestEvictionKeepsSampleCountBounded(t *testing.T) {
	buf := NewBuffer(models.MetricConnections, 8, 2)
	now := time.Now()
	for i := 0; i < 50; i++ {
		buf.AddSample(float64(i), now.Add(time.Duration(i)*time.Second))
	}
	st := buf.Stats()
	if st.SampleCount != 8 {
		t.Fatalf("sample count %d, want 8", st.SampleCount)
	}
	// Window now holds 42..49.
	wantMean, _ := naiveStats([]float64{42, 43, 44, 45, 46, 47, 48, 49})
	if math.Abs(st.Mean-wantMean) > tolerance {
		t.Fatalf("mean %v, want %v", st.Mean, wantMean)
	}
}

func TestConstantSeriesHasZeroStdDev(t *testing.T) {
	buf := NewBuffer(models.MetricBlockedClients, 10, 2)
	now := time.Now()
	for i := 0; i < 25; i++ {
		buf.AddSample(7, now)
	}
	st := buf.Stats()
	if st.StdDev > tolerance {
		t.Fatalf("constant series should have ~0 stddev, got %v", st.StdDev)
	}
	if math.Abs(st.Mean-7) > tolerance {
		t.Fatalf("mean %v, want 7", st.Mean)
	}
}

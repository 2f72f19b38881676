// Package stats maintains per-metric rolling sample windows with
// incrementally updated mean and standard deviation.
package stats

import (
	"math"
	"time"

	"github.com/kvmonitor/kvmonitor/internal/models"
)

const (
	// DefaultCapacity bounds the rolling window.
	DefaultCapacity = 120
	// DefaultWarmup is the sample floor below which detectors stay quiet.
	DefaultWarmup = 30
)

type sample struct {
	value float64
	ts    time.Time
}

// Buffer is a fixed-capacity FIFO window over one metric's samples.
// Mean and variance are maintained with Welford's algorithm extended to
// sliding windows, so AddSample is O(1) and never rescans the window.
// Buffer is not safe for concurrent use; the engine's single writer owns it.
type Buffer struct {
	metric   models.MetricType
	capacity int
	warmup   int

	samples []sample
	head    int // index of the oldest sample
	count   int

	mean float64
	m2   float64 // sum of squared deviations from the mean
}

// NewBuffer creates a window for the given metric. Non-positive capacity
// or warmup fall back to the package defaults.
func NewBuffer(metric models.MetricType, capacity, warmup int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if warmup <= 0 {
		warmup = DefaultWarmup
	}
	if warmup > capacity {
		warmup = capacity
	}
	return &Buffer{
		metric:   metric,
		capacity: capacity,
		warmup:   warmup,
		samples:  make([]sample, capacity),
	}
}

// AddSample appends a sample, evicting the oldest one once the window is
// full. NaN and Inf must be rejected upstream.
func (b *Buffer) AddSample(value float64, ts time.Time) {
	if b.count == b.capacity {
		b.remove(b.samples[b.head].value)
		b.samples[b.head] = sample{value: value, ts: ts}
		b.head = (b.head + 1) % b.capacity
	} else {
		b.samples[(b.head+b.count)%b.capacity] = sample{value: value, ts: ts}
	}
	b.add(value)
}

func (b *Buffer) add(value float64) {
	b.count++
	delta := value - b.mean
	b.mean += delta / float64(b.count)
	b.m2 += delta * (value - b.mean)
}

func (b *Buffer) remove(value float64) {
	if b.count <= 1 {
		b.count = 0
		b.mean = 0
		b.m2 = 0
		return
	}
	prevMean := b.mean
	b.count--
	b.mean = (prevMean*float64(b.count+1) - value) / float64(b.count)
	b.m2 -= (value - prevMean) * (value - b.mean)
	// Guard against float drift pushing the accumulator negative.
	if b.m2 < 0 {
		b.m2 = 0
	}
}

// Stats reports the current window statistics. StdDev uses the population
// variance over the window, matching a naive full recomputation.
func (b *Buffer) Stats() models.BufferStats {
	variance := 0.0
	if b.count > 1 {
		variance = b.m2 / float64(b.count)
	}
	return models.BufferStats{
		Metric:      b.metric,
		Ready:       b.count >= b.warmup,
		Mean:        b.mean,
		StdDev:      math.Sqrt(variance),
		SampleCount: b.count,
	}
}

// Len returns the number of samples currently held.
func (b *Buffer) Len() int { return b.count }

package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	if got := tracker.Percentile(95); got != 0 {
		t.Fatalf("empty tracker percentile %v, want 0", got)
	}

	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if got := tracker.Percentile(0); got != time.Millisecond {
		t.Fatalf("p0 %v, want 1ms", got)
	}
	if got := tracker.Percentile(100); got != 10*time.Millisecond {
		t.Fatalf("p100 %v, want 10ms", got)
	}
	if got := tracker.Percentile(50); got < 4*time.Millisecond || got > 6*time.Millisecond {
		t.Fatalf("p50 %v, want ~5ms", got)
	}
}

func TestLatencyTrackerEvictsOldest(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 1; i <= 5; i++ {
		tracker.Observe(time.Duration(i) * time.Second)
	}
	if got := tracker.Count(); got != 3 {
		t.Fatalf("count %d, want 3", got)
	}
	if got := tracker.Percentile(0); got != 3*time.Second {
		t.Fatalf("oldest surviving sample %v, want 3s", got)
	}
}

func TestParseTimeParam(t *testing.T) {
	if ts, err := ParseTimeParam(""); err != nil || !ts.IsZero() {
		t.Fatalf("empty value: got %v, %v", ts, err)
	}
	if ts, err := ParseTimeParam("2026-08-26T10:00:00Z"); err != nil || ts.UTC().Hour() != 10 {
		t.Fatalf("rfc3339: got %v, %v", ts, err)
	}
	if ts, err := ParseTimeParam("1756202400"); err != nil || ts.Unix() != 1756202400 {
		t.Fatalf("unix seconds: got %v, %v", ts, err)
	}
	if ts, err := ParseTimeParam("1756202400000"); err != nil || ts.UnixMilli() != 1756202400000 {
		t.Fatalf("unix millis: got %v, %v", ts, err)
	}
	if _, err := ParseTimeParam("not-a-time"); err == nil {
		t.Fatalf("expected error for garbage input")
	}
	if _, err := ParseTimeParam("-5"); err == nil {
		t.Fatalf("expected error for negative epoch")
	}
}

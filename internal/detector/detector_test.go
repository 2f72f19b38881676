package detector

import (
	"testing"
	"time"

	"github.com/kvmonitor/kvmonitor/internal/models"
	"github.com/kvmonitor/kvmonitor/internal/stats"
)

func readyStats(mean, stdDev float64) models.BufferStats {
	return models.BufferStats{
		Metric:      models.MetricMemoryUsed,
		Ready:       true,
		Mean:        mean,
		StdDev:      stdDev,
		SampleCount: 60,
	}
}

func TestColdStartSuppression(t *testing.T) {
	d := New(models.MetricMemoryUsed, Config{ConsecutiveRequired: 1})
	cold := models.BufferStats{Metric: models.MetricMemoryUsed, Ready: false}
	now := time.Now()
	for i := 0; i < 10; i++ {
		ev, crossed := d.Detect(cold, 1e12, now.Add(time.Duration(i)*time.Second))
		if ev != nil {
			t.Fatalf("detector fired on cold buffer")
		}
		if crossed {
			t.Fatalf("cold samples must feed the warm-up window")
		}
	}
}

func TestDebounceResetsOnInRangeSample(t *testing.T) {
	d := New(models.MetricMemoryUsed, Config{ConsecutiveRequired: 3})
	st := readyStats(1000, 10)
	now := time.Now()

	// Two crossings, one in-range sample, then two more crossings: never fires.
	seq := []float64{1100, 1100, 1000, 1100, 1100}
	for i, v := range seq {
		if ev, _ := d.Detect(st, v, now.Add(time.Duration(i)*time.Second)); ev != nil {
			t.Fatalf("fired at sample %d, debounce should have suppressed", i)
		}
	}

	// Three consecutive crossings fire exactly once.
	fired := 0
	for i := 0; i < 3; i++ {
		if ev, _ := d.Detect(st, 1100, now.Add(time.Duration(10+i)*time.Second)); ev != nil {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("expected exactly one firing, got %d", fired)
	}
}

func TestCrossingReportedDuringSuppression(t *testing.T) {
	d := New(models.MetricMemoryUsed, Config{ConsecutiveRequired: 3, Cooldown: time.Minute})
	st := readyStats(1000, 10)
	now := time.Now()

	// Suppressed by debounce, but the crossing itself is reported so the
	// caller keeps the sample out of the baseline.
	ev, crossed := d.Detect(st, 1100, now)
	if ev != nil || !crossed {
		t.Fatalf("ev=%v crossed=%v, want suppressed crossing", ev, crossed)
	}
	if _, crossed := d.Detect(st, 1000, now.Add(time.Second)); crossed {
		t.Fatalf("in-range sample reported as crossing")
	}
}

func TestCooldownSpacing(t *testing.T) {
	d := New(models.MetricMemoryUsed, Config{ConsecutiveRequired: 1, Cooldown: 30 * time.Second})
	st := readyStats(1000, 10)
	base := time.Now()

	if ev, _ := d.Detect(st, 1100, base); ev == nil {
		t.Fatalf("first crossing should fire")
	}
	if ev, _ := d.Detect(st, 1100, base.Add(10*time.Second)); ev != nil {
		t.Fatalf("crossing 10s later fired inside cooldown")
	}
	if ev, _ := d.Detect(st, 1100, base.Add(30*time.Second+time.Millisecond)); ev == nil {
		t.Fatalf("crossing after cooldown elapsed should fire")
	}
}

func TestZeroStdDevUsesAbsoluteThresholdsOnly(t *testing.T) {
	warn := 1.5
	d := New(models.MetricFragmentationRatio, Config{
		ConsecutiveRequired: 1,
		WarningThreshold:    &warn,
	})
	st := models.BufferStats{Metric: models.MetricFragmentationRatio, Ready: true, Mean: 1.0, StdDev: 0, SampleCount: 60}

	if ev, _ := d.Detect(st, 1.2, time.Now()); ev != nil {
		t.Fatalf("fired with zero stddev and no absolute breach")
	}
	ev, _ := d.Detect(st, 1.8, time.Now())
	if ev == nil {
		t.Fatalf("absolute breach should fire despite zero stddev")
	}
	if ev.ZScore != 0 {
		t.Fatalf("z-score should be 0 when stddev is 0, got %v", ev.ZScore)
	}
	if ev.Severity != models.SeverityWarning {
		t.Fatalf("severity %s, want warning", ev.Severity)
	}
}

func TestDropKindAndCriticalSeverity(t *testing.T) {
	d := New(models.MetricOpsPerSec, Config{WarningZScore: 2.5, CriticalZScore: 3.5, ConsecutiveRequired: 1})
	st := readyStats(1000, 10)

	ev, _ := d.Detect(st, 900, time.Now())
	if ev == nil {
		t.Fatalf("expected event")
	}
	if ev.Kind != models.KindDrop {
		t.Fatalf("kind %s, want drop", ev.Kind)
	}
	if ev.Severity != models.SeverityCritical {
		t.Fatalf("severity %s, want critical (|z|=10)", ev.Severity)
	}
}

// feed runs one buffer+detector step the way the engine does: detect
// against the pre-sample statistics and only admit in-range samples into
// the baseline window.
func feed(buf *stats.Buffer, d *SpikeDetector, v float64, ts time.Time) *models.AnomalyEvent {
	st := buf.Stats()
	ev, crossed := d.Detect(st, v, ts)
	if !crossed {
		buf.AddSample(v, ts)
	}
	return ev
}

// End-to-end scenario: warm a memory buffer with ~1MB samples, then feed
// outliers. Exactly one critical spike fires on the third outlier, its
// baseline still reflects the pre-incident level, and the cooldown
// suppresses the fourth.
func TestMemorySpikeScenario(t *testing.T) {
	buf := stats.NewBuffer(models.MetricMemoryUsed, 120, 30)
	d := New(models.MetricMemoryUsed, Config{
		WarningZScore:       2.5,
		CriticalZScore:      3.5,
		ConsecutiveRequired: 3,
		Cooldown:            60 * time.Second,
	})

	base := time.Now()
	noise := []float64{0, 500, -300, 200, -100}
	for i := 0; i < 30; i++ {
		v := 1_000_000 + noise[i%len(noise)]
		if ev := feed(buf, d, v, base.Add(time.Duration(i)*time.Second)); ev != nil {
			t.Fatalf("fired during warm-up at sample %d", i)
		}
	}

	var fired *models.AnomalyEvent
	for i := 0; i < 3; i++ {
		ev := feed(buf, d, 5_000_000, base.Add(time.Duration(30+i)*time.Second))
		if i < 2 && ev != nil {
			t.Fatalf("fired on outlier %d, debounce requires 3", i+1)
		}
		if i == 2 {
			fired = ev
		}
	}
	if fired == nil {
		t.Fatalf("expected critical event on 3rd outlier")
	}
	if fired.Severity != models.SeverityCritical || fired.Kind != models.KindSpike {
		t.Fatalf("got %s %s, want critical spike", fired.Severity, fired.Kind)
	}
	if fired.ZScore < 3.5 {
		t.Fatalf("z-score %v, want >= 3.5", fired.ZScore)
	}
	if fired.Baseline < 900_000 || fired.Baseline > 1_100_000 {
		t.Fatalf("baseline %v, want ~1,000,000", fired.Baseline)
	}
	if buf.Len() != 30 {
		t.Fatalf("outliers leaked into the baseline window: len=%d", buf.Len())
	}

	// A fourth outlier one second later is inside the cooldown.
	if ev := feed(buf, d, 5_000_000, base.Add(34*time.Second)); ev != nil {
		t.Fatalf("fired inside 60s cooldown")
	}
}

package pipeline

import (
	"testing"
	"time"
)

func TestConversionStatsSnapshotPercentiles(t *testing.T) {
	stats := NewConversionStats(time.Hour)
	for _, ms := range []int64{100, 200, 300, 400, 500} {
		stats.Record(KindConvert, ms)
	}

	snap := stats.Snapshot()
	if snap.Count != 5 {
		t.Fatalf("expected count=5, got %d", snap.Count)
	}
	if snap.MinMs != 100 || snap.MaxMs != 500 {
		t.Fatalf("expected min=100 max=500, got %d %d", snap.MinMs, snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Ms)
	}
	if snap.P95Ms != 480 {
		t.Fatalf("expected p95=480, got %f", snap.P95Ms)
	}
	if snap.P99Ms != 496 {
		t.Fatalf("expected p99=496, got %f", snap.P99Ms)
	}
}

func TestConversionStatsPrunesExpiredSamples(t *testing.T) {
	stats := NewConversionStats(10 * time.Millisecond)
	stats.Record(KindConvert, 100)
	time.Sleep(25 * time.Millisecond)

	if snap := stats.Snapshot(); snap.Count != 0 {
		t.Fatalf("expected count=0 after prune, got %d", snap.Count)
	}

	stats.Record(KindMerge, 200)
	snap := stats.Snapshot()
	if snap.Count != 1 || snap.MinMs != 200 || snap.MaxMs != 200 {
		t.Fatalf("expected one 200ms sample, got %+v", snap)
	}
}

func TestConversionStatsRecordClampsNegativeDuration(t *testing.T) {
	stats := NewConversionStats(time.Hour)
	stats.Record(KindConvert, -10)
	snap := stats.Snapshot()
	if snap.Count != 1 || snap.MinMs != 0 || snap.MaxMs != 0 {
		t.Fatalf("expected one clamped sample, got %+v", snap)
	}
}

func TestConversionStatsByKind(t *testing.T) {
	stats := NewConversionStats(time.Hour)
	stats.Record(KindConvert, 10)
	stats.Record(KindConvert, 30)
	stats.Record(KindCompare, 100)
	stats.RecordFailure(KindCompare)
	stats.RecordFailure(KindCleanup)

	by := stats.ByKind()
	if c := by[KindConvert]; c.Count != 2 || c.AvgMs != 20 || c.Failed != 0 {
		t.Errorf("convert = %+v", c)
	}
	if c := by[KindCompare]; c.Count != 1 || c.Failed != 1 {
		t.Errorf("compare = %+v", c)
	}
	if c := by[KindCleanup]; c.Count != 0 || c.Failed != 1 {
		t.Errorf("cleanup = %+v", c)
	}
	if snap := stats.Snapshot(); snap.Count != 3 {
		t.Errorf("overall count = %d", snap.Count)
	}
}

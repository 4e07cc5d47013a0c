package pipeline

import (
	"sort"
	"sync"
	"time"
)

type sample struct {
	timestamp  time.Time
	kind       JobKind
	durationMs int64
}

// StatsSnapshot is a point-in-time aggregate of job latency samples.
type StatsSnapshot struct {
	Count int     `json:"count"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// ConversionStats tracks recent job latencies within a rolling window.
type ConversionStats struct {
	mu      sync.Mutex
	samples []sample
	failed  map[JobKind]int
	maxAge  time.Duration
}

func NewConversionStats(maxAge time.Duration) *ConversionStats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &ConversionStats{
		samples: make([]sample, 0, 256),
		failed:  make(map[JobKind]int),
		maxAge:  maxAge,
	}
}

// Record adds a completed job's duration.
func (s *ConversionStats) Record(kind JobKind, durationMs int64) {
	if durationMs < 0 {
		durationMs = 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	s.samples = append(s.samples, sample{
		timestamp:  now,
		kind:       kind,
		durationMs: durationMs,
	})
}

// RecordFailure counts a failed job. Failures are not windowed.
func (s *ConversionStats) RecordFailure(kind JobKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[kind]++
}

// Snapshot aggregates every sample in the window.
func (s *ConversionStats) Snapshot() StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	values := make([]int64, 0, len(s.samples))
	for _, sm := range s.samples {
		values = append(values, sm.durationMs)
	}
	return aggregate(values)
}

// KindStats is the per-kind part of a report.
type KindStats struct {
	StatsSnapshot
	Failed int `json:"failed"`
}

// ByKind aggregates the window per job kind.
func (s *ConversionStats) ByKind() map[JobKind]KindStats {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	values := make(map[JobKind][]int64)
	for _, sm := range s.samples {
		values[sm.kind] = append(values[sm.kind], sm.durationMs)
	}
	out := make(map[JobKind]KindStats, len(values))
	for k, v := range values {
		out[k] = KindStats{StatsSnapshot: aggregate(v)}
	}
	for k, n := range s.failed {
		ks := out[k]
		ks.Failed = n
		out[k] = ks
	}
	return out
}

func aggregate(values []int64) StatsSnapshot {
	if len(values) == 0 {
		return StatsSnapshot{}
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return StatsSnapshot{
		Count: len(values),
		MinMs: values[0],
		MaxMs: values[len(values)-1],
		AvgMs: float64(sum) / float64(len(values)),
		P50Ms: percentile(values, 50),
		P95Ms: percentile(values, 95),
		P99Ms: percentile(values, 99),
	}
}

func (s *ConversionStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	writeIdx := 0
	for _, sm := range s.samples {
		if !sm.timestamp.Before(cutoff) {
			s.samples[writeIdx] = sm
			writeIdx++
		}
	}
	s.samples = s.samples[:writeIdx]
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}

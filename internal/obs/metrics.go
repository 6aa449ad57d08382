package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

const maxKind = int(schema.KindRestore)

// Metrics collects lightweight counters and latency stats for one replay run.
// All methods are nil-safe so callers never need to guard.
type Metrics struct {
	kindCounts [maxKind + 1]uint64
	restores   uint64

	dispatchLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	KindCounts      map[schema.Kind]uint64
	Restores        uint64
	DispatchLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncKind counts one dispatched event by kind.
func (m *Metrics) IncKind(kind schema.Kind) {
	if m == nil {
		return
	}
	idx := int(kind)
	if idx >= 0 && idx < len(m.kindCounts) {
		atomic.AddUint64(&m.kindCounts[idx], 1)
	}
}

// IncRestore counts one synthesized give-back.
func (m *Metrics) IncRestore() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.restores, 1)
}

// ObserveDispatch measures one wake-up's dispatch latency.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	kindCounts := make(map[schema.Kind]uint64)
	for i := range m.kindCounts {
		if v := atomic.LoadUint64(&m.kindCounts[i]); v > 0 {
			kindCounts[schema.Kind(i)] = v
		}
	}
	return Snapshot{
		KindCounts:      kindCounts,
		Restores:        atomic.LoadUint64(&m.restores),
		DispatchLatency: m.dispatchLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}

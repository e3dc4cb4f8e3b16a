package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of a meter.
type Stats struct {
	BytesDone int64
	Total     int64
	Fraction  float64
	StartedAt time.Time
}

// Meter tracks the byte progress of one run. Add and Advance may be called
// from the transfer loop while Sample and Snapshot are called concurrently
// from a sampler.
type Meter struct {
	total atomic.Int64
	done  atomic.Int64
	wire  atomic.Int64
	// finished marks a run whose transfer loop ended without being stopped.
	finished atomic.Bool

	mu        sync.Mutex
	startedAt time.Time
	lastAt    time.Time
	lastWire  int64
	now       func() time.Time
}

func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{now: now}
}

// Start resets the meter for a run moving totalBytes.
func (m *Meter) Start(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total.Store(totalBytes)
	m.done.Store(0)
	m.wire.Store(0)
	m.finished.Store(false)
	m.startedAt = m.now()
	m.lastAt = m.startedAt
	m.lastWire = 0
}

// Add records n bytes received and written during this run.
func (m *Meter) Add(n int64) int64 {
	if n <= 0 {
		return m.done.Load()
	}
	m.wire.Add(n)
	return m.done.Add(n)
}

// Advance records n bytes that were already staged by an earlier run. They
// count toward progress but not toward the rate.
func (m *Meter) Advance(n int64) int64 {
	if n <= 0 {
		return m.done.Load()
	}
	return m.done.Add(n)
}

// Sample returns the rate in bytes per second since the previous sample.
// ok is false when nothing was received in between.
func (m *Meter) Sample() (bytesPerSecond int64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	wire := m.wire.Load()
	delta := wire - m.lastWire
	elapsed := now.Sub(m.lastAt).Seconds()
	m.lastWire = wire
	m.lastAt = now

	if delta <= 0 || elapsed <= 0 {
		return 0, false
	}
	return int64(float64(delta) / elapsed), true
}

// Finish marks the transfer as done. A finished meter with nothing to move
// reports a fraction of 1.
func (m *Meter) Finish() {
	m.finished.Store(true)
}

func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	startedAt := m.startedAt
	m.mu.Unlock()

	stats := Stats{
		BytesDone: m.done.Load(),
		Total:     m.total.Load(),
		StartedAt: startedAt,
	}
	if stats.Total > 0 {
		stats.Fraction = float64(stats.BytesDone) / float64(stats.Total)
		if stats.Fraction > 1.0 {
			stats.Fraction = 1.0
		}
	} else if m.finished.Load() {
		stats.Fraction = 1.0
	}
	return stats
}

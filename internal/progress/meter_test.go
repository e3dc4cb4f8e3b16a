package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMeterSampleRate(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(4000)

	m.Add(1000)
	now = now.Add(time.Second)
	rate, ok := m.Sample()
	require.True(t, ok)
	require.Equal(t, int64(1000), rate)

	m.Add(1000)
	now = now.Add(2 * time.Second)
	rate, ok = m.Sample()
	require.True(t, ok)
	require.Equal(t, int64(500), rate)
}

func TestMeterSampleSuppressesStall(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(1000)

	now = now.Add(time.Second)
	_, ok := m.Sample()
	require.False(t, ok)
}

func TestMeterAdvanceSkipsRate(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(10)

	m.Advance(4)
	now = now.Add(time.Second)
	_, ok := m.Sample()
	require.False(t, ok)

	stats := m.Snapshot()
	require.Equal(t, int64(4), stats.BytesDone)
	require.InDelta(t, 0.4, stats.Fraction, 1e-9)
}

func TestMeterFractionCapped(t *testing.T) {
	m := NewMeter()
	m.Start(10)
	m.Add(20)
	require.Equal(t, 1.0, m.Snapshot().Fraction)
}

func TestMeterEmptyTransferFinishes(t *testing.T) {
	m := NewMeter()
	m.Start(0)
	require.Zero(t, m.Snapshot().Fraction)

	m.Finish()
	require.Equal(t, 1.0, m.Snapshot().Fraction)

	m.Start(0)
	require.Zero(t, m.Snapshot().Fraction)
}

func TestMeterConcurrentAdd(t *testing.T) {
	m := NewMeter()
	m.Start(1000)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m.Add(1)
				m.Sample()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1000), m.Snapshot().BytesDone)
}

package events

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionMask(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(RunCompleted|RunFailed, 4)
	defer s.Unsubscribe()

	b.Log(Progress, ProgressData{Transferred: 1})
	b.Log(RunCompleted, FinishedData{Status: StatusSuccess})

	require.Len(t, s.C(), 1)
	ev := <-s.C()
	require.Equal(t, RunCompleted, ev.Type)
	require.Equal(t, StatusSuccess, ev.Data.(FinishedData).Status)
}

func TestFullBufferDropsOldest(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(AllEvents, 2)
	defer s.Unsubscribe()

	for i := int64(1); i <= 5; i++ {
		b.Log(Progress, ProgressData{Transferred: i})
	}
	b.Log(RunCompleted, FinishedData{Status: StatusSuccess})

	first := <-s.C()
	last := <-s.C()
	require.Equal(t, int64(5), first.Data.(ProgressData).Transferred)
	require.Equal(t, RunCompleted, last.Type)
}

func TestWithRunStampsRunID(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(AllEvents, 0)
	defer s.Unsubscribe()

	id := uuid.New()
	b.WithRun(id).Log(StateChanged, StateChangedData{From: "Idle", To: "Planning"})

	ev := <-s.C()
	require.Equal(t, id, ev.RunID)
	require.Equal(t, "StateChanged", ev.Type.String())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(AllEvents, 1)
	s.Unsubscribe()

	_, ok := <-s.C()
	require.False(t, ok)

	// Publishing after unsubscribe must not panic.
	b.Log(Progress, ProgressData{})
}

func TestIsTerminal(t *testing.T) {
	require.True(t, RunCompleted.IsTerminal())
	require.True(t, RunStopped.IsTerminal())
	require.True(t, RunFailed.IsTerminal())
	require.False(t, Progress.IsTerminal())
	require.False(t, ServiceStatus.IsTerminal())
}

package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitions(t *testing.T) {
	allowed := [][2]State{
		{Idle, Planning},
		{Idle, Verifying},
		{Planning, Transferring},
		{Planning, Completed},
		{Transferring, Finalizing},
		{Finalizing, Transferring},
		{Finalizing, Completed},
		{Transferring, Cancelled},
		{Verifying, Failed},
	}
	for _, tr := range allowed {
		assert.NoError(t, checkTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	disallowed := [][2]State{
		{Idle, Transferring},
		{Planning, Finalizing},
		{Verifying, Transferring},
		{Completed, Planning},
		{Cancelled, Transferring},
		{Failed, Completed},
	}
	for _, tr := range disallowed {
		assert.Error(t, checkTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{Completed, Cancelled, Failed} {
		assert.True(t, s.IsTerminal(), s.String())
		assert.Empty(t, transitions[s])
	}
	for _, s := range []State{Idle, Planning, Verifying, Transferring, Finalizing} {
		assert.False(t, s.IsTerminal(), s.String())
	}
}

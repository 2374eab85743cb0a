package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("running")
	require.NoError(t, err)
	assert.Equal(t, PhaseRunning, p)

	_, err = ParsePhase("exploded")
	require.Error(t, err)
}

func TestPhase_RegressesFrom(t *testing.T) {
	tests := []struct {
		name      string
		current   Phase
		next      Phase
		regresses bool
	}{
		{"forward progression", PhaseCreating, PhaseRunning, false},
		{"same phase", PhaseRunning, PhaseRunning, false},
		{"backward", PhaseRunning, PhasePending, true},
		{"from unknown anything goes", PhaseUnknown, PhaseStopped, false},
		{"interrupted back to running", PhaseInterrupted, PhaseRunning, false},
		{"running to interrupted", PhaseRunning, PhaseInterrupted, false},
		{"stopped is terminal", PhaseStopped, PhaseRunning, true},
		{"stopped to stopping", PhaseStopped, PhaseStopping, true},
		{"stopping cannot resume", PhaseStopping, PhaseRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.regresses, tt.next.RegressesFrom(tt.current))
		})
	}
}

func TestPhase_Terminal(t *testing.T) {
	assert.True(t, PhaseStopped.Terminal())
	assert.False(t, PhaseStopping.Terminal())
	assert.False(t, PhaseUnknown.Terminal())
}

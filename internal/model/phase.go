package model

import "fmt"

// Phase is a workspace instance's lifecycle phase. The set is ordered: a
// correctly reported history never moves backwards, with the single exception
// of Interrupted, which an instance may leave back to Running.
type Phase string

const (
	PhaseUnknown      Phase = "unknown"
	PhasePreparing    Phase = "preparing"
	PhasePending      Phase = "pending"
	PhaseCreating     Phase = "creating"
	PhaseInitializing Phase = "initializing"
	PhaseRunning      Phase = "running"
	PhaseInterrupted  Phase = "interrupted"
	PhaseStopping     Phase = "stopping"
	PhaseStopped      Phase = "stopped"
)

var phaseRank = map[Phase]int{
	PhaseUnknown:      0,
	PhasePreparing:    1,
	PhasePending:      2,
	PhaseCreating:     3,
	PhaseInitializing: 4,
	PhaseRunning:      5,
	PhaseInterrupted:  6,
	PhaseStopping:     7,
	PhaseStopped:      8,
}

// ParsePhase converts a wire string into a Phase, rejecting unknown values.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Valid reports whether p is a member of the known phase set.
func (p Phase) Valid() bool {
	_, ok := phaseRank[p]
	return ok
}

// Terminal reports whether the phase ends the lifecycle.
func (p Phase) Terminal() bool {
	return p == PhaseStopped
}

// RegressesFrom reports whether applying p on top of current would move the
// lifecycle backwards. Unknown accepts anything, a phase never regresses from
// itself, and Interrupted may resume to Running.
func (p Phase) RegressesFrom(current Phase) bool {
	if current == PhaseUnknown || p == current {
		return false
	}
	if current == PhaseInterrupted && p == PhaseRunning {
		return false
	}
	return phaseRank[p] < phaseRank[current]
}

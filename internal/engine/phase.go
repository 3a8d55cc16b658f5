package engine

import (
	"fmt"
	"slices"
	"time"
)

// PhaseOrder is the legal successor table. Every non-terminal phase may
// also jump to PhaseGameOver.
var PhaseOrder = map[Phase][]Phase{
	PhaseWaiting:        {PhaseRoleAssignment},
	PhaseRoleAssignment: {PhaseNight},
	PhaseNight:          {PhaseRevelation},
	PhaseRevelation:     {PhaseDiscussion},
	PhaseDiscussion:     {PhaseVoting},
	PhaseVoting:         {PhaseNight},
}

func CanTransition(from, to Phase) bool {
	if from == PhaseGameOver {
		return false
	}
	if to == PhaseGameOver {
		return from != PhaseWaiting
	}
	return slices.Contains(PhaseOrder[from], to)
}

// Transition moves s into phase to, clears the per-phase collections and
// stamps the new deadline. Entering NIGHT starts a new round; entering
// DISCUSSION starts a fresh transcript.
func Transition(s State, to Phase, deadline time.Time) (Event, State, error) {
	if !CanTransition(s.Phase, to) {
		return Event{}, s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Phase, to)
	}
	newState := s.Clone()
	old := newState.Phase
	newState.Phase = to
	newState.Deadline = deadline
	newState.Votes = map[string]Vote{}
	newState.NightActions = map[string]NightAction{}
	newState.Council = nil

	switch to {
	case PhaseNight:
		newState.Round++
	case PhaseDiscussion:
		newState.Transcript = nil
	}

	evt := Event{
		Type:     EvtPhaseChanged,
		Round:    newState.Round,
		OldPhase: old,
		NewPhase: to,
		Deadline: deadline,
	}
	return evt, newState, nil
}

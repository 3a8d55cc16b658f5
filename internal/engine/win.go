package engine

import "time"

const (
	ReasonHarmParity     = "harm team reached parity"
	ReasonHarmEliminated = "harm team eliminated"
)

type Outcome struct {
	Winner Team
	Reason string
}

// Evaluate applies the win rule to h living harm-team members and c
// living non-harm participants.
func Evaluate(h, c int) (Outcome, bool) {
	switch {
	case h > 0 && h >= c:
		return Outcome{Winner: TeamHarm, Reason: ReasonHarmParity}, true
	case h == 0:
		return Outcome{Winner: TeamNonHarm, Reason: ReasonHarmEliminated}, true
	default:
		return Outcome{}, false
	}
}

func CountTeams(s State) (harm, nonHarm int) {
	for _, p := range s.Roster {
		if !p.Alive {
			continue
		}
		switch p.Role.Team() {
		case TeamHarm:
			harm++
		case TeamNonHarm:
			nonHarm++
		}
	}
	return harm, nonHarm
}

// CheckWin is only meaningful once roles are assigned.
func CheckWin(s State) (Outcome, bool) {
	if s.Phase == PhaseWaiting {
		return Outcome{}, false
	}
	return Evaluate(CountTeams(s))
}

// End moves s to GAME_OVER and records the winner.
func End(s State, o Outcome) ([]Event, State, error) {
	evt, newState, err := Transition(s, PhaseGameOver, time.Time{})
	if err != nil {
		return nil, s, err
	}
	newState.Winner = o.Winner
	newState.EndReason = o.Reason
	events := []Event{evt, {
		Type:    EvtGameEnded,
		Round:   newState.Round,
		Winner:  o.Winner,
		Outcome: o.Reason,
	}}
	return events, newState, nil
}

package engine

import (
	"fmt"
	"math/rand/v2"
)

// Tokens expands the quota into one role per seat, bystanders filling the rest.
func (q Quota) Tokens(capacity int) ([]Role, error) {
	special := q.HarmLeaders + q.HarmAccomplices + q.Protectors
	if q.HarmLeaders < 1 || q.HarmAccomplices < 0 || q.Protectors < 0 || special > capacity {
		return nil, fmt.Errorf("%w: quota %+v for %d seats", ErrRoleCountMismatch, q, capacity)
	}
	tokens := make([]Role, 0, capacity)
	for range q.HarmLeaders {
		tokens = append(tokens, RoleHarmLeader)
	}
	for range q.HarmAccomplices {
		tokens = append(tokens, RoleHarmAccomplice)
	}
	for range q.Protectors {
		tokens = append(tokens, RoleProtector)
	}
	for len(tokens) < capacity {
		tokens = append(tokens, RoleBystander)
	}
	return tokens, nil
}

// AssignRoles deals the quota over the full roster. Seats and tokens are
// shuffled independently and then paired by position.
func AssignRoles(s State, rng *rand.Rand) ([]Event, State, error) {
	if s.Phase != PhaseWaiting {
		return nil, s, ErrAlreadyStarted
	}
	if len(s.Roster) != s.Rules.Capacity {
		return nil, s, fmt.Errorf("%w: have %d participants, need %d", ErrRoleCountMismatch, len(s.Roster), s.Rules.Capacity)
	}
	tokens, err := s.Rules.Quota.Tokens(s.Rules.Capacity)
	if err != nil {
		return nil, s, err
	}

	seats := make([]int, len(s.Roster))
	for i := range seats {
		seats[i] = i
	}
	rng.Shuffle(len(seats), func(i, j int) { seats[i], seats[j] = seats[j], seats[i] })
	rng.Shuffle(len(tokens), func(i, j int) { tokens[i], tokens[j] = tokens[j], tokens[i] })

	newState := s.Clone()
	for i, seat := range seats {
		newState.Roster[seat].Role = tokens[i]
	}

	events := make([]Event, 0, len(newState.Roster))
	for _, p := range newState.Roster {
		events = append(events, Event{
			Type:        EvtRoleAssigned,
			Participant: p.ID,
			Role:        p.Role,
			Audience:    []string{p.ID},
		})
	}
	return events, newState, nil
}

type Briefing struct {
	Role         Role
	Team         Team
	WinCondition string
	// Teammates is only populated for the harm team.
	Teammates []string
}

func WinCondition(t Team) string {
	switch t {
	case TeamHarm:
		return "Eliminate others until your team is at least as numerous as everyone else."
	case TeamNonHarm:
		return "Find and vote out every member of the harm team."
	default:
		return ""
	}
}

func Brief(s State, id string) (Briefing, bool) {
	p, ok := s.Find(id)
	if !ok || p.Role == RoleNone {
		return Briefing{}, false
	}
	b := Briefing{Role: p.Role, Team: p.Role.Team(), WinCondition: WinCondition(p.Role.Team())}
	if b.Team == TeamHarm {
		for _, mate := range s.HarmTeam() {
			if mate != id {
				b.Teammates = append(b.Teammates, mate)
			}
		}
	}
	return b, true
}

package engine

import "slices"

func NewEmptyState(rules Rules) State {
	return State{
		Phase:        PhaseWaiting,
		Roster:       []Participant{},
		Votes:        map[string]Vote{},
		NightActions: map[string]NightAction{},
		Rules:        rules,
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// Clone copies every slice and map so the result can be mutated without
// touching s.
func (s State) Clone() State {
	c := s
	c.Roster = slices.Clone(s.Roster)
	c.Transcript = slices.Clone(s.Transcript)
	c.Council = slices.Clone(s.Council)
	c.Eliminations = slices.Clone(s.Eliminations)
	c.Votes = make(map[string]Vote, len(s.Votes))
	for k, v := range s.Votes {
		c.Votes[k] = v
	}
	c.NightActions = make(map[string]NightAction, len(s.NightActions))
	for k, v := range s.NightActions {
		c.NightActions[k] = v
	}
	return c
}

func (s State) index(id string) int {
	return slices.IndexFunc(s.Roster, func(p Participant) bool { return p.ID == id })
}

func (s State) Find(id string) (Participant, bool) {
	idx := s.index(id)
	if idx < 0 {
		return Participant{}, false
	}
	return s.Roster[idx], true
}

func (s State) Living() []Participant {
	living := make([]Participant, 0, len(s.Roster))
	for _, p := range s.Roster {
		if p.Alive {
			living = append(living, p)
		}
	}
	return living
}

func (s State) LivingIDs() []string {
	ids := make([]string, 0, len(s.Roster))
	for _, p := range s.Roster {
		if p.Alive {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// HarmTeam lists every harm-team member, living or not.
func (s State) HarmTeam() []string {
	var ids []string
	for _, p := range s.Roster {
		if p.Role.Team() == TeamHarm {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// LivingWithRole returns the living participants holding role, in roster order.
func (s State) LivingWithRole(role Role) []Participant {
	var out []Participant
	for _, p := range s.Roster {
		if p.Alive && p.Role == role {
			out = append(out, p)
		}
	}
	return out
}

func (s State) AllReady() bool {
	for _, p := range s.Roster {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (s State) Full() bool {
	return len(s.Roster) >= s.Rules.Capacity
}

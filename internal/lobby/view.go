package lobby

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/DoyleJ11/nightfall-backend/internal/agent"
	"github.com/DoyleJ11/nightfall-backend/internal/engine"
)

// Seat is one roster entry as a given viewer may see it.
type Seat struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Kind  engine.Kind `json:"kind"`
	Alive bool        `json:"alive"`
	Ready bool        `json:"ready"`
	Role  engine.Role `json:"role,omitempty"`
}

type Line struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// PlayerView is the state redacted for one viewer. Roles are shown for the
// viewer, the viewer's harm teammates, the eliminated, and everyone once
// the game is over.
type PlayerView struct {
	Phase     engine.Phase      `json:"phase"`
	Round     int               `json:"round"`
	Deadline  time.Time         `json:"deadline,omitzero"`
	You       string            `json:"you,omitempty"`
	Role      engine.Role       `json:"role,omitempty"`
	Teammates []string          `json:"teammates,omitempty"`
	Speaker   string            `json:"speaker,omitempty"`
	Roster    []Seat            `json:"roster"`
	Votes     map[string]string `json:"votes,omitempty"`
	Talk      []Line            `json:"transcript,omitempty"`
	Council   []Line            `json:"council,omitempty"`
	Winner    engine.Team       `json:"winner,omitempty"`
	EndReason string            `json:"end_reason,omitempty"`
}

// EventView is an engine event with ids swapped for display names.
type EventView struct {
	Type        engine.EventType `json:"type"`
	Round       int              `json:"round,omitempty"`
	Participant string           `json:"participant,omitempty"`
	Target      string           `json:"target,omitempty"`
	Role        engine.Role      `json:"role,omitempty"`
	Cause       engine.Cause     `json:"cause,omitempty"`
	Text        string           `json:"text,omitempty"`
	Outcome     string           `json:"outcome,omitempty"`
	OldPhase    engine.Phase     `json:"old_phase,omitempty"`
	NewPhase    engine.Phase     `json:"new_phase,omitempty"`
	Deadline    time.Time        `json:"deadline,omitzero"`
	Winner      engine.Team      `json:"winner,omitempty"`
}

// nameOf is the public name for id: the display name once assigned, the
// name typed at join before that.
func nameOf(s engine.State, id string) string {
	p, ok := s.Find(id)
	switch {
	case !ok:
		return id
	case p.DisplayName != "":
		return p.DisplayName
	case p.JoinName != "":
		return p.JoinName
	default:
		return id
	}
}

// Redact builds viewer's view of s. An empty viewer gets the public view.
func Redact(s engine.State, viewer string) PlayerView {
	v := PlayerView{
		Phase:     s.Phase,
		Round:     s.Round,
		Deadline:  s.Deadline,
		Winner:    s.Winner,
		EndReason: s.EndReason,
	}
	me, joined := s.Find(viewer)
	onHarmTeam := joined && me.Role.Team() == engine.TeamHarm
	if joined {
		v.You = nameOf(s, viewer)
		v.Role = me.Role
	}

	for _, p := range s.Roster {
		seat := Seat{ID: p.ID, Name: nameOf(s, p.ID), Kind: p.Kind, Alive: p.Alive, Ready: p.Ready}
		mate := onHarmTeam && p.Role.Team() == engine.TeamHarm
		if p.ID == viewer || mate || !p.Alive || s.Phase == engine.PhaseGameOver {
			seat.Role = p.Role
		}
		if s.Phase != engine.PhaseWaiting {
			// Nobody learns who is an agent once the game is on.
			seat.Kind = ""
		}
		if mate && p.ID != viewer {
			v.Teammates = append(v.Teammates, seat.Name)
		}
		v.Roster = append(v.Roster, seat)
	}

	if len(s.Votes) > 0 {
		v.Votes = make(map[string]string, len(s.Votes))
		for voter, vote := range s.Votes {
			v.Votes[nameOf(s, voter)] = nameOf(s, vote.Target)
		}
	}
	for _, u := range s.Transcript {
		v.Talk = append(v.Talk, Line{Speaker: nameOf(s, u.Speaker), Text: u.Text})
	}
	if onHarmTeam {
		for _, u := range s.Council {
			v.Council = append(v.Council, Line{Speaker: nameOf(s, u.Speaker), Text: u.Text})
		}
	}
	return v
}

func (l *Lobby) viewFor(id string) PlayerView {
	v := Redact(l.state, id)
	if l.discussion != nil {
		if cur, ok := l.discussion.Current(); ok {
			v.Speaker = nameOf(l.state, cur)
		}
	}
	return v
}

// eventsFor filters events down to those addressed to viewer.
func (l *Lobby) eventsFor(viewer string, events []engine.Event) []EventView {
	var out []EventView
	for _, evt := range events {
		if evt.Audience != nil && !slices.Contains(evt.Audience, viewer) {
			continue
		}
		out = append(out, EventView{
			Type:        evt.Type,
			Round:       evt.Round,
			Participant: l.eventName(evt.Participant),
			Target:      l.eventName(evt.Target),
			Role:        evt.Role,
			Cause:       evt.Cause,
			Text:        evt.Text,
			Outcome:     evt.Outcome,
			OldPhase:    evt.OldPhase,
			NewPhase:    evt.NewPhase,
			Deadline:    evt.Deadline,
			Winner:      evt.Winner,
		})
	}
	return out
}

func (l *Lobby) eventName(id string) string {
	if id == "" {
		return ""
	}
	return nameOf(l.state, id)
}

// announce tells the agents about evt in display names only. Agents never
// hear about their own lines twice, and private events reach only their
// audience.
func (l *Lobby) announce(evt engine.Event) {
	if l.agents == nil {
		return
	}
	text, ok := l.describe(evt)
	if !ok {
		return
	}

	var to []string
	for _, p := range l.state.Living() {
		if p.Kind != engine.KindAgent {
			continue
		}
		if evt.Audience != nil && !slices.Contains(evt.Audience, p.ID) {
			continue
		}
		if p.ID == evt.Participant && (evt.Type == engine.EvtUtteranceReceived || evt.Type == engine.EvtCouncilMessage) {
			continue
		}
		to = append(to, p.ID)
	}
	if len(to) == 0 {
		return
	}
	l.agents.Announce(agent.Notice{Round: evt.Round, Text: text}, to...)
}

var phaseWords = map[engine.Phase]string{
	engine.PhaseRoleAssignment: "Roles have been dealt.",
	engine.PhaseNight:          "Night falls.",
	engine.PhaseRevelation:     "Dawn breaks.",
	engine.PhaseDiscussion:     "The discussion begins.",
	engine.PhaseVoting:         "Voting is open.",
}

func (l *Lobby) describe(evt engine.Event) (string, bool) {
	who := l.eventName(evt.Participant)
	switch evt.Type {
	case engine.EvtPhaseChanged:
		words, ok := phaseWords[evt.NewPhase]
		if !ok {
			return "", false
		}
		return fmt.Sprintf("Round %d. %s", evt.Round, words), true
	case engine.EvtUtteranceReceived:
		return fmt.Sprintf("%s said: %s", who, evt.Text), true
	case engine.EvtSpeakerPassed:
		return fmt.Sprintf("%s said nothing.", who), true
	case engine.EvtCouncilMessage:
		return fmt.Sprintf("%s (to the team only): %s", who, evt.Text), true
	case engine.EvtVoteCast:
		return fmt.Sprintf("%s voted for %s.", who, l.eventName(evt.Target)), true
	case engine.EvtVoteResolved:
		if evt.Outcome == "hung" {
			return "The vote was tied. Nobody was eliminated.", true
		}
		return "", false
	case engine.EvtNightResolved:
		switch engine.NightResult(evt.Outcome) {
		case engine.NightProtected:
			return "Someone was attacked in the night but was protected.", true
		case engine.NightNoHarm:
			return "The night passed quietly.", true
		}
		return "", false
	case engine.EvtPlayerEliminated:
		role := strings.ReplaceAll(string(evt.Role), "_", " ")
		switch evt.Cause {
		case engine.CauseVote:
			return fmt.Sprintf("%s was voted out. They were a %s.", who, role), true
		case engine.CauseNightHarm:
			return fmt.Sprintf("%s was eliminated during the night. They were a %s.", who, role), true
		default:
			return fmt.Sprintf("%s left the game. They were a %s.", who, role), true
		}
	}
	return "", false
}

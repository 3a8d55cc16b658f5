package engine

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

var ErrWrongPhase = errors.New("wrong phase")
var ErrNotYourTurn = errors.New("not your turn")
var ErrUnknownParticipant = errors.New("unknown participant")
var ErrDuplicateParticipant = errors.New("participant already seated")
var ErrRosterFull = errors.New("roster full")
var ErrAlreadyStarted = errors.New("game already started")
var ErrGameAlreadyCompleted = errors.New("game already completed")
var ErrSelfVote = errors.New("cannot vote for yourself")
var ErrTargetNotAlive = errors.New("target not alive")
var ErrActorNotAlive = errors.New("actor not alive")
var ErrRoleMismatch = errors.New("action does not match role")
var ErrHarmTeamTarget = errors.New("harm team cannot target itself")
var ErrRoleCountMismatch = errors.New("roster does not match role quota")
var ErrEmptyUtterance = errors.New("empty utterance")
var ErrIllegalTransition = errors.New("illegal phase transition")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrNotJoined = errors.New("not joined to this game")
var ErrNamePoolTooSmall = errors.New("not enough display names for every seat")

type Kind string

const (
	KindHuman Kind = "human"
	KindAgent Kind = "agent"
)

type Team string

const (
	TeamNone    Team = ""
	TeamHarm    Team = "harm"
	TeamNonHarm Team = "non_harm"
)

type Role string

const (
	RoleNone           Role = ""
	RoleHarmLeader     Role = "harm_leader"
	RoleHarmAccomplice Role = "harm_accomplice"
	RoleProtector      Role = "protector"
	RoleBystander      Role = "bystander"
)

// Team reports the faction a role plays for. RoleNone has no team.
func (r Role) Team() Team {
	switch r {
	case RoleHarmLeader, RoleHarmAccomplice:
		return TeamHarm
	case RoleProtector, RoleBystander:
		return TeamNonHarm
	default:
		return TeamNone
	}
}

type Phase string

const (
	PhaseWaiting        Phase = "waiting"
	PhaseRoleAssignment Phase = "role_assignment"
	PhaseNight          Phase = "night"
	PhaseRevelation     Phase = "revelation"
	PhaseDiscussion     Phase = "discussion"
	PhaseVoting         Phase = "voting"
	PhaseGameOver       Phase = "game_over"
)

type Cause string

const (
	CauseVote      Cause = "vote"
	CauseNightHarm Cause = "night_harm"
	CauseRemoved   Cause = "removed"
)

type ActionKind string

const (
	ActionHarm    ActionKind = "harm"
	ActionProtect ActionKind = "protect"
)

// ActionFor returns the night action a role may take, if any.
func ActionFor(r Role) (ActionKind, bool) {
	switch r {
	case RoleHarmLeader:
		return ActionHarm, true
	case RoleProtector:
		return ActionProtect, true
	default:
		return "", false
	}
}

type Participant struct {
	ID          string
	DisplayName string
	JoinName    string
	Kind        Kind
	Role        Role
	Alive       bool
	Ready       bool
	Model       string
}

type Vote struct {
	Voter         string
	Target        string
	Justification string
	At            time.Time
}

type NightAction struct {
	Actor  string
	Kind   ActionKind
	Target string
	At     time.Time
}

type Utterance struct {
	Speaker string
	Text    string
	Round   int
	At      time.Time
}

type Elimination struct {
	Participant string
	Role        Role
	Round       int
	Cause       Cause
}

type Quota struct {
	HarmLeaders     int
	HarmAccomplices int
	Protectors      int
}

type Rules struct {
	Capacity        int
	Quota           Quota
	MaxUtteranceLen int
}

type State struct {
	Phase        Phase
	Round        int
	Roster       []Participant
	Votes        map[string]Vote
	NightActions map[string]NightAction
	Transcript   []Utterance
	Council      []Utterance
	Eliminations []Elimination
	Deadline     time.Time
	Winner       Team
	EndReason    string
	Rules        Rules
}

type CommandType string

const (
	CmdJoin        CommandType = "Join"
	CmdLeave       CommandType = "Leave"
	CmdMarkReady   CommandType = "MarkReady"
	CmdStartGame   CommandType = "StartGame"
	CmdFillAgents  CommandType = "FillAgents"
	CmdSpeak       CommandType = "Speak"
	CmdCastVote    CommandType = "CastVote"
	CmdNightAction CommandType = "NightAction"
)

/*
	CmdJoin        -> EvtParticipantJoined
	CmdLeave       -> EvtParticipantLeft (waiting only; in-game leaves are eliminations owned by the lobby)
	CmdMarkReady   -> EvtParticipantReady
	CmdCastVote    -> EvtVoteCast (replaces any earlier vote by the same voter)
	CmdNightAction -> EvtNightActionSubmitted (replaces any earlier action by the same actor)

	CmdStartGame, CmdFillAgents and CmdSpeak need coordinator or registry state and are routed by the lobby.
*/

type Command struct {
	Type          CommandType
	ParticipantID string
	Name          string
	Kind          Kind
	Model         string
	Target        string
	Text          string
	Action        ActionKind
	Count         int
}

type EventType string

const (
	EvtParticipantJoined    EventType = "participant_joined"
	EvtParticipantLeft      EventType = "participant_left"
	EvtParticipantReady     EventType = "participant_ready"
	EvtRoleAssigned         EventType = "role_assigned"
	EvtPhaseChanged         EventType = "phase_changed"
	EvtUtteranceReceived    EventType = "utterance_received"
	EvtSpeakerPassed        EventType = "speaker_passed"
	EvtCouncilMessage       EventType = "council_message"
	EvtVoteCast             EventType = "vote_cast"
	EvtVoteResolved         EventType = "vote_resolved"
	EvtNightActionSubmitted EventType = "night_action_submitted"
	EvtNightResolved        EventType = "night_resolved"
	EvtPlayerEliminated     EventType = "player_eliminated"
	EvtGameEnded            EventType = "game_ended"
)

// Event is a fact produced by a state change. Audience lists the
// participant ids allowed to see it; nil means everyone.
type Event struct {
	Type        EventType
	Round       int
	Participant string
	Target      string
	Role        Role
	Cause       Cause
	Text        string
	Outcome     string
	OldPhase    Phase
	NewPhase    Phase
	Deadline    time.Time
	Winner      Team
	Audience    []string
}

func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseGameOver {
		return nil, s, ErrGameAlreadyCompleted
	}

	switch cmd.Type {
	case CmdJoin:
		if s.Phase != PhaseWaiting {
			return nil, s, ErrAlreadyStarted
		}
		if len(s.Roster) >= s.Rules.Capacity {
			return nil, s, ErrRosterFull
		}
		if _, ok := s.Find(cmd.ParticipantID); ok {
			return nil, s, ErrDuplicateParticipant
		}

		kind := cmd.Kind
		if kind == "" {
			kind = KindHuman
		}
		newState := s.Clone()
		newState.Roster = append(newState.Roster, Participant{
			ID:       cmd.ParticipantID,
			JoinName: cmd.Name,
			Kind:     kind,
			Alive:    true,
			// Agents never need to be readied.
			Ready: kind == KindAgent,
			Model: cmd.Model,
		})
		events := []Event{{Type: EvtParticipantJoined, Participant: cmd.ParticipantID, Text: cmd.Name}}
		return events, newState, nil

	case CmdLeave:
		if s.Phase != PhaseWaiting {
			return nil, s, ErrAlreadyStarted
		}
		idx := s.index(cmd.ParticipantID)
		if idx < 0 {
			return nil, s, ErrUnknownParticipant
		}
		newState := s.Clone()
		newState.Roster = append(newState.Roster[:idx], newState.Roster[idx+1:]...)
		return []Event{{Type: EvtParticipantLeft, Participant: cmd.ParticipantID}}, newState, nil

	case CmdMarkReady:
		if s.Phase != PhaseWaiting {
			return nil, s, ErrAlreadyStarted
		}
		idx := s.index(cmd.ParticipantID)
		if idx < 0 {
			return nil, s, ErrUnknownParticipant
		}
		newState := s.Clone()
		newState.Roster[idx].Ready = true
		return []Event{{Type: EvtParticipantReady, Participant: cmd.ParticipantID}}, newState, nil

	case CmdCastVote:
		if err := ValidateVote(s, cmd.ParticipantID, cmd.Target); err != nil {
			return nil, s, err
		}
		newState := s.Clone()
		// Keyed by voter, so a resubmission replaces the earlier vote.
		newState.Votes[cmd.ParticipantID] = Vote{
			Voter:         cmd.ParticipantID,
			Target:        cmd.Target,
			Justification: strings.TrimSpace(cmd.Text),
			At:            time.Now(),
		}
		events := []Event{{
			Type:        EvtVoteCast,
			Round:       s.Round,
			Participant: cmd.ParticipantID,
			Target:      cmd.Target,
			Text:        strings.TrimSpace(cmd.Text),
		}}
		return events, newState, nil

	case CmdNightAction:
		if err := ValidateNightAction(s, cmd.ParticipantID, cmd.Action, cmd.Target); err != nil {
			return nil, s, err
		}
		newState := s.Clone()
		newState.NightActions[cmd.ParticipantID] = NightAction{
			Actor:  cmd.ParticipantID,
			Kind:   cmd.Action,
			Target: cmd.Target,
			At:     time.Now(),
		}
		audience := []string{cmd.ParticipantID}
		if cmd.Action == ActionHarm {
			audience = s.HarmTeam()
		}
		events := []Event{{
			Type:        EvtNightActionSubmitted,
			Round:       s.Round,
			Participant: cmd.ParticipantID,
			Target:      cmd.Target,
			Outcome:     string(cmd.Action),
			Audience:    audience,
		}}
		return events, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// ValidateVote checks a vote against the current state without recording it.
func ValidateVote(s State, voter, target string) error {
	if s.Phase != PhaseVoting {
		return ErrWrongPhase
	}
	v, ok := s.Find(voter)
	if !ok {
		return ErrUnknownParticipant
	}
	if !v.Alive {
		return ErrActorNotAlive
	}
	if voter == target {
		return ErrSelfVote
	}
	t, ok := s.Find(target)
	if !ok {
		return ErrUnknownParticipant
	}
	if !t.Alive {
		return ErrTargetNotAlive
	}
	return nil
}

// ValidateNightAction checks that actor may take kind against target. An
// empty target is a deliberate abstention and is always legal.
func ValidateNightAction(s State, actor string, kind ActionKind, target string) error {
	if s.Phase != PhaseNight {
		return ErrWrongPhase
	}
	a, ok := s.Find(actor)
	if !ok {
		return ErrUnknownParticipant
	}
	if !a.Alive {
		return ErrActorNotAlive
	}
	allowed, ok := ActionFor(a.Role)
	if !ok || allowed != kind {
		return ErrRoleMismatch
	}
	if target == "" {
		return nil
	}
	t, ok := s.Find(target)
	if !ok {
		return ErrUnknownParticipant
	}
	if !t.Alive {
		return ErrTargetNotAlive
	}
	if kind == ActionHarm && t.Role.Team() == TeamHarm {
		return ErrHarmTeamTarget
	}
	return nil
}

// ValidateUtterance trims text and caps it to the rules' length limit.
// Speaker order is the discussion coordinator's concern, not checked here.
func ValidateUtterance(s State, speaker, text string) (string, error) {
	p, ok := s.Find(speaker)
	if !ok {
		return "", ErrUnknownParticipant
	}
	if !p.Alive {
		return "", ErrActorNotAlive
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyUtterance
	}
	if limit := s.Rules.MaxUtteranceLen; limit > 0 && utf8.RuneCountInString(text) > limit {
		text = string([]rune(text)[:limit])
	}
	return text, nil
}

// Eliminate flips a living participant to eliminated and records why.
func Eliminate(s State, id string, cause Cause) ([]Event, State, error) {
	idx := s.index(id)
	if idx < 0 {
		return nil, s, ErrUnknownParticipant
	}
	if !s.Roster[idx].Alive {
		return nil, s, ErrTargetNotAlive
	}
	newState := s.Clone()
	p := &newState.Roster[idx]
	p.Alive = false
	newState.Eliminations = append(newState.Eliminations, Elimination{
		Participant: id,
		Role:        p.Role,
		Round:       s.Round,
		Cause:       cause,
	})
	// Votes and actions by or against someone no longer alive are void.
	delete(newState.Votes, id)
	delete(newState.NightActions, id)
	for voter, v := range newState.Votes {
		if v.Target == id {
			delete(newState.Votes, voter)
		}
	}
	for actor, a := range newState.NightActions {
		if a.Target == id {
			a.Target = ""
			newState.NightActions[actor] = a
		}
	}

	events := []Event{{
		Type:        EvtPlayerEliminated,
		Round:       s.Round,
		Participant: id,
		Role:        p.Role,
		Cause:       cause,
	}}
	return events, newState, nil
}

var ReasonCodes = map[error]string{
	ErrWrongPhase:           "wrong_phase",
	ErrNotYourTurn:          "not_your_turn",
	ErrUnknownParticipant:   "unknown_participant",
	ErrDuplicateParticipant: "duplicate_participant",
	ErrRosterFull:           "roster_full",
	ErrAlreadyStarted:       "already_started",
	ErrGameAlreadyCompleted: "game_over",
	ErrSelfVote:             "self_vote",
	ErrTargetNotAlive:       "target_not_alive",
	ErrActorNotAlive:        "actor_not_alive",
	ErrRoleMismatch:         "role_mismatch",
	ErrHarmTeamTarget:       "harm_team_target",
	ErrRoleCountMismatch:    "role_count_mismatch",
	ErrEmptyUtterance:       "empty_utterance",
	ErrIllegalTransition:    "illegal_transition",
	ErrUnsupportedCommand:   "unsupported_command",
	ErrNotJoined:            "not_joined",
	ErrNamePoolTooSmall:     "name_pool_too_small",
}

// ReasonCode maps an engine error (possibly wrapped) to its wire code.
func ReasonCode(err error) string {
	if err == nil {
		return ""
	}
	for sentinel, code := range ReasonCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "internal"
}

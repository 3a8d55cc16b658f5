package lobby

import (
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/nightfall-backend/internal/agent"
	"github.com/DoyleJ11/nightfall-backend/internal/anon"
	"github.com/DoyleJ11/nightfall-backend/internal/coord"
	"github.com/DoyleJ11/nightfall-backend/internal/engine"
	"github.com/DoyleJ11/nightfall-backend/internal/extract"
)

const (
	timerPhase   = "phase"
	timerSpeaker = "speaker"
	timerCouncil = "council"
)

// emit records events for the next snapshot, the sink and the agents.
func (l *Lobby) emit(events ...engine.Event) {
	for _, evt := range events {
		l.pending = append(l.pending, evt)
		if l.deps.Sink != nil {
			l.deps.Sink.Record(l.code, l.state.Phase, evt)
		}
		l.announce(evt)
	}
	l.dirty = true
}

// start assigns roles, names every seat and briefs the agents. A roster
// that does not match the quota leaves the game waiting.
func (l *Lobby) start() error {
	if err := l.cfg.CheckSeats(); err != nil {
		return err
	}
	events, next, err := engine.AssignRoles(l.state, l.rng)
	if err != nil {
		return err
	}

	names := anon.New(l.cfg.NamePool, l.rng)
	for i := range next.Roster {
		name, err := names.Assign(next.Roster[i].ID)
		if err != nil {
			return fmt.Errorf("name participant: %w", err)
		}
		next.Roster[i].DisplayName = name
	}

	l.state = next
	l.names = names
	// The chain draws fallbacks on dispatcher goroutines, so it gets its
	// own source split off the game seed.
	l.chain = extract.NewChain(rand.New(rand.NewPCG(l.rng.Uint64(), l.rng.Uint64())))
	l.agents = agent.New(l.ctx, l.deps.Generator, l.deps.AgentOptions, l.log)
	l.dispatch = coord.NewDispatcher(l.agents, l.chain, l.cfg.MaxParallelRequests, l.log)

	for _, p := range l.state.Roster {
		if p.Kind != engine.KindAgent {
			continue
		}
		if err := l.agents.Register(agent.Profile{ID: p.ID, Name: p.DisplayName, Model: p.Model}); err != nil {
			l.log.Warn("register agent", zap.String("participant", p.ID), zap.Error(err))
			continue
		}
		if b, ok := engine.Brief(l.state, p.ID); ok {
			l.agents.Inform(p.ID, agent.Update{Briefing: &agent.Briefing{
				Role:         string(b.Role),
				Team:         string(b.Team),
				WinCondition: b.WinCondition,
				Teammates:    l.names.Names(b.Teammates),
			}})
		}
	}

	l.log.Info("game starting", zap.Int("participants", len(l.state.Roster)), zap.Int("named", l.names.Len()))
	l.emit(events...)
	l.enter(engine.PhaseRoleAssignment, l.cfg.RoleAssignmentDelay)
	return nil
}

func (l *Lobby) closeScope() {
	if l.scope != nil {
		l.scope.Close()
		l.scope = nil
	}
	l.discussion, l.voting, l.night = nil, nil, nil
}

// enter moves the game into phase with a deadline d from now and starts
// that phase's coordinator.
func (l *Lobby) enter(phase engine.Phase, d time.Duration) {
	evt, next, err := engine.Transition(l.state, phase, time.Now().Add(d))
	if err != nil {
		l.log.Error("transition", zap.Error(err))
		return
	}
	l.closeScope()
	l.gen++
	l.scope = coord.NewScope(l.ctx, l.gen)
	l.state = next
	l.informAll()
	l.emit(evt)
	l.log.Debug("phase changed", zap.String("phase", string(phase)), zap.Int("round", next.Round))

	l.arm(timerPhase, d, "")
	switch phase {
	case engine.PhaseNight:
		l.startNight()
	case engine.PhaseDiscussion:
		l.discussion = coord.NewDiscussion(l.scope, l.state, l.rng, l.cfg.Timing)
		l.nextSpeaker()
	case engine.PhaseVoting:
		l.voting = coord.NewVoting(l.cfg.Timing)
		l.dispatch.Run(l.scope, l.voting.Jobs(l.state, l.names, l.rng), l.deliver)
	}
}

// arm starts a named timer on the current scope that posts back to the loop.
func (l *Lobby) arm(name string, d time.Duration, participant string) {
	gen := l.gen
	l.scope.After(name, d, func() {
		l.post(timerFired{Gen: gen, Name: name, Participant: participant})
	})
}

func (l *Lobby) deliver(out coord.Outcome) {
	l.post(agentAnswer{out})
}

func (l *Lobby) onTimer(t timerFired) {
	if t.Gen != l.gen || l.state.Phase == engine.PhaseGameOver {
		l.log.Debug("stale timer", zap.String("timer", t.Name), zap.Uint64("gen", t.Gen))
		return
	}
	switch t.Name {
	case timerSpeaker:
		if l.discussion != nil && l.discussion.Pass(t.Participant) {
			l.passed(t.Participant)
		}
	case timerCouncil:
		if l.night != nil && l.night.CloseCouncil() {
			l.startActions()
		}
	case timerPhase:
		l.log.Debug("phase deadline", zap.String("phase", string(l.state.Phase)))
		switch l.state.Phase {
		case engine.PhaseRoleAssignment:
			l.enter(engine.PhaseNight, l.cfg.NightDuration)
		case engine.PhaseNight:
			l.closeNight()
		case engine.PhaseRevelation:
			l.enter(engine.PhaseDiscussion, l.cfg.DiscussionDuration)
		case engine.PhaseDiscussion:
			l.enter(engine.PhaseVoting, l.cfg.VotingDuration)
		case engine.PhaseVoting:
			l.closeVoting()
		}
	}
}

func (l *Lobby) onAnswer(out coord.Outcome) {
	if out.Gen != l.gen || l.state.Phase == engine.PhaseGameOver {
		l.log.Debug("stale agent answer", zap.String("participant", out.Participant), zap.Uint64("gen", out.Gen))
		return
	}
	switch out.Kind {
	case agent.KindSpeech:
		if l.discussion == nil {
			return
		}
		if out.Err != nil {
			if l.discussion.Pass(out.Participant) {
				l.passed(out.Participant)
			}
			return
		}
		if err := l.speak(out.Participant, out.Result.Payload.Text); err != nil {
			l.log.Debug("agent speech rejected", zap.String("participant", out.Participant), zap.Error(err))
		}

	case agent.KindCouncil:
		if l.night == nil {
			return
		}
		if out.Err == nil {
			if err := l.counsel(out.Participant, out.Result.Payload.Text); err != nil {
				l.log.Debug("council message rejected", zap.String("participant", out.Participant), zap.Error(err))
			}
		}
		if l.night.CouncilReply(out.Participant) {
			l.scope.Stop(timerCouncil)
			l.startActions()
		}

	case agent.KindVote:
		if l.voting == nil {
			return
		}
		cmd, err := l.voting.Command(l.names, out)
		if err == nil {
			err = l.apply(cmd)
		}
		if err != nil {
			fallback, ok := l.voting.Fallback(l.state, l.names, l.chain, out.Participant)
			if !ok || l.apply(fallback) != nil {
				l.log.Info("agent could not vote", zap.String("participant", out.Participant), zap.Error(err))
			}
		}
		l.maybeCloseVoting()

	case agent.KindNight:
		if l.night == nil {
			return
		}
		cmd, err := l.night.Command(l.state, l.names, out)
		if err == nil {
			err = l.apply(cmd)
		}
		if err != nil {
			fallback, ok := l.night.Fallback(l.state, l.names, l.chain, out.Participant)
			if !ok || l.apply(fallback) != nil {
				l.log.Info("agent could not act", zap.String("participant", out.Participant), zap.Error(err))
			}
		}
		l.maybeCloseNight()
	}
}

// apply runs cmd through the engine and records the result.
func (l *Lobby) apply(cmd engine.Command) error {
	events, next, err := engine.Apply(l.state, cmd)
	if err != nil {
		return err
	}
	l.state = next
	l.emit(events...)
	return nil
}

// Discussion

func (l *Lobby) nextSpeaker() {
	if l.discussion.Done() {
		l.enter(engine.PhaseVoting, l.cfg.VotingDuration)
		return
	}
	cur, _ := l.discussion.Current()
	l.arm(timerSpeaker, l.cfg.Timing.SpeakerTimeout, cur)
	if job, ok := l.discussion.Job(l.state); ok {
		l.dispatch.Run(l.scope, []coord.Job{job}, l.deliver)
	}
	l.dirty = true
}

func (l *Lobby) passed(id string) {
	l.emit(engine.Event{Type: engine.EvtSpeakerPassed, Round: l.state.Round, Participant: id})
	l.nextSpeaker()
}

// speak routes an utterance: the discussion transcript by day, the harm
// team's council by night.
func (l *Lobby) speak(id, text string) error {
	switch l.state.Phase {
	case engine.PhaseDiscussion:
	case engine.PhaseNight:
		return l.counsel(id, text)
	default:
		return engine.ErrWrongPhase
	}

	text, err := engine.ValidateUtterance(l.state, id, text)
	if err != nil {
		return err
	}
	if err := l.discussion.Accept(id); err != nil {
		return err
	}
	next := l.state.Clone()
	next.Transcript = append(next.Transcript, engine.Utterance{Speaker: id, Text: text, Round: next.Round, At: time.Now()})
	l.state = next
	l.emit(engine.Event{Type: engine.EvtUtteranceReceived, Round: next.Round, Participant: id, Text: text})
	l.scope.Stop(timerSpeaker)
	l.nextSpeaker()
	return nil
}

func (l *Lobby) counsel(id, text string) error {
	p, ok := l.state.Find(id)
	if !ok {
		return engine.ErrUnknownParticipant
	}
	if p.Role.Team() != engine.TeamHarm {
		return engine.ErrRoleMismatch
	}
	text, err := engine.ValidateUtterance(l.state, id, text)
	if err != nil {
		return err
	}
	next := l.state.Clone()
	next.Council = append(next.Council, engine.Utterance{Speaker: id, Text: text, Round: next.Round, At: time.Now()})
	l.state = next
	l.emit(engine.Event{
		Type:        engine.EvtCouncilMessage,
		Round:       next.Round,
		Participant: id,
		Text:        text,
		Audience:    next.HarmTeam(),
	})
	return nil
}

// Voting

func (l *Lobby) maybeCloseVoting() {
	if l.voting != nil && l.state.Phase == engine.PhaseVoting && l.voting.Closed(l.state) {
		l.closeVoting()
	}
}

// closeVoting resolves the tally before the transition clears the votes.
func (l *Lobby) closeVoting() {
	tally := l.voting.Resolve(l.state)
	// Late answers are dropped from here on.
	l.voting = nil

	if tally.Hung {
		l.emit(engine.Event{Type: engine.EvtVoteResolved, Round: l.state.Round, Outcome: "hung"})
		l.enter(engine.PhaseNight, l.cfg.NightDuration)
		return
	}
	l.emit(engine.Event{Type: engine.EvtVoteResolved, Round: l.state.Round, Target: tally.Leader, Outcome: "eliminated"})
	if l.eliminate(tally.Leader, engine.CauseVote) {
		return
	}
	l.enter(engine.PhaseNight, l.cfg.NightDuration)
}

// Night

func (l *Lobby) startNight() {
	l.night = coord.NewNight(l.cfg.Timing)
	council := l.night.CouncilJobs(l.state)
	if len(council) == 0 {
		l.startActions()
		return
	}
	l.arm(timerCouncil, l.cfg.Timing.CouncilTimeout, "")
	l.dispatch.Run(l.scope, council, l.deliver)
}

func (l *Lobby) startActions() {
	l.dispatch.Run(l.scope, l.night.ActionJobs(l.state, l.names, l.rng), l.deliver)
	l.maybeCloseNight()
}

func (l *Lobby) maybeCloseNight() {
	if l.night != nil && l.state.Phase == engine.PhaseNight && l.night.Closed(l.state) {
		l.closeNight()
	}
}

// closeNight resolves the recorded actions, then reveals the result.
func (l *Lobby) closeNight() {
	outcome := l.night.Resolve(l.state)
	l.enter(engine.PhaseRevelation, l.cfg.RevelationDelay)

	// A protected target stays anonymous.
	l.emit(engine.Event{Type: engine.EvtNightResolved, Round: l.state.Round, Outcome: string(outcome.Result)})
	if outcome.Result == engine.NightHarmed {
		l.eliminate(outcome.HarmTarget, engine.CauseNightHarm)
	}
}

// Elimination

// eliminate removes id and checks the win rule straight away. It reports
// whether the game ended.
func (l *Lobby) eliminate(id string, cause engine.Cause) bool {
	events, next, err := engine.Eliminate(l.state, id, cause)
	if err != nil {
		l.log.Warn("eliminate", zap.String("participant", id), zap.Error(err))
		return false
	}
	l.state = next
	l.emit(events...)
	if l.agents != nil {
		l.agents.Retire(id)
	}

	if outcome, over := engine.CheckWin(l.state); over {
		l.end(outcome)
		return true
	}

	if l.discussion != nil && l.discussion.Remove(id) {
		l.scope.Stop(timerSpeaker)
		l.nextSpeaker()
	}
	l.maybeCloseVoting()
	l.maybeCloseNight()
	return false
}

func (l *Lobby) end(outcome engine.Outcome) {
	events, next, err := engine.End(l.state, outcome)
	if err != nil {
		l.log.Error("end game", zap.Error(err))
		return
	}
	l.closeScope()
	l.gen++
	l.state = next
	l.emit(events...)
	l.log.Info("game over", zap.String("winner", string(outcome.Winner)), zap.String("reason", outcome.Reason))

	l.agents.Close()
	l.names.Reset()
}

// informAll pushes a fresh snapshot to every agent still in play.
func (l *Lobby) informAll() {
	if l.agents == nil {
		return
	}
	snap := agent.Snapshot{Phase: string(l.state.Phase), Round: l.state.Round}
	for _, p := range l.state.Roster {
		if p.Alive {
			snap.Living = append(snap.Living, p.DisplayName)
		} else {
			snap.Eliminated = append(snap.Eliminated, p.DisplayName)
		}
	}
	for _, p := range l.state.Living() {
		if p.Kind == engine.KindAgent {
			l.agents.Inform(p.ID, agent.Update{Snapshot: &snap})
		}
	}
}

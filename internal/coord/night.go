package coord

import (
	"math/rand/v2"

	"github.com/DoyleJ11/nightfall-backend/internal/agent"
	"github.com/DoyleJ11/nightfall-backend/internal/engine"
	"github.com/DoyleJ11/nightfall-backend/internal/extract"
)

const (
	councilInstruction = "Night has fallen. Send your team one short private message suggesting who to target tonight."
	harmInstruction    = "Night has fallen. Choose one participant to eliminate tonight."
	protectInstruction = "Night has fallen. Choose one participant to protect tonight. You may choose yourself."
)

// Night runs the harm team's private council and then collects one action
// from each living actor.
type Night struct {
	timing  Timing
	pending map[string]bool
	council bool
}

func NewNight(timing Timing) *Night {
	return &Night{timing: timing, pending: map[string]bool{}}
}

// Actors returns the living participants expected to act tonight.
func Actors(s engine.State) []engine.Participant {
	var out []engine.Participant
	for _, p := range s.Living() {
		if _, ok := engine.ActionFor(p.Role); ok {
			out = append(out, p)
		}
	}
	return out
}

// ActionTargets lists the display names actor may choose. Harm actors may
// not pick their own team; protectors may pick anyone living.
func ActionTargets(s engine.State, names Names, actor string) []string {
	a, ok := s.Find(actor)
	if !ok {
		return nil
	}
	kind, ok := engine.ActionFor(a.Role)
	if !ok {
		return nil
	}
	var ps []engine.Participant
	for _, p := range s.Living() {
		if kind == engine.ActionHarm && p.Role.Team() == engine.TeamHarm {
			continue
		}
		ps = append(ps, p)
	}
	return namesOf(names, ps)
}

// CouncilJobs asks every living agent accomplice for a message. When there
// is nobody to ask the council is already over.
func (n *Night) CouncilJobs(s engine.State) []Job {
	var jobs []Job
	for _, p := range s.LivingWithRole(engine.RoleHarmAccomplice) {
		if p.Kind != engine.KindAgent {
			continue
		}
		n.pending[p.ID] = true
		jobs = append(jobs, Job{
			Participant: p.ID,
			Request:     agent.Request{Kind: agent.KindCouncil, Instruction: councilInstruction},
			Schema:      extract.SchemaSpeech,
			Timeout:     n.timing.CouncilTimeout,
		})
	}
	n.council = len(jobs) > 0
	return jobs
}

func (n *Night) CouncilOpen() bool { return n.council }

// CouncilReply marks id as heard. It reports true when that was the last
// outstanding message.
func (n *Night) CouncilReply(id string) bool {
	if !n.council || !n.pending[id] {
		return false
	}
	delete(n.pending, id)
	if len(n.pending) == 0 {
		n.council = false
		return true
	}
	return false
}

// CloseCouncil ends the council early. It reports whether it was still open.
func (n *Night) CloseCouncil() bool {
	if !n.council {
		return false
	}
	n.council = false
	clear(n.pending)
	return true
}

// ActionJobs asks every living agent actor for its night action.
func (n *Night) ActionJobs(s engine.State, names Names, rng *rand.Rand) []Job {
	var jobs []Job
	for _, p := range Actors(s) {
		if p.Kind != engine.KindAgent {
			continue
		}
		kind, _ := engine.ActionFor(p.Role)
		instruction := protectInstruction
		if kind == engine.ActionHarm {
			instruction = harmInstruction
		}
		jobs = append(jobs, Job{
			Participant: p.ID,
			Request: agent.Request{
				Kind:        agent.KindNight,
				Instruction: instruction,
				Targets:     ActionTargets(s, names, p.ID),
			},
			Schema:  extract.SchemaNight,
			Timeout: n.timing.ActionTimeout,
		})
	}
	for i, d := range Stagger(len(jobs), n.timing.MaxStagger, rng) {
		jobs[i].Delay = d
	}
	return jobs
}

// Command turns an agent outcome into a NightAction of the kind its role allows.
func (n *Night) Command(s engine.State, names Names, out Outcome) (engine.Command, error) {
	p, ok := s.Find(out.Participant)
	if !ok {
		return engine.Command{}, engine.ErrUnknownParticipant
	}
	kind, ok := engine.ActionFor(p.Role)
	if !ok {
		return engine.Command{}, engine.ErrRoleMismatch
	}
	cmd := engine.Command{Type: engine.CmdNightAction, ParticipantID: out.Participant, Action: kind}
	if !out.Result.Valid {
		// Nobody legal to target: abstain.
		return cmd, nil
	}
	target, err := targetID(names, out)
	if err != nil {
		return engine.Command{}, err
	}
	cmd.Target = target
	return cmd, nil
}

// Fallback picks an action for actor from the targets legal right now.
func (n *Night) Fallback(s engine.State, names Names, chain *extract.Chain, actor string) (engine.Command, bool) {
	res := chain.Default(extract.SchemaNight, ActionTargets(s, names, actor))
	cmd, err := n.Command(s, names, Outcome{Participant: actor, Result: res})
	return cmd, err == nil
}

// Closed reports whether the council is over and every living actor has
// an action on record.
func (n *Night) Closed(s engine.State) bool {
	if n.council {
		return false
	}
	for _, p := range Actors(s) {
		if _, ok := s.NightActions[p.ID]; !ok {
			return false
		}
	}
	return true
}

func (n *Night) Resolve(s engine.State) engine.NightOutcome {
	return engine.ResolveNight(s.NightActions)
}

package coord

import (
	"math/rand/v2"

	"github.com/DoyleJ11/nightfall-backend/internal/agent"
	"github.com/DoyleJ11/nightfall-backend/internal/engine"
	"github.com/DoyleJ11/nightfall-backend/internal/extract"
)

const voteInstruction = "Voting is open. Choose one participant to eliminate and give a short reason."

// Voting collects one vote from every living participant. Agents are asked
// in parallel with staggered launches.
type Voting struct {
	timing Timing
}

func NewVoting(timing Timing) *Voting {
	return &Voting{timing: timing}
}

// VoteTargets are the display names voter may choose: everyone living
// except voter.
func VoteTargets(s engine.State, names Names, voter string) []string {
	var ps []engine.Participant
	for _, p := range s.Living() {
		if p.ID != voter {
			ps = append(ps, p)
		}
	}
	return namesOf(names, ps)
}

func (v *Voting) Jobs(s engine.State, names Names, rng *rand.Rand) []Job {
	var jobs []Job
	for _, p := range s.Living() {
		if p.Kind != engine.KindAgent {
			continue
		}
		jobs = append(jobs, Job{
			Participant: p.ID,
			Request: agent.Request{
				Kind:        agent.KindVote,
				Instruction: voteInstruction,
				Targets:     VoteTargets(s, names, p.ID),
			},
			Schema:  extract.SchemaVote,
			Timeout: v.timing.VoteTimeout,
		})
	}
	for i, d := range Stagger(len(jobs), v.timing.MaxStagger, rng) {
		jobs[i].Delay = d
	}
	return jobs
}

// Command turns an agent outcome into a CastVote.
func (v *Voting) Command(names Names, out Outcome) (engine.Command, error) {
	target, err := targetID(names, out)
	if err != nil {
		return engine.Command{}, err
	}
	return engine.Command{
		Type:          engine.CmdCastVote,
		ParticipantID: out.Participant,
		Target:        target,
		Text:          out.Result.Payload.Justification,
	}, nil
}

// Fallback picks a vote for voter from the targets legal right now. It
// reports false when no one is left to vote for.
func (v *Voting) Fallback(s engine.State, names Names, chain *extract.Chain, voter string) (engine.Command, bool) {
	res := chain.Default(extract.SchemaVote, VoteTargets(s, names, voter))
	cmd, err := v.Command(names, Outcome{Participant: voter, Result: res})
	return cmd, err == nil && cmd.Target != ""
}

// Closed reports whether every living participant has a vote on record.
func (v *Voting) Closed(s engine.State) bool {
	for _, id := range s.LivingIDs() {
		if _, ok := s.Votes[id]; !ok {
			return false
		}
	}
	return true
}

func (v *Voting) Resolve(s engine.State) engine.VoteTally {
	return engine.TallyVotes(s.Votes)
}

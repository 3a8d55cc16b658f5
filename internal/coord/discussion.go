package coord

import (
	"math/rand/v2"
	"slices"

	"github.com/DoyleJ11/nightfall-backend/internal/agent"
	"github.com/DoyleJ11/nightfall-backend/internal/engine"
	"github.com/DoyleJ11/nightfall-backend/internal/extract"
)

const speechSlot = "speech"

const speakInstruction = "It is your turn to speak in the discussion. Share a suspicion, defend yourself, or react to what was said."

// Discussion walks a fixed, shuffled speaking order one speaker at a time.
// At most one agent request is in flight: moving the floor cancels it.
type Discussion struct {
	scope  *Scope
	timing Timing
	order  []string
	cursor int
	passed []string
}

func NewDiscussion(scope *Scope, s engine.State, rng *rand.Rand, timing Timing) *Discussion {
	order := s.LivingIDs()
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return &Discussion{scope: scope, timing: timing, order: order}
}

func (d *Discussion) Order() []string { return slices.Clone(d.order) }

func (d *Discussion) Current() (string, bool) {
	if d.cursor >= len(d.order) {
		return "", false
	}
	return d.order[d.cursor], true
}

func (d *Discussion) Done() bool { return d.cursor >= len(d.order) }

// Passed lists speakers whose turn ran out, in order.
func (d *Discussion) Passed() []string { return slices.Clone(d.passed) }

// Accept takes the current speaker's utterance and moves on.
func (d *Discussion) Accept(speaker string) error {
	cur, ok := d.Current()
	if !ok || cur != speaker {
		return engine.ErrNotYourTurn
	}
	d.advance()
	return nil
}

// Pass skips speaker if it still holds the floor. It reports false for a
// stale timeout.
func (d *Discussion) Pass(speaker string) bool {
	cur, ok := d.Current()
	if !ok || cur != speaker {
		return false
	}
	d.passed = append(d.passed, speaker)
	d.advance()
	return true
}

func (d *Discussion) advance() {
	d.cursor++
	d.scope.Release(speechSlot)
}

// Remove drops id from the remaining order. It reports whether id held
// the floor.
func (d *Discussion) Remove(id string) bool {
	idx := slices.Index(d.order, id)
	if idx < d.cursor {
		return false
	}
	d.order = slices.Delete(d.order, idx, idx+1)
	if idx != d.cursor {
		return false
	}
	d.scope.Release(speechSlot)
	return true
}

// Job builds the request for the current speaker when it is an agent.
func (d *Discussion) Job(s engine.State) (Job, bool) {
	cur, ok := d.Current()
	if !ok {
		return Job{}, false
	}
	p, ok := s.Find(cur)
	if !ok || p.Kind != engine.KindAgent {
		return Job{}, false
	}
	return Job{
		Participant: cur,
		Request:     agent.Request{Kind: agent.KindSpeech, Instruction: speakInstruction},
		Schema:      extract.SchemaSpeech,
		Timeout:     d.timing.SpeakerTimeout,
		Ctx:         d.scope.Slot(speechSlot),
	}, true
}

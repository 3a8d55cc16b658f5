// Package extract turns free-form agent output into a schema-valid action.
//
// A Chain tries five tiers in order, each one more forgiving and less
// trusted than the last. Every tier is an exported pure function so it can
// be exercised on its own. The final tier synthesizes a default and cannot
// fail while there is at least one legal target, so Extract always returns
// something usable; degraded answers are only visible through Confidence.
package extract

import (
	"math/rand/v2"
	"strings"
	"sync"
	"unicode/utf8"
)

type Schema string

const (
	SchemaSpeech Schema = "speech"
	SchemaVote   Schema = "vote"
	SchemaNight  Schema = "night_action"
)

// NeedsTarget reports whether the schema's payload names a participant.
func (s Schema) NeedsTarget() bool {
	return s == SchemaVote || s == SchemaNight
}

type Tier int

const (
	TierStrict Tier = iota + 1
	TierEmbedded
	TierPattern
	TierContainment
	TierDefault
)

var confidence = map[Tier]float64{
	TierStrict:      1.0,
	TierEmbedded:    0.8,
	TierPattern:     0.6,
	TierContainment: 0.4,
	TierDefault:     0.1,
}

func (t Tier) Confidence() float64 { return confidence[t] }

func (t Tier) String() string {
	switch t {
	case TierStrict:
		return "strict"
	case TierEmbedded:
		return "embedded"
	case TierPattern:
		return "pattern"
	case TierContainment:
		return "containment"
	case TierDefault:
		return "default"
	default:
		return "unknown"
	}
}

// Payload is the extracted action. Target is always one of the legal
// target names exactly as supplied, never the agent's spelling of it.
type Payload struct {
	Text          string
	Target        string
	Justification string
}

type Result struct {
	Valid      bool
	Payload    Payload
	Confidence float64
	Tier       Tier
}

// TierFunc is the shape of tiers one to four.
type TierFunc func(text string, schema Schema, targets []string) (Payload, bool)

var tiers = []struct {
	tier Tier
	fn   TierFunc
}{
	{TierStrict, Strict},
	{TierEmbedded, Embedded},
	{TierPattern, Patterns},
	{TierContainment, Containment},
}

const (
	maxSpeechLen        = 500
	maxJustificationLen = 280
)

var stockSpeech = []string{
	"I'm still weighing what everyone has said.",
	"Nothing to add yet, I'll keep listening.",
	"I don't have a strong read on anyone right now.",
	"Let's hear a bit more before we decide.",
}

const stockJustification = "No clear reason given."

// Chain is safe for concurrent use.
type Chain struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewChain builds a chain whose default tier picks targets with rng. A nil
// rng makes the default tier deterministic: it always picks the first target.
func NewChain(rng *rand.Rand) *Chain {
	return &Chain{rng: rng}
}

func (c *Chain) pick(n int) int {
	if c == nil || c.rng == nil || n <= 1 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.IntN(n)
}

func (c *Chain) Extract(text string, schema Schema, targets []string) Result {
	for _, t := range tiers {
		if p, ok := t.fn(text, schema, targets); ok {
			return Result{Valid: true, Payload: p, Confidence: t.tier.Confidence(), Tier: t.tier}
		}
	}
	return c.Default(schema, targets)
}

// Default synthesizes a schema-valid payload without looking at any text.
func (c *Chain) Default(schema Schema, targets []string) Result {
	p, ok := Default(schema, targets, c.pick)
	return Result{Valid: ok, Payload: p, Confidence: TierDefault.Confidence(), Tier: TierDefault}
}

// Default is tier five. pick chooses an index in [0, n).
func Default(schema Schema, targets []string, pick func(n int) int) (Payload, bool) {
	if !schema.NeedsTarget() {
		return Payload{Text: stockSpeech[pick(len(stockSpeech))]}, true
	}
	if len(targets) == 0 {
		return Payload{}, false
	}
	return Payload{Target: targets[pick(len(targets))], Justification: stockJustification}, true
}

func clip(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:limit]))
}

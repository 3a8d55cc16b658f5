package llm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"time"
)

var optionsLine = regexp.MustCompile(`(?m)^Options:\s*(.+)$`)

// Babbler is an offline Generator for local play and tests. It answers in
// a random mix of well-formed records, sloppy records and plain prose,
// naming one of the options listed on the prompt's "Options:" line.
type Babbler struct {
	mu    sync.Mutex
	rng   *rand.Rand
	delay time.Duration
}

func NewBabbler(rng *rand.Rand, delay time.Duration) *Babbler {
	return &Babbler{rng: rng, delay: delay}
}

var musings = []string{
	"Someone has been far too quiet.",
	"I keep coming back to the last vote.",
	"That answer felt rehearsed to me.",
	"We need to stop guessing and compare notes.",
	"I was nowhere near any of this.",
}

func (b *Babbler) Generate(ctx context.Context, req Request) (Response, error) {
	if req.Prompt == "" {
		return Response{}, ErrEmptyPrompt
	}

	b.mu.Lock()
	pause := time.Duration(0)
	if b.delay > 0 {
		pause = time.Duration(b.rng.Int64N(int64(b.delay)))
	}
	style := b.rng.IntN(4)
	musing := musings[b.rng.IntN(len(musings))]
	var option string
	if m := optionsLine.FindStringSubmatch(req.Prompt); m != nil {
		opts := strings.Split(m[1], ",")
		option = strings.TrimSpace(opts[b.rng.IntN(len(opts))])
	}
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-time.After(pause):
	}

	var text string
	switch {
	case option == "" && style < 2:
		text = fmt.Sprintf(`{"message": %q}`, musing)
	case option == "":
		text = musing
	case style == 0:
		text = fmt.Sprintf(`{"target": %q, "reason": %q}`, option, musing)
	case style == 1:
		text = fmt.Sprintf("Here's my pick: {target: '%s', reason: '%s',}", option, strings.ReplaceAll(musing, "'", ""))
	case style == 2:
		text = fmt.Sprintf("%s I choose %s.", musing, option)
	default:
		text = fmt.Sprintf("%s Maybe %s?", musing, strings.ToLower(option))
	}
	return Response{Text: text, TokensUsed: len(strings.Fields(text))}, nil
}

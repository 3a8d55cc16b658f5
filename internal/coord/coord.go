package coord

import (
	"fmt"
	"time"

	"github.com/DoyleJ11/nightfall-backend/internal/engine"
)

type Timing struct {
	SpeakerTimeout time.Duration
	VoteTimeout    time.Duration
	ActionTimeout  time.Duration
	CouncilTimeout time.Duration
	MaxStagger     time.Duration
}

// Names resolves between durable ids and display names. *anon.Registry
// satisfies it.
type Names interface {
	Name(id string) (string, error)
	ID(name string) (string, error)
}

func namesOf(names Names, ps []engine.Participant) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		if name, err := names.Name(p.ID); err == nil {
			out = append(out, name)
		}
	}
	return out
}

// targetID maps an extracted display name back to a participant id.
func targetID(names Names, out Outcome) (string, error) {
	if !out.Result.Valid {
		return "", fmt.Errorf("no usable answer from %s", out.Participant)
	}
	if out.Result.Payload.Target == "" {
		return "", nil
	}
	id, err := names.ID(out.Result.Payload.Target)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", out.Result.Payload.Target, err)
	}
	return id, nil
}

package engine

import "sort"

type VoteTally struct {
	Counts map[string]int
	// Leader is the strict plurality target; empty when Hung.
	Leader string
	Top    int
	Hung   bool
}

// TallyVotes counts votes per target. A tie for the maximum, or no votes
// at all, is a hung vote.
func TallyVotes(votes map[string]Vote) VoteTally {
	t := VoteTally{Counts: map[string]int{}}
	for _, v := range votes {
		t.Counts[v.Target]++
	}
	targets := make([]string, 0, len(t.Counts))
	for target := range t.Counts {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	tied := 0
	for _, target := range targets {
		n := t.Counts[target]
		switch {
		case n > t.Top:
			t.Top, t.Leader, tied = n, target, 1
		case n == t.Top:
			tied++
		}
	}
	if t.Top == 0 || tied > 1 {
		t.Leader = ""
		t.Hung = true
	}
	return t
}

type NightResult string

const (
	NightNoHarm    NightResult = "no_harm"
	NightProtected NightResult = "protected"
	NightHarmed    NightResult = "harmed"
)

type NightOutcome struct {
	Result        NightResult
	HarmTarget    string
	ProtectTarget string
}

// ResolveNight applies the recorded actions: a protect on the harm target
// negates it. With several harm actors the first in actor-id order decides.
func ResolveNight(actions map[string]NightAction) NightOutcome {
	actors := make([]string, 0, len(actions))
	for id := range actions {
		actors = append(actors, id)
	}
	sort.Strings(actors)

	var out NightOutcome
	protected := map[string]bool{}
	for _, id := range actors {
		a := actions[id]
		if a.Target == "" {
			continue
		}
		switch a.Kind {
		case ActionHarm:
			if out.HarmTarget == "" {
				out.HarmTarget = a.Target
			}
		case ActionProtect:
			if out.ProtectTarget == "" {
				out.ProtectTarget = a.Target
			}
			protected[a.Target] = true
		}
	}
	switch {
	case out.HarmTarget == "":
		out.Result = NightNoHarm
	case protected[out.HarmTarget]:
		out.Result = NightProtected
	default:
		out.Result = NightHarmed
	}
	return out
}

package agent

import (
	"fmt"
	"strings"
)

// buildPrompt assembles everything an agent may know for one request.
// Every name in it is a display name.
func buildPrompt(profile Profile, b Briefing, s Snapshot, memory []string, req Request) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s, a player in a hidden-role game of deduction.\n", profile.Name)
	if b.Role != "" {
		fmt.Fprintf(&sb, "Your secret role: %s (team %s).\n", b.Role, b.Team)
		fmt.Fprintf(&sb, "Goal: %s\n", b.WinCondition)
	}
	if len(b.Teammates) > 0 {
		fmt.Fprintf(&sb, "Your teammates: %s. Never reveal them.\n", strings.Join(b.Teammates, ", "))
	}

	if s.Phase != "" {
		fmt.Fprintf(&sb, "\nRound %d, phase %s.\n", s.Round, s.Phase)
	}
	if len(s.Living) > 0 {
		fmt.Fprintf(&sb, "Still playing: %s.\n", strings.Join(s.Living, ", "))
	}
	if len(s.Eliminated) > 0 {
		fmt.Fprintf(&sb, "Eliminated: %s.\n", strings.Join(s.Eliminated, "; "))
	}

	if len(memory) > 0 {
		sb.WriteString("\nWhat you have seen so far:\n")
		for _, line := range memory {
			sb.WriteString("- ")
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}

	sb.WriteString("\n")
	if req.Instruction != "" {
		sb.WriteString(req.Instruction)
		sb.WriteByte('\n')
	}
	switch req.Kind {
	case KindSpeech, KindCouncil:
		sb.WriteString(`Reply with only JSON: {"message": "<what you say, one or two sentences>"}` + "\n")
	case KindVote:
		sb.WriteString(`Reply with only JSON: {"target": "<name>", "reason": "<one sentence>"}` + "\n")
	case KindNight:
		sb.WriteString(`Reply with only JSON: {"target": "<name>"}` + "\n")
	}
	if len(req.Targets) > 0 {
		fmt.Fprintf(&sb, "Options: %s\n", strings.Join(req.Targets, ", "))
	}
	return sb.String()
}

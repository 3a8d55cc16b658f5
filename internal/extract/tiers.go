package extract

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"github.com/tidwall/jsonc"
	"golang.org/x/text/cases"
)

var speechKeys = []string{"message", "speech", "text", "content", "statement", "say"}
var targetKeys = []string{"target", "vote", "name", "player", "choice", "eliminate", "protect"}
var reasonKeys = []string{"reason", "justification", "because", "why", "explanation"}

// Strict parses the whole text as one JSON object.
func Strict(text string, schema Schema, targets []string) (Payload, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return Payload{}, false
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return Payload{}, false
	}
	return fromRecord(record, schema, targets)
}

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// Embedded finds a JSON object inside surrounding prose or a code fence,
// repairs the usual defects (comments, trailing commas, unquoted keys,
// single quotes) and parses it.
func Embedded(text string, schema Schema, targets []string) (Payload, bool) {
	var candidates []string
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, objects(text)...)

	for _, c := range candidates {
		record, ok := decode(c)
		if !ok {
			continue
		}
		if p, ok := fromRecord(record, schema, targets); ok {
			return p, true
		}
	}
	return Payload{}, false
}

// decode tries the fragment with only comments and trailing commas
// stripped, and falls back to the full repair.
func decode(fragment string) (map[string]any, bool) {
	var record map[string]any
	if err := json.Unmarshal(jsonc.ToJSON([]byte(strings.TrimSpace(fragment))), &record); err == nil {
		return record, true
	}
	record = nil
	if err := json.Unmarshal(repair(fragment), &record); err != nil {
		return nil, false
	}
	return record, true
}

// objects returns every balanced {...} span in text, outermost first.
func objects(text string) []string {
	var out []string
	for start := strings.IndexByte(text, '{'); start >= 0; {
		depth, end := 0, -1
		inString := false
		for i := start; i < len(text) && end < 0; i++ {
			switch c := text[i]; {
			case c == '"' && (i == 0 || text[i-1] != '\\'):
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					end = i
				}
			}
		}
		if end < 0 {
			// Unbalanced: try the rest of the text as a truncated object.
			out = append(out, text[start:]+"}")
			break
		}
		out = append(out, text[start:end+1])
		next := strings.IndexByte(text[end+1:], '{')
		if next < 0 {
			break
		}
		start = end + 1 + next
	}
	return out
}

func repair(fragment string) []byte {
	s := strings.TrimSpace(fragment)
	if !strings.Contains(s, `"`) {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	return []byte(quoteBareKeys(string(jsonc.ToJSON([]byte(s)))))
}

// quoteBareKeys wraps identifiers used as keys in double quotes. Text
// inside string literals is left alone.
func quoteBareKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	inString, keyPos := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inString:
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			} else if c == '"' {
				inString = false
			}
			continue
		case c == '"':
			inString, keyPos = true, false
		case c == '{' || c == ',':
			keyPos = true
		case keyPos && isIdentStart(c):
			end := i
			for end < len(s) && isIdentPart(s[end]) {
				end++
			}
			colon := end
			for colon < len(s) && (s[colon] == ' ' || s[colon] == '\t' || s[colon] == '\n' || s[colon] == '\r') {
				colon++
			}
			if colon < len(s) && s[colon] == ':' {
				b.WriteString(`"` + s[i:end] + `"`)
				i = end - 1
				keyPos = false
				continue
			}
			keyPos = false
		case c != ' ' && c != '\t' && c != '\n' && c != '\r':
			keyPos = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func fromRecord(record map[string]any, schema Schema, targets []string) (Payload, bool) {
	if !schema.NeedsTarget() {
		text, ok := field(record, speechKeys)
		text = clip(text, maxSpeechLen)
		if !ok || text == "" {
			return Payload{}, false
		}
		return Payload{Text: text}, true
	}
	raw, ok := field(record, targetKeys)
	if !ok {
		return Payload{}, false
	}
	target, ok := MatchTarget(raw, targets)
	if !ok {
		return Payload{}, false
	}
	reason, _ := field(record, reasonKeys)
	reason = clip(reason, maxJustificationLen)
	if reason == "" {
		reason = stockJustification
	}
	return Payload{Target: target, Justification: reason}, true
}

// field returns the first string value whose key matches one of keys,
// ignoring key case.
func field(record map[string]any, keys []string) (string, bool) {
	for _, want := range keys {
		for k, v := range record {
			if !strings.EqualFold(k, want) {
				continue
			}
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// MatchTarget returns the legal target raw names, ignoring case,
// surrounding quotes and punctuation.
func MatchTarget(raw string, targets []string) (string, bool) {
	want := fold(strings.TrimFunc(raw, isNameNoise))
	if want == "" {
		return "", false
	}
	for _, t := range targets {
		if fold(t) == want {
			return t, true
		}
	}
	return "", false
}

func isNameNoise(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func fold(s string) string {
	return cases.Fold().String(s)
}

var targetCues = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bvot(?:e|ing)\b[^\n.]{0,40}?\bfor\s+`),
	regexp.MustCompile(`(?i)\b(?:target|vote|choice|decision|answer)\s*[:=\-]\s*`),
	regexp.MustCompile(`(?i)\b(?:eliminate|eliminating|kill|killing|harm|harming|attack|attacking|protect|protecting|save|saving|guard|guarding|choose|choosing|pick|picking|select|selecting|suspect)\s+`),
}

var speechCue = regexp.MustCompile(`(?im)^\s*(?:message|speech|say|statement|response)\s*[:=]\s*(.+)$`)

// Patterns applies labelled templates such as "I vote for X" or
// "eliminate X". For speech it looks for a labelled message line.
func Patterns(text string, schema Schema, targets []string) (Payload, bool) {
	if !schema.NeedsTarget() {
		m := speechCue.FindStringSubmatch(text)
		if m == nil {
			return Payload{}, false
		}
		said := clip(strings.Trim(strings.TrimSpace(m[1]), `"'`), maxSpeechLen)
		if said == "" {
			return Payload{}, false
		}
		return Payload{Text: said}, true
	}

	for _, cue := range targetCues {
		for _, loc := range cue.FindAllStringIndex(text, -1) {
			rest := strings.TrimLeftFunc(text[loc[1]:], isNameNoise)
			if target, ok := prefixTarget(rest, targets); ok {
				return Payload{Target: target, Justification: clip(text, maxJustificationLen)}, true
			}
		}
	}
	return Payload{}, false
}

// prefixTarget finds the longest legal target that rest starts with,
// ending on a word boundary.
func prefixTarget(rest string, targets []string) (string, bool) {
	folded := fold(rest)
	best := ""
	for _, t := range targets {
		ft := fold(t)
		if ft == "" || !strings.HasPrefix(folded, ft) {
			continue
		}
		if tail := folded[len(ft):]; tail != "" {
			r := []rune(tail)[0]
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				continue
			}
		}
		if len(t) > len(best) {
			best = t
		}
	}
	return best, best != ""
}

// Containment scans the lowercased text for any legal target name and
// takes the earliest one. For speech any non-structured prose is accepted
// as is.
func Containment(text string, schema Schema, targets []string) (Payload, bool) {
	if !schema.NeedsTarget() {
		said := clip(text, maxSpeechLen)
		if said == "" || strings.HasPrefix(said, "{") || strings.HasPrefix(said, "[") {
			return Payload{}, false
		}
		return Payload{Text: said}, true
	}

	folded := fold(text)
	best, bestAt := "", -1
	for _, t := range targets {
		ft := fold(t)
		if ft == "" {
			continue
		}
		at := strings.Index(folded, ft)
		if at < 0 {
			continue
		}
		if bestAt < 0 || at < bestAt || (at == bestAt && len(t) > len(best)) {
			best, bestAt = t, at
		}
	}
	if best == "" {
		return Payload{}, false
	}
	return Payload{Target: best, Justification: clip(text, maxJustificationLen)}, true
}

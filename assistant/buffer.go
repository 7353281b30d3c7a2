package assistant

import (
	"encoding/json"
	"regexp"
	"strings"
)

// The model is prompted to wrap every reply in a JSON envelope of the form
// {"message": "...", "structuredQuestions": [...]} — sometimes fenced,
// sometimes bare, sometimes surrounded by prose. The envelope arrives
// token-by-token, so naively displaying accumulated text would flash
// partial braces and half-written keys at the user. ContentBuffer holds the
// raw text of one turn and derives the portion safe to display, recomputing
// over the full accumulated text on every append rather than patching
// incrementally, so correctness does not depend on chunk boundaries.
type ContentBuffer struct {
	raw      strings.Builder
	revealed string
}

// Append adds a token to the buffer and returns the newly revealed display
// text, if any. The returned delta is exactly what should be streamed to
// the client for this token.
func (b *ContentBuffer) Append(token string) string {
	b.raw.WriteString(token)
	display := DisplayableText(b.raw.String())
	if len(display) > len(b.revealed) && strings.HasPrefix(display, b.revealed) {
		delta := display[len(b.revealed):]
		b.revealed = display
		return delta
	}
	return ""
}

// Raw returns everything appended so far this turn.
func (b *ContentBuffer) Raw() string {
	return b.raw.String()
}

// Revealed returns the display text already handed out by Append.
func (b *ContentBuffer) Revealed() string {
	return b.revealed
}

// DisplayableText computes the display-safe portion of accumulated turn
// text. While the text is a still-open JSON envelope (fenced or bare) the
// result is empty; once the envelope closes, or if the text never looked
// like one, embedded structured payloads are stripped or replaced by their
// "message" value.
func DisplayableText(accumulated string) string {
	trimmed := strings.TrimSpace(accumulated)
	switch {
	case strings.HasPrefix(trimmed, "```"):
		if !fenceClosed(trimmed) {
			return ""
		}
	case strings.HasPrefix(trimmed, "{"):
		if balancedObjectEnd(trimmed, 0) < 0 {
			return ""
		}
	}
	return cleanContent(accumulated)
}

// fenceClosed reports whether text starting with a code fence contains the
// closing fence.
func fenceClosed(text string) bool {
	return strings.Contains(text[3:], "```")
}

// balancedObjectEnd scans a JSON object opening at text[start] (which must
// be '{') and returns the index just past its closing brace, or -1 while
// the object is still open. The scan is string-aware so braces inside
// string values do not confuse the depth count.
func balancedObjectEnd(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// turnEnvelope is the JSON envelope the model is prompted to reply with.
type turnEnvelope struct {
	Message             string               `json:"message"`
	StructuredQuestions []StructuredQuestion `json:"structuredQuestions"`
}

var (
	messageFieldRe = regexp.MustCompile(`"message"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	structuralKeys = []string{`"message"`, `"structuredQuestions"`, `"type"`, `"id"`}
)

// cleanContent strips every structured payload out of text, substituting
// the envelope's "message" value where one parses, and returns the
// remaining human-readable prose.
func cleanContent(text string) string {
	out := stripFencedBlocks(text)
	out = replaceMessageObjects(out)
	out = stripStructuralFragments(out)
	out = truncateAtOpenPayload(out)
	return strings.TrimSpace(out)
}

// stripFencedBlocks removes fenced code blocks in their entirety. An
// unterminated trailing fence is removed through the end of the text, since
// its body is a payload still streaming in.
func stripFencedBlocks(text string) string {
	var out strings.Builder
	for {
		open := strings.Index(text, "```")
		if open < 0 {
			out.WriteString(text)
			break
		}
		out.WriteString(text[:open])
		rest := text[open+3:]
		closing := strings.Index(rest, "```")
		if closing < 0 {
			break
		}
		text = rest[closing+3:]
	}
	return out.String()
}

// replaceMessageObjects finds balanced JSON objects carrying a "message"
// field and replaces each with the message text. A structural parse is
// attempted first; when it rejects the object (trailing junk, truncated
// sibling fields) the message string is captured directly and unescaped by
// hand.
func replaceMessageObjects(text string) string {
	var out strings.Builder
	for {
		idx := nextMessageObject(text)
		if idx < 0 {
			out.WriteString(text)
			break
		}
		end := balancedObjectEnd(text, idx)
		span := text[idx:end]
		out.WriteString(text[:idx])
		out.WriteString(extractMessage(span))
		text = text[end:]
	}
	return out.String()
}

// nextMessageObject returns the index of the first balanced object in text
// whose body contains a "message" key, or -1.
func nextMessageObject(text string) int {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end := balancedObjectEnd(text, i)
		if end < 0 {
			return -1
		}
		if strings.Contains(text[i:end], `"message"`) {
			return i
		}
		i = end - 1
	}
	return -1
}

// extractMessage pulls the "message" value from a balanced object span.
func extractMessage(span string) string {
	var env turnEnvelope
	if err := json.Unmarshal([]byte(span), &env); err == nil && env.Message != "" {
		return env.Message
	}
	if m := messageFieldRe.FindStringSubmatch(span); m != nil {
		return unescapeJSONString(m[1])
	}
	return ""
}

// unescapeJSONString resolves the escapes that matter for display text. It
// is deliberately narrow: only quotes, newlines, tabs and backslashes,
// which is all the envelope's message field ever carries.
func unescapeJSONString(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			out.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			out.WriteByte('\n')
		case 't':
			out.WriteByte('\t')
		case '"':
			out.WriteByte('"')
		case '\\':
			out.WriteByte('\\')
		default:
			out.WriteByte('\\')
			out.WriteByte(s[i])
		}
	}
	return out.String()
}

// stripStructuralFragments removes balanced objects whose first key is one
// of the envelope's structural field names. These are leftovers the message
// pass did not claim (question arrays split out of the envelope, bare type
// or id stubs).
func stripStructuralFragments(text string) string {
	var out strings.Builder
	i := 0
	for i < len(text) {
		if text[i] != '{' {
			out.WriteByte(text[i])
			i++
			continue
		}
		end := balancedObjectEnd(text, i)
		if end < 0 {
			out.WriteString(text[i:])
			break
		}
		if firstKeyIsStructural(text[i:end]) {
			i = end
			continue
		}
		out.WriteString(text[i:end])
		i = end
	}
	return out.String()
}

func firstKeyIsStructural(span string) bool {
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(span), "{"))
	for _, key := range structuralKeys {
		if strings.HasPrefix(body, key) {
			return true
		}
	}
	return false
}

// truncateAtOpenPayload cuts the text at the start of a JSON object or
// fence that never closes — the streaming case where a new payload has
// begun arriving after the prose.
func truncateAtOpenPayload(text string) string {
	cut := len(text)
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			end := balancedObjectEnd(text, i)
			if end < 0 {
				cut = i
				break
			}
			i = end - 1
		}
	}
	if fence := strings.Index(text[:cut], "```"); fence >= 0 && !strings.Contains(text[fence+3:cut], "```") {
		cut = fence
	}
	return text[:cut]
}

// ExtractQuestions parses the structured questions out of the complete raw
// text of a turn, looking first inside fenced blocks, then at bare objects.
// Questions with unknown kinds are dropped rather than surfaced broken.
func ExtractQuestions(raw string) []StructuredQuestion {
	if env, ok := parseEnvelope(raw); ok {
		return validQuestions(env.StructuredQuestions)
	}
	return nil
}

// parseEnvelope locates and structurally parses the turn envelope anywhere
// in the raw text.
func parseEnvelope(raw string) (turnEnvelope, bool) {
	for _, candidate := range envelopeCandidates(raw) {
		var env turnEnvelope
		if err := json.Unmarshal([]byte(candidate), &env); err == nil {
			if env.Message != "" || len(env.StructuredQuestions) > 0 {
				return env, true
			}
		}
	}
	return turnEnvelope{}, false
}

// envelopeCandidates yields the fenced-block bodies and balanced bare
// objects of raw, in order of appearance.
func envelopeCandidates(raw string) []string {
	var candidates []string
	text := raw
	for {
		open := strings.Index(text, "```")
		if open < 0 {
			break
		}
		rest := text[open+3:]
		rest = strings.TrimPrefix(rest, "json")
		closing := strings.Index(rest, "```")
		if closing < 0 {
			break
		}
		candidates = append(candidates, strings.TrimSpace(rest[:closing]))
		text = rest[closing+3:]
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] != '{' {
			continue
		}
		end := balancedObjectEnd(raw, i)
		if end < 0 {
			break
		}
		candidates = append(candidates, raw[i:end])
		i = end - 1
	}
	return candidates
}

// FinalMessage derives the assistant message stored in history at the end
// of a turn. The cleaned text is authoritative; when it comes out empty but
// the turn did produce questions, the message is recovered from the raw
// text directly, and failing that from the first question's prompt, so the
// user never sees question buttons with no sentence above them. The three
// tiers are distinct on purpose: the cleaning pass can legitimately discard
// a message that the raw text still carries.
func FinalMessage(raw string, questions []StructuredQuestion) string {
	cleaned := cleanContent(raw)
	if cleaned != "" {
		return cleaned
	}
	if m := messageFieldRe.FindStringSubmatch(raw); m != nil {
		if recovered := unescapeJSONString(m[1]); strings.TrimSpace(recovered) != "" {
			return recovered
		}
	}
	if len(questions) > 0 {
		return questions[0].Prompt
	}
	return ""
}

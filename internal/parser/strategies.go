package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"widgetforge/internal/widget"
)

// responsePayload is the JSON shape models are asked to emit. Markup may
// arrive under either "html" or "markup".
type responsePayload struct {
	Manifest    *widget.Manifest `json:"manifest"`
	HTML        string           `json:"html"`
	Markup      string           `json:"markup"`
	Explanation string           `json:"explanation"`
}

func (p *responsePayload) toWidget() (*widget.ParsedWidget, bool) {
	if p.Manifest == nil {
		return nil, false
	}
	markup := p.HTML
	if markup == "" {
		markup = p.Markup
	}
	if markup == "" {
		return nil, false
	}
	return &widget.ParsedWidget{
		Manifest:    *p.Manifest,
		Markup:      markup,
		Explanation: p.Explanation,
	}, true
}

// attemptDirectJSON treats the whole (comma-cleaned) text as one JSON
// object carrying manifest and markup fields.
func attemptDirectJSON(raw string) (*widget.ParsedWidget, bool) {
	return decodePayload(raw)
}

var fenceRe = regexp.MustCompile("(?s)```(?:json|javascript|html)?\\s*\\n?(.*?)```")

// attemptFencedBlock extracts the first markdown-style fenced code block
// and parses its contents.
func attemptFencedBlock(raw string) (*widget.ParsedWidget, bool) {
	match := fenceRe.FindStringSubmatch(raw)
	if match == nil {
		return nil, false
	}
	return decodePayload(match[1])
}

// attemptOuterBraces takes the substring between the first '{' and the
// last '}' in the text. Catches JSON wrapped in prose without fences.
func attemptOuterBraces(raw string) (*widget.ParsedWidget, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	return decodePayload(raw[start : end+1])
}

var (
	manifestFieldRe = regexp.MustCompile(`"manifest"\s*:\s*\{`)
	htmlFieldRe     = regexp.MustCompile(`"(?:html|markup)"\s*:\s*"`)
	explanationRe   = regexp.MustCompile(`"explanation"\s*:\s*"`)
)

// attemptManualFields regex-locates the manifest object and the html
// string independently. Last resort for JSON too malformed for the
// decoder as a whole but whose individual fields are still intact.
func attemptManualFields(raw string) (*widget.ParsedWidget, bool) {
	loc := manifestFieldRe.FindStringIndex(raw)
	if loc == nil {
		return nil, false
	}
	// loc[1]-1 points at the '{' opening the manifest object.
	manifestJSON := extractBalanced(raw[loc[1]-1:])
	if manifestJSON == "" {
		return nil, false
	}

	var m widget.Manifest
	if err := json.Unmarshal([]byte(stripTrailingCommas(manifestJSON)), &m); err != nil {
		return nil, false
	}

	markup, ok := extractQuotedAfter(raw, htmlFieldRe)
	if !ok {
		return nil, false
	}

	w := &widget.ParsedWidget{Manifest: m, Markup: markup}
	if explanation, ok := extractQuotedAfter(raw, explanationRe); ok {
		w.Explanation = explanation
	}
	return w, true
}

// decodePayload cleans and unmarshals candidate text into the expected
// payload shape.
func decodePayload(text string) (*widget.ParsedWidget, bool) {
	cleaned := stripTrailingCommas(strings.TrimSpace(text))

	var payload responsePayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, false
	}
	return payload.toWidget()
}

// stripTrailingCommas removes commas that directly precede a closing
// brace or bracket, a malformation models emit constantly. The scan is
// string-aware so commas inside JSON strings survive.
func stripTrailingCommas(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inString := false
	escaped := false
	pendingComma := -1

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if inString {
			b.WriteByte(ch)
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			flushPending(&b, text, &pendingComma, i)
			inString = true
			b.WriteByte(ch)
		case ',':
			flushPending(&b, text, &pendingComma, i)
			pendingComma = i
		case '}', ']':
			// Drop the held comma entirely.
			pendingComma = -1
			b.WriteByte(ch)
		case ' ', '\t', '\n', '\r':
			if pendingComma == -1 {
				b.WriteByte(ch)
			}
			// Whitespace after a held comma is buffered with it.
		default:
			flushPending(&b, text, &pendingComma, i)
			b.WriteByte(ch)
		}
	}
	flushPending(&b, text, &pendingComma, len(text))
	return b.String()
}

// flushPending writes back a held comma (and the whitespace that
// followed it) once a non-closing character proves it was legitimate.
func flushPending(b *strings.Builder, text string, pendingComma *int, now int) {
	if *pendingComma == -1 {
		return
	}
	b.WriteString(text[*pendingComma:now])
	*pendingComma = -1
}

// extractBalanced returns the balanced {...} region starting at the
// first brace in text, honoring strings and escapes.
func extractBalanced(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// extractQuotedAfter finds the pattern (which must end at an opening
// quote) and scans the JSON string that follows, decoding escapes.
func extractQuotedAfter(raw string, re *regexp.Regexp) (string, bool) {
	loc := re.FindStringIndex(raw)
	if loc == nil {
		return "", false
	}

	// Scan from just inside the opening quote to the closing quote.
	end := -1
	escaped := false
	for i := loc[1]; i < len(raw); i++ {
		ch := raw[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			end = i
			break
		}
	}
	if end == -1 {
		return "", false
	}

	// Let the JSON decoder handle escape sequences.
	quoted := raw[loc[1]-1 : end+1]
	var decoded string
	if err := json.Unmarshal([]byte(quoted), &decoded); err != nil {
		return "", false
	}
	return decoded, true
}

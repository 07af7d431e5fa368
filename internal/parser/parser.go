// Package parser recovers a structured widget from raw model output.
//
// Model responses are unreliable: sometimes clean JSON, sometimes JSON
// wrapped in prose or markdown fences, sometimes malformed JSON that no
// decoder will accept. The parser runs an ordered chain of independent
// extraction strategies and accepts the first candidate that passes
// structural validation.
package parser

import (
	"fmt"

	"widgetforge/internal/logging"
	"widgetforge/internal/widget"
)

const (
	// MinMarkupLength is the minimum accepted widget markup size.
	MinMarkupLength = 100

	// MaxRawSnippet bounds the raw-text copy carried by parse failures
	// so diagnostics never balloon memory or logs.
	MaxRawSnippet = 1000
)

// Strategy is a single, independent extraction attempt over raw text.
// It reports ok=false when the text does not fit its shape; structural
// validation of the candidate happens in the parser, not the strategy.
type Strategy struct {
	Name    string
	Attempt func(raw string) (*widget.ParsedWidget, bool)
}

// ParseError reports that no strategy produced a structurally valid
// widget. RawSnippet carries at most MaxRawSnippet characters of the
// original text for diagnostics.
type ParseError struct {
	Reason     string
	RawSnippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse widget response: %s", e.Reason)
}

// Parser extracts widgets from raw model text.
type Parser struct {
	strategies []Strategy
}

// New creates a parser with the standard strategy chain: direct JSON,
// fenced code block, outermost braces, then manual field extraction.
func New() *Parser {
	return &Parser{
		strategies: []Strategy{
			{Name: "direct_json", Attempt: attemptDirectJSON},
			{Name: "fenced_block", Attempt: attemptFencedBlock},
			{Name: "outer_braces", Attempt: attemptOuterBraces},
			{Name: "manual_fields", Attempt: attemptManualFields},
		},
	}
}

// Parse runs the strategy chain in order and returns the first candidate
// that passes structural validation.
func (p *Parser) Parse(raw string) (*widget.ParsedWidget, error) {
	timer := logging.StartTimer(logging.CategoryParser, "Parse")
	defer timer.Stop()

	logging.ParserDebug("Parsing response (%d chars)", len(raw))

	var lastReason string
	for _, strategy := range p.strategies {
		candidate, ok := strategy.Attempt(raw)
		if !ok {
			logging.ParserDebug("Strategy %s: no candidate", strategy.Name)
			continue
		}
		if err := validateCandidate(candidate); err != nil {
			logging.ParserDebug("Strategy %s: candidate rejected: %v", strategy.Name, err)
			lastReason = fmt.Sprintf("%s: %v", strategy.Name, err)
			continue
		}
		logging.Parser("Parsed widget %q via strategy %s", candidate.Manifest.Name, strategy.Name)
		return candidate, nil
	}

	reason := "no extraction strategy matched"
	if lastReason != "" {
		reason = lastReason
	}
	logging.Parser("Parse failed: %s", reason)
	return nil, &ParseError{
		Reason:     reason,
		RawSnippet: truncate(raw, MaxRawSnippet),
	}
}

// ParseAndEnsureReady parses the response and repairs a missing READY
// handshake by injecting a minimal one. A missing handshake is treated
// as a recoverable defect, not a fatal one. The returned bool reports
// whether an injection happened.
func (p *Parser) ParseAndEnsureReady(raw string) (*widget.ParsedWidget, bool, error) {
	parsed, err := p.Parse(raw)
	if err != nil {
		return nil, false, err
	}

	fixed, injected := EnsureReady(parsed.Markup)
	if injected {
		logging.Parser("Injected READY handshake into widget %q", parsed.Manifest.Name)
		parsed.Markup = fixed
	}
	return parsed, injected, nil
}

// validateCandidate applies the structural acceptance rules shared by
// every strategy: required manifest fields and minimum markup length.
// A missing READY handshake does not reject a candidate; it is repaired
// by ParseAndEnsureReady instead.
func validateCandidate(w *widget.ParsedWidget) error {
	if err := w.Manifest.Validate(); err != nil {
		return err
	}
	if len(w.Markup) < MinMarkupLength {
		return fmt.Errorf("markup too short: %d chars (minimum %d)", len(w.Markup), MinMarkupLength)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

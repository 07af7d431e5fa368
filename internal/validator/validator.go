// Package validator checks a widget's compliance with the platform's
// communication contract: manifest completeness, the startup handshake,
// event declarations, and host API usage.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"widgetforge/internal/parser"
	"widgetforge/internal/widget"
)

// Result is the outcome of a protocol validation pass.
type Result struct {
	Valid       bool     `json:"valid"`
	Score       int      `json:"score"` // 0-100
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

// ProtocolValidator checks a widget against the platform contract.
// The default implementation below can be replaced by the platform's
// own validator.
type ProtocolValidator interface {
	ValidateWidget(manifest widget.Manifest, markup string) (*Result, error)
}

// Score penalties, kept as named constants so platform operators can
// see exactly what each defect costs.
const (
	penaltyError         = 25
	penaltyWarning       = 5
	penaltyNoHandshake   = 30
	penaltyNoMessaging   = 15
	penaltyUndeclaredUse = 10
)

// Default is the built-in protocol validator.
type Default struct{}

// NewDefault creates the built-in validator.
func NewDefault() *Default {
	return &Default{}
}

var (
	eventNameRe   = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	postMessageRe = regexp.MustCompile(`postMessage\s*\(`)
	listenerRe    = regexp.MustCompile(`addEventListener\s*\(\s*['"]message['"]`)
)

// ValidateWidget runs the rule passes and produces a scored result.
func (v *Default) ValidateWidget(manifest widget.Manifest, markup string) (*Result, error) {
	result := &Result{
		Valid:       true,
		Score:       100,
		Errors:      []string{},
		Warnings:    []string{},
		Suggestions: []string{},
	}

	v.checkManifest(manifest, result)
	v.checkHandshake(markup, result)
	v.checkMessaging(manifest, markup, result)
	v.checkEventNaming(manifest, result)

	if result.Score < 0 {
		result.Score = 0
	}
	if len(result.Errors) > 0 {
		result.Valid = false
	}
	return result, nil
}

func (v *Default) checkManifest(m widget.Manifest, result *Result) {
	if err := m.Validate(); err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Score -= penaltyError
	}
	if m.Description == "" {
		result.Warnings = append(result.Warnings, "manifest has no description")
		result.Score -= penaltyWarning
	}
	if len(m.Inputs) == 0 && len(m.Outputs) == 0 {
		result.Warnings = append(result.Warnings, "widget declares no ports; it cannot be wired to other widgets")
		result.Suggestions = append(result.Suggestions, "Declare input/output ports so the widget can participate in pipelines")
	}
}

func (v *Default) checkHandshake(markup string, result *Result) {
	if parser.HasReadySignal(markup) {
		return
	}
	result.Errors = append(result.Errors, "widget never signals READY; the host cannot detect initialization")
	result.Score -= penaltyNoHandshake
	result.Suggestions = append(result.Suggestions,
		"Call window.parent.postMessage({ type: 'READY' }, '*') once the widget has initialized")
}

func (v *Default) checkMessaging(m widget.Manifest, markup string, result *Result) {
	emitsDeclared := len(m.Events.Emits) > 0 || len(m.Outputs) > 0
	listensDeclared := len(m.Events.Listens) > 0 || len(m.Inputs) > 0

	if emitsDeclared && !postMessageRe.MatchString(markup) {
		result.Warnings = append(result.Warnings, "manifest declares emitted events but markup never calls postMessage")
		result.Score -= penaltyNoMessaging
	}
	if listensDeclared && !listenerRe.MatchString(markup) {
		result.Warnings = append(result.Warnings, "manifest declares listened events but markup never registers a message listener")
		result.Score -= penaltyNoMessaging
	}

	// Declared emits that never appear in the markup are dead contract
	// surface for anything wired to this widget.
	for _, name := range m.Events.Emits {
		if name != "" && !strings.Contains(markup, name) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("declared event %q is never emitted in the markup", name))
			result.Score -= penaltyUndeclaredUse
		}
	}
}

func (v *Default) checkEventNaming(m widget.Manifest, result *Result) {
	for _, name := range append(append([]string{}, m.Events.Emits...), m.Events.Listens...) {
		if name == "" {
			result.Errors = append(result.Errors, "manifest declares an empty event name")
			result.Score -= penaltyError
			continue
		}
		if !eventNameRe.MatchString(name) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("event name %q is not SCREAMING_SNAKE_CASE", name))
			result.Score -= penaltyWarning
		}
	}
}

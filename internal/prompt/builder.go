// Package prompt renders generation requests into model-facing prompt
// text. Builders are pure: the same request always produces the same
// prompt, and malformed input is echoed verbatim (output is text fed to
// a model, never executed).
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"widgetforge/internal/widget"
)

// Version identifies the current prompt template set. It is recorded
// with every generation metric so outcome trends can be segmented by
// prompt revision. Bump it whenever the template text changes.
const Version = "v1"

// Builder assembles prompts for the new/iterate/variation flows.
type Builder struct{}

// NewBuilder creates a prompt builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// SystemPrompt frames the model as a widget author for every flow.
func (b *Builder) SystemPrompt() string {
	return `You are an expert widget developer for a browser-based canvas platform. ` +
		`You produce small, self-contained HTML widgets that communicate with their host ` +
		`through postMessage events and declare their capabilities in a JSON manifest. ` +
		`Always respond with a single JSON object and nothing else.`
}

// BuildNew renders a prompt for generating a widget from scratch.
func (b *Builder) BuildNew(req widget.GenerationRequest) string {
	var sections []string

	sections = append(sections,
		fmt.Sprintf("Create a new widget based on this description:\n\n%s", req.Description))

	if s := complexitySection(req.Complexity); s != "" {
		sections = append(sections, s)
	}
	if req.Style != "" {
		sections = append(sections, fmt.Sprintf("Visual style: %s. Apply this style consistently to all elements.", req.Style))
	}
	if s := featureSection(req.Features); s != "" {
		sections = append(sections, s)
	}
	if s := portSection(req.InputNames, req.OutputNames); s != "" {
		sections = append(sections, s)
	}
	if len(req.ImageRefs) > 0 {
		sections = append(sections,
			fmt.Sprintf("Reference images for the desired look: %s", strings.Join(req.ImageRefs, ", ")))
	}

	sections = append(sections, outputFormatSpec)
	return strings.Join(sections, "\n\n")
}

// BuildIterate renders a refinement prompt referencing the previous
// widget's manifest and markup.
func (b *Builder) BuildIterate(previous *widget.ParsedWidget, feedback string) string {
	manifestJSON, err := json.MarshalIndent(previous.Manifest, "", "  ")
	if err != nil {
		manifestJSON = []byte("{}")
	}

	var sections []string
	sections = append(sections,
		fmt.Sprintf("Refine the existing widget below based on this feedback:\n\n%s", feedback))
	sections = append(sections,
		fmt.Sprintf("Current manifest:\n%s", manifestJSON))
	sections = append(sections,
		fmt.Sprintf("Current markup:\n%s", previous.Markup))
	sections = append(sections,
		"Preserve the widget's id and existing ports unless the feedback explicitly asks to change them. "+
			"Return the complete updated widget, not a diff.")
	sections = append(sections, outputFormatSpec)
	return strings.Join(sections, "\n\n")
}

// BuildVariation renders a prompt that branches a new widget from a
// stored source widget.
func (b *Builder) BuildVariation(source *widget.DraftWidget, description string) string {
	manifestJSON, err := json.MarshalIndent(source.Manifest, "", "  ")
	if err != nil {
		manifestJSON = []byte("{}")
	}

	var sections []string
	sections = append(sections,
		fmt.Sprintf("Create a variation of the widget %q described as:\n\n%s", source.Manifest.Name, description))
	sections = append(sections,
		fmt.Sprintf("Source manifest:\n%s", manifestJSON))
	sections = append(sections,
		fmt.Sprintf("Source markup:\n%s", source.Markup))
	sections = append(sections,
		fmt.Sprintf("The variation is part of the %q family: keep its port names and event vocabulary "+
			"compatible with the source so the two remain interchangeable on a canvas, but give the "+
			"variation a new id.", source.Manifest.Name))
	sections = append(sections, outputFormatSpec)
	return strings.Join(sections, "\n\n")
}

func complexitySection(c widget.Complexity) string {
	switch c {
	case widget.ComplexitySimple:
		return "Keep it simple: a single focused interaction, minimal state, no configuration options."
	case widget.ComplexityStandard:
		return "Standard complexity: a polished interaction with sensible state handling and a small set of options."
	case widget.ComplexityAdvanced:
		return "Advanced complexity: rich interactions, persistent state, configurable behavior, and graceful error states."
	default:
		return ""
	}
}

// featureSection lists requested feature flags in sorted order so the
// prompt is deterministic for a given request.
func featureSection(features map[string]bool) string {
	if len(features) == 0 {
		return ""
	}

	names := make([]string, 0, len(features))
	for name, enabled := range features {
		if enabled {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return "Required features:\n- " + strings.Join(names, "\n- ")
}

func portSection(inputs, outputs []string) string {
	if len(inputs) == 0 && len(outputs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Declare these ports in the manifest:")
	if len(inputs) > 0 {
		b.WriteString("\nInputs: " + strings.Join(inputs, ", "))
	}
	if len(outputs) > 0 {
		b.WriteString("\nOutputs: " + strings.Join(outputs, ", "))
	}
	return b.String()
}

// outputFormatSpec is the fixed output contract appended to every prompt.
const outputFormatSpec = `Respond with a single JSON object in exactly this shape:
{
  "manifest": {
    "id": "unique-widget-id",
    "name": "Human Readable Name",
    "version": "1.0.0",
    "description": "one sentence",
    "entry": "index.html",
    "capabilities": ["..."],
    "events": { "emits": ["EVENT_NAME"], "listens": ["EVENT_NAME"] },
    "inputs": { "portName": { "name": "portName", "type": "number", "description": "..." } },
    "outputs": { "portName": { "name": "portName", "type": "number", "description": "..." } }
  },
  "html": "<!DOCTYPE html>... the complete self-contained widget document ...",
  "explanation": "short note on how the widget works"
}

Rules:
- The html document must be fully self-contained (inline CSS and JS, no external resources).
- On initialization the widget must call window.parent.postMessage({ type: 'READY' }, '*').
- Emit declared output events with window.parent.postMessage({ type: 'EVENT_NAME', payload: ... }, '*').
- Listen for declared input events with window.addEventListener('message', ...).
- Do not wrap the JSON in markdown fences or add any text outside the JSON object.`

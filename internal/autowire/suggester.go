package autowire

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"widgetforge/internal/logging"
	"widgetforge/internal/widget"
)

// Suggestion directions, relative to the generated widget.
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
)

// Defaults for Options zero values.
const (
	DefaultMinCompatibility = 0.5
	DefaultMaxSuggestions   = 10
)

// CanvasWidget is an existing widget on the user's canvas.
type CanvasWidget struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Manifest widget.Manifest `json:"manifest"`
}

// ConnectionSuggestion is one ranked wiring proposal between the
// generated widget and a canvas widget.
type ConnectionSuggestion struct {
	ID             string                `json:"id"`
	Direction      string                `json:"direction"`
	SourceWidgetID string                `json:"sourceWidgetId"`
	SourceName     string                `json:"sourceName"`
	TargetWidgetID string                `json:"targetWidgetId"`
	TargetName     string                `json:"targetName"`
	SourcePort     widget.PortDefinition `json:"sourcePort"`
	TargetPort     widget.PortDefinition `json:"targetPort"`
	Compatibility  float64               `json:"compatibility"`
	Reason         string                `json:"reason"`
	Description    string                `json:"description"`
}

// Result is the outcome of a connection analysis pass.
type Result struct {
	Suggestions []ConnectionSuggestion `json:"suggestions"`
	Evaluated   int                    `json:"evaluated"` // candidates paired, excluding the generated widget itself
	Discarded   int                    `json:"discarded"` // pairings below threshold
}

// Options tunes a connection analysis. Zero values take defaults.
type Options struct {
	MinCompatibility float64
	MaxSuggestions   int
}

func (o Options) withDefaults() Options {
	if o.MinCompatibility <= 0 {
		o.MinCompatibility = DefaultMinCompatibility
	}
	if o.MaxSuggestions <= 0 {
		o.MaxSuggestions = DefaultMaxSuggestions
	}
	return o
}

// Suggester ranks connection opportunities using a port-compatibility
// detector.
type Suggester struct {
	detector Detector
}

// NewSuggester creates a suggester backed by the given detector.
func NewSuggester(d Detector) *Suggester {
	return &Suggester{detector: d}
}

// AnalyzeConnections evaluates every canvas widget against the
// generated widget and returns ranked suggestions. Candidates are
// evaluated concurrently; results keep canvas order before ranking so
// equal scores sort stably by input position. The generated widget is
// never paired with itself.
func (s *Suggester) AnalyzeConnections(ctx context.Context, generated widget.Manifest, canvas []CanvasWidget, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	timer := logging.StartTimer(logging.CategoryAutowire, "AnalyzeConnections")
	defer timer.Stop()

	perCandidate := make([][]ConnectionSuggestion, len(canvas))
	discarded := make([]int, len(canvas))

	g, ctx := errgroup.WithContext(ctx)
	evaluated := 0
	for i, candidate := range canvas {
		if candidate.ID == generated.ID || candidate.Manifest.ID == generated.ID {
			continue
		}
		evaluated++
		i, candidate := i, candidate
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			perCandidate[i], discarded[i] = s.evaluate(generated, candidate, opts.MinCompatibility)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Suggestions: []ConnectionSuggestion{}, Evaluated: evaluated}
	for i := range perCandidate {
		result.Suggestions = append(result.Suggestions, perCandidate[i]...)
		result.Discarded += discarded[i]
	}

	sort.SliceStable(result.Suggestions, func(a, b int) bool {
		return result.Suggestions[a].Compatibility > result.Suggestions[b].Compatibility
	})
	if len(result.Suggestions) > opts.MaxSuggestions {
		result.Suggestions = result.Suggestions[:opts.MaxSuggestions]
	}

	logging.Autowire("Analyzed %d canvas widgets for %q: %d suggestions, %d discarded",
		result.Evaluated, generated.Name, len(result.Suggestions), result.Discarded)
	return result, nil
}

// evaluate runs the detector against one candidate and converts the
// surviving pairings into suggestions.
func (s *Suggester) evaluate(generated widget.Manifest, candidate CanvasWidget, minCompat float64) ([]ConnectionSuggestion, int) {
	pairs := s.detector.DetectCompatiblePorts(generated, candidate.Manifest)

	// Ownership is keyed on the full port value. The originating-list
	// id set by ExtractPorts keeps equally named outputs on the two
	// widgets apart.
	_, generatedOutputs := s.detector.ExtractPorts(generated)
	ownOutput := make(map[widget.PortDefinition]bool, len(generatedOutputs))
	for _, p := range generatedOutputs {
		ownOutput[p] = true
	}

	candidateName := candidate.Name
	if candidateName == "" {
		candidateName = candidate.Manifest.Name
	}

	var suggestions []ConnectionSuggestion
	dropped := 0
	for _, pair := range pairs {
		if pair.Level == LevelIncompatible || pair.Score < minCompat {
			dropped++
			continue
		}

		sug := ConnectionSuggestion{
			ID:            uuid.NewString(),
			SourcePort:    pair.Output,
			TargetPort:    pair.Input,
			Compatibility: pair.Score,
			Reason:        pair.Reason,
		}
		if ownOutput[pair.Output] {
			sug.Direction = DirectionOutgoing
			sug.SourceWidgetID = generated.ID
			sug.SourceName = generated.Name
			sug.TargetWidgetID = candidate.ID
			sug.TargetName = candidateName
		} else {
			sug.Direction = DirectionIncoming
			sug.SourceWidgetID = candidate.ID
			sug.SourceName = candidateName
			sug.TargetWidgetID = generated.ID
			sug.TargetName = generated.Name
		}
		if sug.SourceWidgetID == sug.TargetWidgetID {
			dropped++
			continue
		}
		sug.Description = fmt.Sprintf("Connect %q from %s to %q on %s",
			sug.SourcePort.Name, sug.SourceName, sug.TargetPort.Name, sug.TargetName)
		suggestions = append(suggestions, sug)
	}
	return suggestions, dropped
}

// GroupByWidget buckets suggestions by the widget on the other end of
// the connection, for presentation.
func GroupByWidget(generatedID string, suggestions []ConnectionSuggestion) map[string][]ConnectionSuggestion {
	groups := make(map[string][]ConnectionSuggestion)
	for _, sug := range suggestions {
		other := sug.TargetWidgetID
		if other == generatedID {
			other = sug.SourceWidgetID
		}
		groups[other] = append(groups[other], sug)
	}
	return groups
}

// SuggestCommonConnections produces plain-language wiring hints from
// port name and type patterns alone, for the empty-canvas case.
func SuggestCommonConnections(m widget.Manifest) []string {
	var hints []string
	inputs, outputs := NewHeuristicDetector().ExtractPorts(m)

	for _, p := range outputs {
		name := lowerName(p)
		switch {
		case contains(name, "tick", "time", "interval"):
			hints = append(hints, fmt.Sprintf("Output %q can drive clocks, counters, or anything that advances on a pulse", p.Name))
		case contains(name, "click", "press", "tap"):
			hints = append(hints, fmt.Sprintf("Output %q pairs well with widgets that react to user actions", p.Name))
		case contains(name, "value", "count", "result", "score"):
			hints = append(hints, fmt.Sprintf("Output %q can feed displays, charts, or threshold triggers", p.Name))
		}
	}
	for _, p := range inputs {
		name := lowerName(p)
		switch {
		case contains(name, "reset", "clear"):
			hints = append(hints, fmt.Sprintf("Input %q can be wired to a button widget to restart this widget", p.Name))
		case contains(name, "enable", "toggle", "pause"):
			hints = append(hints, fmt.Sprintf("Input %q can be wired to a switch widget to control this widget", p.Name))
		}
	}
	return hints
}

func lowerName(p widget.PortDefinition) string {
	return strings.ToLower(p.Name + " " + p.Type)
}

func contains(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

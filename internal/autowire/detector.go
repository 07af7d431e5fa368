// Package autowire produces ranked, directional connection suggestions
// between a generated widget and the widgets already on a canvas.
package autowire

import (
	"fmt"
	"sort"
	"strings"

	"widgetforge/internal/widget"
)

// Compatibility levels, derived from the score.
const (
	LevelPerfect      = "perfect"
	LevelHigh         = "high"
	LevelMedium       = "medium"
	LevelLow          = "low"
	LevelIncompatible = "incompatible"
)

// PortCompatibility is one detected output-to-input pairing between two
// manifests. Score is in [0,1].
type PortCompatibility struct {
	Output widget.PortDefinition `json:"output"`
	Input  widget.PortDefinition `json:"input"`
	Score  float64               `json:"score"`
	Level  string                `json:"level"`
	Reason string                `json:"reason"`
}

// Detector finds compatible port pairings between two widget manifests.
// The built-in HeuristicDetector can be swapped for the platform's own
// detector.
type Detector interface {
	// DetectCompatiblePorts pairs outputs of either manifest against
	// inputs of the other, in both directions.
	DetectCompatiblePorts(a, b widget.Manifest) []PortCompatibility
	// ExtractPorts returns a manifest's declared ports in name order.
	ExtractPorts(m widget.Manifest) (inputs, outputs []widget.PortDefinition)
}

// HeuristicDetector scores pairings by port type compatibility plus a
// name-similarity bonus. Output is deterministic: ports are visited in
// sorted name order.
type HeuristicDetector struct{}

// NewHeuristicDetector creates the built-in detector.
func NewHeuristicDetector() *HeuristicDetector {
	return &HeuristicDetector{}
}

func (d *HeuristicDetector) ExtractPorts(m widget.Manifest) (inputs, outputs []widget.PortDefinition) {
	return sortedPorts(m.Inputs, m.ID+"/inputs"), sortedPorts(m.Outputs, m.ID+"/outputs")
}

func (d *HeuristicDetector) DetectCompatiblePorts(a, b widget.Manifest) []PortCompatibility {
	aInputs, aOutputs := d.ExtractPorts(a)
	bInputs, bOutputs := d.ExtractPorts(b)

	var pairs []PortCompatibility
	pairs = append(pairs, pairPorts(aOutputs, bInputs)...)
	pairs = append(pairs, pairPorts(bOutputs, aInputs)...)
	return pairs
}

func pairPorts(outputs, inputs []widget.PortDefinition) []PortCompatibility {
	var pairs []PortCompatibility
	for _, out := range outputs {
		for _, in := range inputs {
			score, reason := scorePair(out, in)
			pairs = append(pairs, PortCompatibility{
				Output: out,
				Input:  in,
				Score:  score,
				Level:  levelFor(score),
				Reason: reason,
			})
		}
	}
	return pairs
}

// scorePair rates a single output-to-input pairing. Type agreement
// carries most of the weight; matching names add the rest.
func scorePair(out, in widget.PortDefinition) (float64, string) {
	typeScore, typeReason := typeCompatibility(out.Type, in.Type)
	if typeScore == 0 {
		return 0, typeReason
	}

	nameBonus := nameSimilarity(out.Name, in.Name) * 0.2
	score := typeScore + nameBonus
	if score > 1 {
		score = 1
	}
	reason := typeReason
	if nameBonus > 0 {
		reason += ", related names"
	}
	return score, reason
}

func typeCompatibility(out, in string) (float64, string) {
	out = strings.ToLower(strings.TrimSpace(out))
	in = strings.ToLower(strings.TrimSpace(in))

	switch {
	case out == "" || in == "":
		return 0.4, "untyped port"
	case out == in:
		return 0.8, fmt.Sprintf("matching %s types", out)
	case out == "any" || in == "any":
		return 0.6, "one side accepts any type"
	case isConvertible(out, in):
		return 0.5, fmt.Sprintf("%s output convertible to %s input", out, in)
	default:
		return 0, fmt.Sprintf("%s output cannot feed %s input", out, in)
	}
}

// isConvertible covers the conversions a host adapter performs
// automatically.
func isConvertible(out, in string) bool {
	conversions := map[string][]string{
		"number":  {"string", "boolean"},
		"string":  {"number"},
		"boolean": {"trigger", "string"},
		"trigger": {"boolean"},
		"object":  {"string"},
	}
	for _, target := range conversions[out] {
		if target == in {
			return true
		}
	}
	return false
}

// nameSimilarity returns 1 for equal names, 0.5 when one name contains
// the other or they share a token, else 0.
func nameSimilarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.5
	}
	for _, ta := range splitTokens(a) {
		for _, tb := range splitTokens(b) {
			if ta == tb {
				return 0.5
			}
		}
	}
	return 0
}

func splitTokens(name string) []string {
	return strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
}

func levelFor(score float64) string {
	switch {
	case score >= 0.9:
		return LevelPerfect
	case score >= 0.7:
		return LevelHigh
	case score >= 0.5:
		return LevelMedium
	case score > 0:
		return LevelLow
	default:
		return LevelIncompatible
	}
}

// sortedPorts flattens a port map in name order, filling the port name
// and originating-list id when the manifest left them blank.
func sortedPorts(ports map[string]widget.PortDefinition, listID string) []widget.PortDefinition {
	names := make([]string, 0, len(ports))
	for name := range ports {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]widget.PortDefinition, 0, len(ports))
	for _, name := range names {
		p := ports[name]
		if p.Name == "" {
			p.Name = name
		}
		if p.ListID == "" {
			p.ListID = listID
		}
		out = append(out, p)
	}
	return out
}

// Package quality computes deterministic 0-100 quality scores for
// generated widgets across four weighted axes: protocol compliance,
// code quality, visual quality, and functionality.
//
// Scoring must be reproducible: identical widget input produces
// bit-identical output. No randomness, no wall-clock reads.
package quality

import (
	"math"
	"sort"

	"widgetforge/internal/logging"
	"widgetforge/internal/validator"
	"widgetforge/internal/widget"
)

// Axis weights. The split is a fixed platform heuristic; override via
// Weights on the Analyzer rather than editing these.
const (
	DefaultWeightProtocol      = 40
	DefaultWeightCode          = 30
	DefaultWeightVisual        = 20
	DefaultWeightFunctionality = 10
)

// DefaultMaxSuggestions caps the suggestion list on an assessment.
const DefaultMaxSuggestions = 5

// Weights controls the axis weighting of the overall score.
type Weights struct {
	Protocol      int
	Code          int
	Visual        int
	Functionality int
}

// DefaultWeights returns the standard 40/30/20/10 split.
func DefaultWeights() Weights {
	return Weights{
		Protocol:      DefaultWeightProtocol,
		Code:          DefaultWeightCode,
		Visual:        DefaultWeightVisual,
		Functionality: DefaultWeightFunctionality,
	}
}

// Score holds the overall quality score and its four sub-scores, each
// in [0,100].
type Score struct {
	Overall       int `json:"overall"`
	Protocol      int `json:"protocol"`
	Code          int `json:"code"`
	Visual        int `json:"visual"`
	Functionality int `json:"functionality"`
}

// Assessment is the full output of Analyze.
type Assessment struct {
	Score       Score             `json:"score"`
	Validation  *validator.Result `json:"validation"`
	Suggestions []string          `json:"suggestions"`
}

// Analyzer scores parsed widgets. Protocol compliance is delegated to
// the injected validator; the other axes come from heuristic rule sets
// over the markup and manifest.
type Analyzer struct {
	validator      validator.ProtocolValidator
	weights        Weights
	maxSuggestions int
}

// NewAnalyzer creates an analyzer with default weights.
func NewAnalyzer(v validator.ProtocolValidator) *Analyzer {
	return &Analyzer{
		validator:      v,
		weights:        DefaultWeights(),
		maxSuggestions: DefaultMaxSuggestions,
	}
}

// SetWeights overrides the axis weighting.
func (a *Analyzer) SetWeights(w Weights) {
	a.weights = w
}

// Analyze scores the widget. The validator's score feeds the protocol
// axis directly; code, visual, and functionality axes are computed from
// independent heuristic rule sets.
func (a *Analyzer) Analyze(w *widget.ParsedWidget) (*Assessment, error) {
	timer := logging.StartTimer(logging.CategoryQuality, "Analyze")
	defer timer.Stop()

	validation, err := a.validator.ValidateWidget(w.Manifest, w.Markup)
	if err != nil {
		return nil, err
	}

	doc := inspectMarkup(w.Markup)

	codeScore, codeSuggestions := scoreRules(codeRules, w.Markup, codeBase)
	visualScore, visualSuggestions := scoreVisual(doc, w.Markup)
	funcScore, funcSuggestions := scoreFunctionality(w.Manifest, w.Markup)

	score := Score{
		Protocol:      clampScore(validation.Score),
		Code:          clampScore(codeScore),
		Visual:        clampScore(visualScore),
		Functionality: clampScore(funcScore),
	}
	score.Overall = a.weighted(score)

	suggestions := a.collectSuggestions(validation.Suggestions, codeSuggestions, visualSuggestions, funcSuggestions)

	logging.QualityDebug("Scored widget %q: overall=%d (p=%d c=%d v=%d f=%d)",
		w.Manifest.Name, score.Overall, score.Protocol, score.Code, score.Visual, score.Functionality)

	return &Assessment{
		Score:       score,
		Validation:  validation,
		Suggestions: suggestions,
	}, nil
}

// weighted folds the sub-scores into the overall score.
func (a *Analyzer) weighted(s Score) int {
	total := a.weights.Protocol + a.weights.Code + a.weights.Visual + a.weights.Functionality
	if total == 0 {
		return 0
	}
	sum := s.Protocol*a.weights.Protocol +
		s.Code*a.weights.Code +
		s.Visual*a.weights.Visual +
		s.Functionality*a.weights.Functionality
	return clampScore(int(math.Round(float64(sum) / float64(total))))
}

// collectSuggestions deduplicates and caps suggestions, always keeping
// the validator's own suggestions first.
func (a *Analyzer) collectSuggestions(groups ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, group := range groups {
		// Keep per-group order stable; sort heuristic groups on the way
		// in so map iteration never leaks into the output.
		for _, s := range group {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
			if len(out) >= a.maxSuggestions {
				return out
			}
		}
	}
	return out
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Tier is the coarse classification returned by QuickAssess.
type Tier string

const (
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierBasic     Tier = "basic"
	TierPoor      Tier = "poor"
)

// QuickAssess gives a cheap 4-tier classification from an additive
// checklist, for triage paths that don't need full scoring.
func QuickAssess(w *widget.ParsedWidget) Tier {
	points := 0
	if w.Manifest.Validate() == nil {
		points++
	}
	if hasReady(w.Markup) {
		points++
	}
	if len(w.Markup) >= 500 {
		points++
	}
	if hasStyling(w.Markup) {
		points++
	}
	if len(w.Manifest.Inputs) > 0 || len(w.Manifest.Outputs) > 0 {
		points++
	}
	if len(w.Manifest.Events.Emits) > 0 || len(w.Manifest.Events.Listens) > 0 {
		points++
	}

	switch {
	case points >= 5:
		return TierExcellent
	case points >= 4:
		return TierGood
	case points >= 2:
		return TierBasic
	default:
		return TierPoor
	}
}

// sortedCopy returns a sorted copy, used to keep suggestion groups
// deterministic regardless of rule evaluation order.
func sortedCopy(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}

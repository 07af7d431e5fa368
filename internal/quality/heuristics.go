package quality

import (
	"math"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"widgetforge/internal/parser"
	"widgetforge/internal/widget"
)

// heuristicRule is one pattern-based scoring rule. Delta is applied to
// the axis score when the pattern matches; negative deltas carry a
// suggestion for the author.
type heuristicRule struct {
	Name        string
	Pattern     *regexp.Regexp
	Delta       int
	Description string
	Suggestion  string
}

// Axis base scores. Rules move the score from the base; the base is
// what a bare but working widget earns before any rule fires.
const (
	codeBase   = 60
	visualBase = 40
)

var codeRules = []heuristicRule{
	{
		Name:        "no_eval",
		Pattern:     regexp.MustCompile(`\beval\s*\(`),
		Delta:       -30,
		Description: "eval() in widget code",
		Suggestion:  "Remove eval(); widgets run in a sandboxed frame and eval defeats content review",
	},
	{
		Name:        "no_function_ctor",
		Pattern:     regexp.MustCompile(`\bnew\s+Function\s*\(`),
		Delta:       -20,
		Description: "Function constructor used for dynamic code",
		Suggestion:  "Replace new Function(...) with a plain function",
	},
	{
		Name:        "no_document_write",
		Pattern:     regexp.MustCompile(`document\.write\s*\(`),
		Delta:       -20,
		Description: "document.write after load clobbers the document",
		Suggestion:  "Build DOM nodes or set textContent instead of document.write",
	},
	{
		Name:        "no_innerhtml_concat",
		Pattern:     regexp.MustCompile(`\.innerHTML\s*(\+=|=\s*[^'"\s][^;]*\+)`),
		Delta:       -10,
		Description: "innerHTML assembled from concatenation",
		Suggestion:  "Prefer textContent or element construction over concatenated innerHTML",
	},
	{
		Name:        "error_handling",
		Pattern:     regexp.MustCompile(`\btry\s*\{`),
		Delta:       10,
		Description: "code guards risky paths with try/catch",
	},
	{
		Name:        "load_guard",
		Pattern:     regexp.MustCompile(`DOMContentLoaded|document\.readyState`),
		Delta:       10,
		Description: "initialization waits for document readiness",
	},
	{
		Name:        "init_retry",
		Pattern:     regexp.MustCompile(`(?i)(setTimeout|setInterval)\s*\(\s*\w*(init|ready|retry|connect)`),
		Delta:       10,
		Description: "initialization retries instead of assuming the host is up",
	},
	{
		Name:        "strict_equality",
		Pattern:     regexp.MustCompile(`[^=!]===`),
		Delta:       5,
		Description: "uses strict equality",
	},
	{
		Name:        "named_functions",
		Pattern:     regexp.MustCompile(`\bfunction\s+[a-zA-Z_]`),
		Delta:       5,
		Description: "logic is factored into named functions",
	},
}

// scoreRules applies a rule set to the markup and returns the axis
// score plus suggestions from the negative rules that fired.
func scoreRules(rules []heuristicRule, markup string, base int) (int, []string) {
	score := base
	var suggestions []string
	for _, rule := range rules {
		if !rule.Pattern.MatchString(markup) {
			continue
		}
		score += rule.Delta
		if rule.Delta < 0 && rule.Suggestion != "" {
			suggestions = append(suggestions, rule.Suggestion)
		}
	}
	return score, sortedCopy(suggestions)
}

// markupFacts is the structural summary extracted from the parsed HTML
// tree. Regex rules see raw text; these facts see actual elements, so
// CSS mentioned inside a string literal doesn't count as styling.
type markupFacts struct {
	elementCount  int
	hasStyleBlock bool
	inlineStyles  bool
	styleText     string
	parseable     bool
}

// inspectMarkup parses the widget document and collects structural
// facts. html.Parse is forgiving, so parseable only goes false on hard
// tokenizer failures.
func inspectMarkup(markup string) markupFacts {
	facts := markupFacts{}
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return facts
	}
	facts.parseable = true

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			facts.elementCount++
			if n.Data == "style" && n.FirstChild != nil {
				facts.hasStyleBlock = true
				facts.styleText += n.FirstChild.Data
			}
			for _, attr := range n.Attr {
				if attr.Key == "style" && attr.Val != "" {
					facts.inlineStyles = true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return facts
}

var visualRules = []heuristicRule{
	{
		Name:        "transitions",
		Pattern:     regexp.MustCompile(`transition\s*:|@keyframes`),
		Delta:       15,
		Description: "animated state changes",
	},
	{
		Name:        "hover_states",
		Pattern:     regexp.MustCompile(`:hover|:focus|:active`),
		Delta:       15,
		Description: "interactive element states",
	},
	{
		Name:        "css_variables",
		Pattern:     regexp.MustCompile(`var\(--`),
		Delta:       10,
		Description: "themeable via CSS custom properties",
	},
	{
		Name:        "responsive",
		Pattern:     regexp.MustCompile(`@media|clamp\(|min\(|max\(`),
		Delta:       10,
		Description: "layout adapts to frame size",
	},
	{
		Name:        "modern_layout",
		Pattern:     regexp.MustCompile(`display\s*:\s*(flex|grid)`),
		Delta:       10,
		Description: "flex or grid layout",
	},
}

// scoreVisual scores the visual axis. Styling rules match against the
// extracted <style> text when the document parsed, so selectors inside
// script strings don't inflate the score.
func scoreVisual(facts markupFacts, markup string) (int, []string) {
	score := visualBase
	var suggestions []string

	styled := facts.hasStyleBlock || facts.inlineStyles
	if !styled {
		score -= 25
		suggestions = append(suggestions, "Add CSS styling; the widget currently renders unstyled")
	}
	if facts.parseable && facts.elementCount < 5 {
		score -= 10
	}

	// Fall back to the raw markup when the style tree is empty, e.g.
	// for fragments html.Parse normalized away.
	ruleInput := facts.styleText
	if ruleInput == "" {
		ruleInput = markup
	}
	for _, rule := range visualRules {
		if rule.Pattern.MatchString(ruleInput) {
			score += rule.Delta
		}
	}
	return score, sortedCopy(suggestions)
}

var (
	emitRe     = regexp.MustCompile(`postMessage\s*\(`)
	listenRe   = regexp.MustCompile(`addEventListener\s*\(\s*['"]message['"]`)
	stateRe    = regexp.MustCompile(`localStorage|sessionStorage`)
	interactRe = regexp.MustCompile(`addEventListener\s*\(\s*['"](click|input|change|submit|keydown|pointerdown)['"]|onclick\s*=`)
)

// scoreFunctionality scores how much of the declared contract the
// markup actually implements.
func scoreFunctionality(m widget.Manifest, markup string) (int, []string) {
	score := 0
	var suggestions []string

	if emitRe.MatchString(markup) {
		score += 25
	}
	if listenRe.MatchString(markup) {
		score += 25
	}
	if interactRe.MatchString(markup) {
		score += 15
	}
	if stateRe.MatchString(markup) {
		score += 10
	}

	// Declared emits that appear in the markup count toward contract
	// coverage; a manifest with no declared emits earns the neutral
	// share outright.
	if len(m.Events.Emits) == 0 {
		score += 25
	} else {
		used := 0
		for _, name := range m.Events.Emits {
			if name != "" && strings.Contains(markup, name) {
				used++
			}
		}
		ratio := float64(used) / float64(len(m.Events.Emits))
		score += int(math.Round(ratio * 25))
		if used < len(m.Events.Emits) {
			suggestions = append(suggestions, "Emit every event the manifest declares, or remove the unused declarations")
		}
	}
	return score, sortedCopy(suggestions)
}

func hasReady(markup string) bool {
	return parser.HasReadySignal(markup)
}

func hasStyling(markup string) bool {
	facts := inspectMarkup(markup)
	return facts.hasStyleBlock || facts.inlineStyles
}

package quality

import (
	"reflect"
	"strings"
	"testing"

	"widgetforge/internal/validator"
	"widgetforge/internal/widget"
)

func sampleWidget() *widget.ParsedWidget {
	return &widget.ParsedWidget{
		Manifest: widget.Manifest{
			ID:          "wf-counter",
			Name:        "Counter",
			Version:     "1.0.0",
			Description: "Counts clicks",
			Entry:       "index.html",
			Events: widget.EventDecls{
				Emits:   []string{"COUNT_CHANGED"},
				Listens: []string{"RESET"},
			},
			Inputs:  map[string]widget.PortDefinition{"reset": {Name: "reset", Type: "trigger"}},
			Outputs: map[string]widget.PortDefinition{"count": {Name: "count", Type: "number"}},
		},
		Markup: `<!DOCTYPE html><html><head><style>
body { display: flex; }
button { transition: background 0.2s; }
button:hover { background: #eee; }
</style></head><body>
<button id="inc">+1</button>
<span id="value">0</span>
<script>
var count = 0;
function emitCount() {
  window.parent.postMessage({ type: 'COUNT_CHANGED', payload: count }, '*');
}
document.getElementById('inc').addEventListener('click', function() {
  count += 1;
  emitCount();
});
window.addEventListener('message', function(e) {
  if (e.data && e.data.type === 'RESET') { count = 0; emitCount(); }
});
try { window.parent.postMessage({ type: 'READY' }, '*'); } catch (err) {}
</script></body></html>`,
	}
}

func newAnalyzer() *Analyzer {
	return NewAnalyzer(validator.NewDefault())
}

func TestAnalyze_WellFormedWidget(t *testing.T) {
	a := newAnalyzer()

	got, err := a.Analyze(sampleWidget())
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if got.Score.Overall < 70 {
		t.Errorf("Overall = %d, expected a well-formed widget to score at least 70", got.Score.Overall)
	}
	if got.Score.Protocol != 100 {
		t.Errorf("Protocol = %d, want 100 for a fully compliant widget", got.Score.Protocol)
	}
	if got.Validation == nil || !got.Validation.Valid {
		t.Error("expected a valid validation result")
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	a := newAnalyzer()
	w := sampleWidget()

	first, err := a.Analyze(w)
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	for i := 0; i < 10; i++ {
		next, err := a.Analyze(w)
		if err != nil {
			t.Fatalf("Analyze error on run %d: %v", i, err)
		}
		if !reflect.DeepEqual(first, next) {
			t.Fatalf("run %d differs from first:\nfirst: %+v\nnext:  %+v", i, first, next)
		}
	}
}

func TestAnalyze_ScoresStayInRange(t *testing.T) {
	a := newAnalyzer()
	inputs := []*widget.ParsedWidget{
		{Manifest: widget.Manifest{}, Markup: ""},
		{Manifest: widget.Manifest{Events: widget.EventDecls{Emits: []string{"A", "B", "C", "D", "E"}}}, Markup: "plain text"},
		sampleWidget(),
	}

	for i, w := range inputs {
		got, err := a.Analyze(w)
		if err != nil {
			t.Fatalf("input %d: Analyze error: %v", i, err)
		}
		for name, v := range map[string]int{
			"Overall":       got.Score.Overall,
			"Protocol":      got.Score.Protocol,
			"Code":          got.Score.Code,
			"Visual":        got.Score.Visual,
			"Functionality": got.Score.Functionality,
		} {
			if v < 0 || v > 100 {
				t.Errorf("input %d: %s = %d, out of [0,100]", i, name, v)
			}
		}
	}
}

func TestAnalyze_DangerousCodePenalized(t *testing.T) {
	a := newAnalyzer()
	clean := sampleWidget()
	dirty := sampleWidget()
	dirty.Markup = strings.Replace(dirty.Markup, "count += 1;", `count = eval("count + 1");`, 1)

	cleanResult, err := a.Analyze(clean)
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	dirtyResult, err := a.Analyze(dirty)
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}

	if dirtyResult.Score.Code >= cleanResult.Score.Code {
		t.Errorf("Code score did not drop for eval(): clean=%d dirty=%d",
			cleanResult.Score.Code, dirtyResult.Score.Code)
	}
	found := false
	for _, s := range dirtyResult.Suggestions {
		if strings.Contains(s, "eval") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an eval suggestion, got %v", dirtyResult.Suggestions)
	}
}

func TestAnalyze_SuggestionsCapped(t *testing.T) {
	a := newAnalyzer()
	w := &widget.ParsedWidget{
		Manifest: widget.Manifest{Events: widget.EventDecls{Emits: []string{"A", "B"}}},
		Markup:   `<div>eval(x); new Function(y); document.write(z);</div>`,
	}

	got, err := a.Analyze(w)
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if len(got.Suggestions) > DefaultMaxSuggestions {
		t.Errorf("got %d suggestions, cap is %d", len(got.Suggestions), DefaultMaxSuggestions)
	}
	for i, s := range got.Suggestions {
		for j := i + 1; j < len(got.Suggestions); j++ {
			if s == got.Suggestions[j] {
				t.Errorf("duplicate suggestion %q", s)
			}
		}
	}
}

func TestAnalyze_WeightOverride(t *testing.T) {
	a := newAnalyzer()
	a.SetWeights(Weights{Protocol: 100})

	got, err := a.Analyze(sampleWidget())
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if got.Score.Overall != got.Score.Protocol {
		t.Errorf("Overall = %d, want protocol-only score %d", got.Score.Overall, got.Score.Protocol)
	}
}

func TestQuickAssess_Tiers(t *testing.T) {
	if tier := QuickAssess(sampleWidget()); tier != TierExcellent {
		t.Errorf("full widget tier = %q, want %q", tier, TierExcellent)
	}

	empty := &widget.ParsedWidget{Manifest: widget.Manifest{}, Markup: ""}
	if tier := QuickAssess(empty); tier != TierPoor {
		t.Errorf("empty widget tier = %q, want %q", tier, TierPoor)
	}

	partial := &widget.ParsedWidget{
		Manifest: widget.Manifest{ID: "wf-x", Name: "X", Version: "1.0.0", Entry: "index.html"},
		Markup:   `<script>window.parent.postMessage({ type: 'READY' }, '*');</script>`,
	}
	tier := QuickAssess(partial)
	if tier != TierBasic {
		t.Errorf("partial widget tier = %q, want %q", tier, TierBasic)
	}
}

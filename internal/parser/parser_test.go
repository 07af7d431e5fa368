package parser

import (
	"strings"
	"testing"
)

const validMarkup = `<!DOCTYPE html><html><head><style>body { margin: 0; }</style></head>` +
	`<body><div id="app">widget body content goes here</div>` +
	`<script>window.parent.postMessage({ type: 'READY' }, '*');</script></body></html>`

const manifestJSON = `{"id": "wf-timer", "name": "Countdown Timer", "version": "1.0.0", "entry": "index.html"}`

func validResponse() string {
	return `{"manifest": ` + manifestJSON + `, "html": ` + quote(validMarkup) + `}`
}

func quote(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + replacer.Replace(s) + `"`
}

func TestParse_DirectJSON(t *testing.T) {
	p := New()

	w, err := p.Parse(validResponse())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if w.Manifest.ID != "wf-timer" {
		t.Errorf("Manifest.ID = %q, want wf-timer", w.Manifest.ID)
	}
	if w.Manifest.Name != "Countdown Timer" {
		t.Errorf("Manifest.Name = %q", w.Manifest.Name)
	}
	if w.Markup != validMarkup {
		t.Error("markup did not round-trip")
	}
}

func TestParse_MarkupFieldAlias(t *testing.T) {
	p := New()

	raw := `{"manifest": ` + manifestJSON + `, "markup": ` + quote(validMarkup) + `}`
	w, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if w.Markup != validMarkup {
		t.Error("markup field alias not honored")
	}
}

func TestParse_FencedBlock(t *testing.T) {
	p := New()

	raw := "Here is your widget:\n\n```json\n" + validResponse() + "\n```\n\nEnjoy!"
	w, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if w.Manifest.ID != "wf-timer" {
		t.Errorf("Manifest.ID = %q", w.Manifest.ID)
	}
}

func TestParse_OuterBraces(t *testing.T) {
	p := New()

	raw := "Sure! The widget you asked for is " + validResponse() + " - let me know if you need changes."
	w, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if w.Manifest.Version != "1.0.0" {
		t.Errorf("Manifest.Version = %q", w.Manifest.Version)
	}
}

func TestParse_TrailingCommas(t *testing.T) {
	p := New()

	raw := `{"manifest": {"id": "wf-x", "name": "X", "version": "1.0.0", "entry": "index.html",}, "html": ` + quote(validMarkup) + `,}`
	w, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed on trailing commas: %v", err)
	}
	if w.Manifest.ID != "wf-x" {
		t.Errorf("Manifest.ID = %q", w.Manifest.ID)
	}
}

func TestParse_ManualFields(t *testing.T) {
	p := New()

	// Missing comma between fields makes the document undecodable as a
	// whole; the manifest object and html string are individually intact.
	raw := `{"manifest": ` + manifestJSON + ` "html": ` + quote(validMarkup) + `}`
	w, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed on malformed JSON: %v", err)
	}
	if w.Manifest.ID != "wf-timer" {
		t.Errorf("Manifest.ID = %q", w.Manifest.ID)
	}
	if w.Markup != validMarkup {
		t.Error("markup not recovered by manual extraction")
	}
}

func TestParse_StrategyOrder(t *testing.T) {
	p := New()

	// Valid both as direct JSON and as a fenced block (embedded in the
	// explanation string). Direct JSON must win.
	inner := strings.ReplaceAll(validResponse(), "wf-timer", "wf-inner")
	raw := `{"manifest": ` + manifestJSON + `, "html": ` + quote(validMarkup) +
		`, "explanation": ` + quote("```json\n"+inner+"\n```") + `}`

	w, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if w.Manifest.ID != "wf-timer" {
		t.Errorf("expected direct-JSON strategy to win, got manifest id %q", w.Manifest.ID)
	}
}

func TestParse_ProseReturnsFailure(t *testing.T) {
	p := New()

	long := strings.Repeat("I cannot generate that widget right now. ", 50)
	_, err := p.Parse(long)
	if err == nil {
		t.Fatal("expected parse failure for prose input")
	}

	perr, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("error type = %T, want *ParseError", err)
	}
	if len(perr.RawSnippet) > MaxRawSnippet {
		t.Errorf("RawSnippet length %d exceeds cap %d", len(perr.RawSnippet), MaxRawSnippet)
	}
}

func TestParse_RejectsShortMarkup(t *testing.T) {
	p := New()

	raw := `{"manifest": ` + manifestJSON + `, "html": "<div>tiny</div>"}`
	if _, err := p.Parse(raw); err == nil {
		t.Fatal("expected rejection of markup below minimum length")
	}
}

func TestParse_RejectsIncompleteManifest(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"missing id", `{"name": "X", "version": "1.0.0", "entry": "index.html"}`},
		{"missing name", `{"id": "x", "version": "1.0.0", "entry": "index.html"}`},
		{"missing version", `{"id": "x", "name": "X", "entry": "index.html"}`},
		{"missing entry", `{"id": "x", "name": "X", "version": "1.0.0"}`},
	}

	p := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"manifest": ` + tt.manifest + `, "html": ` + quote(validMarkup) + `}`
			if _, err := p.Parse(raw); err == nil {
				t.Error("expected rejection")
			}
		})
	}
}

func TestHasReadySignal_Variants(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   bool
	}{
		{"unquoted key", `<script>window.parent.postMessage({ type: 'READY' }, '*');</script>`, true},
		{"quoted key", `<script>window.parent.postMessage({"type": "READY"}, "*");</script>`, true},
		{"prefixed type", `<script>postMessage({ type: 'WIDGET_READY' }, '*');</script>`, true},
		{"value before key", `<script>postMessage({ payload: 'READY', kind: type }, '*');</script>`, true},
		{"no handshake", `<script>console.log("hello");</script>`, false},
		{"ready without postMessage", `<div>READY</div>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasReadySignal(tt.markup); got != tt.want {
				t.Errorf("HasReadySignal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnsureReady_InjectionPoints(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		// substring expected to appear after the injected handshake
		after string
	}{
		{"before last script close", `<body><script>let a = 1;</script><script>let b = 2;</script></body>`, "</script></body>"},
		{"before body close", `<body><div>no scripts here</div></body>`, "</body>"},
		{"appended", `<div>bare fragment</div>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixed, injected := EnsureReady(tt.markup)
			if !injected {
				t.Fatal("expected injection")
			}
			if !HasReadySignal(fixed) {
				t.Fatal("handshake not detectable after injection")
			}
			idx := strings.Index(fixed, readySnippet)
			if idx == -1 {
				t.Fatal("snippet not found")
			}
			if tt.after != "" && !strings.Contains(fixed[idx:], tt.after) {
				t.Errorf("handshake not placed before %q:\n%s", tt.after, fixed)
			}
		})
	}
}

func TestEnsureReady_Idempotent(t *testing.T) {
	markup := `<body><script>doWork();</script></body>`

	once, injected := EnsureReady(markup)
	if !injected {
		t.Fatal("first call should inject")
	}

	twice, injectedAgain := EnsureReady(once)
	if injectedAgain {
		t.Error("second call should be a no-op")
	}
	if twice != once {
		t.Error("markup changed on second call")
	}
	if strings.Count(twice, readySnippet) != 1 {
		t.Errorf("expected exactly one injected handshake, got %d", strings.Count(twice, readySnippet))
	}
}

func TestParseAndEnsureReady(t *testing.T) {
	p := New()

	noReady := `<!DOCTYPE html><html><body><div id="app">widget body content goes here, long enough to pass the size gate</div>` +
		`<script>console.log("init");</script></body></html>`
	raw := `{"manifest": ` + manifestJSON + `, "html": ` + quote(noReady) + `}`

	w, injected, err := p.ParseAndEnsureReady(raw)
	if err != nil {
		t.Fatalf("ParseAndEnsureReady failed: %v", err)
	}
	if !injected {
		t.Error("expected handshake injection")
	}
	if !HasReadySignal(w.Markup) {
		t.Error("markup lacks handshake after recovery")
	}

	// Already-fixed markup passes through untouched.
	raw2 := `{"manifest": ` + manifestJSON + `, "html": ` + quote(w.Markup) + `}`
	w2, injected2, err := p.ParseAndEnsureReady(raw2)
	if err != nil {
		t.Fatalf("second ParseAndEnsureReady failed: %v", err)
	}
	if injected2 {
		t.Error("injection should be idempotent")
	}
	if w2.Markup != w.Markup {
		t.Error("markup changed on second recovery pass")
	}
}

func TestStripTrailingCommas_PreservesStrings(t *testing.T) {
	in := `{"a": "one, two, }", "b": [1, 2,], }`
	want := `{"a": "one, two, }", "b": [1, 2]}`
	if got := stripTrailingCommas(in); got != want {
		t.Errorf("stripTrailingCommas = %q, want %q", got, want)
	}
}

func TestExtractBalanced(t *testing.T) {
	in := `prefix {"a": {"b": "}"}, "c": 1} suffix`
	want := `{"a": {"b": "}"}, "c": 1}`
	if got := extractBalanced(in); got != want {
		t.Errorf("extractBalanced = %q, want %q", got, want)
	}
}

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"widgetforge/internal/autowire"
	"widgetforge/internal/config"
	"widgetforge/internal/parser"
	"widgetforge/internal/prompt"
	"widgetforge/internal/provider"
	"widgetforge/internal/quality"
	"widgetforge/internal/session"
	"widgetforge/internal/store"
	"widgetforge/internal/validator"
	"widgetforge/internal/widget"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const wellFormedResponse = `{
  "manifest": {
    "id": "wf-countdown",
    "name": "Countdown Timer",
    "version": "1.0.0",
    "description": "Counts down from a duration",
    "entry": "index.html",
    "events": { "emits": ["TIMER_DONE"], "listens": ["START"] },
    "inputs": { "start": { "name": "start", "type": "trigger" } },
    "outputs": { "done": { "name": "done", "type": "trigger" } }
  },
  "html": "<html><body><div id='t'>10</div><script>window.parent.postMessage({ type: 'READY' }, '*'); window.addEventListener('message', function(e) { if (e.data.type === 'START') start(); }); function fire() { window.parent.postMessage({ type: 'TIMER_DONE' }, '*'); }</script></body></html>",
  "explanation": "A countdown timer that signals completion."
}`

type fixture struct {
	orch     *Orchestrator
	sessions *session.Manager
	provider *stubProvider
	drafts   *memDraftStore
	metrics  *memMetrics
}

func newFixture(t *testing.T, p *stubProvider) *fixture {
	t.Helper()

	registry := provider.NewRegistry()
	registry.Register(p)

	v := validator.NewDefault()
	sessions := session.NewManager(0)
	drafts := newMemDraftStore()
	metrics := &memMetrics{}

	orch := New(Deps{
		Config:    config.Default(),
		Sessions:  sessions,
		Builder:   prompt.NewBuilder(),
		Parser:    parser.New(),
		Registry:  registry,
		Validator: v,
		Analyzer:  quality.NewAnalyzer(v),
		Suggester: autowire.NewSuggester(autowire.NewHeuristicDetector()),
		Drafts:    drafts,
		Metrics:   metrics,
	})
	return &fixture{orch: orch, sessions: sessions, provider: p, drafts: drafts, metrics: metrics}
}

func timerRequest() widget.GenerationRequest {
	return widget.GenerationRequest{Description: "A countdown timer", Mode: widget.ModeNew}
}

func TestGenerate_WellFormedResponse(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub", content: wellFormedResponse})

	result := f.orch.Generate(context.Background(), timerRequest())

	if !result.Success {
		t.Fatalf("Success = false, errors: %v", result.Errors)
	}
	if result.Widget == nil || result.Widget.Manifest.ID != "wf-countdown" {
		t.Fatalf("unexpected widget: %+v", result.Widget)
	}
	if result.Draft == nil {
		t.Error("draft not persisted")
	}
	if result.Score == nil {
		t.Error("quality score missing with scoring enabled")
	}

	s, err := f.sessions.GetSession(result.SessionID)
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if s.Status != session.StatusComplete {
		t.Errorf("session status = %q, want %q", s.Status, session.StatusComplete)
	}

	rec, ok := f.metrics.last()
	if !ok {
		t.Fatal("no metric recorded")
	}
	if rec.Result != store.OutcomeSuccess || rec.Type != "generation" {
		t.Errorf("metric = %+v, want generation success", rec)
	}
	if rec.PromptVersionID != prompt.Version {
		t.Errorf("metric prompt version = %q, want %q", rec.PromptVersionID, prompt.Version)
	}
}

func TestGenerate_ProseResponse(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub",
		content: "I'm sorry, I cannot produce a widget for that request."})

	result := f.orch.Generate(context.Background(), timerRequest())

	if result.Success {
		t.Fatal("expected failure for prose response")
	}
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0], "parse") {
		t.Errorf("expected a parse-failure message, got %v", result.Errors)
	}

	s, err := f.sessions.GetSession(result.SessionID)
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if s.Status != session.StatusFailed {
		t.Errorf("session status = %q, want %q", s.Status, session.StatusFailed)
	}

	rec, ok := f.metrics.last()
	if !ok {
		t.Fatal("failure not recorded as a metric")
	}
	if rec.Result != store.OutcomeFailure {
		t.Errorf("metric result = %q, want failure", rec.Result)
	}
}

func TestGenerate_ProviderError(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub", err: errors.New("connection refused")})

	result := f.orch.Generate(context.Background(), timerRequest())

	if result.Success {
		t.Fatal("expected failure on provider error")
	}
	rec, ok := f.metrics.last()
	if !ok {
		t.Fatal("provider failure not recorded as a metric")
	}
	if !strings.Contains(rec.ErrorMessage, "connection refused") {
		t.Errorf("metric error = %q, want the provider error", rec.ErrorMessage)
	}
}

func TestGenerate_MissingHandshakeRepaired(t *testing.T) {
	noHandshake := strings.Replace(wellFormedResponse,
		"window.parent.postMessage({ type: 'READY' }, '*'); ", "", 1)
	f := newFixture(t, &stubProvider{name: "stub", content: noHandshake})

	result := f.orch.Generate(context.Background(), timerRequest())

	if !result.Success {
		t.Fatalf("Success = false, errors: %v", result.Errors)
	}
	if !parser.HasReadySignal(result.Widget.Markup) {
		t.Error("handshake not injected into repaired markup")
	}
	if result.Draft.Metadata["injectedReady"] != "true" {
		t.Errorf("injectedReady metadata = %q, want true", result.Draft.Metadata["injectedReady"])
	}
}

func TestGenerate_NoProviderConfigured(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub", content: wellFormedResponse})
	f.orch.registry = provider.NewRegistry()

	result := f.orch.Generate(context.Background(), timerRequest())
	if result.Success {
		t.Fatal("expected failure with no providers")
	}
	if f.metrics.count() == 0 {
		t.Error("selection failure not recorded as a metric")
	}
}

func TestIterate(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub", content: wellFormedResponse})

	first := f.orch.Generate(context.Background(), timerRequest())
	if !first.Success {
		t.Fatalf("setup generate failed: %v", first.Errors)
	}

	result := f.orch.Iterate(context.Background(), first.SessionID, "make the digits red")
	if !result.Success {
		t.Fatalf("Iterate failed: %v", result.Errors)
	}
	// The original session was terminal, so iteration continues in a
	// fresh session carrying the conversation.
	if result.SessionID == first.SessionID {
		t.Error("terminal session was reopened")
	}

	s, err := f.sessions.GetSession(result.SessionID)
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	foundFeedback := false
	for _, msg := range s.Messages {
		if msg.Role == "user" && msg.Content == "make the digits red" {
			foundFeedback = true
		}
	}
	if !foundFeedback {
		t.Error("feedback not appended to conversation log")
	}
	if len(s.Widgets) < 2 {
		t.Errorf("session has %d widgets, want the carried widget plus the iteration", len(s.Widgets))
	}

	rec, ok := f.metrics.last()
	if !ok || rec.Type != "iteration" {
		t.Errorf("expected an iteration metric, got %+v", rec)
	}
}

func TestIterate_UnknownSession(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub", content: wellFormedResponse})

	result := f.orch.Iterate(context.Background(), "no-such-session", "feedback")
	if result.Success {
		t.Fatal("expected failure for unknown session")
	}
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0], "session not found") {
		t.Errorf("unexpected errors %v", result.Errors)
	}
	if f.metrics.count() != 1 {
		t.Errorf("metric count = %d, want 1 even on not-found", f.metrics.count())
	}
	if f.provider.calls != 0 {
		t.Error("provider invoked for unknown session")
	}
}

func TestCreateVariation(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub", content: wellFormedResponse})

	source, err := f.drafts.CreateDraft(widget.Manifest{
		ID: "wf-timer", Name: "Timer", Version: "1.0.0", Entry: "index.html",
	}, "<html><body>source</body></html>", nil)
	if err != nil {
		t.Fatalf("CreateDraft error: %v", err)
	}

	result := f.orch.CreateVariation(context.Background(), source.ID, "a pomodoro version")
	if !result.Success {
		t.Fatalf("CreateVariation failed: %v", result.Errors)
	}

	s, err := f.sessions.GetSession(result.SessionID)
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if s.Request.Mode != widget.ModeVariation || s.Request.SourceWidgetID != source.ID {
		t.Errorf("unexpected session request %+v", s.Request)
	}

	rec, _ := f.metrics.last()
	if rec.Type != "variation" {
		t.Errorf("metric type = %q, want variation", rec.Type)
	}
}

func TestCreateVariation_UnknownSource(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub", content: wellFormedResponse})

	result := f.orch.CreateVariation(context.Background(), "missing-draft", "anything")
	if result.Success {
		t.Fatal("expected failure for unknown source widget")
	}
	if f.metrics.count() != 1 {
		t.Errorf("metric count = %d, want 1", f.metrics.count())
	}
}

func TestGenerate_PanicContained(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub", content: wellFormedResponse})
	f.orch.drafts = nil // forces a nil-pointer panic in the saving step

	result := f.orch.Generate(context.Background(), timerRequest())
	if result == nil {
		t.Fatal("panic escaped the flow")
	}
	if result.Success {
		t.Fatal("expected failure result from recovered panic")
	}
	if f.metrics.count() == 0 {
		t.Error("panic failure not recorded as a metric")
	}
}

func TestProgressEvents(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub", content: wellFormedResponse})

	// Subscribe as soon as the session exists by polling the manager
	// from a pre-created request is not possible; instead verify the
	// recorded progress history after the run.
	result := f.orch.Generate(context.Background(), timerRequest())
	s, err := f.sessions.GetSession(result.SessionID)
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}

	var steps []session.Step
	for _, u := range s.Progress {
		steps = append(steps, u.Step)
	}
	want := []session.Step{
		session.StepPreparing, session.StepBuildingPrompt, session.StepSelectingProvider,
		session.StepGenerating, session.StepParsing, session.StepValidating,
		session.StepScoring, session.StepSaving, session.StepComplete,
	}
	if len(steps) != len(want) {
		t.Fatalf("progress steps = %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("step[%d] = %q, want %q", i, steps[i], want[i])
		}
	}
	last := s.Progress[len(s.Progress)-1]
	if last.Progress != 100 {
		t.Errorf("final progress = %d, want 100", last.Progress)
	}
}

func TestSuggestConnections_EmptyCanvas(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub", content: wellFormedResponse})

	m := widget.Manifest{
		ID: "wf-timer", Name: "Timer", Version: "1.0.0", Entry: "index.html",
		Outputs: map[string]widget.PortDefinition{"tick": {Name: "tick", Type: "number"}},
	}
	result, hints, err := f.orch.SuggestConnections(context.Background(), m, nil, autowire.Options{})
	if err != nil {
		t.Fatalf("SuggestConnections error: %v", err)
	}
	if len(result.Suggestions) != 0 {
		t.Errorf("empty canvas produced %d suggestions", len(result.Suggestions))
	}
	if len(hints) == 0 {
		t.Error("expected name-pattern hints for the empty canvas")
	}
}

func TestUpdateConfig(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub", content: wellFormedResponse})

	noScoring := false
	temp := 0.3
	f.orch.UpdateConfig(ConfigPatch{ScoreDrafts: &noScoring, Temperature: &temp})

	result := f.orch.Generate(context.Background(), timerRequest())
	if !result.Success {
		t.Fatalf("Generate failed: %v", result.Errors)
	}
	if result.Score != nil {
		t.Error("scoring ran despite ScoreDrafts=false")
	}
}

func TestCancelSession(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub", content: wellFormedResponse})

	result := f.orch.Generate(context.Background(), timerRequest())
	// Completed session: cancel must be a no-op.
	if err := f.orch.CancelSession(result.SessionID); err != nil {
		t.Fatalf("CancelSession error: %v", err)
	}
	s, _ := f.sessions.GetSession(result.SessionID)
	if s.Status != session.StatusComplete {
		t.Errorf("status = %q, cancel must not touch a terminal session", s.Status)
	}
}

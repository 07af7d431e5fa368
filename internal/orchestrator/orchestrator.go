// Package orchestrator drives the widget generation flows end to end:
// prompt construction, provider invocation, parse and recovery,
// validation, scoring, persistence, and session bookkeeping.
//
// The public flows never return an error and never panic past this
// boundary. Every outcome, including failures, is reported as a Result
// and recorded as a generation metric.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"widgetforge/internal/autowire"
	"widgetforge/internal/config"
	"widgetforge/internal/logging"
	"widgetforge/internal/parser"
	"widgetforge/internal/prompt"
	"widgetforge/internal/provider"
	"widgetforge/internal/quality"
	"widgetforge/internal/session"
	"widgetforge/internal/store"
	"widgetforge/internal/validator"
	"widgetforge/internal/widget"
)

// DraftStore is the persistence surface the orchestrator needs.
type DraftStore interface {
	CreateDraft(manifest widget.Manifest, markup string, metadata map[string]string) (*widget.DraftWidget, error)
	GetDraft(id string) (*widget.DraftWidget, error)
}

// MetricsStore records generation outcomes for trend analysis.
type MetricsStore interface {
	AddRecord(rec store.GenerationRecord) (string, error)
}

// Result is the structured outcome of a generation flow.
type Result struct {
	Success     bool                 `json:"success"`
	SessionID   string               `json:"sessionId"`
	Widget      *widget.ParsedWidget `json:"widget,omitempty"`
	Draft       *widget.DraftWidget  `json:"draft,omitempty"`
	Score       *quality.Score       `json:"score,omitempty"`
	Validation  *validator.Result    `json:"validation,omitempty"`
	Errors      []string             `json:"errors,omitempty"`
	Suggestions []string             `json:"suggestions,omitempty"`
}

// Orchestrator wires the generation services together. All
// dependencies are injected; there are no package-level singletons.
type Orchestrator struct {
	mu        sync.RWMutex
	cfg       *config.Config
	sessions  *session.Manager
	builder   *prompt.Builder
	parser    *parser.Parser
	registry  *provider.Registry
	validator validator.ProtocolValidator
	analyzer  *quality.Analyzer
	suggester *autowire.Suggester
	drafts    DraftStore
	metrics   MetricsStore
}

// Deps bundles the orchestrator's constructor dependencies.
type Deps struct {
	Config    *config.Config
	Sessions  *session.Manager
	Builder   *prompt.Builder
	Parser    *parser.Parser
	Registry  *provider.Registry
	Validator validator.ProtocolValidator
	Analyzer  *quality.Analyzer
	Suggester *autowire.Suggester
	Drafts    DraftStore
	Metrics   MetricsStore
}

// New creates an orchestrator from its dependencies.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:       deps.Config,
		sessions:  deps.Sessions,
		builder:   deps.Builder,
		parser:    deps.Parser,
		registry:  deps.Registry,
		validator: deps.Validator,
		analyzer:  deps.Analyzer,
		suggester: deps.Suggester,
		drafts:    deps.Drafts,
		metrics:   deps.Metrics,
	}
}

// Generate runs the full generation flow for a new widget.
func (o *Orchestrator) Generate(ctx context.Context, req widget.GenerationRequest) (result *Result) {
	s := o.sessions.CreateSession(req)
	defer o.recoverFlow(s.ID, "generation", req.Description, &result)

	logging.Generation("Starting generation session %s: %q", s.ID, req.Description)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.sessions.BindCancel(s.ID, cancel)

	o.sessions.UpdateProgress(s.ID, session.StepBuildingPrompt, "Building prompt", 10)
	promptText := o.builder.BuildNew(req)

	gen := o.generationConfig()
	return o.runPipeline(ctx, s, pipelineInput{
		recordType:  "generation",
		task:        provider.TaskGeneration,
		override:    req.Provider,
		userPrompt:  req.Description,
		promptText:  promptText,
		temperature: gen.Temperature,
		maxTokens:   gen.MaxTokens,
	})
}

// Iterate refines the latest widget of an existing session based on
// user feedback. A terminal session is never reopened; its content is
// carried into a fresh session instead.
func (o *Orchestrator) Iterate(ctx context.Context, sessionID, feedback string) (result *Result) {
	prev, err := o.sessions.GetSession(sessionID)
	if err != nil {
		o.recordMetric("iteration", feedback, store.OutcomeFailure, err.Error(), 0, nil)
		return &Result{
			Success:   false,
			SessionID: sessionID,
			Errors:    []string{fmt.Sprintf("session not found: %s", sessionID)},
		}
	}

	previous := prev.LatestWidget()
	if previous == nil {
		o.recordMetric("iteration", feedback, store.OutcomeFailure, "session has no widget to iterate on", 0, nil)
		return &Result{
			Success:   false,
			SessionID: sessionID,
			Errors:    []string{"session has no widget to iterate on"},
		}
	}

	s := prev
	if prev.Terminal() {
		s = o.forkSession(prev)
		logging.Generation("Session %s is terminal; continuing iteration in session %s", sessionID, s.ID)
	}
	defer o.recoverFlow(s.ID, "iteration", feedback, &result)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.sessions.BindCancel(s.ID, cancel)

	o.sessions.AddMessage(s.ID, "user", feedback)
	o.sessions.UpdateProgress(s.ID, session.StepBuildingPrompt, "Building refinement prompt", 10)
	promptText := o.builder.BuildIterate(previous, feedback)

	gen := o.generationConfig()
	return o.runPipeline(ctx, s, pipelineInput{
		recordType:  "iteration",
		task:        provider.TaskIteration,
		override:    s.Request.Provider,
		userPrompt:  feedback,
		promptText:  promptText,
		temperature: gen.Temperature,
		maxTokens:   gen.MaxTokens,
	})
}

// CreateVariation generates a new widget branched from a stored source
// widget, with a higher sampling temperature.
func (o *Orchestrator) CreateVariation(ctx context.Context, sourceWidgetID, description string) (result *Result) {
	source, err := o.drafts.GetDraft(sourceWidgetID)
	if err != nil {
		o.recordMetric("variation", description, store.OutcomeFailure, err.Error(), 0, nil)
		return &Result{
			Success: false,
			Errors:  []string{fmt.Sprintf("source widget not found: %s", sourceWidgetID)},
		}
	}

	req := widget.GenerationRequest{
		Description:    description,
		Mode:           widget.ModeVariation,
		SourceWidgetID: sourceWidgetID,
	}
	s := o.sessions.CreateSession(req)
	defer o.recoverFlow(s.ID, "variation", description, &result)

	logging.Generation("Starting variation session %s from draft %s", s.ID, sourceWidgetID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.sessions.BindCancel(s.ID, cancel)

	o.sessions.UpdateProgress(s.ID, session.StepBuildingPrompt, "Building variation prompt", 10)
	promptText := o.builder.BuildVariation(source, description)

	gen := o.generationConfig()
	return o.runPipeline(ctx, s, pipelineInput{
		recordType:  "variation",
		task:        provider.TaskVariation,
		override:    "",
		userPrompt:  description,
		promptText:  promptText,
		temperature: gen.VariationTemperature,
		maxTokens:   gen.MaxTokens,
	})
}

type pipelineInput struct {
	recordType  string
	task        provider.Task
	override    string
	userPrompt  string
	promptText  string
	temperature float64
	maxTokens   int
}

// runPipeline is the shared skeleton behind the three flows: select
// provider, invoke, parse, validate, score, persist, complete.
func (o *Orchestrator) runPipeline(ctx context.Context, s *session.Session, in pipelineInput) *Result {
	o.sessions.UpdateProgress(s.ID, session.StepSelectingProvider, "Selecting provider", 20)
	p, err := o.registry.Select(in.task, in.override)
	if err != nil {
		return o.fail(s.ID, in.recordType, in.userPrompt, fmt.Sprintf("provider selection failed: %v", err))
	}

	o.sessions.UpdateProgress(s.ID, session.StepGenerating,
		fmt.Sprintf("Generating with %s (%s)", p.Name(), p.Model()), 30)
	resp, err := p.Generate(ctx, in.promptText, provider.Options{
		SystemPrompt: o.builder.SystemPrompt(),
		MaxTokens:    in.maxTokens,
		Temperature:  in.temperature,
	})
	if err != nil {
		return o.fail(s.ID, in.recordType, in.userPrompt, fmt.Sprintf("provider call failed: %v", err))
	}

	o.sessions.UpdateProgress(s.ID, session.StepParsing, "Parsing response", 60)
	w, injected, err := o.parser.ParseAndEnsureReady(resp.Content)
	if err != nil {
		return o.fail(s.ID, in.recordType, in.userPrompt, fmt.Sprintf("parse failed: %v", err))
	}
	o.sessions.AddWidget(s.ID, w)
	o.sessions.AddMessage(s.ID, "assistant", w.Explanation)

	o.sessions.UpdateProgress(s.ID, session.StepValidating, "Validating protocol compliance", 75)
	validation, err := o.validator.ValidateWidget(w.Manifest, w.Markup)
	if err != nil {
		return o.fail(s.ID, in.recordType, in.userPrompt, fmt.Sprintf("validation failed: %v", err))
	}

	result := &Result{
		SessionID:  s.ID,
		Widget:     w,
		Validation: validation,
		Errors:     []string{},
	}
	result.Suggestions = append(result.Suggestions, validation.Suggestions...)

	scoreValue := 0
	if o.scoreDrafts() {
		o.sessions.UpdateProgress(s.ID, session.StepScoring, "Scoring quality", 85)
		assessment, err := o.analyzer.Analyze(w)
		if err != nil {
			logging.Generation("Scoring failed for session %s: %v", s.ID, err)
		} else {
			result.Score = &assessment.Score
			result.Suggestions = assessment.Suggestions
			scoreValue = assessment.Score.Overall
		}
	}

	o.sessions.UpdateProgress(s.ID, session.StepSaving, "Saving draft", 95)
	draft, err := o.drafts.CreateDraft(w.Manifest, w.Markup, map[string]string{
		"sessionId":     s.ID,
		"provider":      resp.Name,
		"model":         resp.Model,
		"type":          in.recordType,
		"injectedReady": strconv.FormatBool(injected),
	})
	if err != nil {
		return o.fail(s.ID, in.recordType, in.userPrompt, fmt.Sprintf("failed to save draft: %v", err))
	}
	result.Draft = draft

	o.sessions.CompleteSession(s.ID)

	outcome := store.OutcomeSuccess
	errorMessage := ""
	if !validation.Valid {
		// The widget parsed but failed protocol compliance; return it
		// anyway so the caller can inspect and repair.
		outcome = store.OutcomePartial
		errorMessage = fmt.Sprintf("validation errors: %v", validation.Errors)
		result.Errors = append(result.Errors, validation.Errors...)
	}
	result.Success = validation.Valid

	o.recordMetric(in.recordType, in.userPrompt, outcome, errorMessage, scoreValue, map[string]string{
		"sessionId": s.ID,
		"provider":  resp.Name,
		"model":     resp.Model,
	})

	logging.Generation("Session %s finished: success=%v score=%d", s.ID, result.Success, scoreValue)
	return result
}

// fail marks the session failed, records the metric, and builds the
// failure result.
func (o *Orchestrator) fail(sessionID, recordType, userPrompt, message string) *Result {
	logging.Generation("Session %s failed: %s", sessionID, message)
	o.sessions.FailSession(sessionID, message)
	o.recordMetric(recordType, userPrompt, store.OutcomeFailure, message, 0, map[string]string{
		"sessionId": sessionID,
	})
	return &Result{
		Success:   false,
		SessionID: sessionID,
		Errors:    []string{message},
	}
}

// recoverFlow converts a panic anywhere in a flow into a structured
// failure result, still routed through metrics.
func (o *Orchestrator) recoverFlow(sessionID, recordType, userPrompt string, result **Result) {
	if r := recover(); r != nil {
		message := fmt.Sprintf("internal error: %v", r)
		*result = o.fail(sessionID, recordType, userPrompt, message)
	}
}

// recordMetric stores an outcome record; persistence errors are logged,
// never propagated.
func (o *Orchestrator) recordMetric(recordType, userPrompt, outcome, errorMessage string, score int, metadata map[string]string) {
	_, err := o.metrics.AddRecord(store.GenerationRecord{
		Type:            recordType,
		PromptVersionID: prompt.Version,
		UserPrompt:      userPrompt,
		Result:          outcome,
		ErrorMessage:    errorMessage,
		QualityScore:    score,
		Metadata:        metadata,
	})
	if err != nil {
		logging.Generation("Failed to record %s metric: %v", recordType, err)
	}
}

// forkSession copies a terminal session's content into a fresh active
// session so iteration can continue.
func (o *Orchestrator) forkSession(prev *session.Session) *session.Session {
	s := o.sessions.CreateSession(prev.Request)
	for _, w := range prev.Widgets {
		o.sessions.AddWidget(s.ID, w)
	}
	for _, msg := range prev.Messages {
		o.sessions.AddMessage(s.ID, msg.Role, msg.Content)
	}
	return s
}

// GetSession returns a session by id.
func (o *Orchestrator) GetSession(id string) (*session.Session, error) {
	return o.sessions.GetSession(id)
}

// CancelSession cancels an active session and aborts its in-flight
// provider call.
func (o *Orchestrator) CancelSession(id string) error {
	return o.sessions.CancelSession(id)
}

// OnProgress subscribes to a session's progress events.
func (o *Orchestrator) OnProgress(id string, listener session.ProgressListener) (func(), error) {
	return o.sessions.OnProgress(id, listener)
}

// SuggestConnections ranks wiring opportunities between a generated
// widget and the current canvas. With an empty canvas it falls back to
// name-pattern hints.
func (o *Orchestrator) SuggestConnections(ctx context.Context, generated widget.Manifest, canvas []autowire.CanvasWidget, opts autowire.Options) (*autowire.Result, []string, error) {
	if len(canvas) == 0 {
		return &autowire.Result{Suggestions: []autowire.ConnectionSuggestion{}},
			autowire.SuggestCommonConnections(generated), nil
	}

	o.mu.RLock()
	if opts.MinCompatibility <= 0 {
		opts.MinCompatibility = o.cfg.Autowire.MinCompatibility
	}
	if opts.MaxSuggestions <= 0 {
		opts.MaxSuggestions = o.cfg.Autowire.MaxSuggestions
	}
	o.mu.RUnlock()

	result, err := o.suggester.AnalyzeConnections(ctx, generated, canvas, opts)
	if err != nil {
		return nil, nil, err
	}
	return result, nil, nil
}

// ConfigPatch is a partial configuration update. Nil fields are left
// unchanged.
type ConfigPatch struct {
	Provider             *string
	Model                *string
	MaxTokens            *int
	Temperature          *float64
	VariationTemperature *float64
	ScoreDrafts          *bool
}

// UpdateConfig applies a partial configuration update to the running
// orchestrator.
func (o *Orchestrator) UpdateConfig(patch ConfigPatch) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if patch.Provider != nil {
		o.cfg.LLM.Provider = *patch.Provider
	}
	if patch.Model != nil {
		o.cfg.LLM.Model = *patch.Model
	}
	if patch.MaxTokens != nil {
		o.cfg.Generation.MaxTokens = *patch.MaxTokens
	}
	if patch.Temperature != nil {
		o.cfg.Generation.Temperature = *patch.Temperature
	}
	if patch.VariationTemperature != nil {
		o.cfg.Generation.VariationTemperature = *patch.VariationTemperature
	}
	if patch.ScoreDrafts != nil {
		o.cfg.Generation.ScoreDrafts = *patch.ScoreDrafts
	}
}

func (o *Orchestrator) generationConfig() config.GenerationConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg.Generation
}

func (o *Orchestrator) scoreDrafts() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg.Generation.ScoreDrafts
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"widgetforge/internal/autowire"
	"widgetforge/internal/config"
	"widgetforge/internal/logging"
	"widgetforge/internal/orchestrator"
	"widgetforge/internal/parser"
	"widgetforge/internal/prompt"
	"widgetforge/internal/provider"
	"widgetforge/internal/quality"
	"widgetforge/internal/session"
	"widgetforge/internal/store"
	"widgetforge/internal/validator"
	"widgetforge/internal/widget"
)

var (
	// Global flags
	verbose   bool
	workspace string
	apiKey    string

	// Generate flags
	providerName string
	modelName    string
	styleName    string
	complexity   string
	inputPorts   []string
	outputPorts  []string
	outFile      string

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "widgetforge - AI widget generation for canvas pipelines",
	Long: `widgetforge turns natural-language descriptions into self-contained
HTML widgets that talk to their host canvas over postMessage events.

Generated widgets declare their ports and events in a JSON manifest,
are checked for protocol compliance, scored for quality, and stored as
drafts in the local workspace database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return logging.Initialize(workspace)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate [description]",
	Short: "Generate a new widget from a description",
	Long: `Runs the full generation pipeline: prompt construction, provider
invocation, parse and recovery, protocol validation, quality scoring,
and draft persistence.

Example:
  forge generate "a countdown timer with a start button" --style neon`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

var iterateCmd = &cobra.Command{
	Use:   "iterate [session-id] [feedback]",
	Short: "Refine the latest widget of a session",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runIterate,
}

var variationCmd = &cobra.Command{
	Use:   "variation [draft-id] [description]",
	Short: "Create a variation of a stored draft widget",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runVariation,
}

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "List stored draft widgets",
	RunE:  runDrafts,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest [draft-id]",
	Short: "Show wiring hints for a stored draft widget",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuggest,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show generation outcome statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "provider API key (overrides config and env)")

	generateCmd.Flags().StringVar(&providerName, "provider", "", "provider override (anthropic, openai, gemini)")
	generateCmd.Flags().StringVar(&modelName, "model", "", "model override")
	generateCmd.Flags().StringVar(&styleName, "style", "", "visual style hint")
	generateCmd.Flags().StringVar(&complexity, "complexity", "standard", "complexity tier (simple, standard, advanced)")
	generateCmd.Flags().StringSliceVar(&inputPorts, "in", nil, "input port names to declare")
	generateCmd.Flags().StringSliceVar(&outputPorts, "out-port", nil, "output port names to declare")
	generateCmd.Flags().StringVarP(&outFile, "out", "o", "", "write the widget markup to a file")

	iterateCmd.Flags().StringVarP(&outFile, "out", "o", "", "write the widget markup to a file")
	variationCmd.Flags().StringVarP(&outFile, "out", "o", "", "write the widget markup to a file")

	rootCmd.AddCommand(generateCmd, iterateCmd, variationCmd, draftsCmd, suggestCmd, statsCmd)
}

// runtime bundles everything a command needs.
type runtime struct {
	cfg   *config.Config
	orch  *orchestrator.Orchestrator
	store *store.LocalStore
}

func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		logger.Error("Failed to load config", zap.String("workspace", workspace), zap.Error(err))
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if modelName != "" {
		cfg.LLM.Model = modelName
	}
	logger.Debug("Configuration loaded",
		zap.String("workspace", workspace),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model))

	localStore, err := store.NewLocalStore(filepath.Join(workspace, cfg.Storage.Path))
	if err != nil {
		logger.Error("Failed to open store", zap.String("path", cfg.Storage.Path), zap.Error(err))
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry, err := provider.NewRegistryFromConfig(ctx, cfg)
	if err != nil {
		localStore.Close()
		return nil, err
	}
	logger.Debug("Providers ready", zap.Strings("providers", registry.Names()))

	v := validator.NewDefault()
	orch := orchestrator.New(orchestrator.Deps{
		Config:    cfg,
		Sessions:  session.NewManager(cfg.Retention()),
		Builder:   prompt.NewBuilder(),
		Parser:    parser.New(),
		Registry:  registry,
		Validator: v,
		Analyzer:  quality.NewAnalyzer(v),
		Suggester: autowire.NewSuggester(autowire.NewHeuristicDetector()),
		Drafts:    localStore,
		Metrics:   localStore,
	})
	return &runtime{cfg: cfg, orch: orch, store: localStore}, nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := signalContext()
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.store.Close()

	req := widget.GenerationRequest{
		Description: strings.Join(args, " "),
		Mode:        widget.ModeNew,
		Complexity:  widget.Complexity(complexity),
		Style:       styleName,
		Provider:    providerName,
		InputNames:  inputPorts,
		OutputNames: outputPorts,
	}

	logger.Info("Starting generation",
		zap.String("description", req.Description),
		zap.String("style", styleName),
		zap.String("complexity", complexity))
	result := rt.orch.Generate(ctx, req)
	return reportResult(rt, result)
}

func runIterate(cmd *cobra.Command, args []string) error {
	ctx := signalContext()
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.store.Close()

	logger.Info("Starting iteration", zap.String("session", args[0]))
	result := rt.orch.Iterate(ctx, args[0], strings.Join(args[1:], " "))
	return reportResult(rt, result)
}

func runVariation(cmd *cobra.Command, args []string) error {
	ctx := signalContext()
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.store.Close()

	logger.Info("Starting variation", zap.String("draft", args[0]))
	result := rt.orch.CreateVariation(ctx, args[0], strings.Join(args[1:], " "))
	return reportResult(rt, result)
}

func reportResult(rt *runtime, result *orchestrator.Result) error {
	if !result.Success {
		logger.Warn("Generation failed",
			zap.String("session", result.SessionID),
			zap.Strings("errors", result.Errors))
		fmt.Println("Generation failed:")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
		for _, s := range result.Suggestions {
			fmt.Printf("  hint: %s\n", s)
		}
		return fmt.Errorf("generation did not succeed")
	}

	fields := []zap.Field{
		zap.String("session", result.SessionID),
		zap.String("widget", result.Widget.Manifest.ID),
	}
	if result.Draft != nil {
		fields = append(fields, zap.String("draft", result.Draft.ID))
	}
	if result.Score != nil {
		fields = append(fields, zap.Int("score", result.Score.Overall))
	}
	logger.Info("Generation succeeded", fields...)

	fmt.Printf("Widget: %s (%s)\n", result.Widget.Manifest.Name, result.Widget.Manifest.ID)
	if result.Draft != nil {
		fmt.Printf("Draft:  %s\n", result.Draft.ID)
	}
	if result.Score != nil {
		fmt.Printf("Score:  %d (protocol %d, code %d, visual %d, functionality %d)\n",
			result.Score.Overall, result.Score.Protocol, result.Score.Code,
			result.Score.Visual, result.Score.Functionality)
	}
	for _, s := range result.Suggestions {
		fmt.Printf("hint: %s\n", s)
	}

	if outFile != "" {
		if err := os.WriteFile(outFile, []byte(result.Widget.Markup), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outFile, err)
		}
		fmt.Printf("Markup written to %s\n", outFile)
	}
	return nil
}

func runDrafts(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.store.Close()

	drafts, err := rt.store.ListDrafts(20)
	if err != nil {
		return err
	}
	if len(drafts) == 0 {
		fmt.Println("No drafts stored yet.")
		return nil
	}
	for _, d := range drafts {
		fmt.Printf("%s  %-24s  v%-8s  %s\n",
			d.ID, d.Manifest.Name, d.Manifest.Version, d.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runSuggest(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.store.Close()

	draft, err := rt.store.GetDraft(args[0])
	if err != nil {
		return err
	}

	hints := autowire.SuggestCommonConnections(draft.Manifest)
	if len(hints) == 0 {
		fmt.Println("No wiring hints; the widget declares no recognizable ports.")
		return nil
	}
	for _, h := range hints {
		fmt.Printf("- %s\n", h)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.store.Close()

	for _, recordType := range []string{"generation", "iteration", "variation"} {
		rate, err := rt.store.SuccessRate(recordType)
		if err != nil {
			return err
		}
		fmt.Printf("%-10s success rate: %.0f%%\n", recordType, rate*100)
	}

	records, err := rt.store.RecentRecords(10)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		fmt.Println("\nRecent outcomes:")
		for _, rec := range records {
			line := fmt.Sprintf("%s  %-10s %-8s", rec.CreatedAt.Format("01-02 15:04"), rec.Type, rec.Result)
			if rec.ErrorMessage != "" {
				line += "  " + rec.ErrorMessage
			}
			fmt.Println(line)
		}
	}
	return nil
}

// signalContext cancels on SIGINT/SIGTERM so an in-flight provider
// call aborts cleanly.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

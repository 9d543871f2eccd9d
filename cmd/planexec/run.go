package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/planexec/planexec/internal/config"
	"github.com/planexec/planexec/internal/engine"
	"github.com/planexec/planexec/internal/events"
	"github.com/planexec/planexec/internal/handler"
	"github.com/planexec/planexec/internal/handler/builtins"
	"github.com/planexec/planexec/internal/observability"
	"github.com/planexec/planexec/internal/plan"
	"github.com/planexec/planexec/internal/synthesis"
)

var (
	runMode       string
	runParallel   int
	runOutput     string
	runCorpusFile string
)

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Execute a plan",
	Long: `Run loads a plan document, lints it, resolves its execution layers,
and executes it with the builtin step handlers. The final result,
including per-step outcomes and the synthesized output, is printed in
the chosen format.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "Override execution mode (sequential|concurrent)")
	runCmd.Flags().IntVar(&runParallel, "max-parallel", 0, "Override concurrency limit")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "text", "Output format (text|json)")
	runCmd.Flags().StringVar(&runCorpusFile, "corpus", "", "YAML document corpus backing search steps")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	p, err := plan.LoadYAMLFile(args[0])
	if err != nil {
		return err
	}

	if runMode != "" {
		cfg.Engine.Mode = runMode
	}
	if runParallel > 0 {
		cfg.Engine.MaxParallel = runParallel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Logging, os.Stderr)

	tp, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		_ = observability.ShutdownTracing(context.Background(), tp)
	}()

	registry, err := buildRegistry()
	if err != nil {
		return err
	}

	bus := events.NewEventBus(events.WithDefaultBufferSize(cfg.Events.BufferSize))
	defer bus.Close()
	stopProgress := watchProgress(ctx, cmd, bus)

	estimator := synthesis.NewHeuristicEstimator(cfg.Synthesis.CharsPerToken)
	aggregator := synthesis.NewAggregator(cfg.Synthesis.TokenBudget,
		synthesis.WithEstimator(estimator),
		synthesis.WithLogger(logger),
	)

	eng := engine.New(registry,
		engine.WithLogger(logger),
		engine.WithTracer(tp.Tracer("planexec")),
		engine.WithMode(engine.Mode(cfg.Engine.Mode)),
		engine.WithMaxParallel(cfg.Engine.MaxParallel),
		engine.WithStepTimeout(cfg.Engine.StepTimeout),
		engine.WithEventBus(bus),
		engine.WithSynthesizer(aggregator),
	)

	result, err := eng.Execute(ctx, p)
	stopProgress()
	if err != nil {
		return err
	}

	return printResult(cmd, result)
}

// buildRegistry wires the builtin handlers using the fetch config and the
// optional search corpus.
func buildRegistry() (handler.Registry, error) {
	var corpus []builtins.Document
	if runCorpusFile != "" {
		data, err := os.ReadFile(runCorpusFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read corpus file: %w", err)
		}
		if err := yaml.Unmarshal(data, &corpus); err != nil {
			return nil, fmt.Errorf("failed to parse corpus file: %w", err)
		}
	}

	registry := handler.NewRegistry()
	handlers := []handler.Handler{
		builtins.NewSearchHandler(corpus),
		builtins.NewReadURLHandler(
			builtins.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.Fetch.RatePerSecond), cfg.Fetch.FanOut)),
			builtins.WithFanOut(cfg.Fetch.FanOut),
		),
		builtins.NewVerifyHandler(),
		builtins.NewSynthesizeHandler(),
	}
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// watchProgress prints step transitions to stderr in verbose mode. Returns
// a function that stops the watcher.
func watchProgress(ctx context.Context, cmd *cobra.Command, bus events.EventBus) func() {
	if !verbose {
		return func() {}
	}

	ch, cleanup := bus.Subscribe(ctx, events.Filter{
		Types: []events.EventType{
			events.EventStepStarted,
			events.EventStepCompleted,
			events.EventStepFailed,
			events.EventStepSkipped,
			events.EventPlanProgress,
		},
	}, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			switch payload := ev.Payload.(type) {
			case events.StepTransitionPayload:
				line := fmt.Sprintf("%s %s", payload.Status, payload.StepID)
				if payload.Reason != "" {
					line += " (" + payload.Reason + ")"
				}
				if payload.Error != "" {
					line += ": " + payload.Error
				}
				cmd.PrintErrln(line)
			case events.PlanProgressPayload:
				cmd.PrintErrf("progress: %d/%d steps settled (%.0f%%)\n",
					payload.SettledSteps, payload.TotalSteps, payload.PercentComplete)
			}
		}
	}()

	return func() {
		cleanup()
		<-done
	}
}

func printResult(cmd *cobra.Command, result *plan.ExecutionResult) error {
	if runOutput == "json" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("plan %s: %s\n", result.PlanID, result.Status)
	cmd.Printf("steps: %d completed, %d failed, %d skipped of %d (%.2fs)\n",
		result.Metrics.StepsCompleted,
		result.Metrics.StepsFailed,
		result.Metrics.StepsSkipped,
		result.Metrics.StepsTotal,
		result.Metrics.WallClock.Seconds(),
	)
	if result.PartialSuccess {
		cmd.Println("partial success: some steps did not complete")
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tDURATION\tDETAIL")
	for _, sr := range result.StepResults {
		detail := ""
		if sr.Error != nil {
			detail = sr.Error.Message
		} else if sr.SkipReason != "" {
			detail = sr.SkipReason
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", sr.StepID, sr.Status, sr.Duration, detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if result.Synthesis != nil {
		cmd.Println()
		cmd.Printf("synthesis: %s\n", result.Synthesis.Summary)
		if result.Synthesis.Degraded {
			cmd.Println("(degraded: budget-aware trimming unavailable)")
		}
		if result.Synthesis.Content != "" {
			cmd.Println()
			cmd.Println(result.Synthesis.Content)
		}
	}

	return nil
}

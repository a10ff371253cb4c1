// Package main provides the CLI entry point for codecage, a background
// coding-agent orchestrator: it drives a single agentic session inside a
// sandboxed container, optionally retrying against a verifier when the
// workspace fails to build or test cleanly.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codecage/codecage/internal/config"
	"github.com/codecage/codecage/internal/llm"
	"github.com/codecage/codecage/internal/observability"
	"github.com/codecage/codecage/internal/retryorchestrator"
	"github.com/codecage/codecage/internal/session"
	"github.com/codecage/codecage/internal/summarize"
	"github.com/codecage/codecage/internal/tools"
)

// Exit codes, per the external-interfaces contract.
const (
	exitSuccess        = 0
	exitFailure        = 1
	exitInvalidArgs    = 2
	exitSessionTimeout = 124
	exitSIGINT         = 130
	exitSIGTERM        = 143
)

var (
	taskType   string
	repo       string
	turnLimit  int
	timeoutSec int
	maxRetries int
	model      string
	image      string
	configPath string
)

func main() {
	logger := observability.NewLogger(observability.LogConfig{
		Level: os.Getenv("LOG_LEVEL"),
	})

	rootCmd := buildRootCmd(logger)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitInvalidArgs)
	}
}

func buildRootCmd(logger *observability.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "codecage",
		Short:         "codecage - sandboxed coding-agent orchestrator",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), logger)
		},
	}

	rootCmd.Flags().StringVarP(&taskType, "task-type", "t", "", "task type describing the work the agent should do (required)")
	rootCmd.Flags().StringVarP(&repo, "repo", "r", "", "path to the repository to work in (required, must exist)")
	rootCmd.Flags().IntVar(&turnLimit, "turn-limit", 0, "maximum agentic loop turns (1-100, default 10)")
	rootCmd.Flags().IntVar(&timeoutSec, "timeout", 0, "session wall-clock timeout in seconds (30-3600, default 300)")
	rootCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "maximum retry attempts (1-10, default 3)")
	rootCmd.Flags().StringVar(&configPath, "config", "", "optional YAML config file supplying flag defaults")
	_ = rootCmd.MarkFlagRequired("task-type")
	_ = rootCmd.MarkFlagRequired("repo")

	return rootCmd
}

func run(ctx context.Context, logger *observability.Logger) error {
	if taskType == "" {
		return fmt.Errorf("--task-type is required")
	}
	if repo == "" {
		return fmt.Errorf("--repo is required")
	}
	if _, err := os.Stat(repo); err != nil {
		return fmt.Errorf("--repo %q does not exist: %w", repo, err)
	}

	fileValues := &config.Defaults
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		merged := config.Merge(&config.Defaults, loaded)
		fileValues = &merged
	}
	flagValues := flagOverrides()
	resolved := config.Merge(fileValues, flagValues)

	model = valueOrDefault(model, resolved.Model, llm.DefaultModel)
	image = valueOrDefault(image, resolved.Image, "")

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if m := os.Getenv("CLAUDE_MODEL"); m != "" {
		model = m
	}

	client := llm.NewClient(apiKey)
	sdkTools, err := tools.ToSDKTools()
	if err != nil {
		return fmt.Errorf("building tool schema: %w", err)
	}

	metrics := observability.NewMetrics(nil)

	orchestratorCfg := retryorchestrator.Config{
		MaxRetries: *resolved.MaxRetries,
		Verifier:   npmVerifier,
	}

	systemPrompt := fmt.Sprintf("You are an autonomous coding agent working on a %q task inside a sandboxed workspace.", taskType)

	factory := func(ctx context.Context, attempt int) (retryorchestrator.SessionHandle, error) {
		cfg := session.Config{
			WorkspaceDir: repo,
			Image:        image,
			Model:        model,
			TurnLimit:    *resolved.TurnLimit,
			TimeoutMs:    *resolved.TimeoutSec * 1000,
		}
		sup, err := session.New(cfg, client, sdkTools, logger.With(observability.LoggerFields{Attempt: attempt}), metrics)
		if err != nil {
			return nil, err
		}
		return sup, nil
	}

	orchestrator, err := retryorchestrator.New(orchestratorCfg, systemPrompt, repo, factory, logger, metrics)
	if err != nil {
		return fmt.Errorf("building retry orchestrator: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	resultCh := make(chan retryorchestrator.Result, 1)
	go func() {
		resultCh <- orchestrator.Run(runCtx, taskType)
	}()

	select {
	case result := <-resultCh:
		return exitForResult(result)
	case sig := <-sigCh:
		stop()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = orchestrator.Stop(cleanupCtx)

		if sig == syscall.SIGTERM {
			os.Exit(exitSIGTERM)
		}
		os.Exit(exitSIGINT)
		return nil
	}
}

func exitForResult(result retryorchestrator.Result) error {
	switch result.FinalStatus {
	case retryorchestrator.FinalSuccess:
		os.Exit(exitSuccess)
	case retryorchestrator.FinalTimeout:
		os.Exit(exitSessionTimeout)
	case retryorchestrator.FinalFailed, retryorchestrator.FinalTurnLimit, retryorchestrator.FinalMaxRetriesExhausted:
		os.Exit(exitFailure)
	default:
		os.Exit(exitFailure)
	}
	return nil
}

func flagOverrides() *config.File {
	f := &config.File{}
	if turnLimit != 0 {
		f.TurnLimit = &turnLimit
	}
	if timeoutSec != 0 {
		f.TimeoutSec = &timeoutSec
	}
	if maxRetries != 0 {
		f.MaxRetries = &maxRetries
	}
	if model != "" {
		f.Model = &model
	}
	if image != "" {
		f.Image = &image
	}
	return f
}

func valueOrDefault(flagValue string, resolved *string, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	if resolved != nil && *resolved != "" {
		return *resolved
	}
	return fallback
}

// npmVerifier is the default verifier: it runs the workspace's build and
// test scripts on the host and turns their combined output into typed
// VerificationErrors via the summarizer.
func npmVerifier(ctx context.Context, workspaceDir string) summarize.VerificationResult {
	start := time.Now()
	var errs []summarize.VerificationError

	if out, err := runInDir(ctx, workspaceDir, "npm", "run", "build"); err != nil {
		errs = append(errs, summarize.VerificationError{
			Type:    summarize.ErrorBuild,
			Summary: summarize.BuildDigest(out),
		})
	}

	if out, err := runInDir(ctx, workspaceDir, "npm", "test"); err != nil {
		errs = append(errs, summarize.VerificationError{
			Type:    summarize.ErrorTest,
			Summary: summarize.TestDigest(out),
		})
	}

	return summarize.VerificationResult{
		Passed:     len(errs) == 0,
		Errors:     errs,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

func runInDir(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
}

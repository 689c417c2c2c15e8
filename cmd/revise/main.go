package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/reviseloop/revise/internal/config"
	"github.com/reviseloop/revise/internal/dispatch"
	"github.com/reviseloop/revise/internal/fanout"
	"github.com/reviseloop/revise/internal/llm"
	"github.com/reviseloop/revise/internal/logger"
	"github.com/reviseloop/revise/internal/progress"
	"github.com/reviseloop/revise/internal/refine"
	"github.com/reviseloop/revise/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	var (
		configPath = flag.String("config", "revise.yaml", "path to the YAML configuration file")
		query      = flag.String("query", "", "query to answer; read from stdin when omitted")
		iterations = flag.Int("iterations", 0, "override max refinement iterations")
		fanOut     = flag.Int("fanout", 0, "override the number of parallel sessions")
		stream     = flag.Bool("stream", false, "stream worker output as it arrives")
		logLevel   = flag.String("log-level", "", "override log level (debug, info, warning, error)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *iterations > 0 {
		cfg.MaxIterations = *iterations
	}
	if *fanOut > 0 {
		cfg.FanOut = *fanOut
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if cfg.LogPath != "" {
		if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", initErr)
		} else {
			defer func() {
				if err != nil {
					logger.Error("fatal error: %v", err)
				}
				if closeErr := logger.Global().Close(); closeErr != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
				}
			}()
		}
	}

	q, err := resolveQuery(*query)
	if err != nil {
		return err
	}

	client, err := llm.NewClientForProvider(llm.ProviderConfig{
		Name:            cfg.Provider.Name,
		APIKey:          cfg.Provider.APIKey,
		BaseURL:         cfg.Provider.BaseURL,
		Model:           cfg.Provider.Model,
		RequestInterval: cfg.PacingInterval(),
		TokensPerMinute: cfg.TokensPerMinute,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway client: %w", err)
	}

	evaluator := client
	if cfg.Evaluator.Model != "" && cfg.Evaluator.Model != cfg.Provider.Model {
		evaluator, err = llm.NewClientForProvider(llm.ProviderConfig{
			Name:            cfg.Provider.Name,
			APIKey:          cfg.Provider.APIKey,
			BaseURL:         cfg.Provider.BaseURL,
			Model:           cfg.EvaluatorModel(),
			RequestInterval: cfg.PacingInterval(),
			TokensPerMinute: cfg.TokensPerMinute,
		})
		if err != nil {
			return fmt.Errorf("failed to create evaluator client: %w", err)
		}
	}

	root, err := os.Getwd()
	if err != nil {
		return err
	}
	registry := tools.NewDefaultRegistry(root)
	dispatcher := dispatch.New(client, registry, cfg.ToolCallCap)

	loop, err := refine.NewBuilder().
		WithWorker(client).
		WithEvaluator(evaluator).
		WithDispatcher(dispatcher).
		WithConfig(refine.Config{
			MaxIterations:         cfg.MaxIterations,
			WorkerTemperature:     cfg.WorkerTemperature(),
			EvaluatorTemperature:  cfg.EvaluatorTemperature(),
			WorkerSystemPrompt:    cfg.Worker.SystemPrompt,
			MaxTokens:             cfg.Worker.MaxTokens,
			PassTokens:            cfg.Evaluator.PassTokens,
			ContinueOnWorkerError: cfg.ContinueOnWorkerError,
			Stream:                *stream,
			RequestTimeout:        cfg.RequestTimeout(),
		}).
		Build()
	if err != nil {
		return err
	}

	var streamed bool
	callback := consoleCallback(os.Stdout, os.Stderr, &streamed)
	ctx := context.Background()

	if cfg.FanOut > 1 {
		orchestrator, err := fanout.New(loop, client, fanout.Config{
			Count:       cfg.FanOut,
			Aggregation: cfg.Aggregation,
		})
		if err != nil {
			return err
		}
		result, err := orchestrator.Run(ctx, q, callback)
		if err != nil {
			return err
		}
		fmt.Println(result.Text)
		return nil
	}

	result := loop.Run(ctx, q, refine.Session{Progress: callback})
	if result.Failed() {
		return fmt.Errorf("session failed: %s", result.Reason)
	}
	if *stream && streamed {
		fmt.Println()
	} else {
		fmt.Println(result.FinalText)
	}
	logger.Info("session %s finished: %s after %d iteration(s)", result.ID, result.Outcome, result.IterationsUsed)
	return nil
}

// resolveQuery takes the flag value or falls back to stdin so the command
// composes in pipelines.
func resolveQuery(flagValue string) (string, error) {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue, nil
	}

	stat, err := os.Stdin.Stat()
	if err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read query from stdin: %w", err)
		}
		if q := strings.TrimSpace(string(data)); q != "" {
			return q, nil
		}
	}
	return "", fmt.Errorf("no query provided; use -query or pipe one via stdin")
}

// consoleCallback prints status lines to stderr and streamed chunks to
// stdout, recording whether any chunk arrived so the caller can fall back to
// printing the final text.
func consoleCallback(out, status io.Writer, streamed *bool) progress.Callback {
	return func(update progress.Update) error {
		update = progress.Normalize(update)
		switch update.Kind {
		case progress.KindChunk:
			*streamed = true
			fmt.Fprint(out, update.Message)
		case progress.KindStatus:
			fmt.Fprintf(status, "[session %d] %s", update.Session+1, update.Message)
			if !strings.HasSuffix(update.Message, "\n") {
				fmt.Fprintln(status)
			}
		}
		return nil
	}
}

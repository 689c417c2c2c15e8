package refine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/reviseloop/revise/internal/dispatch"
	"github.com/reviseloop/revise/internal/llm"
	"github.com/reviseloop/revise/internal/progress"
	"github.com/reviseloop/revise/internal/tools"
)

func buildLoop(t *testing.T, worker, evaluator llm.Client, cfg Config) *Loop {
	t.Helper()
	loop, err := NewBuilder().
		WithWorker(worker).
		WithEvaluator(evaluator).
		WithConfig(cfg).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return loop
}

func TestRunPassesOnFirstAttempt(t *testing.T) {
	worker := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "4", StopReason: "stop"}},
	}
	evaluator := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "SATISFACTORY", StopReason: "stop"}},
	}

	cfg := DefaultConfig()
	cfg.MaxIterations = 2
	loop := buildLoop(t, worker, evaluator, cfg)

	result := loop.Run(context.Background(), "What is 2+2?", Session{})

	if result.Outcome != OutcomePassed {
		t.Errorf("Outcome = %v, want Passed", result.Outcome)
	}
	if result.FinalText != "4" {
		t.Errorf("FinalText = %q, want 4", result.FinalText)
	}
	if result.IterationsUsed != 1 {
		t.Errorf("IterationsUsed = %d, want 1", result.IterationsUsed)
	}
	// Pass short-circuits: no further calls after the accepted attempt.
	if worker.CallCount() != 1 {
		t.Errorf("worker calls = %d, want 1", worker.CallCount())
	}
	if evaluator.CallCount() != 1 {
		t.Errorf("evaluator calls = %d, want 1", evaluator.CallCount())
	}
}

func TestRunExhaustsBudget(t *testing.T) {
	worker := &llm.MockClient{
		Responses: []*llm.CompletionResponse{
			{Content: "4", StopReason: "stop"},
			{Content: "The answer is 4 because 2+2=4.", StopReason: "stop"},
		},
	}
	evaluator := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "NOT SATISFACTORY: too terse", StopReason: "stop"}},
	}

	cfg := DefaultConfig()
	cfg.MaxIterations = 2
	loop := buildLoop(t, worker, evaluator, cfg)

	result := loop.Run(context.Background(), "What is 2+2?", Session{})

	if result.Outcome != OutcomeExhaustedRetries {
		t.Errorf("Outcome = %v, want ExhaustedRetries", result.Outcome)
	}
	if result.FinalText != "The answer is 4 because 2+2=4." {
		t.Errorf("FinalText = %q", result.FinalText)
	}
	if result.IterationsUsed != 2 {
		t.Errorf("IterationsUsed = %d, want 2", result.IterationsUsed)
	}

	// Exactly max_iterations worker calls, max_iterations-1 evaluator calls:
	// the final permitted iteration is accepted unevaluated.
	if worker.CallCount() != 2 {
		t.Errorf("worker calls = %d, want 2", worker.CallCount())
	}
	if evaluator.CallCount() != 1 {
		t.Errorf("evaluator calls = %d, want 1", evaluator.CallCount())
	}

	// The second worker prompt must carry the first critique.
	second := worker.Requests[1]
	if !strings.Contains(second.Messages[0].Content, "too terse") {
		t.Errorf("critique not folded into second prompt: %q", second.Messages[0].Content)
	}
}

func TestRunAccumulatesFullHistory(t *testing.T) {
	worker := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "draft", StopReason: "stop"}},
	}
	evaluator := &llm.MockClient{
		Responses: []*llm.CompletionResponse{
			{Content: "NOT SATISFACTORY: critique one", StopReason: "stop"},
			{Content: "NOT SATISFACTORY: critique two", StopReason: "stop"},
		},
	}

	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	loop := buildLoop(t, worker, evaluator, cfg)

	result := loop.Run(context.Background(), "Explain entropy.", Session{})

	if result.Outcome != OutcomeExhaustedRetries {
		t.Fatalf("Outcome = %v", result.Outcome)
	}

	// The third worker prompt renders the entire history, not just the latest critique.
	third := worker.Requests[2].Messages[0].Content
	if !strings.Contains(third, "critique one") || !strings.Contains(third, "critique two") {
		t.Errorf("third prompt missing accumulated critiques: %q", third)
	}
}

func TestRunEmptyQuery(t *testing.T) {
	worker := &llm.MockClient{}
	evaluator := &llm.MockClient{}
	loop := buildLoop(t, worker, evaluator, DefaultConfig())

	result := loop.Run(context.Background(), "   ", Session{})

	if result.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %v, want Failed", result.Outcome)
	}
	if !strings.Contains(result.Reason, "empty query") {
		t.Errorf("Reason = %q", result.Reason)
	}
	if worker.CallCount() != 0 || evaluator.CallCount() != 0 {
		t.Errorf("gateway was called on empty query")
	}
}

func TestRunWorkerTransportFailureIsFatal(t *testing.T) {
	worker := &llm.MockClient{
		Errs: []error{llm.NewTransportError("openai", 500, errors.New("boom"))},
	}
	loop := buildLoop(t, worker, &llm.MockClient{}, DefaultConfig())

	result := loop.Run(context.Background(), "hello", Session{})

	if result.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %v, want Failed", result.Outcome)
	}
	if !strings.Contains(result.Reason, "worker call failed") {
		t.Errorf("Reason = %q", result.Reason)
	}
	if worker.CallCount() != 1 {
		t.Errorf("worker retried a fatal transport error: %d calls", worker.CallCount())
	}
}

func TestRunContinueOnWorkerError(t *testing.T) {
	calls := 0
	worker := &llm.MockClient{
		OnComplete: func(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			calls++
			if calls == 1 {
				return nil, llm.NewTransportError("openai", 503, errors.New("unavailable"))
			}
			return &llm.CompletionResponse{Content: "recovered answer", StopReason: "stop"}, nil
		},
	}
	evaluator := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "SATISFACTORY", StopReason: "stop"}},
	}

	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	cfg.ContinueOnWorkerError = true
	loop := buildLoop(t, worker, evaluator, cfg)

	result := loop.Run(context.Background(), "hello", Session{})

	if result.Outcome != OutcomePassed {
		t.Fatalf("Outcome = %v (%s), want Passed", result.Outcome, result.Reason)
	}
	if result.FinalText != "recovered answer" {
		t.Errorf("FinalText = %q", result.FinalText)
	}
	if result.IterationsUsed != 2 {
		t.Errorf("IterationsUsed = %d, want 2", result.IterationsUsed)
	}
}

func TestRunEvaluatorTransportFailureIsFatal(t *testing.T) {
	worker := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "draft", StopReason: "stop"}},
	}
	evaluator := &llm.MockClient{
		Errs: []error{llm.NewTransportError("anthropic", 0, errors.New("timeout"))},
	}

	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	cfg.ContinueOnWorkerError = true // must not apply to evaluator failures
	loop := buildLoop(t, worker, evaluator, cfg)

	result := loop.Run(context.Background(), "hello", Session{})

	if result.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %v, want Failed", result.Outcome)
	}
	if !strings.Contains(result.Reason, "evaluator call failed") {
		t.Errorf("Reason = %q", result.Reason)
	}
}

func TestRunEvaluatorUsesConfiguredTemperature(t *testing.T) {
	worker := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "draft", StopReason: "stop"}},
	}
	evaluator := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "SATISFACTORY", StopReason: "stop"}},
	}

	cfg := DefaultConfig()
	cfg.WorkerTemperature = 0.9
	cfg.EvaluatorTemperature = 0.1
	loop := buildLoop(t, worker, evaluator, cfg)

	loop.Run(context.Background(), "hello", Session{})

	if got := worker.Requests[0].Temperature; got != 0.9 {
		t.Errorf("worker temperature = %v", got)
	}
	if got := evaluator.Requests[0].Temperature; got != 0.1 {
		t.Errorf("evaluator temperature = %v", got)
	}

	// The evaluator sees the original query and the attempt verbatim.
	prompt := evaluator.Requests[0].Messages[0].Content
	if !strings.Contains(prompt, "hello") || !strings.Contains(prompt, "draft") {
		t.Errorf("evaluator prompt missing query or attempt: %q", prompt)
	}
}

func TestRunToolCapExceeded(t *testing.T) {
	// Worker always requests another calculator call; the dispatcher must
	// force termination and the session must surface ToolCapExceeded.
	worker := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{
			StopReason: "tool_calls",
			ToolCalls: []map[string]interface{}{
				{
					"id":   "call_1",
					"type": "function",
					"function": map[string]interface{}{
						"name":      "calculate",
						"arguments": `{"expression":"1+1"}`,
					},
				},
			},
		}},
	}
	evaluator := &llm.MockClient{}

	registry := tools.NewRegistry()
	registry.Register(tools.NewCalculatorTool())
	dispatcher := dispatch.New(worker, registry, 3)

	cfg := DefaultConfig()
	loop, err := NewBuilder().
		WithWorker(worker).
		WithEvaluator(evaluator).
		WithDispatcher(dispatcher).
		WithConfig(cfg).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result := loop.Run(context.Background(), "keep calculating", Session{})

	if result.Outcome != OutcomeToolCapExceeded {
		t.Errorf("Outcome = %v, want ToolCapExceeded", result.Outcome)
	}
	if !strings.Contains(result.FinalText, dispatch.CapSentinel) {
		t.Errorf("FinalText missing sentinel: %q", result.FinalText)
	}
	if evaluator.CallCount() != 0 {
		t.Errorf("evaluator called after forced termination")
	}
}

func TestRunStreamsWorkerOutput(t *testing.T) {
	worker := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "streamed answer", StopReason: "stop"}},
	}
	evaluator := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "SATISFACTORY", StopReason: "stop"}},
	}

	cfg := DefaultConfig()
	cfg.Stream = true
	loop := buildLoop(t, worker, evaluator, cfg)

	var chunks []string
	result := loop.Run(context.Background(), "hello", Session{
		Progress: func(u progress.Update) error {
			if u.Kind == progress.KindChunk {
				chunks = append(chunks, u.Message)
			}
			return nil
		},
	})

	if result.Outcome != OutcomePassed {
		t.Fatalf("Outcome = %v", result.Outcome)
	}
	if len(chunks) == 0 || strings.Join(chunks, "") != "streamed answer" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestRunEmitsTerminalStatus(t *testing.T) {
	worker := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "4", StopReason: "stop"}},
	}
	evaluator := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "SATISFACTORY", StopReason: "stop"}},
	}
	loop := buildLoop(t, worker, evaluator, DefaultConfig())

	var statuses []progress.Update
	loop.Run(context.Background(), "What is 2+2?", Session{
		Progress: func(u progress.Update) error {
			if u.Kind == progress.KindStatus {
				statuses = append(statuses, u)
			}
			return nil
		},
	})

	if len(statuses) == 0 {
		t.Fatalf("no status events emitted")
	}
	last := statuses[len(statuses)-1]
	if !last.Done {
		t.Errorf("final status not marked done: %+v", last)
	}
	for _, u := range statuses[:len(statuses)-1] {
		if u.Done {
			t.Errorf("non-terminal status marked done: %+v", u)
		}
	}
}

func TestRunStreamsThroughDispatcher(t *testing.T) {
	// Stream mode must deliver chunks even when generation goes through the
	// tool dispatch sub-loop, as it does in the CLI wiring.
	worker := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "streamed answer", StopReason: "stop"}},
	}
	evaluator := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "SATISFACTORY", StopReason: "stop"}},
	}
	dispatcher := dispatch.New(worker, tools.NewRegistry(), 0)

	cfg := DefaultConfig()
	cfg.Stream = true
	loop, err := NewBuilder().
		WithWorker(worker).
		WithEvaluator(evaluator).
		WithDispatcher(dispatcher).
		WithConfig(cfg).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var chunks []string
	result := loop.Run(context.Background(), "hello", Session{
		Progress: func(u progress.Update) error {
			if u.Kind == progress.KindChunk {
				chunks = append(chunks, u.Message)
			}
			return nil
		},
	})

	if result.Outcome != OutcomePassed {
		t.Fatalf("Outcome = %v (%s)", result.Outcome, result.Reason)
	}
	if strings.Join(chunks, "") != "streamed answer" {
		t.Errorf("chunks = %v, want the full answer delivered", chunks)
	}
}

func TestRunAppliesRequestTimeout(t *testing.T) {
	var hadDeadline bool
	worker := &llm.MockClient{
		OnComplete: func(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			_, hadDeadline = ctx.Deadline()
			return &llm.CompletionResponse{Content: "ok", StopReason: "stop"}, nil
		},
	}
	evaluator := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "SATISFACTORY", StopReason: "stop"}},
	}

	cfg := DefaultConfig()
	cfg.RequestTimeout = 30 * time.Second
	loop := buildLoop(t, worker, evaluator, cfg)

	loop.Run(context.Background(), "hello", Session{})

	if !hadDeadline {
		t.Errorf("worker call context carried no deadline")
	}
}

func TestBuilderValidation(t *testing.T) {
	if _, err := NewBuilder().Build(); err == nil {
		t.Errorf("expected error without worker")
	}

	cfg := DefaultConfig()
	cfg.MaxIterations = 0
	if _, err := NewBuilder().WithWorker(&llm.MockClient{}).WithConfig(cfg).Build(); err == nil {
		t.Errorf("expected error for zero iterations")
	}

	// Evaluator defaults to the worker client.
	loop, err := NewBuilder().WithWorker(&llm.MockClient{}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if loop.evaluator != loop.worker {
		t.Errorf("evaluator should default to worker")
	}
}

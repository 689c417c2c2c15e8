// Package refine implements the bounded generator-evaluator loop: a worker
// model produces candidate answers, an evaluator judges them, and failing
// critiques accumulate into the next attempt's prompt until an attempt
// passes or the iteration budget runs out.
package refine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reviseloop/revise/internal/dispatch"
	"github.com/reviseloop/revise/internal/llm"
	"github.com/reviseloop/revise/internal/logger"
	"github.com/reviseloop/revise/internal/progress"
)

const defaultEvaluatorSystemPrompt = `You are a strict but fair evaluator. Your task is to critique an answer based on a user's question.
Your response MUST begin with one of two exact phrases:
1. 'SATISFACTORY' if the answer is high-quality, accurate, and directly addresses the user's question.
2. 'NOT SATISFACTORY:' if the answer has flaws. If so, you must provide a brief, constructive reason for the failure.`

// Config controls one session's behavior.
type Config struct {
	// MaxIterations bounds worker attempts; must be at least 1.
	MaxIterations int
	// WorkerTemperature is the sampling temperature for generation.
	WorkerTemperature float64
	// EvaluatorTemperature should stay low and fixed; verdict stability
	// matters more than creativity.
	EvaluatorTemperature float64
	// WorkerSystemPrompt seeds the worker conversation. Optional.
	WorkerSystemPrompt string
	// EvaluatorSystemPrompt overrides the default judging instructions. Optional.
	EvaluatorSystemPrompt string
	// MaxTokens caps generation length per call.
	MaxTokens int
	// PassTokens are the acceptance keywords the verdict parser looks for.
	PassTokens []string
	// ContinueOnWorkerError treats a failed worker call as a failing
	// attempt instead of aborting the session. Evaluator failures are
	// always fatal regardless of this setting.
	ContinueOnWorkerError bool
	// Stream forwards worker output chunks to the progress callback as
	// they arrive. Only applies to passes without tool dispatch.
	Stream bool
	// RequestTimeout bounds each gateway call's wall-clock time. Zero
	// disables the per-call deadline.
	RequestTimeout time.Duration
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        3,
		WorkerTemperature:    0.7,
		EvaluatorTemperature: 0.1,
	}
}

// Loop drives one or more sessions. It is stateless across sessions; every
// Run owns its own conversation and feedback history, so a single Loop may
// serve concurrent sessions.
type Loop struct {
	worker     llm.Client
	evaluator  llm.Client
	dispatcher *dispatch.Dispatcher
	parser     *VerdictParser
	cfg        Config
	log        *logger.Logger
}

// Builder assembles a Loop.
type Builder struct {
	loop Loop
	err  error
}

// NewBuilder starts a Loop configuration with defaults.
func NewBuilder() *Builder {
	return &Builder{loop: Loop{cfg: DefaultConfig()}}
}

// WithWorker sets the generating client.
func (b *Builder) WithWorker(client llm.Client) *Builder {
	b.loop.worker = client
	return b
}

// WithEvaluator sets the judging client.
func (b *Builder) WithEvaluator(client llm.Client) *Builder {
	b.loop.evaluator = client
	return b
}

// WithDispatcher routes worker generation through a tool dispatch sub-loop.
func (b *Builder) WithDispatcher(d *dispatch.Dispatcher) *Builder {
	b.loop.dispatcher = d
	return b
}

// WithConfig replaces the loop configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.loop.cfg = cfg
	return b
}

// Build validates and returns the Loop.
func (b *Builder) Build() (*Loop, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.loop.worker == nil {
		return nil, fmt.Errorf("refine loop requires a worker client")
	}
	if b.loop.evaluator == nil {
		b.loop.evaluator = b.loop.worker
	}
	if b.loop.cfg.MaxIterations < 1 {
		return nil, fmt.Errorf("max iterations must be at least 1")
	}
	b.loop.parser = NewVerdictParser(b.loop.cfg.PassTokens)
	b.loop.log = logger.Global().WithPrefix("refine")
	return &b.loop, nil
}

// Session identifies one run within a fan-out batch.
type Session struct {
	// Index is the session's position in the originating request list.
	Index int
	// Progress receives advisory status and streaming events. May be nil.
	Progress progress.Callback
}

// Run executes one session. The caller always receives a well-formed
// SessionResult; failures are reported through the Failed outcome, never as
// a Go error.
func (l *Loop) Run(ctx context.Context, query string, session Session) *SessionResult {
	id := uuid.NewString()

	if strings.TrimSpace(query) == "" {
		progress.Finish(session.Progress, session.Index, 0, "empty query")
		return failedResult(id, 0, "empty query")
	}

	history := &FeedbackHistory{}

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		progress.Status(session.Progress, session.Index, iteration,
			fmt.Sprintf("Attempt %d: generating answer...", iteration))

		attempt, capExceeded, err := l.generate(ctx, query, history, iteration, session)
		if err != nil {
			if l.cfg.ContinueOnWorkerError && iteration < l.cfg.MaxIterations {
				l.log.Warn("session %s attempt %d worker call failed, continuing: %v", id, iteration, err)
				history.Append(iteration, fmt.Sprintf("The previous attempt produced no output (worker call failed: %v).", err))
				continue
			}
			l.log.Error("session %s attempt %d worker call failed: %v", id, iteration, err)
			progress.Finish(session.Progress, session.Index, iteration,
				fmt.Sprintf("Attempt %d: worker call failed", iteration))
			return failedResult(id, iteration, "worker call failed: %v", err)
		}
		if capExceeded {
			l.log.Warn("session %s attempt %d hit the tool call cap", id, iteration)
			progress.Finish(session.Progress, session.Index, iteration,
				fmt.Sprintf("Attempt %d: tool call cap exceeded", iteration))
			return &SessionResult{
				ID:             id,
				FinalText:      attempt.Text,
				Outcome:        OutcomeToolCapExceeded,
				IterationsUsed: iteration,
			}
		}

		// The final permitted iteration is accepted unevaluated. This
		// bounds worst-case latency at the price of unverified output.
		if iteration == l.cfg.MaxIterations {
			progress.Finish(session.Progress, session.Index, iteration,
				fmt.Sprintf("Attempt %d: budget exhausted, accepting best effort", iteration))
			return &SessionResult{
				ID:             id,
				FinalText:      attempt.Text,
				Outcome:        OutcomeExhaustedRetries,
				IterationsUsed: iteration,
			}
		}

		progress.Status(session.Progress, session.Index, iteration,
			fmt.Sprintf("Attempt %d: evaluating...", iteration))

		verdict, err := l.evaluate(ctx, query, attempt)
		if err != nil {
			l.log.Error("session %s attempt %d evaluator call failed: %v", id, iteration, err)
			progress.Finish(session.Progress, session.Index, iteration,
				fmt.Sprintf("Attempt %d: evaluator call failed", iteration))
			return failedResult(id, iteration, "evaluator call failed: %v", err)
		}

		if verdict.Passed {
			progress.Finish(session.Progress, session.Index, iteration,
				fmt.Sprintf("Attempt %d: evaluation passed", iteration))
			return &SessionResult{
				ID:             id,
				FinalText:      attempt.Text,
				Outcome:        OutcomePassed,
				IterationsUsed: iteration,
			}
		}

		progress.Status(session.Progress, session.Index, iteration,
			fmt.Sprintf("Attempt %d: evaluation failed, refining", iteration))
		history.Append(iteration, CritiqueOf(verdict))
	}

	// Unreachable: the final iteration always returns above. Kept for the
	// compiler's control-flow analysis.
	return failedResult(id, l.cfg.MaxIterations, "no attempt produced output")
}

// callContext derives a per-call deadline when one is configured.
func (l *Loop) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, l.cfg.RequestTimeout)
	}
	return ctx, func() {}
}

func (l *Loop) generate(ctx context.Context, query string, history *FeedbackHistory, iteration int, session Session) (Attempt, bool, error) {
	ctx, cancel := l.callContext(ctx)
	defer cancel()

	messages := buildWorkerMessages(query, history)

	if l.dispatcher != nil {
		result, err := l.dispatcher.Run(ctx, &dispatch.Request{
			Messages:     messages,
			SystemPrompt: l.cfg.WorkerSystemPrompt,
			Temperature:  l.cfg.WorkerTemperature,
			MaxTokens:    l.cfg.MaxTokens,
			Session:      session.Index,
			Progress:     session.Progress,
		})
		if err != nil {
			return Attempt{}, false, err
		}
		// The dispatch sub-loop buffers tool output internally, so stream
		// mode delivers the assembled text as a single chunk.
		if l.cfg.Stream && session.Progress != nil && result.Text != "" {
			progress.Chunk(session.Progress, session.Index, result.Text)
		}
		return Attempt{Index: iteration, Text: result.Text, ProducedAt: time.Now()}, result.CapExceeded, nil
	}

	req := &llm.CompletionRequest{
		Messages:     messages,
		Temperature:  l.cfg.WorkerTemperature,
		MaxTokens:    l.cfg.MaxTokens,
		SystemPrompt: l.cfg.WorkerSystemPrompt,
	}

	if l.cfg.Stream && session.Progress != nil {
		var sb strings.Builder
		err := l.worker.Stream(ctx, req, func(chunk string) error {
			sb.WriteString(chunk)
			progress.Chunk(session.Progress, session.Index, chunk)
			return nil
		})
		if err != nil {
			return Attempt{}, false, err
		}
		return Attempt{Index: iteration, Text: sb.String(), ProducedAt: time.Now()}, false, nil
	}

	resp, err := l.worker.CompleteWithRequest(ctx, req)
	if err != nil {
		return Attempt{}, false, err
	}
	return Attempt{Index: iteration, Text: resp.Content, ProducedAt: time.Now()}, false, nil
}

func (l *Loop) evaluate(ctx context.Context, query string, attempt Attempt) (Verdict, error) {
	ctx, cancel := l.callContext(ctx)
	defer cancel()

	systemPrompt := l.cfg.EvaluatorSystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultEvaluatorSystemPrompt
	}

	// The evaluator always sees the original query and the current attempt
	// verbatim, never a compressed history.
	prompt := fmt.Sprintf("Original Question: %q\nAnswer to Evaluate: %q", query, attempt.Text)

	resp, err := l.evaluator.CompleteWithRequest(ctx, &llm.CompletionRequest{
		Messages:     []*llm.Message{llm.UserMessage(prompt)},
		Temperature:  l.cfg.EvaluatorTemperature,
		MaxTokens:    l.cfg.MaxTokens,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return Verdict{}, err
	}

	return l.parser.Parse(strings.TrimSpace(resp.Content)), nil
}

func buildWorkerMessages(query string, history *FeedbackHistory) []*llm.Message {
	content := query
	if rendered := history.Render(); rendered != "" {
		content = query + "\n\n" + rendered
	}
	return []*llm.Message{llm.UserMessage(content)}
}

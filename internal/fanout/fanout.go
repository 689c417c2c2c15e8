// Package fanout runs several independent refinement sessions over the same
// query in parallel and aggregates their results into a single answer.
package fanout

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/reviseloop/revise/internal/llm"
	"github.com/reviseloop/revise/internal/logger"
	"github.com/reviseloop/revise/internal/progress"
	"github.com/reviseloop/revise/internal/refine"
)

// Aggregation strategies.
const (
	AggregationSynthesize = "synthesize"
	AggregationConcat     = "concat"
)

const defaultSessionCount = 3

const synthesisSystemPrompt = `You are tasked with synthesizing multiple AI responses into one coherent, accurate, and well-structured answer. Consider all perspectives and create a unified response that incorporates the best insights from each.`

// SessionRunner executes one refinement session. *refine.Loop satisfies it.
type SessionRunner interface {
	Run(ctx context.Context, query string, session refine.Session) *refine.SessionResult
}

// Config controls the fan-out batch.
type Config struct {
	// Count is the number of parallel sessions; values below 1 fall back
	// to the default.
	Count int
	// Aggregation selects how branch outputs are combined.
	Aggregation string
}

// Result is the outcome of one fan-out run.
type Result struct {
	// Text is the aggregated answer.
	Text string
	// Branches holds every session's result, ordered by session index.
	// Its length always equals the configured count.
	Branches []*refine.SessionResult
}

// Orchestrator fans a query out to parallel sessions.
type Orchestrator struct {
	runner      SessionRunner
	synthesizer llm.Client
	cfg         Config
	log         *logger.Logger
}

// New creates an Orchestrator. The synthesizer client is only used by the
// synthesize strategy and may be nil for concat.
func New(runner SessionRunner, synthesizer llm.Client, cfg Config) (*Orchestrator, error) {
	if runner == nil {
		return nil, fmt.Errorf("fan-out requires a session runner")
	}
	if cfg.Count < 1 {
		cfg.Count = defaultSessionCount
	}
	switch cfg.Aggregation {
	case "":
		cfg.Aggregation = AggregationSynthesize
	case AggregationSynthesize, AggregationConcat:
	default:
		return nil, fmt.Errorf("unknown aggregation strategy %q", cfg.Aggregation)
	}
	if cfg.Aggregation == AggregationSynthesize && synthesizer == nil {
		return nil, fmt.Errorf("synthesize aggregation requires a synthesizer client")
	}
	return &Orchestrator{
		runner:      runner,
		synthesizer: synthesizer,
		cfg:         cfg,
		log:         logger.Global().WithPrefix("fanout"),
	}, nil
}

// Run executes the batch. Every session gets its own conversation and
// feedback history; one branch failing never aborts the others. The returned
// Branches slice is indexed by session and always has the configured length.
func (o *Orchestrator) Run(ctx context.Context, query string, callback progress.Callback) (*Result, error) {
	branches := make([]*refine.SessionResult, o.cfg.Count)

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Count; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			branches[idx] = o.runSession(ctx, idx, query, callback)
		}(i)
	}
	wg.Wait()

	for i, b := range branches {
		if b == nil || b.Failed() {
			continue
		}
		progress.Cite(callback, i, progress.Citation{
			Document:   b.FinalText,
			SourceName: fmt.Sprintf("Session %d", i+1),
			SourceURL:  fmt.Sprintf("session-%d-response", i+1),
		})
	}

	text, err := o.aggregate(ctx, query, branches)
	if err != nil {
		return nil, err
	}
	return &Result{Text: text, Branches: branches}, nil
}

// runSession isolates one branch. A panicking branch degrades to a failed
// placeholder so the remaining sessions still count.
func (o *Orchestrator) runSession(ctx context.Context, idx int, query string, callback progress.Callback) (result *refine.SessionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			o.log.Error("session %d panicked: %v", idx, rec)
			result = &refine.SessionResult{
				Outcome: refine.OutcomeFailed,
				Reason:  fmt.Sprintf("session panicked: %v", rec),
			}
		}
	}()

	progress.Status(callback, idx, 0, fmt.Sprintf("Session %d starting...", idx+1))
	result = o.runner.Run(ctx, query, refine.Session{Index: idx, Progress: callback})
	progress.Finish(callback, idx, 0, fmt.Sprintf("Session %d finished (%s)", idx+1, result.Outcome))
	return result
}

func (o *Orchestrator) aggregate(ctx context.Context, query string, branches []*refine.SessionResult) (string, error) {
	usable := usableBranches(branches)
	if len(usable) == 0 {
		return "All sessions failed to produce a result.", nil
	}
	if len(usable) == 1 {
		return usable[0].result.FinalText, nil
	}

	switch o.cfg.Aggregation {
	case AggregationConcat:
		return concat(usable), nil
	default:
		return o.synthesize(ctx, query, usable)
	}
}

type indexedResult struct {
	index  int
	result *refine.SessionResult
}

func usableBranches(branches []*refine.SessionResult) []indexedResult {
	var usable []indexedResult
	for i, b := range branches {
		if b == nil || b.Failed() || strings.TrimSpace(b.FinalText) == "" {
			continue
		}
		usable = append(usable, indexedResult{index: i, result: b})
	}
	return usable
}

func concat(usable []indexedResult) string {
	parts := make([]string, 0, len(usable))
	for _, b := range usable {
		parts = append(parts, fmt.Sprintf("**Session %d:**\n%s", b.index+1, b.result.FinalText))
	}
	return strings.Join(parts, "\n\n")
}

// synthesize issues one extra completion over all branch outputs. A failing
// synthesis call degrades to concatenation rather than losing the answers.
func (o *Orchestrator) synthesize(ctx context.Context, query string, usable []indexedResult) (string, error) {
	var sb strings.Builder
	sb.WriteString("Original question:\n")
	sb.WriteString(query)
	sb.WriteString("\n\nResponses:\n\n")
	for _, b := range usable {
		fmt.Fprintf(&sb, "Response %d:\n%s\n\n", b.index+1, b.result.FinalText)
	}
	sb.WriteString("Please provide a synthesized response that combines the best insights from all responses, resolves any contradictions, and directly addresses the original question.")

	resp, err := o.synthesizer.CompleteWithRequest(ctx, &llm.CompletionRequest{
		Messages:     []*llm.Message{llm.UserMessage(sb.String())},
		SystemPrompt: synthesisSystemPrompt,
		Temperature:  0.7,
	})
	if err != nil {
		o.log.Warn("synthesis call failed, falling back to concatenation: %v", err)
		return concat(usable), nil
	}
	if strings.TrimSpace(resp.Content) == "" {
		return concat(usable), nil
	}
	return resp.Content, nil
}

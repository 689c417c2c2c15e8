package fanout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/reviseloop/revise/internal/llm"
	"github.com/reviseloop/revise/internal/progress"
	"github.com/reviseloop/revise/internal/refine"
)

// stubRunner returns scripted results keyed by session index.
type stubRunner struct {
	mu      sync.Mutex
	results map[int]*refine.SessionResult
	queries []string
	run     func(idx int, query string) *refine.SessionResult
}

func (s *stubRunner) Run(ctx context.Context, query string, session refine.Session) *refine.SessionResult {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()

	if s.run != nil {
		return s.run(session.Index, query)
	}
	if r, ok := s.results[session.Index]; ok {
		return r
	}
	return &refine.SessionResult{
		FinalText: fmt.Sprintf("answer %d", session.Index),
		Outcome:   refine.OutcomePassed,
	}
}

func passed(text string) *refine.SessionResult {
	return &refine.SessionResult{FinalText: text, Outcome: refine.OutcomePassed}
}

func TestRunOrdersBranchesByIndex(t *testing.T) {
	runner := &stubRunner{
		results: map[int]*refine.SessionResult{
			0: passed("alpha"),
			1: passed("beta"),
			2: passed("gamma"),
		},
	}
	o, err := New(runner, nil, Config{Count: 3, Aggregation: AggregationConcat})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := o.Run(context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Branches) != 3 {
		t.Fatalf("Branches = %d, want 3", len(result.Branches))
	}
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if result.Branches[i].FinalText != want {
			t.Errorf("Branches[%d] = %q, want %q", i, result.Branches[i].FinalText, want)
		}
	}
	// Concat keeps session order regardless of goroutine completion order.
	if !strings.Contains(result.Text, "Session 1") ||
		strings.Index(result.Text, "alpha") > strings.Index(result.Text, "beta") {
		t.Errorf("Text = %q", result.Text)
	}
	if len(runner.queries) != 3 {
		t.Errorf("runner invoked %d times", len(runner.queries))
	}
}

func TestRunBranchFailureIsIsolated(t *testing.T) {
	runner := &stubRunner{
		results: map[int]*refine.SessionResult{
			0: passed("good answer"),
			1: {Outcome: refine.OutcomeFailed, Reason: "worker call failed: boom"},
			2: passed("another answer"),
		},
	}
	o, err := New(runner, nil, Config{Count: 3, Aggregation: AggregationConcat})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := o.Run(context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Branches) != 3 {
		t.Fatalf("Branches = %d, want 3", len(result.Branches))
	}
	if result.Branches[1].Outcome != refine.OutcomeFailed {
		t.Errorf("Branches[1] = %+v", result.Branches[1])
	}
	if !strings.Contains(result.Text, "good answer") || !strings.Contains(result.Text, "another answer") {
		t.Errorf("aggregate dropped surviving branches: %q", result.Text)
	}
	if strings.Contains(result.Text, "boom") {
		t.Errorf("failed branch leaked into aggregate: %q", result.Text)
	}
}

func TestRunPanickingBranchBecomesPlaceholder(t *testing.T) {
	runner := &stubRunner{
		run: func(idx int, query string) *refine.SessionResult {
			if idx == 1 {
				panic("session blew up")
			}
			return passed(fmt.Sprintf("answer %d", idx))
		},
	}
	o, err := New(runner, nil, Config{Count: 2, Aggregation: AggregationConcat})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := o.Run(context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Branches) != 2 {
		t.Fatalf("Branches = %d, want 2", len(result.Branches))
	}
	if result.Branches[1] == nil || result.Branches[1].Outcome != refine.OutcomeFailed {
		t.Errorf("Branches[1] = %+v", result.Branches[1])
	}
	if result.Text != "answer 0" {
		t.Errorf("Text = %q", result.Text)
	}
}

func TestRunAllBranchesFailed(t *testing.T) {
	runner := &stubRunner{
		run: func(idx int, query string) *refine.SessionResult {
			return &refine.SessionResult{Outcome: refine.OutcomeFailed, Reason: "no"}
		},
	}
	o, err := New(runner, nil, Config{Count: 3, Aggregation: AggregationConcat})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := o.Run(context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Branches) != 3 {
		t.Errorf("Branches = %d, want 3", len(result.Branches))
	}
	if !strings.Contains(result.Text, "All sessions failed") {
		t.Errorf("Text = %q", result.Text)
	}
}

func TestRunSynthesizeAggregation(t *testing.T) {
	runner := &stubRunner{
		results: map[int]*refine.SessionResult{
			0: passed("first take"),
			1: passed("second take"),
		},
	}
	synthesizer := &llm.MockClient{
		Responses: []*llm.CompletionResponse{{Content: "unified answer", StopReason: "stop"}},
	}
	o, err := New(runner, synthesizer, Config{Count: 2, Aggregation: AggregationSynthesize})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := o.Run(context.Background(), "the question", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Text != "unified answer" {
		t.Errorf("Text = %q", result.Text)
	}
	if synthesizer.CallCount() != 1 {
		t.Errorf("synthesizer calls = %d, want 1", synthesizer.CallCount())
	}

	prompt := synthesizer.Requests[0].Messages[0].Content
	for _, want := range []string{"the question", "first take", "second take"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("synthesis prompt missing %q: %q", want, prompt)
		}
	}
}

func TestRunEmitsCitationsPerSuccessfulBranch(t *testing.T) {
	runner := &stubRunner{
		results: map[int]*refine.SessionResult{
			0: passed("alpha"),
			1: {Outcome: refine.OutcomeFailed, Reason: "no"},
			2: passed("gamma"),
		},
	}
	o, err := New(runner, nil, Config{Count: 3, Aggregation: AggregationConcat})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var citations []progress.Citation
	var done int
	callback := func(u progress.Update) error {
		if u.Kind == progress.KindCitation && u.Citation != nil {
			citations = append(citations, *u.Citation)
		}
		if u.Kind == progress.KindStatus && u.Done {
			done++
		}
		return nil
	}

	if _, err := o.Run(context.Background(), "question", callback); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Every session, including the failed one, ends with a done status.
	if done != 3 {
		t.Errorf("terminal statuses = %d, want 3", done)
	}

	if len(citations) != 2 {
		t.Fatalf("citations = %d, want 2", len(citations))
	}
	if citations[0].SourceName != "Session 1" || citations[0].Document != "alpha" {
		t.Errorf("citations[0] = %+v", citations[0])
	}
	if citations[1].SourceName != "Session 3" || citations[1].Document != "gamma" {
		t.Errorf("citations[1] = %+v", citations[1])
	}
}

func TestRunSingleUsableBranchSkipsSynthesis(t *testing.T) {
	runner := &stubRunner{
		results: map[int]*refine.SessionResult{
			0: passed("lone answer"),
			1: {Outcome: refine.OutcomeFailed, Reason: "no"},
		},
	}
	synthesizer := &llm.MockClient{}
	o, err := New(runner, synthesizer, Config{Count: 2, Aggregation: AggregationSynthesize})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := o.Run(context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "lone answer" {
		t.Errorf("Text = %q", result.Text)
	}
	if synthesizer.CallCount() != 0 {
		t.Errorf("synthesis issued for a single branch")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, nil, Config{}); err == nil {
		t.Errorf("expected error for nil runner")
	}
	if _, err := New(&stubRunner{}, nil, Config{Aggregation: "vote"}); err == nil {
		t.Errorf("expected error for unknown aggregation")
	}
	if _, err := New(&stubRunner{}, nil, Config{Aggregation: AggregationSynthesize}); err == nil {
		t.Errorf("expected error for synthesize without client")
	}

	o, err := New(&stubRunner{}, nil, Config{Aggregation: AggregationConcat})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if o.cfg.Count != defaultSessionCount {
		t.Errorf("Count = %d, want default %d", o.cfg.Count, defaultSessionCount)
	}
}

package refine

import (
	"fmt"
	"time"
)

// Outcome classifies how a session ended.
type Outcome int

const (
	// OutcomePassed means the evaluator accepted an attempt.
	OutcomePassed Outcome = iota
	// OutcomeExhaustedRetries means the iteration budget ran out and the
	// last attempt was accepted unevaluated.
	OutcomeExhaustedRetries
	// OutcomeToolCapExceeded means a tool dispatch loop hit its hard cap.
	OutcomeToolCapExceeded
	// OutcomeFailed means the session aborted; Reason carries the cause.
	OutcomeFailed
)

// String returns a string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomePassed:
		return "passed"
	case OutcomeExhaustedRetries:
		return "exhausted_retries"
	case OutcomeToolCapExceeded:
		return "tool_cap_exceeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Attempt is one worker-generated candidate. Attempts are immutable; a new
// iteration produces a new Attempt rather than mutating the previous one.
type Attempt struct {
	Index      int
	Text       string
	ProducedAt time.Time
}

// Verdict is the parsed evaluator judgment. Critique is non-empty iff the
// attempt did not pass.
type Verdict struct {
	Passed   bool
	Critique string
}

// SessionResult is the terminal artifact of one session. It is the sole
// return value to the caller; sessions never surface raw errors.
type SessionResult struct {
	ID             string
	FinalText      string
	Outcome        Outcome
	Reason         string
	IterationsUsed int
}

// Failed reports whether the session aborted.
func (r *SessionResult) Failed() bool {
	return r.Outcome == OutcomeFailed
}

func failedResult(id string, iterations int, format string, args ...interface{}) *SessionResult {
	return &SessionResult{
		ID:             id,
		Outcome:        OutcomeFailed,
		Reason:         fmt.Sprintf(format, args...),
		IterationsUsed: iterations,
	}
}

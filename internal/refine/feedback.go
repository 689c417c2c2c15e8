package refine

import (
	"fmt"
	"strings"
)

// FeedbackEntry records one failing verdict.
type FeedbackEntry struct {
	Iteration int
	Critique  string
}

// FeedbackHistory accumulates critiques across a session. It only grows and
// is never reordered; every worker prompt after the first renders the whole
// history so earlier mistakes stay visible.
type FeedbackHistory struct {
	entries []FeedbackEntry
}

// Append records the critique for a failing iteration.
func (h *FeedbackHistory) Append(iteration int, critique string) {
	h.entries = append(h.entries, FeedbackEntry{Iteration: iteration, Critique: critique})
}

// Len returns the number of recorded critiques.
func (h *FeedbackHistory) Len() int {
	return len(h.entries)
}

// Entries returns a copy of the recorded critiques in order.
func (h *FeedbackHistory) Entries() []FeedbackEntry {
	out := make([]FeedbackEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Render formats the full history for inclusion in a worker prompt. Returns
// the empty string when no critiques have been recorded.
func (h *FeedbackHistory) Render() string {
	if len(h.entries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Your previous attempts were rejected. Address every point below before answering again:\n")
	for _, entry := range h.entries {
		fmt.Fprintf(&sb, "- Attempt %d: %s\n", entry.Iteration, strings.TrimSpace(entry.Critique))
	}
	return sb.String()
}

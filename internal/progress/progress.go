package progress

import "strings"

// Kind classifies a progress event.
type Kind int

const (
	// KindStatus is an advisory status line (session state changes,
	// iteration counters, tool activity).
	KindStatus Kind = iota
	// KindChunk is a streamed fragment of model output.
	KindChunk
	// KindCitation is a source reference extracted from model output.
	KindCitation
)

// Citation references a source document surfaced during a run, such as one
// branch's answer in a fan-out batch.
type Citation struct {
	Document   string
	SourceName string
	SourceURL  string
}

// Update describes a progress or streaming event emitted by a session.
// Updates are advisory: senders never block on them and a failing callback
// never alters session results.
type Update struct {
	// Kind classifies the event.
	Kind Kind
	// Message is the content to deliver.
	Message string
	// Citation carries the source reference for KindCitation events.
	Citation *Citation
	// Session identifies the originating session in a fan-out run.
	// Zero for single-session runs.
	Session int
	// Iteration is the refinement iteration the event belongs to, 1-based.
	// Zero when not tied to an iteration.
	Iteration int
	// Done marks a terminal status: the run or session it belongs to has
	// reached its outcome.
	Done bool
	// AddNewLine appends a newline to Message if one is not already present.
	AddNewLine bool
	// Ephemeral marks the update as transient (should not persist once superseded).
	Ephemeral bool
}

// Callback receives progress updates.
type Callback func(Update) error

// Normalize ensures the update reflects requested formatting (currently newline handling).
func Normalize(update Update) Update {
	if update.AddNewLine && update.Message != "" && !strings.HasSuffix(update.Message, "\n") {
		update.Message += "\n"
	}
	return update
}

// Dispatch normalizes and sends the update if the callback is set.
func Dispatch(cb Callback, update Update) error {
	if cb == nil {
		return nil
	}
	return cb(Normalize(update))
}

// Status sends an ephemeral status line.
func Status(cb Callback, session, iteration int, message string) {
	_ = Dispatch(cb, Update{
		Kind:      KindStatus,
		Message:   message,
		Session:   session,
		Iteration: iteration,
		Ephemeral: true,
	})
}

// Finish sends the terminal status line for a session. Unlike Status it is
// not ephemeral, since it is the line that should persist.
func Finish(cb Callback, session, iteration int, message string) {
	_ = Dispatch(cb, Update{
		Kind:      KindStatus,
		Message:   message,
		Session:   session,
		Iteration: iteration,
		Done:      true,
	})
}

// Cite sends a source reference.
func Cite(cb Callback, session int, citation Citation) {
	_ = Dispatch(cb, Update{
		Kind:     KindCitation,
		Message:  citation.SourceName,
		Session:  session,
		Citation: &citation,
	})
}

// Chunk sends a fragment of streamed model output.
func Chunk(cb Callback, session int, text string) {
	_ = Dispatch(cb, Update{
		Kind:    KindChunk,
		Message: text,
		Session: session,
	})
}

package durable

import (
	"github.com/BaSui01/durableflow/journal"
	"github.com/BaSui01/durableflow/wire"
)

// Future is a tagged future type carrying its journal index, as
// recommended by spec.md's design notes in place of ad hoc
// then/catch promise chains. Combinators (All, Race, Any, AllSettled,
// OrTimeout) operate on Future explicitly.
type Future struct {
	journal *journal.Journal
	index   uint32
	ch      <-chan journal.Result
	cached  *journal.Result
}

func newFuture(j *journal.Journal, index uint32, ch <-chan journal.Result) *Future {
	return &Future{journal: j, index: index, ch: ch}
}

// readyFuture wraps a result that is already known — used for entries
// that are completed-on-append or resolved via the eager-state
// shortcut.
func readyFuture(index uint32, result journal.Result) *Future {
	return &Future{index: index, cached: &result}
}

func (f *Future) Index() uint32 { return f.index }

// Await blocks until the future's journal entry is resolved and
// returns its result. Calling Await more than once is safe; the
// second call returns the cached result immediately.
//
// Await marks the calling goroutine as parked (Journal.Leave) for the
// duration of the block and re-enters (Journal.Enter) on wakeup, so
// that a suspension check running concurrently on the transport's
// goroutine never mistakes "about to block" for "genuinely idle".
func (f *Future) Await() (journal.Result, error) {
	if f.cached != nil {
		return *f.cached, nil
	}
	if f.journal != nil {
		f.journal.Leave()
	}
	result := <-f.ch
	if f.journal != nil {
		f.journal.Enter()
	}
	f.cached = &result
	return result, nil
}

// resultChan returns a channel that will deliver the future's result
// exactly once, for use by combinators fanning in over several
// futures. For an already-resolved future this is a pre-loaded
// buffered channel.
func (f *Future) resultChan() <-chan journal.Result {
	if f.cached != nil {
		ch := make(chan journal.Result, 1)
		ch <- *f.cached
		return ch
	}
	return f.ch
}

// AsError converts a resolved Result into a Go error, or nil on
// success. Intended for callers that want ordinary (value, error)
// ergonomics instead of inspecting Result directly.
func AsError(r journal.Result) error {
	if r.State != journal.ResultFailure {
		return nil
	}
	if r.FailureCode == wire.FailureCodeTimeout {
		return &TimeoutError{}
	}
	return &TerminalError{Code: r.FailureCode, Message: r.FailureMessage}
}

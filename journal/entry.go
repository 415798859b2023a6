package journal

import "github.com/BaSui01/durableflow/wire"

// ResultState is the lifecycle of a JournalEntry's result.
type ResultState uint8

const (
	ResultNotReady ResultState = iota
	ResultEmpty
	ResultValue
	ResultFailure
)

// Result is the tri-state outcome of a journal entry: not yet
// resolved, resolved with no value, resolved with a value, or resolved
// with a terminal failure.
type Result struct {
	State          ResultState
	Value          []byte
	FailureCode    wire.FailureCode
	FailureMessage string
}

var EmptyResult = Result{State: ResultEmpty}
var NotReadyResult = Result{State: ResultNotReady}

func ValueResult(v []byte) Result {
	return Result{State: ResultValue, Value: v}
}

func FailureResult(code wire.FailureCode, msg string) Result {
	return Result{State: ResultFailure, FailureCode: code, FailureMessage: msg}
}

func (r Result) Ready() bool {
	return r.State != ResultNotReady
}

// Entry is one record in an invocation's journal: a strictly
// monotonic index, the wire kind it was appended under, the raw
// request body it was appended with, and its result.
type Entry struct {
	Index  uint32
	Kind   wire.Kind
	Body   []byte
	Result Result
}

// completable reports whether kind's entries start NotReady and are
// resolved later by a Completion (as opposed to completed immediately
// on append). SideEffect is completable only in bidirectional mode,
// handled by the caller since Entry itself is mode-agnostic.
func completableKinds() map[wire.Kind]bool {
	return map[wire.Kind]bool{
		wire.KindSleep:       true,
		wire.KindGetState:    true,
		wire.KindGetStateKeys: true,
		wire.KindInvokeCall:  true,
		wire.KindAwakeable:   true,
		wire.KindSideEffect:  true,
	}
}

// CompletedOnAppendKinds are entries whose result is Empty the moment
// they are appended: no Completion ever arrives for them.
func completedOnAppendKinds() map[wire.Kind]bool {
	return map[wire.Kind]bool{
		wire.KindSetState:             true,
		wire.KindClearState:           true,
		wire.KindClearAllState:        true,
		wire.KindBackgroundInvokeCall: true,
		wire.KindResolveAwakeable:     true,
		wire.KindRejectAwakeable:      true,
		wire.KindOutput:               true,
	}
}

// IsCompletable reports whether kind needs a Completion to resolve,
// for a journal running in the given mode. SideEffect is completable
// only when the mode requires an ack (bidirectional); in
// request-response it resolves synchronously on the successful
// branch.
func IsCompletable(kind wire.Kind, bidiMode bool) bool {
	if kind == wire.KindSideEffect {
		return bidiMode
	}
	return completableKinds()[kind]
}

// IsCompletedOnAppend reports whether kind resolves immediately on
// append, never awaiting a Completion.
func IsCompletedOnAppend(kind wire.Kind) bool {
	return completedOnAppendKinds()[kind]
}

// DeterministicBody reports whether kind's body must match exactly
// during replay (as opposed to only its kind being checked — used for
// entries whose body is produced by non-deterministic user code, e.g.
// SideEffect results or Sleep wakeup times computed from wall clock).
func DeterministicBody(kind wire.Kind) bool {
	switch kind {
	case wire.KindSideEffect, wire.KindSleep, wire.KindInvokeCall,
		wire.KindBackgroundInvokeCall:
		return false
	default:
		return true
	}
}

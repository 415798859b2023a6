package journal

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/BaSui01/durableflow/wire"
	"go.uber.org/zap"
)

// Phase is the journal's own view of where it sits in the replay/live
// split; the Invocation State Machine drives transitions but the
// journal enforces the ordering invariants that make replay correct.
type Phase uint8

const (
	PhaseReplaying Phase = iota
	PhaseProcessing
	PhaseSuspended
	PhaseClosed
)

// MismatchError is raised when a replayed entry does not match the op
// the user performed — fatal, terminal.
type MismatchError struct {
	Index    uint32
	Expected wire.Kind
	Got      wire.Kind
	Reason   string
}

func (e *MismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("journal mismatch at index %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("journal mismatch at index %d: expected %s, got %s", e.Index, e.Expected, e.Got)
}

// CompletionError covers the two double/unknown-completion protocol
// violations named in spec.md's invariants. Both are treated
// conservatively as fatal per the Open Questions decision recorded in
// DESIGN.md.
type CompletionError struct {
	Index  uint32
	Reason string
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion error at index %d: %s", e.Index, e.Reason)
}

// Journal owns the ordered entry log for one invocation: the replay
// prefix consumed entry-by-entry as the user handler re-executes, and
// the live suffix appended as new operations occur.
type Journal struct {
	mu       sync.Mutex
	bidiMode bool
	logger   *zap.Logger

	replay    []Entry
	replayPos int

	entries   []*Entry
	byIndex   map[uint32]*Entry
	nextIndex uint32

	pending map[uint32]chan Result

	phase Phase

	// running counts goroutines currently doing handler work for this
	// invocation — the main handler goroutine plus any side-effect
	// goroutine it has spawned — as opposed to parked on a resolver
	// channel. It reaches zero only when nothing could possibly append
	// another entry without an external Completion first, which is the
	// only point at which a Suspension's pending set is accurate.
	running int
	idle    *sync.Cond

	// onAppend fires for every entry newly appended while Processing
	// (not for entries consumed from the replay prefix); the State
	// Machine wires this to the Codec to emit the entry as a wire
	// message.
	onAppend func(Entry)
}

// SetEmitter installs the callback invoked whenever a new live entry
// is appended. Must be called before the first MatchOrAppend.
func (j *Journal) SetEmitter(fn func(Entry)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onAppend = fn
}

// New creates an empty Journal ready to accept a replay prefix via
// AppendReplay, then live entries via MatchOrAppend.
func New(bidiMode bool, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Journal{
		bidiMode: bidiMode,
		logger:   logger,
		byIndex:  make(map[uint32]*Entry),
		pending:  make(map[uint32]chan Result),
		phase:    PhaseReplaying,
	}
	j.idle = sync.NewCond(&j.mu)
	return j
}

// Enter marks one more goroutine as actively doing handler work for
// this invocation — running user code that could still append a
// journal entry — as opposed to blocked on a resolver. Every call
// must be matched by exactly one Leave.
func (j *Journal) Enter() {
	j.mu.Lock()
	j.running++
	j.mu.Unlock()
}

// Leave is Enter's counterpart: call it right before a goroutine
// blocks on a resolver channel, and once more when that goroutine
// finally returns.
func (j *Journal) Leave() {
	j.mu.Lock()
	j.running--
	if j.running == 0 {
		j.idle.Broadcast()
	}
	j.mu.Unlock()
}

// WaitIdle blocks until every goroutine doing work for this invocation
// has either finished or parked on a resolver. The Invocation State
// Machine calls this at the end of every Feed so that a suspension
// decision made right afterward sees the handler's true pending set
// instead of one observed mid-computation.
func (j *Journal) WaitIdle() {
	j.mu.Lock()
	for j.running > 0 {
		j.idle.Wait()
	}
	j.mu.Unlock()
}

func (j *Journal) Phase() Phase {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.phase
}

func (j *Journal) setPhaseLocked(p Phase) {
	// Logs during Replaying are suppressed entirely, including this
	// one: the Replaying→Processing transition it would otherwise
	// announce happened identically, and was logged, the first time
	// this invocation ran live.
	if j.phase != p && j.phase != PhaseReplaying {
		j.logger.Debug("journal phase transition", zap.String("from", phaseName(j.phase)), zap.String("to", phaseName(p)))
	}
	j.phase = p
}

func phaseName(p Phase) string {
	switch p {
	case PhaseReplaying:
		return "Replaying"
	case PhaseProcessing:
		return "Processing"
	case PhaseSuspended:
		return "Suspended"
	case PhaseClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// AppendReplay records a prior entry sent by the runtime as part of
// the replay prefix. Must be called only while Phase is Replaying,
// before the first MatchOrAppend call.
func (j *Journal) AppendReplay(e Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := e
	j.replay = append(j.replay, cp)
	stored := &j.replay[len(j.replay)-1]
	j.byIndex[e.Index] = stored
	if e.Index >= j.nextIndex {
		j.nextIndex = e.Index + 1
	}
}

// ReplayRemaining reports how many replay entries have not yet been
// consumed by MatchOrAppend. Used by the State Machine to decide when
// the Replaying→Processing transition occurs.
func (j *Journal) ReplayRemaining() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.replay) - j.replayPos
}

// MatchOrAppend implements the single operation the Context issues for
// every user-triggered op. In Replaying it consumes the next replay
// entry and verifies it matches; in Processing it appends a new live
// entry and returns its initial result.
func (j *Journal) MatchOrAppend(kind wire.Kind, body []byte) (Entry, error) {
	j.mu.Lock()

	if j.replayPos < len(j.replay) {
		next := j.replay[j.replayPos]
		if next.Kind != kind {
			j.mu.Unlock()
			return Entry{}, &MismatchError{Index: next.Index, Expected: kind, Got: next.Kind}
		}
		if DeterministicBody(kind) && !bytes.Equal(next.Body, body) {
			j.mu.Unlock()
			return Entry{}, &MismatchError{Index: next.Index, Expected: kind, Got: next.Kind, Reason: "body mismatch on replay"}
		}
		j.replayPos++
		if j.replayPos == len(j.replay) {
			j.setPhaseLocked(PhaseProcessing)
		}
		j.mu.Unlock()
		return next, nil
	}

	if j.phase == PhaseReplaying {
		j.setPhaseLocked(PhaseProcessing)
	}

	idx := j.nextIndex
	j.nextIndex++

	// A live SideEffect entry starts NotReady in either mode: durable's
	// side-effect runner completes it itself once the closure returns.
	result := NotReadyResult
	if !IsCompletable(kind, j.bidiMode) && kind != wire.KindSideEffect {
		result = EmptyResult
	}

	entry := Entry{Index: idx, Kind: kind, Body: body, Result: result}
	j.entries = append(j.entries, &entry)
	j.byIndex[idx] = &entry
	emit := j.onAppend
	j.mu.Unlock()

	if emit != nil {
		emit(entry)
	}
	return entry, nil
}

// CompleteByIndex transitions the entry at index from NotReady to a
// terminal result and wakes any registered resolver. It is an error
// for the entry not to exist, or to already be resolved.
func (j *Journal) CompleteByIndex(index uint32, result Result) error {
	j.mu.Lock()
	entry, ok := j.byIndex[index]
	if !ok {
		j.mu.Unlock()
		return &CompletionError{Index: index, Reason: "no such entry"}
	}
	if entry.Result.Ready() {
		j.mu.Unlock()
		return &CompletionError{Index: index, Reason: "entry already completed"}
	}
	entry.Result = result
	ch := j.pending[index]
	delete(j.pending, index)
	j.mu.Unlock()

	if ch != nil {
		ch <- result
	}
	return nil
}

// RegisterResolver returns a channel that receives the entry's result
// exactly once. If the entry is already resolved, the channel is
// pre-loaded and the caller receives immediately without blocking.
func (j *Journal) RegisterResolver(index uint32) (<-chan Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entry, ok := j.byIndex[index]
	if !ok {
		return nil, &CompletionError{Index: index, Reason: "no such entry"}
	}
	ch := make(chan Result, 1)
	if entry.Result.Ready() {
		ch <- entry.Result
		return ch, nil
	}
	j.pending[index] = ch
	return ch, nil
}

// PendingIndices returns the indices of every entry that is
// NotReady and has a registered resolver — the set the State Machine
// lists in a Suspension message.
func (j *Journal) PendingIndices() []uint32 {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]uint32, 0, len(j.pending))
	for idx := range j.pending {
		out = append(out, idx)
	}
	return out
}

// Entry looks up an appended entry by index, for diagnostics and the
// replay-debug CLI.
func (j *Journal) Entry(index uint32) (Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.byIndex[index]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns every entry (replay prefix consumed so far plus
// the live suffix) in index order. Used by the archive and the
// replay-debug CLI, never by the hot path.
func (j *Journal) Snapshot() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, 0, len(j.replay)+len(j.entries))
	for _, e := range j.replay[:j.replayPos] {
		out = append(out, e)
	}
	for _, e := range j.entries {
		out = append(out, *e)
	}
	return out
}

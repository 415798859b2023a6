// Package invocation drives the lifecycle of one handler invocation:
// Start → Replaying → Processing → (Suspended | Closed). It wires the
// wire Codec, the Journal, the Context and the user handler task
// together, deciding when the invocation must suspend versus
// continue.
package invocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/durableflow/durable"
	"github.com/BaSui01/durableflow/journal"
	"github.com/BaSui01/durableflow/wire"
)

// Metrics receives lifecycle events from a Machine. Satisfied by
// *durabletelemetry.Collector; kept as an interface here so invocation
// does not depend on the telemetry package.
type Metrics interface {
	RecordInvocation(service, handler, outcome string, duration time.Duration)
	RecordJournalEntry(kind string)
	RecordSuspension(service, handler string)
	RecordSideEffectAttempt(outcome string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordInvocation(string, string, string, time.Duration) {}
func (noopMetrics) RecordJournalEntry(string)                              {}
func (noopMetrics) RecordSuspension(string, string)                        {}
func (noopMetrics) RecordSideEffectAttempt(string, time.Duration)          {}

// Phase is the Machine's own lifecycle state, a superset of the
// Journal's Replaying/Processing split with the two terminal phases
// spec.md §4.5 names.
type Phase uint8

const (
	PhaseAwaitingStart Phase = iota
	PhaseReplaying
	PhaseProcessing
	PhaseSuspended
	PhaseClosed
)

// Handler is user code: given a Context and the invocation's input
// payload, it returns the output payload or a terminal error.
type Handler func(ctx *durable.Context, input []byte) ([]byte, error)

// CompletionSnapshot is handed to a Machine's OnComplete hook once an
// invocation reaches Closed. It carries everything an archive backend
// needs to persist the invocation (spec.md §4.12) without reaching
// back into the Machine or its Journal.
type CompletionSnapshot struct {
	InvocationID string
	ServiceName  string
	HandlerName  string
	Key          string
	Success      bool
	Entries      []journal.Entry
}

// Mode selects which transport contract the invocation runs under —
// see spec.md §4.5's rule that Request-Response may never suspend
// while the handler is runnable.
type Mode uint8

const (
	ModeBidirectional Mode = iota
	ModeRequestResponse
)

// Machine coordinates one invocation end to end. Create it with New,
// feed it incoming wire.Message values via Feed, and read emitted
// messages via the Emit callback given to New.
type Machine struct {
	mu    sync.Mutex
	phase Phase

	mode    Mode
	handler Handler
	logger  *zap.Logger
	metrics Metrics
	tracer  trace.Tracer

	spanCtx context.Context
	span    trace.Span

	start        wire.StartBody
	knownWant    uint32
	knownSeen    uint32
	inputPayload []byte
	startedAt    time.Time

	journal *journal.Journal
	ctx     *durable.Context

	emit       func(wire.Message) error
	onComplete func(CompletionSnapshot)

	closed     chan struct{}
	closeOnce  sync.Once
	fatalCause error
}

// New constructs a Machine for one invocation. emit is called
// synchronously for every message the Machine produces, in order;
// it must not block on anything the Machine itself would need to make
// progress (the transport is expected to buffer or write through).
func New(mode Mode, handler Handler, emit func(wire.Message) error, logger *zap.Logger) *Machine {
	return NewWithMetrics(mode, handler, emit, logger, nil)
}

// NewWithMetrics is New plus a Metrics sink. Pass nil to record
// nothing.
func NewWithMetrics(mode Mode, handler Handler, emit func(wire.Message) error, logger *zap.Logger, metrics Metrics) *Machine {
	return NewWithTelemetry(mode, handler, emit, logger, metrics, nil)
}

// NewWithTelemetry is NewWithMetrics plus a Tracer. When tracer is
// non-nil the Machine opens one span for the invocation's lifetime at
// Start and a child span per journal entry it appends, per spec.md's
// observability requirements; pass nil to skip tracing entirely.
func NewWithTelemetry(mode Mode, handler Handler, emit func(wire.Message) error, logger *zap.Logger, metrics Metrics, tracer trace.Tracer) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Machine{
		phase:   PhaseAwaitingStart,
		mode:    mode,
		handler: handler,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		emit:    emit,
		closed:  make(chan struct{}),
	}
}

// SetOnComplete registers fn to be called once, synchronously, as the
// last step of closing the invocation — the Machine's analogue of
// Journal.SetEmitter (journal.go) as the single wiring point for a
// cross-cutting concern, here archiving rather than transport
// delivery. Must be set before Feed is first called; nil disables it.
func (m *Machine) SetOnComplete(fn func(CompletionSnapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onComplete = fn
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Done returns a channel closed once the invocation reaches Closed.
func (m *Machine) Done() <-chan struct{} { return m.closed }

// phaseLogger returns the Machine's logger, tagged with service name
// and invocation id once Start has been processed, or a no-op logger
// while the invocation is Replaying. Replay re-runs the handler's
// side-effect-free operations against the journal purely to rebuild
// state; logging that re-run would duplicate whatever was already
// logged the first time the entry was live, per spec.md §6.
func (m *Machine) phaseLogger() *zap.Logger {
	m.mu.Lock()
	phase := m.phase
	logger := m.logger
	m.mu.Unlock()
	if phase == PhaseReplaying {
		return zap.NewNop()
	}
	return logger
}

// FatalCause returns the error that caused Closed, if the invocation
// ended abnormally (ProtocolDecodeError, JournalMismatch, or a panic
// recovered from the handler). nil on a clean Output+End.
func (m *Machine) FatalCause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatalCause
}

// Feed processes one incoming wire message. It is the only entry
// point the transport adapters call into.
func (m *Machine) Feed(msg wire.Message) error {
	m.mu.Lock()
	phase := m.phase
	m.mu.Unlock()

	var err error
	switch {
	case msg.Kind == wire.KindCompletion:
		err = m.handleCompletion(msg)
	case msg.Kind == wire.KindAck:
		err = m.handleAck(msg)
	case phase == PhaseAwaitingStart:
		err = m.handleStart(msg)
	case phase == PhaseReplaying:
		err = m.handleReplayEntry(msg)
	default:
		err = fmt.Errorf("invocation: unexpected message %s in phase %d", msg.Kind, phase)
	}

	// Block here until the handler has made every bit of progress it
	// can with what's been fed so far — either finished or genuinely
	// parked on a resolver. Without this, a MaybeSuspend called right
	// after a batch of Feeds would race the handler goroutine and
	// almost always see an empty pending set.
	m.mu.Lock()
	j := m.journal
	m.mu.Unlock()
	if j != nil {
		j.WaitIdle()
	}
	return err
}

func (m *Machine) handleStart(msg wire.Message) error {
	if msg.Kind != wire.KindStart {
		return m.fail(fmt.Errorf("invocation: expected Start, got %s", msg.Kind))
	}
	start, err := wire.DecodeStartBody(msg.Body)
	if err != nil {
		return m.fail(err)
	}

	m.mu.Lock()
	m.start = start
	m.startedAt = time.Now()
	m.knownWant = start.KnownEntries
	bidi := m.mode == ModeBidirectional
	// Every log line from this point on is tagged with the fields
	// spec.md §6 requires for Processing-phase logs; phaseLogger below
	// additionally suppresses them entirely while Replaying.
	m.logger = m.logger.With(
		zap.String("service_name", start.ServiceName),
		zap.String("invocation_id", start.InvocationID),
	)
	m.journal = journal.New(bidi, m.logger)
	m.journal.SetEmitter(m.onJournalAppend)
	m.ctx = durable.NewWithMetrics(start.InvocationID, m.journal, nil, start.PartialState, m.logger, m.metrics)
	m.phase = PhaseReplaying
	if m.tracer != nil {
		m.spanCtx, m.span = m.tracer.Start(context.Background(), "invocation",
			trace.WithAttributes(
				attribute.String("durableflow.invocation_id", start.InvocationID),
				attribute.String("durableflow.service_name", start.ServiceName),
				attribute.String("durableflow.handler_name", start.HandlerName),
			))
	}
	m.mu.Unlock()

	if start.KnownEntries == 0 {
		return m.fail(fmt.Errorf("invocation: Start.KnownEntries must include at least the Input entry"))
	}
	return nil
}

func (m *Machine) handleReplayEntry(msg wire.Message) error {
	if !msg.Kind.IsJournalEntry() {
		return m.fail(fmt.Errorf("invocation: unexpected control message %s during replay", msg.Kind))
	}

	m.mu.Lock()
	index := m.knownSeen
	m.mu.Unlock()

	entry, err := decodeReplayEntry(index, msg)
	if err != nil {
		return m.fail(err)
	}
	m.journal.AppendReplay(entry)

	if msg.Kind == wire.KindInput {
		in, err := wire.DecodeInputBody(msg.Body)
		if err != nil {
			return m.fail(err)
		}
		m.mu.Lock()
		m.inputPayload = in.Payload
		m.mu.Unlock()
		// Input is never consumed through the Context the way every
		// other journaled op is (it arrives as the handler's argument,
		// not a Context call), so the Machine consumes its own replay
		// slot here rather than leaving it stuck at the front of the
		// replay queue and mismatching the handler's first real op.
		if _, err := m.journal.MatchOrAppend(wire.KindInput, msg.Body); err != nil {
			return m.fail(err)
		}
	}

	m.mu.Lock()
	m.knownSeen++
	done := m.knownSeen >= m.knownWant
	m.mu.Unlock()

	if done {
		m.startHandler()
	}
	return nil
}

// decodeReplayEntry reconstructs a journal.Entry for a message
// received as part of the replay prefix. SideEffect entries carry
// their own result on the wire (spec.md §4.6 point 1); every other
// completable kind resolves later via a Completion message, exactly
// as spec.md §4.3 describes for reconnects.
func decodeReplayEntry(index uint32, msg wire.Message) (journal.Entry, error) {
	if msg.Kind == wire.KindSideEffect {
		res, err := wire.DecodeSideEffectResultBody(msg.Body)
		if err != nil {
			return journal.Entry{}, err
		}
		var result journal.Result
		if res.Success {
			result = journal.ValueResult(res.Value)
		} else {
			result = journal.FailureResult(res.FailureCode, res.FailureMessage)
		}
		return journal.Entry{Index: index, Kind: msg.Kind, Body: msg.Body, Result: result}, nil
	}

	result := journal.NotReadyResult
	if journal.IsCompletedOnAppend(msg.Kind) {
		result = journal.EmptyResult
	}
	return journal.Entry{Index: index, Kind: msg.Kind, Body: msg.Body, Result: result}, nil
}

func (m *Machine) startHandler() {
	m.mu.Lock()
	m.phase = PhaseProcessing
	input := m.inputPayload
	ctx := m.ctx
	handler := m.handler
	j := m.journal
	m.mu.Unlock()

	// Entered before the goroutine is scheduled, never inside it: the
	// Feed loop's WaitIdle immediately below this call must never
	// observe the count touch zero before the handler has had a chance
	// to run at all.
	if j != nil {
		j.Enter()
	}
	go func() {
		defer func() {
			if j != nil {
				j.Leave()
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				m.closeWithFailure(wire.FailureCodeInternal, fmt.Sprintf("handler panic: %v", r))
			}
		}()
		output, err := handler(ctx, input)
		if err != nil {
			code, message := classifyHandlerError(err)
			m.closeWithFailure(code, message)
			return
		}
		m.closeWithSuccess(output)
	}()
}

func classifyHandlerError(err error) (wire.FailureCode, string) {
	if te, ok := err.(*durable.TerminalError); ok {
		return te.Code, te.Message
	}
	if _, ok := err.(*durable.TimeoutError); ok {
		return wire.FailureCodeTimeout, err.Error()
	}
	if _, ok := err.(*journal.MismatchError); ok {
		return wire.FailureCodeJournalMismatch, err.Error()
	}
	return wire.FailureCodeInternal, err.Error()
}

func (m *Machine) closeWithSuccess(output []byte) {
	body := wire.OutputBody{Success: true, Value: output}
	m.emitOutputAndEnd(body, "success")
}

func (m *Machine) closeWithFailure(code wire.FailureCode, message string) {
	body := wire.OutputBody{Success: false, FailureCode: code, FailureMessage: message}
	m.emitOutputAndEnd(body, "failure")
}

func (m *Machine) emitOutputAndEnd(body wire.OutputBody, outcome string) {
	if m.journal != nil {
		_, _ = m.journal.MatchOrAppend(wire.KindOutput, body.Encode())
	}
	_ = m.emit(wire.Message{Kind: wire.KindEnd})
	m.mu.Lock()
	m.phase = PhaseClosed
	invocationID, service, handler, key := m.start.InvocationID, m.start.ServiceName, m.start.HandlerName, m.start.Key
	startedAt := m.startedAt
	span := m.span
	onComplete := m.onComplete
	var entries []journal.Entry
	if m.journal != nil {
		entries = m.journal.Snapshot()
	}
	m.mu.Unlock()
	if span != nil {
		if outcome == "success" {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, body.FailureMessage)
		}
		span.End()
	}
	m.metrics.RecordInvocation(service, handler, outcome, time.Since(startedAt))
	if onComplete != nil {
		onComplete(CompletionSnapshot{
			InvocationID: invocationID,
			ServiceName:  service,
			HandlerName:  handler,
			Key:          key,
			Success:      outcome == "success",
			Entries:      entries,
		})
	}
	m.closeOnce.Do(func() { close(m.closed) })
}

// onJournalAppend is the Journal's emitter callback: every newly
// appended live entry is turned into a wire message and handed to the
// transport. Output's body is already emitted by emitOutputAndEnd's
// own MatchOrAppend call, so this path fires for it too — which is
// correct, since Output genuinely is a journal entry (spec.md §3).
func (m *Machine) onJournalAppend(e journal.Entry) {
	flags := wire.Flags(0)
	if e.Result.State == journal.ResultEmpty || e.Result.State == journal.ResultValue || e.Result.State == journal.ResultFailure {
		if journal.IsCompletedOnAppend(e.Kind) {
			flags |= wire.FlagCompleted
		}
	}
	if err := m.emit(wire.Message{Kind: e.Kind, Flags: flags, Body: e.Body}); err != nil {
		m.phaseLogger().Error("failed to emit journal entry", zap.Uint32("index", e.Index), zap.Error(err))
	}
	m.metrics.RecordJournalEntry(e.Kind.String())

	m.mu.Lock()
	spanCtx, tracer := m.spanCtx, m.tracer
	m.mu.Unlock()
	if tracer != nil && spanCtx != nil {
		_, entrySpan := tracer.Start(spanCtx, "journal."+e.Kind.String(),
			trace.WithAttributes(attribute.Int("durableflow.journal_index", int(e.Index))))
		if e.Result.State == journal.ResultFailure {
			entrySpan.SetStatus(codes.Error, e.Result.FailureMessage)
		}
		entrySpan.End()
	}
}

func (m *Machine) handleCompletion(msg wire.Message) error {
	body, err := wire.DecodeCompletionBody(msg.Body)
	if err != nil {
		return m.fail(err)
	}
	m.mu.Lock()
	j := m.journal
	m.mu.Unlock()
	if j == nil {
		return m.fail(fmt.Errorf("invocation: Completion received before Start"))
	}
	var result journal.Result
	if body.Success {
		result = journal.ValueResult(body.Value)
	} else {
		result = journal.FailureResult(body.FailureCode, body.FailureMessage)
	}
	if err := j.CompleteByIndex(body.Index, result); err != nil {
		return m.fail(err)
	}
	return nil
}

func (m *Machine) handleAck(msg wire.Message) error {
	ack, err := wire.DecodeAckBody(msg.Body)
	if err != nil {
		return m.fail(err)
	}
	m.phaseLogger().Debug("received ack", zap.Uint32("index", ack.Index))
	return nil
}

// MaybeSuspend emits a Suspension message and transitions to
// Suspended if every outstanding resolver is on a NotReady completable
// entry and the mode permits it (never in Request-Response while the
// handler is runnable, per spec.md §4.5).
//
// Safe to call synchronously right after a batch of Feed calls: Feed
// itself blocks on the journal's WaitIdle before returning, so by the
// time control reaches here the handler has either finished or parked
// on every resolver it's going to park on with the information fed so
// far — PendingIndices below reflects true quiescence, not a
// still-running goroutine's empty starting state.
func (m *Machine) MaybeSuspend() {
	m.mu.Lock()
	if m.mode == ModeRequestResponse || m.phase != PhaseProcessing || m.journal == nil {
		m.mu.Unlock()
		return
	}
	indices := m.journal.PendingIndices()
	if len(indices) == 0 {
		m.mu.Unlock()
		return
	}
	m.phase = PhaseSuspended
	service, handler := m.start.ServiceName, m.start.HandlerName
	m.mu.Unlock()

	m.metrics.RecordSuspension(service, handler)
	_ = m.emit(wire.Message{Kind: wire.KindSuspension, Body: wire.SuspensionBody{Indices: indices}.Encode()})
}

func (m *Machine) fail(err error) error {
	m.mu.Lock()
	m.fatalCause = err
	m.mu.Unlock()
	code := wire.FailureCodeProtocolDecode
	if _, ok := err.(*journal.MismatchError); ok {
		code = wire.FailureCodeJournalMismatch
	}
	m.closeWithFailure(code, err.Error())
	return err
}

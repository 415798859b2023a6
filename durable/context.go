package durable

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/BaSui01/durableflow/journal"
	"github.com/BaSui01/durableflow/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CallOptions configures an RPC call issued via Context.Call or its
// one-way/delayed variants.
type CallOptions struct {
	ServiceName string
	HandlerName string
	Key         string // empty for unkeyed handlers
	Payload     []byte
}

// Context is the façade exposed to user handler code. Every method
// either replays a prior journal entry (while the invocation is in
// the Replaying phase) or appends a new entry and, for completable
// entries, returns a Future the caller awaits.
//
// Context is safe for the handler's own goroutine only: it is not a
// general-purpose concurrency primitive. Sibling side effects may run
// concurrently, but a Context call made from inside a running
// RunSideEffect closure is refused.
type Context struct {
	invocationID string
	journal      *journal.Journal
	state        *eagerState
	logger       *zap.Logger
	metrics      SideEffectMetrics

	rng *rand.Rand

	// inSideEffect counts how many side-effect closures are currently
	// executing on this Context, across goroutines. Any Context op
	// other than a read-only accessor checks this and refuses while it
	// is non-zero — this is what makes "no state calls inside a side
	// effect" hold even though sibling side effects run concurrently
	// in their own goroutines (see RunSideEffect in sideeffect.go).
	inSideEffect atomic.Int32

	awakeableSeq atomic.Uint32
}

// SideEffectMetrics receives one observation per side-effect attempt.
// Satisfied by *durabletelemetry.Collector; kept as an interface here
// so durable does not depend on the telemetry package.
type SideEffectMetrics interface {
	RecordSideEffectAttempt(outcome string, duration time.Duration)
}

type noopSideEffectMetrics struct{}

func (noopSideEffectMetrics) RecordSideEffectAttempt(string, time.Duration) {}

// New builds a Context for one invocation. initialState/partial feed
// the eager-state cache (spec.md's "complete-state mode" shortcut);
// an empty, non-partial map means the invocation genuinely has no
// state rather than an unknown one.
func New(invocationID string, j *journal.Journal, initialState map[string][]byte, partial bool, logger *zap.Logger) *Context {
	return NewWithMetrics(invocationID, j, initialState, partial, logger, nil)
}

// NewWithMetrics is New plus a SideEffectMetrics sink. Pass nil to
// record nothing.
func NewWithMetrics(invocationID string, j *journal.Journal, initialState map[string][]byte, partial bool, logger *zap.Logger, metrics SideEffectMetrics) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopSideEffectMetrics{}
	}
	return &Context{
		invocationID: invocationID,
		journal:      j,
		state:        newEagerState(initialState, partial),
		logger:       logger,
		metrics:      metrics,
		rng:          rand.New(rand.NewSource(seedFromID(invocationID))),
	}
}

func seedFromID(id string) int64 {
	sum := sha256.Sum256([]byte(id))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// phaseLogger returns the Context's logger, already tagged with
// service name and invocation id by the Machine that constructed it,
// or a no-op logger while the invocation is Replaying — mirroring
// invocation.Machine's own suppression so that side-effect retries and
// other durable machinery don't duplicate log lines already emitted
// the first time this invocation ran live.
func (c *Context) phaseLogger() *zap.Logger {
	if c.journal != nil && c.journal.Phase() == journal.PhaseReplaying {
		return zap.NewNop()
	}
	return c.logger
}

func (c *Context) guard(opName string) error {
	if c.inSideEffect.Load() > 0 {
		return forbiddenInSideEffectError(opName)
	}
	return nil
}

// GetState reads a state key. If the invocation's eager-state cache
// is complete, the result resolves immediately (the GetState entry is
// appended already-completed); otherwise a Future is returned that
// resolves once the runtime's Completion arrives.
func (c *Context) GetState(key string) (*Future, error) {
	if err := c.guard("get state"); err != nil {
		return nil, err
	}
	body := wire.StateEntryBody{Key: key}.Encode()
	entry, err := c.journal.MatchOrAppend(wire.KindGetState, body)
	if err != nil {
		return nil, err
	}
	if entry.Result.Ready() {
		return readyFuture(entry.Index, entry.Result), nil
	}
	if c.state.complete() {
		v, ok := c.state.get(key)
		var result journal.Result
		if ok {
			result = journal.ValueResult(v)
		} else {
			result = journal.EmptyResult
		}
		_ = c.journal.CompleteByIndex(entry.Index, result)
		return readyFuture(entry.Index, result), nil
	}
	ch, err := c.journal.RegisterResolver(entry.Index)
	if err != nil {
		return nil, err
	}
	return newFuture(c.journal, entry.Index, ch), nil
}

// SetState appends a SetState entry and updates the eager-state cache.
// Synchronous: no await.
func (c *Context) SetState(key string, value []byte) error {
	if err := c.guard("set state"); err != nil {
		return err
	}
	body := wire.StateEntryBody{Key: key, Value: value}.Encode()
	if _, err := c.journal.MatchOrAppend(wire.KindSetState, body); err != nil {
		return err
	}
	c.state.set(key, value)
	return nil
}

// ClearState appends a ClearState entry and updates the eager-state
// cache.
func (c *Context) ClearState(key string) error {
	if err := c.guard("clear state"); err != nil {
		return err
	}
	body := wire.StateEntryBody{Key: key}.Encode()
	if _, err := c.journal.MatchOrAppend(wire.KindClearState, body); err != nil {
		return err
	}
	c.state.clear(key)
	return nil
}

// ClearAllState appends a ClearAllState entry and empties the
// eager-state cache.
func (c *Context) ClearAllState() error {
	if err := c.guard("clear all state"); err != nil {
		return err
	}
	if _, err := c.journal.MatchOrAppend(wire.KindClearAllState, nil); err != nil {
		return err
	}
	c.state.clearAll()
	return nil
}

// StateKeys returns every key known to the runtime, with the same
// complete-state shortcut as GetState.
func (c *Context) StateKeys() (*Future, error) {
	if err := c.guard("get state keys"); err != nil {
		return nil, err
	}
	entry, err := c.journal.MatchOrAppend(wire.KindGetStateKeys, nil)
	if err != nil {
		return nil, err
	}
	if entry.Result.Ready() {
		return readyFuture(entry.Index, entry.Result), nil
	}
	if c.state.complete() {
		body := wire.StateKeysBody{Keys: c.state.keys()}.Encode()
		result := journal.ValueResult(body)
		_ = c.journal.CompleteByIndex(entry.Index, result)
		return readyFuture(entry.Index, result), nil
	}
	ch, err := c.journal.RegisterResolver(entry.Index)
	if err != nil {
		return nil, err
	}
	return newFuture(c.journal, entry.Index, ch), nil
}

// Sleep appends a Sleep entry with an absolute wakeup time and returns
// a combineable Future. On replay, the journaled wakeup time wins
// over whatever duration the caller passes.
func (c *Context) Sleep(d time.Duration) *Future {
	if err := c.guard("sleep"); err != nil {
		return failedFuture(err)
	}
	return c.sleepInternal(d)
}

// sleepInternal issues a Sleep entry without consulting the
// in-side-effect guard. The retry engine uses this for the backoff
// delay between attempts: that delay is machinery, not user code, and
// must not be blocked by a sibling side effect's closure still running
// concurrently on the same Context.
func (c *Context) sleepInternal(d time.Duration) *Future {
	wakeupAt := time.Now().Add(d).UnixMilli()
	body := wire.SleepBody{WakeupAtUnixMillis: wakeupAt}.Encode()
	entry, err := c.journal.MatchOrAppend(wire.KindSleep, body)
	if err != nil {
		return failedFuture(err)
	}
	if entry.Result.Ready() {
		return readyFuture(entry.Index, entry.Result)
	}
	ch, err := c.journal.RegisterResolver(entry.Index)
	if err != nil {
		return failedFuture(err)
	}
	return newFuture(c.journal, entry.Index, ch)
}

// AwakeableID derives the stable, externally-addressable id for an
// Awakeable entry from the invocation id and entry index.
func AwakeableID(invocationID string, index uint32) string {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, index)
	h := sha256.Sum256(append([]byte(invocationID), buf...))
	return "awk_" + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(h[:16])
}

// Awakeable appends an Awakeable entry and returns its id and a
// Future that resolves on a matching ResolveAwakeable (success) or
// RejectAwakeable (failure) completion.
func (c *Context) Awakeable() (string, *Future, error) {
	if err := c.guard("awakeable"); err != nil {
		return "", nil, err
	}
	entry, err := c.journal.MatchOrAppend(wire.KindAwakeable, wire.AwakeableBody{}.Encode())
	if err != nil {
		return "", nil, err
	}
	id := AwakeableID(c.invocationID, entry.Index)
	if entry.Result.Ready() {
		return id, readyFuture(entry.Index, entry.Result), nil
	}
	ch, err := c.journal.RegisterResolver(entry.Index)
	if err != nil {
		return "", nil, err
	}
	return id, newFuture(c.journal, entry.Index, ch), nil
}

// ResolveAwakeable appends a ResolveAwakeable entry, addressed by id.
func (c *Context) ResolveAwakeable(id string, payload []byte) error {
	if err := c.guard("resolve awakeable"); err != nil {
		return err
	}
	body := wire.ResolveAwakeableBody{ID: id, Payload: payload}.Encode()
	_, err := c.journal.MatchOrAppend(wire.KindResolveAwakeable, body)
	return err
}

// RejectAwakeable appends a RejectAwakeable entry, addressed by id.
func (c *Context) RejectAwakeable(id string, reason string) error {
	if err := c.guard("reject awakeable"); err != nil {
		return err
	}
	body := wire.RejectAwakeableBody{ID: id, Reason: reason}.Encode()
	_, err := c.journal.MatchOrAppend(wire.KindRejectAwakeable, body)
	return err
}

// Call issues a request/response RPC. The returned Future resolves
// with the callee's response bytes (or failure).
func (c *Context) Call(opts CallOptions) (*Future, error) {
	if err := c.guard("call"); err != nil {
		return nil, err
	}
	body := wire.InvokeCallBody{ServiceName: opts.ServiceName, HandlerName: opts.HandlerName, Key: opts.Key, Payload: opts.Payload}.Encode()
	entry, err := c.journal.MatchOrAppend(wire.KindInvokeCall, body)
	if err != nil {
		return nil, err
	}
	if entry.Result.Ready() {
		return readyFuture(entry.Index, entry.Result), nil
	}
	ch, err := c.journal.RegisterResolver(entry.Index)
	if err != nil {
		return nil, err
	}
	return newFuture(c.journal, entry.Index, ch), nil
}

// CallOneWay issues a fire-and-forget RPC: append-only, no await.
func (c *Context) CallOneWay(opts CallOptions) error {
	if err := c.guard("one-way call"); err != nil {
		return err
	}
	body := wire.InvokeCallBody{ServiceName: opts.ServiceName, HandlerName: opts.HandlerName, Key: opts.Key, Payload: opts.Payload}.Encode()
	_, err := c.journal.MatchOrAppend(wire.KindBackgroundInvokeCall, body)
	return err
}

// CallDelayed issues a fire-and-forget RPC scheduled for delay from
// now.
func (c *Context) CallDelayed(opts CallOptions, delay time.Duration) error {
	if err := c.guard("delayed call"); err != nil {
		return err
	}
	body := wire.InvokeCallBody{
		ServiceName:        opts.ServiceName,
		HandlerName:        opts.HandlerName,
		Key:                opts.Key,
		Payload:            opts.Payload,
		InvokeAtUnixMillis: time.Now().Add(delay).UnixMilli(),
	}.Encode()
	_, err := c.journal.MatchOrAppend(wire.KindBackgroundInvokeCall, body)
	return err
}

// Rand returns a *rand.Rand deterministically seeded from the
// invocation id. Forbidden inside a side effect, since its output
// must be identical on every replay.
func (c *Context) Rand() (*rand.Rand, error) {
	if err := c.guard("rand"); err != nil {
		return nil, err
	}
	return c.rng, nil
}

// UUIDv4 returns a deterministic, invocation-seeded UUID. Forbidden
// inside a side effect for the same reason as Rand.
func (c *Context) UUIDv4() (uuid.UUID, error) {
	if err := c.guard("uuid"); err != nil {
		return uuid.UUID{}, err
	}
	id, err := uuid.NewRandomFromReader(c.rng)
	if err != nil {
		return uuid.UUID{}, newInternalError(fmt.Sprintf("uuid generation failed: %v", err))
	}
	return id, nil
}

// InvocationID returns the invocation's stable identifier. This is a
// read-only, non-journaled accessor and is allowed inside a side
// effect.
func (c *Context) InvocationID() string {
	return c.invocationID
}

func failedFuture(err error) *Future {
	return readyFuture(0, journal.FailureResult(wire.FailureCodeInternal, err.Error()))
}

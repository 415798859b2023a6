package invocation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/durableflow/durable"
	"github.com/BaSui01/durableflow/wire"
)

type recordingEmitter struct {
	mu   sync.Mutex
	msgs []wire.Message
}

func (r *recordingEmitter) emit(m wire.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recordingEmitter) snapshot() []wire.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wire.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func startMsg(invocationID string, knownEntries uint32, partialState bool) wire.Message {
	body := wire.StartBody{
		InvocationID: invocationID,
		ServiceName:  "greeter",
		HandlerName:  "hello",
		KnownEntries: knownEntries,
		PartialState: partialState,
	}.Encode()
	return wire.Message{Kind: wire.KindStart, Body: body}
}

func inputMsg(payload []byte) wire.Message {
	return wire.Message{Kind: wire.KindInput, Body: wire.InputBody{Payload: payload}.Encode()}
}

func waitDone(t *testing.T, m *Machine) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("machine did not close in time")
	}
}

func TestMachine_SuccessfulInvocation(t *testing.T) {
	rec := &recordingEmitter{}
	handler := func(ctx *durable.Context, input []byte) ([]byte, error) {
		return append([]byte("hello, "), input...), nil
	}
	m := New(ModeBidirectional, handler, rec.emit, nil)

	require.NoError(t, m.Feed(startMsg("inv-1", 1, false)))
	require.NoError(t, m.Feed(inputMsg([]byte("world"))))

	waitDone(t, m)
	assert.Equal(t, PhaseClosed, m.Phase())
	assert.NoError(t, m.FatalCause())

	msgs := rec.snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, wire.KindOutput, msgs[0].Kind)
	assert.Equal(t, wire.KindEnd, msgs[1].Kind)

	out, err := wire.DecodeOutputBody(msgs[0].Body)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "hello, world", string(out.Value))
}

func TestMachine_OnCompleteReceivesSnapshotOnSuccess(t *testing.T) {
	rec := &recordingEmitter{}
	handler := func(ctx *durable.Context, input []byte) ([]byte, error) {
		return append([]byte("hello, "), input...), nil
	}
	m := New(ModeBidirectional, handler, rec.emit, nil)

	var snap CompletionSnapshot
	var called bool
	m.SetOnComplete(func(s CompletionSnapshot) {
		called = true
		snap = s
	})

	require.NoError(t, m.Feed(startMsg("inv-1", 1, false)))
	require.NoError(t, m.Feed(inputMsg([]byte("world"))))
	waitDone(t, m)

	require.True(t, called)
	assert.Equal(t, "inv-1", snap.InvocationID)
	assert.Equal(t, "greeter", snap.ServiceName)
	assert.Equal(t, "hello", snap.HandlerName)
	assert.True(t, snap.Success)
	assert.NotEmpty(t, snap.Entries)
}

func TestMachine_OnCompleteReceivesSnapshotOnFailure(t *testing.T) {
	rec := &recordingEmitter{}
	handler := func(ctx *durable.Context, input []byte) ([]byte, error) {
		return nil, durable.NewTerminalError("bad request")
	}
	m := New(ModeBidirectional, handler, rec.emit, nil)

	var snap CompletionSnapshot
	m.SetOnComplete(func(s CompletionSnapshot) { snap = s })

	require.NoError(t, m.Feed(startMsg("inv-1", 1, false)))
	require.NoError(t, m.Feed(inputMsg(nil)))
	waitDone(t, m)

	assert.False(t, snap.Success)
}

func TestMachine_HandlerTerminalError(t *testing.T) {
	rec := &recordingEmitter{}
	handler := func(ctx *durable.Context, input []byte) ([]byte, error) {
		return nil, durable.NewTerminalError("bad request")
	}
	m := New(ModeBidirectional, handler, rec.emit, nil)

	require.NoError(t, m.Feed(startMsg("inv-1", 1, false)))
	require.NoError(t, m.Feed(inputMsg(nil)))
	waitDone(t, m)

	msgs := rec.snapshot()
	require.Len(t, msgs, 2)
	out, err := wire.DecodeOutputBody(msgs[0].Body)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, wire.FailureCodeTerminal, out.FailureCode)
	assert.Equal(t, "bad request", out.FailureMessage)
}

func TestMachine_HandlerPanicRecovered(t *testing.T) {
	rec := &recordingEmitter{}
	handler := func(ctx *durable.Context, input []byte) ([]byte, error) {
		panic("boom")
	}
	m := New(ModeBidirectional, handler, rec.emit, nil)

	require.NoError(t, m.Feed(startMsg("inv-1", 1, false)))
	require.NoError(t, m.Feed(inputMsg(nil)))
	waitDone(t, m)

	msgs := rec.snapshot()
	out, err := wire.DecodeOutputBody(msgs[0].Body)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, wire.FailureCodeInternal, out.FailureCode)
}

func TestMachine_StartWithZeroKnownEntriesFails(t *testing.T) {
	rec := &recordingEmitter{}
	handler := func(ctx *durable.Context, input []byte) ([]byte, error) { return nil, nil }
	m := New(ModeBidirectional, handler, rec.emit, nil)

	err := m.Feed(startMsg("inv-1", 0, false))
	require.Error(t, err)
	waitDone(t, m)
	require.Error(t, m.FatalCause())
}

func TestMachine_UnexpectedMessageBeforeStart(t *testing.T) {
	rec := &recordingEmitter{}
	handler := func(ctx *durable.Context, input []byte) ([]byte, error) { return nil, nil }
	m := New(ModeBidirectional, handler, rec.emit, nil)

	err := m.Feed(inputMsg(nil))
	require.Error(t, err)
}

func TestMachine_CompletionResolvesPendingEntry(t *testing.T) {
	rec := &recordingEmitter{}
	futCh := make(chan *durable.Future, 1)
	handler := func(ctx *durable.Context, input []byte) ([]byte, error) {
		fut, err := ctx.GetState("k")
		if err != nil {
			return nil, err
		}
		futCh <- fut
		result, err := fut.Await()
		if err != nil {
			return nil, err
		}
		return result.Value, nil
	}
	m := New(ModeBidirectional, handler, rec.emit, nil)

	require.NoError(t, m.Feed(startMsg("inv-1", 1, true)))
	require.NoError(t, m.Feed(inputMsg(nil)))

	var fut *durable.Future
	select {
	case fut = <-futCh:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never issued GetState")
	}

	completion := wire.Message{Kind: wire.KindCompletion, Body: wire.CompletionBody{
		Index:   fut.Index(),
		Success: true,
		Value:   []byte("resolved"),
	}.Encode()}
	require.NoError(t, m.Feed(completion))

	waitDone(t, m)
	msgs := rec.snapshot()
	out, err := wire.DecodeOutputBody(msgs[len(msgs)-2].Body)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "resolved", string(out.Value))
}

func TestMachine_MaybeSuspend_BidirectionalEmitsSuspension(t *testing.T) {
	rec := &recordingEmitter{}
	futCh := make(chan *durable.Future, 1)
	handler := func(ctx *durable.Context, input []byte) ([]byte, error) {
		fut, err := ctx.GetState("k")
		if err != nil {
			return nil, err
		}
		futCh <- fut
		result, err := fut.Await()
		if err != nil {
			return nil, err
		}
		return result.Value, nil
	}
	m := New(ModeBidirectional, handler, rec.emit, nil)

	require.NoError(t, m.Feed(startMsg("inv-1", 1, true)))
	require.NoError(t, m.Feed(inputMsg(nil)))

	var fut *durable.Future
	select {
	case fut = <-futCh:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never issued GetState")
	}

	m.MaybeSuspend()
	assert.Equal(t, PhaseSuspended, m.Phase())

	msgs := rec.snapshot()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	require.Equal(t, wire.KindSuspension, last.Kind)
	body, err := wire.DecodeSuspensionBody(last.Body)
	require.NoError(t, err)
	assert.Equal(t, []uint32{fut.Index()}, body.Indices)
}

// TestMachine_MaybeSuspend_FiveSleepsTwoResolvedSuspendsOnThree
// reproduces spec.md §8 S5: a handler schedules five concurrent sleeps,
// two of them resolve before the runtime checks for suspension, and the
// resulting Suspension message must name exactly the three still-
// pending indices, not all five.
func TestMachine_MaybeSuspend_FiveSleepsTwoResolvedSuspendsOnThree(t *testing.T) {
	rec := &recordingEmitter{}
	futsCh := make(chan []*durable.Future, 1)
	handler := func(ctx *durable.Context, input []byte) ([]byte, error) {
		futs := make([]*durable.Future, 5)
		for i := range futs {
			futs[i] = ctx.Sleep(time.Duration(i+1) * time.Minute)
		}
		futsCh <- futs
		results, err := durable.All(futs...)
		if err != nil {
			return nil, err
		}
		return results[0].Value, nil
	}
	m := New(ModeBidirectional, handler, rec.emit, nil)

	require.NoError(t, m.Feed(startMsg("inv-1", 1, true)))
	require.NoError(t, m.Feed(inputMsg(nil)))

	var futs []*durable.Future
	select {
	case futs = <-futsCh:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never issued its five sleeps")
	}
	require.Len(t, futs, 5)

	for _, i := range []int{1, 3} {
		completion := wire.Message{Kind: wire.KindCompletion, Body: wire.CompletionBody{
			Index:   futs[i].Index(),
			Success: true,
		}.Encode()}
		require.NoError(t, m.Feed(completion))
	}

	m.MaybeSuspend()
	assert.Equal(t, PhaseSuspended, m.Phase())

	msgs := rec.snapshot()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	require.Equal(t, wire.KindSuspension, last.Kind)
	body, err := wire.DecodeSuspensionBody(last.Body)
	require.NoError(t, err)

	expected := []uint32{futs[0].Index(), futs[2].Index(), futs[4].Index()}
	assert.ElementsMatch(t, expected, body.Indices)
}

func TestMachine_MaybeSuspend_RequestResponseNeverSuspends(t *testing.T) {
	rec := &recordingEmitter{}
	futCh := make(chan *durable.Future, 1)
	handler := func(ctx *durable.Context, input []byte) ([]byte, error) {
		fut, err := ctx.GetState("k")
		if err != nil {
			return nil, err
		}
		futCh <- fut
		result, err := fut.Await()
		if err != nil {
			return nil, err
		}
		return result.Value, nil
	}
	m := New(ModeRequestResponse, handler, rec.emit, nil)

	require.NoError(t, m.Feed(startMsg("inv-1", 1, true)))
	require.NoError(t, m.Feed(inputMsg(nil)))

	var fut *durable.Future
	select {
	case fut = <-futCh:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never issued GetState")
	}

	m.MaybeSuspend()
	assert.Equal(t, PhaseProcessing, m.Phase())

	completion := wire.Message{Kind: wire.KindCompletion, Body: wire.CompletionBody{
		Index:   fut.Index(),
		Success: true,
	}.Encode()}
	require.NoError(t, m.Feed(completion))
	waitDone(t, m)
}

package durable

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/durableflow/journal"
	"github.com/BaSui01/durableflow/wire"
)

type recordingSideEffectMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *recordingSideEffectMetrics) RecordSideEffectAttempt(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingSideEffectMetrics) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.outcomes))
	copy(out, m.outcomes)
	return out
}

func TestRunSideEffect_Success(t *testing.T) {
	c := New("inv-1", journal.New(false, nil), nil, false, nil)

	fut := c.RunSideEffect(func() ([]byte, error) {
		return []byte("result"), nil
	}, RetryPolicy{MaxRetries: 0})

	result, err := fut.Await()
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), result.Value)
}

func TestRunSideEffect_TerminalErrorStopsImmediately(t *testing.T) {
	c := New("inv-1", journal.New(false, nil), nil, false, nil)
	calls := 0

	fut := c.RunSideEffect(func() ([]byte, error) {
		calls++
		return nil, NewTerminalError("nope")
	}, RetryPolicy{MaxRetries: 5})

	result, err := fut.Await()
	require.NoError(t, err)
	assert.Equal(t, journal.ResultFailure, result.State)
	assert.Equal(t, 1, calls)
}

func TestRunSideEffect_ExhaustsRetriesThenFails(t *testing.T) {
	c := New("inv-1", journal.New(false, nil), nil, false, nil)

	fut := c.RunSideEffect(func() ([]byte, error) {
		return nil, errors.New("transient")
	}, RetryPolicy{MaxRetries: 0})

	result, err := fut.Await()
	require.NoError(t, err)
	assert.Equal(t, journal.ResultFailure, result.State)
}

func TestRunSideEffect_Replay_DoesNotInvokeFn(t *testing.T) {
	j := journal.New(true, nil)
	j.AppendReplay(journal.Entry{Index: 0, Kind: wire.KindSideEffect, Result: journal.ValueResult([]byte("cached"))})
	c := New("inv-1", j, nil, false, nil)

	called := false
	fut := c.RunSideEffect(func() ([]byte, error) {
		called = true
		return []byte("new"), nil
	}, RetryPolicy{})

	result, err := fut.Await()
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, []byte("cached"), result.Value)
}

func TestRunSideEffect_RecordsAttemptOutcomes(t *testing.T) {
	metrics := &recordingSideEffectMetrics{}
	c := NewWithMetrics("inv-1", journal.New(false, nil), nil, false, nil, metrics)

	fut := c.RunSideEffect(func() ([]byte, error) {
		return []byte("ok"), nil
	}, RetryPolicy{MaxRetries: 0})
	_, err := fut.Await()
	require.NoError(t, err)
	assert.Equal(t, []string{"success"}, metrics.snapshot())
}

func TestRunSideEffect_RecordsTerminalOutcome(t *testing.T) {
	metrics := &recordingSideEffectMetrics{}
	c := NewWithMetrics("inv-1", journal.New(false, nil), nil, false, nil, metrics)

	fut := c.RunSideEffect(func() ([]byte, error) {
		return nil, NewTerminalError("nope")
	}, RetryPolicy{MaxRetries: 5})
	_, err := fut.Await()
	require.NoError(t, err)
	assert.Equal(t, []string{"terminal"}, metrics.snapshot())
}

func TestRunSideEffect_RecordsExhaustedOutcome(t *testing.T) {
	metrics := &recordingSideEffectMetrics{}
	c := NewWithMetrics("inv-1", journal.New(false, nil), nil, false, nil, metrics)

	fut := c.RunSideEffect(func() ([]byte, error) {
		return nil, errors.New("transient")
	}, RetryPolicy{MaxRetries: 0})
	_, err := fut.Await()
	require.NoError(t, err)
	assert.Equal(t, []string{"exhausted"}, metrics.snapshot())
}

// TestRunSideEffect_SiblingsGetIndicesInScheduleOrder reproduces spec.md
// §8 S6: two side effects scheduled back to back on the same Context,
// before either is awaited, must receive journal indices in the order
// their closures were scheduled, not the order their goroutines happen
// to finish running.
func TestRunSideEffect_SiblingsGetIndicesInScheduleOrder(t *testing.T) {
	c := New("inv-1", journal.New(false, nil), nil, false, nil)

	release := make(chan struct{})
	firstStarted := make(chan struct{})

	futFirst := c.RunSideEffect(func() ([]byte, error) {
		close(firstStarted)
		<-release
		return []byte("first"), nil
	}, RetryPolicy{MaxRetries: 0})

	<-firstStarted
	futSecond := c.RunSideEffect(func() ([]byte, error) {
		return []byte("second"), nil
	}, RetryPolicy{MaxRetries: 0})

	assert.Less(t, futFirst.Index(), futSecond.Index())

	close(release)
	resFirst, err := futFirst.Await()
	require.NoError(t, err)
	resSecond, err := futSecond.Await()
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), resFirst.Value)
	assert.Equal(t, []byte("second"), resSecond.Value)
}

func TestRunSideEffect_ForbidsStateCallFromInsideClosure(t *testing.T) {
	c := New("inv-1", journal.New(false, nil), nil, false, nil)

	var innerErr error
	fut := c.RunSideEffect(func() ([]byte, error) {
		innerErr = c.SetState("k", []byte("v"))
		return nil, innerErr
	}, RetryPolicy{MaxRetries: 0})

	_, err := fut.Await()
	require.NoError(t, err)
	require.Error(t, innerErr)
}

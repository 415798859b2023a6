package durable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/durableflow/journal"
	"github.com/BaSui01/durableflow/wire"
)

func TestFuture_Await_Cached(t *testing.T) {
	f := readyFuture(5, journal.ValueResult([]byte("v")))
	assert.Equal(t, uint32(5), f.Index())

	r1, err := f.Await()
	require.NoError(t, err)
	r2, err := f.Await()
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestFuture_Await_FromChannel(t *testing.T) {
	ch := make(chan journal.Result, 1)
	f := newFuture(nil, 1, ch)
	ch <- journal.EmptyResult

	r, err := f.Await()
	require.NoError(t, err)
	assert.Equal(t, journal.ResultEmpty, r.State)
}

func TestAsError_SuccessIsNil(t *testing.T) {
	assert.NoError(t, AsError(journal.ValueResult([]byte("v"))))
	assert.NoError(t, AsError(journal.EmptyResult))
}

func TestAsError_Timeout(t *testing.T) {
	err := AsError(journal.FailureResult(wire.FailureCodeTimeout, "timed out"))
	require.Error(t, err)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestAsError_Terminal(t *testing.T) {
	err := AsError(journal.FailureResult(wire.FailureCodeTerminal, "boom"))
	require.Error(t, err)
	var termErr *TerminalError
	require.ErrorAs(t, err, &termErr)
	assert.Equal(t, "boom", termErr.Error())
}

package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/durableflow/wire"
)

func TestResult_Ready(t *testing.T) {
	assert.False(t, NotReadyResult.Ready())
	assert.True(t, EmptyResult.Ready())
	assert.True(t, ValueResult([]byte("x")).Ready())
	assert.True(t, FailureResult(wire.FailureCodeTerminal, "nope").Ready())
}

func TestIsCompletable(t *testing.T) {
	assert.True(t, IsCompletable(wire.KindSleep, false))
	assert.True(t, IsCompletable(wire.KindGetState, true))
	assert.False(t, IsCompletable(wire.KindSetState, true))

	assert.True(t, IsCompletable(wire.KindSideEffect, true))
	assert.False(t, IsCompletable(wire.KindSideEffect, false))
}

func TestIsCompletedOnAppend(t *testing.T) {
	assert.True(t, IsCompletedOnAppend(wire.KindSetState))
	assert.True(t, IsCompletedOnAppend(wire.KindOutput))
	assert.False(t, IsCompletedOnAppend(wire.KindSleep))
}

func TestDeterministicBody(t *testing.T) {
	assert.False(t, DeterministicBody(wire.KindSideEffect))
	assert.False(t, DeterministicBody(wire.KindSleep))
	assert.False(t, DeterministicBody(wire.KindInvokeCall))
	assert.False(t, DeterministicBody(wire.KindBackgroundInvokeCall))
	assert.True(t, DeterministicBody(wire.KindInput))
	assert.True(t, DeterministicBody(wire.KindGetState))
}

package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingArchiveMetrics struct {
	backend string
	ops     []string
}

func (m *recordingArchiveMetrics) RecordArchiveOp(backend, operation string, duration time.Duration) {
	m.backend = backend
	m.ops = append(m.ops, operation)
}

func TestInstrumentedArchive_RecordsEveryOperation(t *testing.T) {
	ctx := context.Background()
	metrics := &recordingArchiveMetrics{}
	a := NewInstrumentedArchive(NewMemoryArchive(), metrics, "memory")

	rec := newTestRecord("inv-1", "greeter")
	require.NoError(t, a.Save(ctx, rec))

	got, err := a.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ServiceName, got.ServiceName)

	_, err = a.List(ctx, ListOptions{})
	require.NoError(t, err)

	require.NoError(t, a.Delete(ctx, "inv-1"))
	require.NoError(t, a.Close())

	assert.Equal(t, "memory", metrics.backend)
	assert.Equal(t, []string{"save", "get", "list", "delete"}, metrics.ops)
}

func TestInstrumentedArchive_PropagatesErrors(t *testing.T) {
	ctx := context.Background()
	metrics := &recordingArchiveMetrics{}
	a := NewInstrumentedArchive(NewMemoryArchive(), metrics, "memory")

	_, err := a.Get(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, []string{"get"}, metrics.ops)
}

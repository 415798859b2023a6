package archiveopen

import (
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/durableflow/archive"
	"github.com/BaSui01/durableflow/internal/durableconfig"
)

func TestOpen_MemoryBackend(t *testing.T) {
	a, err := Open(durableconfig.ArchiveConfig{Backend: "memory"}, nil)
	require.NoError(t, err)
	_, ok := a.(*archive.MemoryArchive)
	assert.True(t, ok)
}

func TestOpen_EmptyBackendDefaultsToMemory(t *testing.T) {
	a, err := Open(durableconfig.ArchiveConfig{Backend: ""}, nil)
	require.NoError(t, err)
	_, ok := a.(*archive.MemoryArchive)
	assert.True(t, ok)
}

func TestOpen_RedisBackend(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	a, err := Open(durableconfig.ArchiveConfig{Backend: "redis", DSN: mr.Addr()}, nil)
	require.NoError(t, err)
	_, ok := a.(*archive.RedisArchive)
	assert.True(t, ok)
}

func TestOpen_SQLiteBackend(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "archive.db")

	a, err := Open(durableconfig.ArchiveConfig{Backend: "sqlite", DSN: dbPath}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.(*archive.SQLArchive)
	assert.True(t, ok)
}

func TestOpen_UnsupportedBackend(t *testing.T) {
	_, err := Open(durableconfig.ArchiveConfig{Backend: "dynamodb"}, nil)
	require.Error(t, err)
}

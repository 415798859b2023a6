// Package archive persists a completed or suspended invocation's
// journal outside the process so a replay-debug session or an
// operator can inspect what happened without holding the live
// connection open. It is not consulted by the hot path — the
// invocation core replays from what the runtime sends it, never from
// the archive.
package archive

import (
	"context"
	"time"

	"github.com/BaSui01/durableflow/journal"
)

// Record is one archived invocation: its identity and the full
// journal snapshot at archive time.
type Record struct {
	InvocationID string
	ServiceName  string
	HandlerName  string
	Key          string
	ArchivedAt   time.Time
	Entries      []journal.Entry
}

// ListOptions filters Archive.List, mirroring the shape of
// agent/execution/checkpointer.go's ListOptions. From/To bound
// ArchivedAt (either may be the zero Time to leave that side
// unbounded) — a read-only time-range scan over the archive, e.g. for
// an operator narrowing a replay-debug search to a maintenance
// window.
type ListOptions struct {
	ServiceName string
	Limit       int
	From        time.Time
	To          time.Time
}

// Archive is the persistence contract for invocation journals. Every
// backend (Memory, SQL, Redis, Mongo) implements the same contract so
// the replay-debug CLI and any operator tooling are backend-agnostic.
type Archive interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, invocationID string) (Record, error)
	List(ctx context.Context, opts ListOptions) ([]Record, error)
	Delete(ctx context.Context, invocationID string) error
	Close() error
}

// ErrNotFound is returned by Get and Delete when invocationID has no
// archived record.
type ErrNotFound struct{ InvocationID string }

func (e *ErrNotFound) Error() string {
	return "archive: no record for invocation " + e.InvocationID
}

func timeFromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

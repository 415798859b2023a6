package archive

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/BaSui01/durableflow/journal"
)

var errClosed = errors.New("archive: closed")

// MemoryArchive is an in-memory Archive. Data is lost on restart;
// useful for development and tests.
type MemoryArchive struct {
	mu      sync.RWMutex
	records map[string]Record
	closed  bool
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{records: make(map[string]Record)}
}

func (a *MemoryArchive) Save(ctx context.Context, rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errClosed
	}
	entries := make([]journal.Entry, len(rec.Entries))
	copy(entries, rec.Entries)
	for i := range entries {
		entries[i].Body = append([]byte(nil), entries[i].Body...)
		entries[i].Result.Value = append([]byte(nil), entries[i].Result.Value...)
	}
	rec.Entries = entries
	a.records[rec.InvocationID] = rec
	return nil
}

func (a *MemoryArchive) Get(ctx context.Context, invocationID string) (Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return Record{}, errClosed
	}
	rec, ok := a.records[invocationID]
	if !ok {
		return Record{}, &ErrNotFound{InvocationID: invocationID}
	}
	return rec, nil
}

func (a *MemoryArchive) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, errClosed
	}
	out := make([]Record, 0, len(a.records))
	for _, rec := range a.records {
		if opts.ServiceName != "" && rec.ServiceName != opts.ServiceName {
			continue
		}
		if !opts.From.IsZero() && rec.ArchivedAt.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && rec.ArchivedAt.After(opts.To) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArchivedAt.Before(out[j].ArchivedAt) })
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (a *MemoryArchive) Delete(ctx context.Context, invocationID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errClosed
	}
	if _, ok := a.records[invocationID]; !ok {
		return &ErrNotFound{InvocationID: invocationID}
	}
	delete(a.records, invocationID)
	return nil
}

func (a *MemoryArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

var _ Archive = (*MemoryArchive)(nil)

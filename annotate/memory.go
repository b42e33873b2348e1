package annotate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

var (
	_ ArtifactStore = (*MemoryStore)(nil)
	_ Tracker       = (*MemoryTracker)(nil)
	_ RecordDeleter = (*MemoryTracker)(nil)
)

// MemoryStore keeps exported documents in memory. Intended for tests and
// local development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]storedBlob
}

type storedBlob struct {
	data []byte
	meta ArtifactMeta
}

// NewMemoryStore creates an in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]storedBlob)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, r io.Reader, meta ArtifactMeta) (ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return ArtifactRef{}, err
	}
	if key == "" {
		return ArtifactRef{}, NewError(KindValidation, "artifact key is required", nil)
	}
	var buf bytes.Buffer
	size, err := buf.ReadFrom(r)
	if err != nil {
		return ArtifactRef{}, err
	}
	meta.Size = size
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = storedBlob{data: buf.Bytes(), meta: meta}
	return ArtifactRef{Key: key, Meta: meta}, nil
}

func (s *MemoryStore) Open(ctx context.Context, key string) (io.ReadCloser, ArtifactMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, ArtifactMeta{}, err
	}
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ArtifactMeta{}, artifactNotFound(key)
	}
	return io.NopCloser(bytes.NewReader(blob.data)), blob.meta, nil
}

// Delete removes an artifact. Missing keys are ignored.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// Len reports how many artifacts are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// MemoryTracker keeps export history in memory. Intended for tests and
// local development.
type MemoryTracker struct {
	mu      sync.RWMutex
	records map[string]ExportRecord
	seq     atomic.Uint64
}

// NewMemoryTracker creates an in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{records: make(map[string]ExportRecord)}
}

func (t *MemoryTracker) Start(_ context.Context, record ExportRecord) (string, error) {
	if record.ID == "" {
		record.ID = fmt.Sprintf("exp-%d", t.seq.Add(1))
	}
	if record.State == "" {
		record.State = StateRunning
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[record.ID] = record
	return record.ID, nil
}

func (t *MemoryTracker) Complete(_ context.Context, id string, update ExportRecord) error {
	return t.update(id, func(record *ExportRecord) {
		record.State = StateCompleted
		record.Pages = update.Pages
		record.Instructions = update.Instructions
		record.BytesWritten = update.BytesWritten
		record.Artifact = update.Artifact
		record.ExpiresAt = update.ExpiresAt
		record.CompletedAt = update.CompletedAt
		if record.CompletedAt.IsZero() {
			record.CompletedAt = time.Now()
		}
	})
}

// Fail records a terminal state. An empty state means StateFailed.
func (t *MemoryTracker) Fail(_ context.Context, id string, state ExportState, cause error) error {
	if state == "" {
		state = StateFailed
	}
	return t.update(id, func(record *ExportRecord) {
		record.State = state
		if cause != nil {
			record.Error = cause.Error()
		}
		record.CompletedAt = time.Now()
	})
}

func (t *MemoryTracker) Status(_ context.Context, id string) (ExportRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	record, ok := t.records[id]
	if !ok {
		return ExportRecord{}, exportNotFound(id)
	}
	return record, nil
}

// List returns records matching the filter, oldest first.
func (t *MemoryTracker) List(_ context.Context, filter ExportFilter) ([]ExportRecord, error) {
	t.mu.RLock()
	matched := make([]ExportRecord, 0, len(t.records))
	for _, record := range t.records {
		if filter.Matches(record) {
			matched = append(matched, record)
		}
	}
	t.mu.RUnlock()

	slices.SortStableFunc(matched, func(a, b ExportRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return matched, nil
}

func (t *MemoryTracker) Delete(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, id)
	return nil
}

func (t *MemoryTracker) update(id string, apply func(*ExportRecord)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	record, ok := t.records[id]
	if !ok {
		return exportNotFound(id)
	}
	apply(&record)
	t.records[id] = record
	return nil
}

// Matches reports whether a record passes every set filter field.
func (f ExportFilter) Matches(record ExportRecord) bool {
	switch {
	case f.SessionID != "" && record.SessionID != f.SessionID:
		return false
	case f.State != "" && record.State != f.State:
		return false
	case !f.Since.IsZero() && record.CreatedAt.Before(f.Since):
		return false
	case !f.Until.IsZero() && record.CreatedAt.After(f.Until):
		return false
	}
	return true
}

func artifactNotFound(key string) *Error {
	return NewError(KindNotFound, fmt.Sprintf("artifact %q not found", key), nil)
}

func exportNotFound(id string) *Error {
	return NewError(KindNotFound, fmt.Sprintf("export %q not found", id), nil)
}

package database

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/renameio"
)

// ErrInvariantViolation signals that the index and the resume ledger
// disagree: a file name is about to be indexed twice.
var ErrInvariantViolation = errors.New("index invariant violation")

// InvariantViolationError carries the offending file name.
type InvariantViolationError struct {
	FileName string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("index invariant violation: %s is already indexed", e.FileName)
}

func (e *InvariantViolationError) Unwrap() error {
	return ErrInvariantViolation
}

// FingerprintIndex is the persisted collection of photo records, kept fully
// in memory and written back as a whole JSON array. Safe for concurrent use.
type FingerprintIndex struct {
	path string

	mu      sync.Mutex
	records []PhotoRecord
	byName  map[string]int
}

// NewIndex returns an empty index that persists to path.
func NewIndex(path string) *FingerprintIndex {
	return &FingerprintIndex{path: path, byName: make(map[string]int)}
}

// OpenIndex loads the index at path. A missing file is an empty index; an
// unreadable, malformed or inconsistent file is an error, never a partial index.
func OpenIndex(path string) (*FingerprintIndex, error) {
	idx := NewIndex(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return idx, nil
	}

	var records []PhotoRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse index %s: %w", path, err)
	}

	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("index %s: %w: %w", path, ErrInvariantViolation, err)
		}
		if _, ok := idx.byName[rec.FileName]; ok {
			return nil, fmt.Errorf("index %s: %w", path, &InvariantViolationError{FileName: rec.FileName})
		}
		idx.byName[rec.FileName] = len(idx.records)
		idx.records = append(idx.records, rec)
	}
	return idx, nil
}

// Path returns the backing file location.
func (x *FingerprintIndex) Path() string {
	return x.path
}

// Append adds a record in memory only.
func (x *FingerprintIndex) Append(rec PhotoRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.appendLocked(rec)
}

func (x *FingerprintIndex) appendLocked(rec PhotoRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, ok := x.byName[rec.FileName]; ok {
		return &InvariantViolationError{FileName: rec.FileName}
	}
	x.byName[rec.FileName] = len(x.records)
	x.records = append(x.records, rec)
	return nil
}

// AppendAndFlush appends rec and persists the index while holding the lock,
// so the record is durable once this returns nil. If persisting fails the
// append is undone.
func (x *FingerprintIndex) AppendAndFlush(rec PhotoRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.appendLocked(rec); err != nil {
		return err
	}
	if err := x.flushLocked(); err != nil {
		delete(x.byName, rec.FileName)
		x.records = x.records[:len(x.records)-1]
		return err
	}
	return nil
}

// Snapshot serializes the ordered records.
func (x *FingerprintIndex) Snapshot() ([]byte, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.snapshotLocked()
}

func (x *FingerprintIndex) snapshotLocked() ([]byte, error) {
	records := x.records
	if records == nil {
		records = []PhotoRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode index: %w", err)
	}
	return append(data, '\n'), nil
}

// Flush atomically replaces the index file with the current snapshot.
func (x *FingerprintIndex) Flush() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.flushLocked()
}

func (x *FingerprintIndex) flushLocked() error {
	data, err := x.snapshotLocked()
	if err != nil {
		return err
	}
	// temp file in the same directory, fsync, rename
	if err := renameio.WriteFile(x.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index %s: %w", x.path, err)
	}
	return nil
}

func (x *FingerprintIndex) Has(fileName string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.byName[fileName]
	return ok
}

func (x *FingerprintIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.records)
}

// Records returns a copy of all records in insertion order. Embedding slices
// are shared and must not be modified.
func (x *FingerprintIndex) Records() []PhotoRecord {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]PhotoRecord, len(x.records))
	copy(out, x.records)
	return out
}

// Get returns the record for fileName.
func (x *FingerprintIndex) Get(fileName string) (PhotoRecord, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	i, ok := x.byName[fileName]
	if !ok {
		return PhotoRecord{}, false
	}
	return x.records[i], true
}

func (x *FingerprintIndex) Stats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()

	stats := Stats{Photos: len(x.records), Dimensions: make(map[int]int)}
	for _, rec := range x.records {
		stats.Faces += rec.FaceCount
		stats.MaxFaces = max(stats.MaxFaces, rec.FaceCount)
		for _, e := range rec.Embeddings {
			stats.Dimensions[len(e)]++
		}
	}
	return stats
}

// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"sync"

	"github.com/kozaktomas/face-finder/internal/database"
)

// MockRecordWriter is an in-memory implementation of database.RecordWriter
type MockRecordWriter struct {
	mu      sync.RWMutex
	records []database.PhotoRecord
	byName  map[string]bool

	// Flushes counts successful persists (AppendAndFlush and Flush)
	Flushes int

	// Error injection
	AppendError error
	FlushError  error
}

var _ database.RecordWriter = (*MockRecordWriter)(nil)

// NewMockRecordWriter creates a new mock record writer
func NewMockRecordWriter() *MockRecordWriter {
	return &MockRecordWriter{byName: make(map[string]bool)}
}

// AddRecord adds a record to the mock store without validation
func (m *MockRecordWriter) AddRecord(rec database.PhotoRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	m.byName[rec.FileName] = true
}

// Records returns a copy of all records
func (m *MockRecordWriter) Records() []database.PhotoRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.PhotoRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Has checks if a record exists
func (m *MockRecordWriter) Has(fileName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byName[fileName]
}

// Len returns the number of records
func (m *MockRecordWriter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// AppendAndFlush validates and stores a record. Duplicates fail with an
// *database.InvariantViolationError like the real index.
func (m *MockRecordWriter) AppendAndFlush(rec database.PhotoRecord) error {
	if m.AppendError != nil {
		return m.AppendError
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byName[rec.FileName] {
		return &database.InvariantViolationError{FileName: rec.FileName}
	}
	if m.FlushError != nil {
		return m.FlushError
	}
	m.records = append(m.records, rec)
	m.byName[rec.FileName] = true
	m.Flushes++
	return nil
}

// Flush records a persist or returns FlushError
func (m *MockRecordWriter) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FlushError != nil {
		return m.FlushError
	}
	m.Flushes++
	return nil
}

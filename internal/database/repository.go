package database

// RecordReader provides read-only access to the fingerprint index
type RecordReader interface {
	// Records returns a copy of all records in insertion order
	Records() []PhotoRecord
	// Has checks if a record exists for the given file name
	Has(fileName string) bool
	// Len returns the number of records
	Len() int
}

// RecordWriter provides write access to the fingerprint index
type RecordWriter interface {
	RecordReader

	// AppendAndFlush adds a record and persists the index before returning.
	// On failure the index is left unchanged.
	AppendAndFlush(rec PhotoRecord) error
	// Flush persists the current in-memory state
	Flush() error
}

var _ RecordWriter = (*FingerprintIndex)(nil)

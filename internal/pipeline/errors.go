package pipeline

import "errors"

var (
	// ErrNoCandidates is returned when Run is called with nothing to do.
	ErrNoCandidates = errors.New("no candidates to ingest")

	// ErrUploadExhausted marks an upload that failed on every attempt.
	ErrUploadExhausted = errors.New("upload retries exhausted")
)

// Stage names the step at which a candidate failed.
type Stage string

const (
	StageCompress Stage = "compress"
	StageUpload   Stage = "upload"
	StageIndex    Stage = "index"
	StageLedger   Stage = "ledger"
)

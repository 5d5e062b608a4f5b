package pipeline

import (
	"fmt"
	"time"

	"github.com/kozaktomas/face-finder/internal/source"
)

// Outcome is the result of ingesting one candidate. Workers produce it, the
// coordinator folds it into the Summary.
type Outcome struct {
	Candidate source.Candidate
	// Done is true once the candidate is recorded in the ledger.
	Done bool
	// Stage and Err are set for failed candidates.
	Stage         Stage
	Err           error
	PublicID      string
	Faces         int
	NoFace        bool
	ExtractionErr error
	Violation     bool
	Attempts      int
	Duration      time.Duration
}

// Failure is a failed candidate as reported in the summary.
type Failure struct {
	FileName string `json:"fileName"`
	Path     string `json:"path"`
	Stage    Stage  `json:"stage"`
	Error    string `json:"error"`
}

// Summary aggregates a run.
type Summary struct {
	Total       int `json:"total"`
	AlreadyDone int `json:"alreadyDone"`
	Duplicates  int `json:"duplicates"`
	Reconciled  int `json:"reconciled"`
	Pending     int `json:"pending"`

	Processed          int `json:"processed"`
	Succeeded          int `json:"succeeded"`
	Failed             int `json:"failed"`
	PhotosWithFaces    int `json:"photosWithFaces"`
	FacesFound         int `json:"facesFound"`
	NoFace             int `json:"noFace"`
	ExtractionFailures int `json:"extractionFailures"`
	Violations         int `json:"violations"`
	UploadRetries      int `json:"uploadRetries"`

	Cancelled  bool          `json:"cancelled"`
	NotStarted int           `json:"notStarted"`
	Elapsed    time.Duration `json:"elapsed"`
	Failures   []Failure     `json:"failures,omitempty"`
}

func (s *Summary) add(o Outcome) {
	s.Processed++
	if o.Attempts > 1 {
		s.UploadRetries += o.Attempts - 1
	}
	if o.ExtractionErr != nil {
		s.ExtractionFailures++
	}
	if o.Violation {
		s.Violations++
	}

	if !o.Done {
		s.Failed++
		s.Failures = append(s.Failures, Failure{
			FileName: o.Candidate.Name,
			Path:     o.Candidate.Path,
			Stage:    o.Stage,
			Error:    fmt.Sprint(o.Err),
		})
		return
	}

	s.Succeeded++
	if o.Faces > 0 {
		s.PhotosWithFaces++
		s.FacesFound += o.Faces
	}
	if o.NoFace {
		s.NoFace++
	}
}

// AveragePerImage is the mean wall time per processed candidate.
func (s *Summary) AveragePerImage() time.Duration {
	if s.Processed == 0 {
		return 0
	}
	return s.Elapsed / time.Duration(s.Processed)
}

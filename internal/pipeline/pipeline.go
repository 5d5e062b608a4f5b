// Package pipeline ingests photos concurrently: compress, extract faces,
// upload, index and record completion in the resume ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kozaktomas/face-finder/internal/cloudinary"
	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
	"github.com/kozaktomas/face-finder/internal/preprocess"
	"github.com/kozaktomas/face-finder/internal/source"
)

// Compressor turns a source file into an upload payload.
type Compressor interface {
	Compress(path string) (*preprocess.Image, error)
}

// Extractor detects faces in image bytes.
type Extractor interface {
	ExtractFaces(ctx context.Context, imageData []byte) ([]fingerprint.Face, error)
}

// Uploader stores image bytes under a stable id and returns the remote id.
type Uploader interface {
	Store(ctx context.Context, data []byte, contentType, stableID string) (string, error)
}

// Ledger records completed file names.
type Ledger interface {
	IsDone(name string) bool
	MarkDone(name string) error
}

// Deps are the collaborators of a pipeline.
type Deps struct {
	Compressor Compressor
	Extractor  Extractor
	Uploader   Uploader
	Ledger     Ledger
	Index      database.RecordWriter
	// StableID maps a file name to its remote id. Defaults to cloudinary.StableID.
	StableID func(fileName string) string
	// Logger defaults to log.Default().
	Logger *log.Logger
}

type Config struct {
	Workers int
	Retry   RetryPolicy
	// Observer is called by the coordinator goroutine for every outcome.
	Observer func(Outcome)
}

type Pipeline struct {
	deps Deps
	cfg  Config
	log  *log.Logger
}

// New validates the collaborators and fills in defaults.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	switch {
	case deps.Compressor == nil:
		return nil, errors.New("pipeline: compressor is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case deps.Uploader == nil:
		return nil, errors.New("pipeline: uploader is required")
	case deps.Ledger == nil:
		return nil, errors.New("pipeline: ledger is required")
	case deps.Index == nil:
		return nil, errors.New("pipeline: index is required")
	}
	if deps.StableID == nil {
		deps.StableID = cloudinary.StableID
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}

	if cfg.Workers <= 0 {
		cfg.Workers = constants.WorkerPoolSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = constants.UploadMaxAttempts
	}
	if cfg.Retry.Delay < 0 {
		cfg.Retry.Delay = constants.UploadRetryDelay
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = func(err error) bool { return !cloudinary.IsPermanent(err) }
	}

	return &Pipeline{deps: deps, cfg: cfg, log: deps.Logger}, nil
}

// Plan splits candidates into work that still has to be done and work that
// is skipped.
type Plan struct {
	Pending     []source.Candidate
	AlreadyDone []source.Candidate
	Duplicates  []source.Candidate
}

// BuildPlan drops candidates sharing a base name with an earlier one and
// those isDone reports as finished. A pending candidate whose remote id
// (stableID, cloudinary.StableID when nil) is already taken by a finished or
// earlier pending candidate is a duplicate too, uploading it would overwrite
// the other photo.
func BuildPlan(candidates []source.Candidate, isDone func(name string) bool, stableID func(name string) string) *Plan {
	if stableID == nil {
		stableID = cloudinary.StableID
	}
	unique, dups := source.DedupeByName(candidates)
	plan := &Plan{Duplicates: dups}

	taken := make(map[string]bool, len(unique))
	var pending []source.Candidate
	for _, c := range unique {
		if isDone(c.Name) {
			plan.AlreadyDone = append(plan.AlreadyDone, c)
			taken[stableID(c.Name)] = true
			continue
		}
		pending = append(pending, c)
	}
	for _, c := range pending {
		id := stableID(c.Name)
		if taken[id] {
			plan.Duplicates = append(plan.Duplicates, c)
			continue
		}
		taken[id] = true
		plan.Pending = append(plan.Pending, c)
	}
	return plan
}

// Plan splits candidates against the ledger. It does not modify anything.
func (p *Pipeline) Plan(candidates []source.Candidate) *Plan {
	return BuildPlan(candidates, p.deps.Ledger.IsDone, p.deps.StableID)
}

// Reconcile marks every indexed photo as done in the ledger. Such photos are
// left behind by a crash between the index flush and the ledger append.
func (p *Pipeline) Reconcile() (int, error) {
	fixed := 0
	for _, rec := range p.deps.Index.Records() {
		if p.deps.Ledger.IsDone(rec.FileName) {
			continue
		}
		if err := p.deps.Ledger.MarkDone(rec.FileName); err != nil {
			return fixed, fmt.Errorf("reconcile ledger with index: %w", err)
		}
		fixed++
	}
	return fixed, nil
}

// Run ingests candidates. Individual failures are reported in the summary and
// never abort the run. Cancelling ctx stops dispatching new candidates; the
// ones already in flight finish their current attempt. The returned error is
// set only when the run could not start or the final index flush failed.
func (p *Pipeline) Run(ctx context.Context, candidates []source.Candidate) (*Summary, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	start := time.Now()

	reconciled, err := p.Reconcile()
	if err != nil {
		return nil, err
	}
	if reconciled > 0 {
		p.log.Printf("Reconciled %d indexed photo(s) missing from the ledger", reconciled)
	}

	plan := p.Plan(candidates)
	summary := &Summary{
		Total:       len(candidates),
		AlreadyDone: len(plan.AlreadyDone),
		Duplicates:  len(plan.Duplicates),
		Reconciled:  reconciled,
		Pending:     len(plan.Pending),
	}
	for _, d := range plan.Duplicates {
		p.log.Printf("Warning: skipping %s, another file with remote id %q is already queued or done", d.Path, p.deps.StableID(d.Name))
	}

	if len(plan.Pending) > 0 {
		p.runPool(ctx, plan.Pending, summary)
	}

	summary.Cancelled = ctx.Err() != nil
	summary.NotStarted = summary.Pending - summary.Processed

	if err := p.deps.Index.Flush(); err != nil {
		summary.Elapsed = time.Since(start)
		return summary, fmt.Errorf("final index flush: %w", err)
	}
	summary.Elapsed = time.Since(start)
	return summary, nil
}

func (p *Pipeline) runPool(ctx context.Context, pending []source.Candidate, summary *Summary) {
	workers := min(p.cfg.Workers, len(pending))
	jobs := make(chan source.Candidate)
	results := make(chan Outcome, workers)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				// a send can win the dispatcher's select after cancellation
				if ctx.Err() != nil {
					continue
				}
				results <- p.process(ctx, c)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, c := range pending {
			if ctx.Err() != nil {
				return
			}
			select {
			case jobs <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for o := range results {
		summary.add(o)
		if p.cfg.Observer != nil {
			p.cfg.Observer(o)
		}
	}
}

// process runs one candidate to completion. Collaborators get a context
// detached from cancellation so an interrupt never tears a candidate in half;
// runCtx only decides whether another upload attempt is scheduled.
func (p *Pipeline) process(runCtx context.Context, c source.Candidate) (o Outcome) {
	o.Candidate = c
	start := time.Now()
	defer func() { o.Duration = time.Since(start) }()

	ctx := context.WithoutCancel(runCtx)

	img, err := p.deps.Compressor.Compress(c.Path)
	if err != nil {
		p.log.Printf("Error: %s: %v", c.Name, err)
		return o.fail(StageCompress, err)
	}

	faces, err := p.deps.Extractor.ExtractFaces(ctx, img.Source)
	switch {
	case err != nil:
		o.ExtractionErr = err
		p.log.Printf("Warning: %s: %v (uploading without faces)", c.Name, err)
	case len(faces) == 0:
		o.NoFace = true
	default:
		o.Faces = len(faces)
	}

	stableID := p.deps.StableID(c.Name)
	var publicID string
	attempts, err := p.cfg.Retry.Do(runCtx, func() error {
		id, err := p.deps.Uploader.Store(ctx, img.Data, img.ContentType, stableID)
		publicID = id
		return err
	}, func(attempt int, err error, wait time.Duration) {
		p.log.Printf("Warning: %s: upload attempt %d/%d failed: %v (retrying in %s)", c.Name, attempt, p.cfg.Retry.MaxAttempts, err, wait)
	})
	o.Attempts = attempts
	if err != nil {
		err = fmt.Errorf("%w after %d attempt(s): %w", ErrUploadExhausted, attempts, err)
		p.log.Printf("Error: %s: %v", c.Name, err)
		return o.fail(StageUpload, err)
	}
	o.PublicID = publicID

	if o.Faces > 0 {
		rec := database.PhotoRecord{
			FileName:   c.Name,
			PublicID:   publicID,
			FaceCount:  len(faces),
			Embeddings: make([][]float64, len(faces)),
		}
		for i, f := range faces {
			rec.Embeddings[i] = f.Embedding
		}

		if err := p.deps.Index.AppendAndFlush(rec); err != nil {
			if errors.Is(err, database.ErrInvariantViolation) {
				o.Violation = true
				p.log.Printf("ERROR: %s: ledger and index are out of sync: %v", c.Name, err)
			} else {
				p.log.Printf("Error: %s: %v", c.Name, err)
			}
			return o.fail(StageIndex, err)
		}
	}

	if err := p.deps.Ledger.MarkDone(c.Name); err != nil {
		p.log.Printf("Error: %s: %v", c.Name, err)
		return o.fail(StageLedger, err)
	}

	o.Done = true
	return o
}

func (o Outcome) fail(stage Stage, err error) Outcome {
	o.Stage = stage
	o.Err = err
	return o
}

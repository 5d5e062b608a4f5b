package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/kozaktomas/face-finder/internal/cloudinary"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/database/mock"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
	"github.com/kozaktomas/face-finder/internal/ledger"
	"github.com/kozaktomas/face-finder/internal/preprocess"
	"github.com/kozaktomas/face-finder/internal/source"
)

type fakeCompressor struct {
	broken map[string]bool
}

func (f *fakeCompressor) Compress(path string) (*preprocess.Image, error) {
	name := filepath.Base(path)
	if f.broken[name] {
		return nil, fmt.Errorf("%w: corrupt", preprocess.ErrDecode)
	}
	return &preprocess.Image{Data: []byte("jpeg:" + name), ContentType: "image/jpeg", Source: []byte(name)}, nil
}

type fakeExtractor struct {
	faces  map[string]int // source bytes -> number of faces
	failed map[string]bool
}

func (f *fakeExtractor) ExtractFaces(_ context.Context, data []byte) ([]fingerprint.Face, error) {
	name := string(data)
	if f.failed[name] {
		return nil, fmt.Errorf("%w: model offline", fingerprint.ErrExtractionFailed)
	}
	faces := make([]fingerprint.Face, f.faces[name])
	for i := range faces {
		faces[i] = fingerprint.Face{Index: i, Embedding: []float64{float64(i + 1), 1}}
	}
	return faces, nil
}

type fakeUploader struct {
	mu        sync.Mutex
	failFirst map[string]int // stable id -> number of leading transient failures
	permanent map[string]bool
	calls     map[string]int
	stored    map[string][]byte
	onCall    func(stableID string)
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		failFirst: make(map[string]int),
		permanent: make(map[string]bool),
		calls:     make(map[string]int),
		stored:    make(map[string][]byte),
	}
}

func (f *fakeUploader) Store(_ context.Context, data []byte, _, stableID string) (string, error) {
	f.mu.Lock()
	f.calls[stableID]++
	call := f.calls[stableID]
	onCall := f.onCall
	var err error
	switch {
	case f.permanent[stableID]:
		err = fmt.Errorf("%w: %w", cloudinary.ErrUpload, &cloudinary.StatusError{StatusCode: 401, Body: "bad key"})
	case call <= f.failFirst[stableID]:
		err = fmt.Errorf("%w: %w", cloudinary.ErrUpload, &cloudinary.StatusError{StatusCode: 503, Body: "busy"})
	default:
		f.stored[stableID] = data
	}
	f.mu.Unlock()

	if onCall != nil {
		onCall(stableID)
	}
	if err != nil {
		return "", err
	}
	return "wedding_photos/" + stableID, nil
}

func (f *fakeUploader) callCount(stableID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stableID]
}

type fixture struct {
	dir        string
	compressor *fakeCompressor
	extractor  *fakeExtractor
	uploader   *fakeUploader
	ledger     *ledger.Ledger
	index      *database.FingerprintIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:        dir,
		compressor: &fakeCompressor{broken: map[string]bool{}},
		extractor:  &fakeExtractor{faces: map[string]int{}, failed: map[string]bool{}},
		uploader:   newFakeUploader(),
	}
	f.reopen(t)
	return f
}

// reopen loads ledger and index from disk, as a fresh process would.
func (f *fixture) reopen(t *testing.T) {
	t.Helper()
	if f.ledger != nil {
		f.ledger.Close()
	}
	l, err := ledger.Open(filepath.Join(f.dir, "uploaded_files.txt"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	idx, err := database.OpenIndex(filepath.Join(f.dir, "face_index.json"))
	if err != nil {
		t.Fatal(err)
	}
	f.ledger, f.index = l, idx
}

func (f *fixture) pipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = RetryPolicy{MaxAttempts: 3, Delay: 0}
	}
	p, err := New(Deps{
		Compressor: f.compressor,
		Extractor:  f.extractor,
		Uploader:   f.uploader,
		Ledger:     f.ledger,
		Index:      f.index,
		Logger:     log.New(io.Discard, "", 0),
	}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func candidates(names ...string) []source.Candidate {
	out := make([]source.Candidate, len(names))
	for i, n := range names {
		out[i] = source.Candidate{Path: "/photos/" + n, Name: n, Size: 100}
	}
	return out
}

func indexedNames(idx *database.FingerprintIndex) []string {
	var names []string
	for _, r := range idx.Records() {
		names = append(names, r.FileName)
	}
	sort.Strings(names)
	return names
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}, Config{}); err == nil {
		t.Error("expected error without collaborators")
	}
}

func TestRun_NoCandidates(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline(t, Config{}).Run(context.Background(), nil)
	if !errors.Is(err, ErrNoCandidates) {
		t.Errorf("expected ErrNoCandidates, got %v", err)
	}
}

func TestRun_IngestsAndSummarizes(t *testing.T) {
	f := newFixture(t)
	f.extractor.faces["a.jpg"] = 2
	f.extractor.faces["b.jpg"] = 1

	var observed []string
	var mu sync.Mutex
	p := f.pipeline(t, Config{Workers: 3, Observer: func(o Outcome) {
		mu.Lock()
		observed = append(observed, o.Candidate.Name)
		mu.Unlock()
	}})

	summary, err := p.Run(context.Background(), candidates("a.jpg", "b.jpg", "c.jpg"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Total != 3 || summary.Pending != 3 || summary.Processed != 3 {
		t.Errorf("unexpected counts %+v", summary)
	}
	if summary.Succeeded != 3 || summary.Failed != 0 {
		t.Errorf("expected 3 succeeded, got %+v", summary)
	}
	if summary.PhotosWithFaces != 2 || summary.FacesFound != 3 || summary.NoFace != 1 {
		t.Errorf("unexpected face counts %+v", summary)
	}
	if len(observed) != 3 {
		t.Errorf("expected 3 observed outcomes, got %d", len(observed))
	}

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		if !f.ledger.IsDone(name) {
			t.Errorf("expected %s in ledger", name)
		}
	}
	got := indexedNames(f.index)
	if len(got) != 2 || got[0] != "a.jpg" || got[1] != "b.jpg" {
		t.Errorf("expected a.jpg and b.jpg indexed, got %v", got)
	}

	rec, _ := f.index.Get("a.jpg")
	if rec.PublicID != "wedding_photos/a" || rec.FaceCount != 2 || len(rec.Embeddings) != 2 {
		t.Errorf("unexpected record %+v", rec)
	}
	if string(f.uploader.stored["a"]) != "jpeg:a.jpg" {
		t.Errorf("expected compressed bytes to be uploaded, got %q", f.uploader.stored["a"])
	}
}

func TestRun_RerunProcessesNothing(t *testing.T) {
	f := newFixture(t)
	f.extractor.faces["a.jpg"] = 1
	all := candidates("a.jpg", "b.jpg", "c.jpg", "d.jpg")

	if _, err := f.pipeline(t, Config{}).Run(context.Background(), all); err != nil {
		t.Fatal(err)
	}

	f.reopen(t)
	summary, err := f.pipeline(t, Config{}).Run(context.Background(), all)
	if err != nil {
		t.Fatalf("rerun failed: %v", err)
	}
	if summary.Pending != 0 || summary.Processed != 0 {
		t.Errorf("expected zero work on rerun, got %+v", summary)
	}
	if summary.AlreadyDone != 4 {
		t.Errorf("expected 4 already done, got %d", summary.AlreadyDone)
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		if n := f.uploader.callCount(name); n != 1 {
			t.Errorf("expected 1 upload for %s, got %d", name, n)
		}
	}
}

func TestRun_RetryThenSucceed(t *testing.T) {
	f := newFixture(t)
	f.extractor.faces["a.jpg"] = 1
	f.uploader.failFirst["a"] = 2

	summary, err := f.pipeline(t, Config{}).Run(context.Background(), candidates("a.jpg"))
	if err != nil {
		t.Fatal(err)
	}

	if f.uploader.callCount("a") != 3 {
		t.Errorf("expected 3 upload attempts, got %d", f.uploader.callCount("a"))
	}
	if summary.Succeeded != 1 || summary.UploadRetries != 2 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if f.index.Len() != 1 {
		t.Errorf("expected exactly one index record, got %d", f.index.Len())
	}
	if f.ledger.Len() != 1 {
		t.Errorf("expected exactly one ledger entry, got %d", f.ledger.Len())
	}
}

func TestRun_RetriesExhausted(t *testing.T) {
	f := newFixture(t)
	f.extractor.faces["a.jpg"] = 1
	f.uploader.failFirst["a"] = 5

	summary, err := f.pipeline(t, Config{}).Run(context.Background(), candidates("a.jpg", "b.jpg"))
	if err != nil {
		t.Fatal(err)
	}

	if f.uploader.callCount("a") != 3 {
		t.Errorf("expected 3 attempts, got %d", f.uploader.callCount("a"))
	}
	if summary.Failed != 1 || summary.Succeeded != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Stage != StageUpload {
		t.Fatalf("expected one upload failure, got %+v", summary.Failures)
	}
	if f.ledger.IsDone("a.jpg") || f.index.Has("a.jpg") {
		t.Error("failed upload must not be marked done or indexed")
	}
	if !f.ledger.IsDone("b.jpg") {
		t.Error("other candidates must still complete")
	}
}

func TestRun_PermanentUploadErrorNotRetried(t *testing.T) {
	f := newFixture(t)
	f.uploader.permanent["a"] = true

	summary, err := f.pipeline(t, Config{}).Run(context.Background(), candidates("a.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if f.uploader.callCount("a") != 1 {
		t.Errorf("expected a single attempt, got %d", f.uploader.callCount("a"))
	}
	if summary.Failed != 1 {
		t.Errorf("expected failure, got %+v", summary)
	}
}

func TestRun_ExtractionFailureStillUploads(t *testing.T) {
	f := newFixture(t)
	f.extractor.failed["a.jpg"] = true

	summary, err := f.pipeline(t, Config{}).Run(context.Background(), candidates("a.jpg"))
	if err != nil {
		t.Fatal(err)
	}

	if f.uploader.callCount("a") != 1 {
		t.Errorf("expected upload despite extraction failure")
	}
	if !f.ledger.IsDone("a.jpg") {
		t.Error("expected ledger entry despite extraction failure")
	}
	if f.index.Has("a.jpg") {
		t.Error("photo without extracted faces must not be indexed")
	}
	if summary.ExtractionFailures != 1 || summary.Succeeded != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestRun_DecodeErrorIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.compressor.broken["bad.jpg"] = true

	summary, err := f.pipeline(t, Config{}).Run(context.Background(), candidates("bad.jpg", "good.jpg"))
	if err != nil {
		t.Fatal(err)
	}

	if f.uploader.callCount("bad") != 0 {
		t.Error("undecodable image must not be uploaded")
	}
	if f.ledger.IsDone("bad.jpg") {
		t.Error("undecodable image must not be marked done")
	}
	if summary.Failed != 1 || summary.Failures[0].Stage != StageCompress {
		t.Errorf("expected compress failure, got %+v", summary.Failures)
	}
	if !strings.Contains(summary.Failures[0].Error, "corrupt") {
		t.Errorf("expected decode error message, got %q", summary.Failures[0].Error)
	}
}

func TestRun_DuplicateNamesProcessedOnce(t *testing.T) {
	f := newFixture(t)
	cands := []source.Candidate{
		{Path: "/usb/a/IMG_1.jpg", Name: "IMG_1.jpg"},
		{Path: "/usb/b/IMG_1.jpg", Name: "IMG_1.jpg"},
	}

	summary, err := f.pipeline(t, Config{}).Run(context.Background(), cands)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Duplicates != 1 || summary.Processed != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if f.uploader.callCount("IMG_1") != 1 {
		t.Errorf("expected one upload, got %d", f.uploader.callCount("IMG_1"))
	}
}

func TestRun_IndexViolationSurfaced(t *testing.T) {
	f := newFixture(t)
	f.extractor.faces["a.jpg"] = 1
	// in the index but not in the ledger, and process is called directly so
	// reconciliation does not repair it first
	if err := f.index.Append(database.PhotoRecord{FileName: "a.jpg", PublicID: "x", FaceCount: 1, Embeddings: [][]float64{{1}}}); err != nil {
		t.Fatal(err)
	}
	p := f.pipeline(t, Config{})

	o := p.process(context.Background(), candidates("a.jpg")[0])
	if !o.Violation || o.Stage != StageIndex || o.Done {
		t.Errorf("expected index violation outcome, got %+v", o)
	}
	if !errors.Is(o.Err, database.ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation, got %v", o.Err)
	}
	if f.ledger.IsDone("a.jpg") {
		t.Error("violating candidate must not be marked done")
	}
}

func TestRun_ReconcilesIndexIntoLedger(t *testing.T) {
	f := newFixture(t)
	// crash after the index flush, before the ledger append
	if err := f.index.AppendAndFlush(database.PhotoRecord{FileName: "a.jpg", PublicID: "wedding_photos/a", FaceCount: 1, Embeddings: [][]float64{{1}}}); err != nil {
		t.Fatal(err)
	}
	f.reopen(t)

	summary, err := f.pipeline(t, Config{}).Run(context.Background(), candidates("a.jpg", "b.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Reconciled != 1 || summary.AlreadyDone != 1 || summary.Processed != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.Violations != 0 {
		t.Errorf("reconciled photo must not raise a violation")
	}
	if f.uploader.callCount("a") != 0 {
		t.Error("reconciled photo must not be uploaded again")
	}
}

func TestRun_IndexFlushFailureNotMarkedDone(t *testing.T) {
	f := newFixture(t)
	f.extractor.faces["a.jpg"] = 1
	f.index = database.NewIndex(filepath.Join(f.dir, "missing", "face_index.json"))

	summary, err := f.pipeline(t, Config{}).Run(context.Background(), candidates("a.jpg"))
	if err == nil {
		t.Error("expected final flush error")
	}
	if summary == nil || summary.Failed != 1 || summary.Failures[0].Stage != StageIndex {
		t.Fatalf("expected index failure, got %+v", summary)
	}
	if f.ledger.IsDone("a.jpg") {
		t.Error("candidate must not be marked done when the index cannot be persisted")
	}
}

func TestRun_InterruptAndResume(t *testing.T) {
	f := newFixture(t)
	names := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"}
	for _, n := range names {
		f.extractor.faces[n] = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := f.pipeline(t, Config{Workers: 1, Observer: func(o Outcome) {
		if o.Done {
			cancel()
		}
	}})

	summary, err := p.Run(ctx, candidates(names...))
	if err != nil {
		t.Fatal(err)
	}
	if !summary.Cancelled {
		t.Error("expected cancelled run")
	}
	if summary.Succeeded == 0 || summary.Succeeded == len(names) {
		t.Fatalf("expected a partial run, got %+v", summary)
	}
	firstRun := summary.Succeeded

	f.reopen(t)
	summary, err = f.pipeline(t, Config{Workers: 3}).Run(context.Background(), candidates(names...))
	if err != nil {
		t.Fatal(err)
	}
	if summary.AlreadyDone != firstRun {
		t.Errorf("expected %d already done, got %d", firstRun, summary.AlreadyDone)
	}

	f.reopen(t)
	got := indexedNames(f.index)
	if len(got) != len(names) {
		t.Fatalf("expected %d indexed photos, got %v", len(names), got)
	}
	for i, n := range names {
		if got[i] != n {
			t.Errorf("expected %s at %d, got %s", n, i, got[i])
		}
		if !f.ledger.IsDone(n) {
			t.Errorf("expected %s in ledger", n)
		}
	}
	if f.ledger.Len() != len(names) {
		t.Errorf("expected %d ledger entries, got %d", len(names), f.ledger.Len())
	}
}

func TestRun_InFlightCandidateFinishes(t *testing.T) {
	f := newFixture(t)
	f.extractor.faces["a.jpg"] = 1
	f.uploader.failFirst["a"] = 1

	ctx, cancel := context.WithCancel(context.Background())
	f.uploader.onCall = func(string) { cancel() }

	summary, err := f.pipeline(t, Config{Workers: 1}).Run(ctx, candidates("a.jpg", "b.jpg"))
	if err != nil {
		t.Fatal(err)
	}

	// the first attempt ran to completion, no retry was scheduled after cancel
	if f.uploader.callCount("a") != 1 {
		t.Errorf("expected a single attempt after cancel, got %d", f.uploader.callCount("a"))
	}
	if f.uploader.callCount("b") != 0 {
		t.Error("no new candidate may start after cancel")
	}
	if summary.Processed != 1 || summary.NotStarted != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestPlan(t *testing.T) {
	f := newFixture(t)
	if err := f.ledger.MarkDone("b.jpg"); err != nil {
		t.Fatal(err)
	}

	plan := f.pipeline(t, Config{}).Plan(append(candidates("a.jpg", "b.jpg"), source.Candidate{Path: "/other/a.jpg", Name: "a.jpg"}))

	if len(plan.Pending) != 1 || plan.Pending[0].Name != "a.jpg" {
		t.Errorf("unexpected pending %+v", plan.Pending)
	}
	if len(plan.AlreadyDone) != 1 || len(plan.Duplicates) != 1 {
		t.Errorf("unexpected plan %+v", plan)
	}
}

func TestBuildPlan(t *testing.T) {
	done := map[string]bool{"b.jpg": true}
	plan := BuildPlan(candidates("a.jpg", "b.jpg", "c.jpg"), func(name string) bool { return done[name] }, nil)

	if len(plan.Pending) != 2 || plan.Pending[0].Name != "a.jpg" || plan.Pending[1].Name != "c.jpg" {
		t.Errorf("unexpected pending %+v", plan.Pending)
	}
	if len(plan.AlreadyDone) != 1 || len(plan.Duplicates) != 0 {
		t.Errorf("unexpected plan %+v", plan)
	}
}

func TestRun_WithMockIndex(t *testing.T) {
	f := newFixture(t)
	f.extractor.faces["a.jpg"] = 1
	f.extractor.faces["b.jpg"] = 2
	idx := mock.NewMockRecordWriter()

	p, err := New(Deps{
		Compressor: f.compressor,
		Extractor:  f.extractor,
		Uploader:   f.uploader,
		Ledger:     f.ledger,
		Index:      idx,
		Logger:     log.New(io.Discard, "", 0),
	}, Config{Retry: RetryPolicy{MaxAttempts: 1}})
	if err != nil {
		t.Fatal(err)
	}

	summary, err := p.Run(context.Background(), candidates("a.jpg", "b.jpg", "c.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Succeeded != 3 || idx.Len() != 2 {
		t.Errorf("unexpected summary %+v with %d records", summary, idx.Len())
	}
	// one persist per indexed photo plus the final flush
	if idx.Flushes != 3 {
		t.Errorf("expected 3 flushes, got %d", idx.Flushes)
	}
}

func TestRun_IndexAppendErrorNotMarkedDone(t *testing.T) {
	f := newFixture(t)
	f.extractor.faces["a.jpg"] = 1
	idx := mock.NewMockRecordWriter()
	idx.AppendError = errors.New("disk full")

	p, err := New(Deps{
		Compressor: f.compressor,
		Extractor:  f.extractor,
		Uploader:   f.uploader,
		Ledger:     f.ledger,
		Index:      idx,
		Logger:     log.New(io.Discard, "", 0),
	}, Config{})
	if err != nil {
		t.Fatal(err)
	}

	summary, err := p.Run(context.Background(), candidates("a.jpg", "b.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 || summary.Failures[0].FileName != "a.jpg" || summary.Failures[0].Stage != StageIndex {
		t.Errorf("expected a.jpg to fail at index, got %+v", summary.Failures)
	}
	if summary.Violations != 0 {
		t.Errorf("plain index errors are not violations")
	}
	if f.ledger.IsDone("a.jpg") {
		t.Error("a.jpg must not be marked done")
	}
	if !f.ledger.IsDone("b.jpg") {
		t.Error("b.jpg has no faces and must be marked done")
	}
}

func TestBuildPlan_RemoteIDCollisions(t *testing.T) {
	done := map[string]bool{"b.jpg": true}
	plan := BuildPlan(candidates("a.jpg", "a.png", "b.png", "c.jpg"), func(name string) bool { return done[name] }, nil)

	var pending, dups []string
	for _, c := range plan.Pending {
		pending = append(pending, c.Name)
	}
	for _, c := range plan.Duplicates {
		dups = append(dups, c.Name)
	}
	if strings.Join(pending, ",") != "a.jpg,c.jpg" {
		t.Errorf("expected a.jpg and c.jpg pending, got %v", pending)
	}
	// a.png collides with a.jpg, b.png with the finished b.jpg
	if strings.Join(dups, ",") != "a.png,b.png" {
		t.Errorf("expected a.png and b.png as duplicates, got %v", dups)
	}
}

func TestRun_SameStemDifferentExtension(t *testing.T) {
	f := newFixture(t)
	f.extractor.faces["a.jpg"] = 1
	f.extractor.faces["a.png"] = 1

	summary, err := f.pipeline(t, Config{}).Run(context.Background(), candidates("a.jpg", "a.png"))
	if err != nil {
		t.Fatal(err)
	}

	if summary.Duplicates != 1 || summary.Processed != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if n := f.uploader.callCount("a"); n != 1 {
		t.Errorf("expected a single upload to remote id a, got %d", n)
	}
	if got := string(f.uploader.stored["a"]); got != "jpeg:a.jpg" {
		t.Errorf("remote asset must stay a.jpg, got %q", got)
	}
	if got := indexedNames(f.index); len(got) != 1 || got[0] != "a.jpg" {
		t.Errorf("expected only a.jpg indexed, got %v", got)
	}
	if f.ledger.IsDone("a.png") {
		t.Error("skipped a.png must not be marked done")
	}
}

func TestRun_RerunWithPaddedNames(t *testing.T) {
	f := newFixture(t)
	f.extractor.faces[" lead.jpg"] = 1
	f.extractor.faces["trail .jpg"] = 1
	all := candidates(" lead.jpg", "ok.jpg", "trail .jpg")

	if _, err := f.pipeline(t, Config{}).Run(context.Background(), all); err != nil {
		t.Fatal(err)
	}

	f.reopen(t)
	summary, err := f.pipeline(t, Config{}).Run(context.Background(), all)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Pending != 0 || summary.Processed != 0 || summary.Reconciled != 0 {
		t.Errorf("expected zero work on rerun, got %+v", summary)
	}
	if summary.Violations != 0 || summary.Failed != 0 {
		t.Errorf("unexpected failures on rerun %+v", summary.Failures)
	}
	if n := f.uploader.callCount(" lead"); n != 1 {
		t.Errorf("expected one upload for %q, got %d", " lead", n)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.pipeline(t, Config{Workers: 2}).Run(ctx, candidates("a.jpg", "b.jpg", "c.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 0 || summary.NotStarted != 3 || !summary.Cancelled {
		t.Errorf("unexpected summary %+v", summary)
	}
	for _, id := range []string{"a", "b", "c"} {
		if f.uploader.callCount(id) != 0 {
			t.Errorf("no upload may start after cancel, %s was uploaded", id)
		}
	}
}

func TestRunPool_WorkerDropsJobsAfterCancel(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, Config{Workers: 1})

	// the first upload cancels the run, whatever the dispatcher hands over
	// afterwards must not reach the uploader
	ctx, cancel := context.WithCancel(context.Background())
	f.uploader.onCall = func(string) { cancel() }

	summary := &Summary{Pending: 4}
	p.runPool(ctx, candidates("a.jpg", "b.jpg", "c.jpg", "d.jpg"), summary)

	if summary.Processed != 1 {
		t.Errorf("expected only the in-flight candidate to finish, got %d", summary.Processed)
	}
	for _, id := range []string{"b", "c", "d"} {
		if f.uploader.callCount(id) != 0 {
			t.Errorf("%s started after cancel", id)
		}
	}
}

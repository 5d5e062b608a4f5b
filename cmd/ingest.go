package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/cloudinary"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
	"github.com/kozaktomas/face-finder/internal/ledger"
	"github.com/kozaktomas/face-finder/internal/pipeline"
	"github.com/kozaktomas/face-finder/internal/preprocess"
	"github.com/kozaktomas/face-finder/internal/source"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <folder> [folder...]",
	Short: "Upload photos and index their faces",
	Long: `Compress, upload and fingerprint every photo in one or more folders.

By default only files directly inside the folders are ingested. Use -r to scan
recursively, e.g. a whole USB volume. Supported formats: jpg, jpeg, png.

Photos already listed in the ledger are skipped, so an interrupted run can
simply be started again. The remote identifier is the file name without its
extension, so a file whose name or identifier is already taken by an earlier
or finished one (IMG_1.jpg vs IMG_1.png) is skipped with a warning.

Examples:
  face-finder ingest ./wedding_photos
  face-finder ingest -r /Volumes/USB --workers 8
  face-finder ingest -r /Volumes/USB --dry-run
  face-finder ingest ./wedding_photos --json --log-file ingest.log`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolP("recursive", "r", false, "Search for photos recursively in subdirectories")
	ingestCmd.Flags().Int("workers", 0, "Number of parallel workers (default from PIPELINE_WORKERS or 5)")
	ingestCmd.Flags().Bool("dry-run", false, "Show what would be ingested without uploading")
	ingestCmd.Flags().Bool("json", false, "Output the run summary as JSON")
}

// IngestResult is the JSON form of a run.
type IngestResult struct {
	RunID string `json:"runId"`
	*pipeline.Summary
	ElapsedMs      int64    `json:"elapsedMs"`
	AverageMs      int64    `json:"averagePerImageMs"`
	SourceWarnings []string `json:"sourceWarnings,omitempty"`
}

// DryRunResult is the JSON form of --dry-run.
type DryRunResult struct {
	Total       int      `json:"total"`
	Pending     []string `json:"pending"`
	AlreadyDone int      `json:"alreadyDone"`
	Duplicates  []string `json:"duplicates,omitempty"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	recursive := mustGetBool(cmd, "recursive")
	workers := mustGetInt(cmd, "workers")
	dryRun := mustGetBool(cmd, "dry-run")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	cfg := loadConfig()
	runID := uuid.NewString()

	logger, closeLog, err := openLogger("[" + runID[:8] + "] ")
	if err != nil {
		return err
	}
	defer closeLog()

	candidates, enumErr := source.Enumerate(args, source.Options{Recursive: recursive, Logger: logger})
	if enumErr != nil {
		logger.Printf("Error: %v", enumErr)
	}
	if len(candidates) == 0 {
		if enumErr != nil {
			return enumErr
		}
		return fmt.Errorf("no image files found in %s", strings.Join(args, ", "))
	}

	led, err := ledger.Open(cfg.Files.LedgerPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer led.Close()

	idx, err := database.OpenIndex(cfg.Files.IndexPath)
	if err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}

	// indexed photos count as done, Run reconciles them into the ledger
	plan := pipeline.BuildPlan(candidates, func(name string) bool {
		return led.IsDone(name) || idx.Has(name)
	}, cloudinary.StableID)

	if dryRun {
		return printDryRun(out, candidates, plan, jsonOutput)
	}

	if err := cfg.ValidateCloudinary(); err != nil {
		return err
	}
	uploader, err := cloudinary.New(cfg.Cloudinary)
	if err != nil {
		return fmt.Errorf("failed to create Cloudinary client: %w", err)
	}

	if workers <= 0 {
		workers = cfg.Pipeline.Workers
	}

	if !jsonOutput {
		fmt.Fprintf(out, "Run %s\n", runID)
		fmt.Fprintf(out, "Found %d image(s) in %d folder(s): %d to ingest, %d already done\n\n",
			len(candidates), len(args), len(plan.Pending), len(plan.AlreadyDone))
	}

	var (
		bar      *progressbar.ProgressBar
		observer func(pipeline.Outcome)
	)
	if !jsonOutput && len(plan.Pending) > 0 {
		bar = newProgressBar(len(plan.Pending), "Ingesting")
		observer = func(pipeline.Outcome) { _ = bar.Add(1) }
	}

	p, err := pipeline.New(pipeline.Deps{
		Compressor: preprocess.New(cfg.Pipeline.MaxDimension, cfg.Pipeline.Quality),
		Extractor:  fingerprint.NewEmbeddingClient(cfg.Embedding.URL, cfg.Embedding.Timeout),
		Uploader:   uploader,
		Ledger:     led,
		Index:      idx,
		Logger:     logger,
	}, pipeline.Config{
		Workers: workers,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: cfg.Pipeline.UploadMaxAttempts,
			Delay:       cfg.Pipeline.UploadRetryDelay,
		},
		Observer: observer,
	})
	if err != nil {
		return err
	}

	summary, runErr := p.Run(ctx, candidates)
	if bar != nil {
		_ = bar.Exit()
		fmt.Fprintln(out)
	}
	if summary == nil {
		return runErr
	}

	if jsonOutput {
		result := IngestResult{
			RunID:     runID,
			Summary:   summary,
			ElapsedMs: summary.Elapsed.Milliseconds(),
			AverageMs: summary.AveragePerImage().Milliseconds(),
		}
		if enumErr != nil {
			result.SourceWarnings = strings.Split(enumErr.Error(), "\n")
		}
		if err := outputJSON(out, result); err != nil {
			return err
		}
	} else {
		printSummary(out, runID, summary)
	}

	if runErr != nil {
		return runErr
	}
	return enumErr
}

func printDryRun(out io.Writer, candidates []source.Candidate, plan *pipeline.Plan, jsonOutput bool) error {
	if jsonOutput {
		result := DryRunResult{
			Total:       len(candidates),
			Pending:     make([]string, 0, len(plan.Pending)),
			AlreadyDone: len(plan.AlreadyDone),
		}
		for _, c := range plan.Pending {
			result.Pending = append(result.Pending, c.Path)
		}
		for _, c := range plan.Duplicates {
			result.Duplicates = append(result.Duplicates, c.Path)
		}
		return outputJSON(out, result)
	}

	fmt.Fprintf(out, "DRY RUN - nothing will be uploaded\n\n")
	for _, c := range plan.Pending {
		fmt.Fprintf(out, "  would ingest  %s\n", c.Path)
	}
	for _, c := range plan.Duplicates {
		fmt.Fprintf(out, "  duplicate     %s\n", c.Path)
	}
	fmt.Fprintf(out, "\nTotal: %d, to ingest: %d, already done: %d, duplicates: %d\n",
		len(candidates), len(plan.Pending), len(plan.AlreadyDone), len(plan.Duplicates))
	return nil
}

func printSummary(out io.Writer, runID string, s *pipeline.Summary) {
	fmt.Fprintf(out, "\nCompleted: %d succeeded, %d failed\n", s.Succeeded, s.Failed)
	fmt.Fprintf(out, "  Run:                %s\n", runID)
	fmt.Fprintf(out, "  Already done:       %d\n", s.AlreadyDone)
	if s.Duplicates > 0 {
		fmt.Fprintf(out, "  Duplicates skipped: %d\n", s.Duplicates)
	}
	if s.Reconciled > 0 {
		fmt.Fprintf(out, "  Reconciled:         %d\n", s.Reconciled)
	}
	fmt.Fprintf(out, "  Photos with faces:  %d\n", s.PhotosWithFaces)
	fmt.Fprintf(out, "  Faces found:        %d\n", s.FacesFound)
	fmt.Fprintf(out, "  No face:            %d\n", s.NoFace)
	if s.ExtractionFailures > 0 {
		fmt.Fprintf(out, "  Extraction failed:  %d (uploaded, not indexed)\n", s.ExtractionFailures)
	}
	if s.UploadRetries > 0 {
		fmt.Fprintf(out, "  Upload retries:     %d\n", s.UploadRetries)
	}
	if s.Violations > 0 {
		fmt.Fprintf(out, "  INDEX VIOLATIONS:   %d (ledger and index out of sync)\n", s.Violations)
	}
	fmt.Fprintf(out, "  Elapsed:            %s\n", formatDuration(s.Elapsed))
	fmt.Fprintf(out, "  Average per image:  %s\n", formatDuration(s.AveragePerImage()))

	if len(s.Failures) > 0 {
		fmt.Fprintf(out, "\nFailed:\n")
		for _, f := range s.Failures {
			fmt.Fprintf(out, "  %s [%s]: %s\n", f.Path, f.Stage, f.Error)
		}
	}
	if s.Cancelled {
		fmt.Fprintf(out, "\nInterrupted: %d photo(s) not started. Run the same command again to resume.\n", s.NotStarted)
	}
}

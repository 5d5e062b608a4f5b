package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/database/postgres"
	"github.com/kozaktomas/face-finder/internal/ledger"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Fingerprint index commands",
	Long:  `Commands for inspecting the local fingerprint index and mirroring it into PostgreSQL.`,
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index and ledger statistics",
	Args:  cobra.NoArgs,
	RunE:  runIndexStats,
}

var indexPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Mirror the index into PostgreSQL",
	Long: `Write every indexed photo and its face embeddings into PostgreSQL
(pgvector), replacing the stored faces of each photo. Migrations run first.

Requires DATABASE_URL to be set.

Examples:
  face-finder index push
  face-finder index push --prune   # also delete photos no longer in the index`,
	Args: cobra.NoArgs,
	RunE: runIndexPush,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexStatsCmd)
	indexCmd.AddCommand(indexPushCmd)

	indexStatsCmd.Flags().Bool("json", false, "Output as JSON")
	indexPushCmd.Flags().Bool("prune", false, "Delete mirrored photos that are not in the index")
	indexPushCmd.Flags().Bool("json", false, "Output as JSON")
}

// IndexStats is the JSON form of "index stats".
type IndexStats struct {
	database.Stats
	IndexPath     string   `json:"indexPath"`
	LedgerPath    string   `json:"ledgerPath"`
	LedgerEntries int      `json:"ledgerEntries"`
	NotInLedger   []string `json:"notInLedger"`
}

// PushResult is the JSON form of "index push".
type PushResult struct {
	Photos     int      `json:"photos"`
	Faces      int      `json:"faces"`
	Pruned     int64    `json:"pruned"`
	Migrations []string `json:"migrations,omitempty"`
	DurationMs int64    `json:"durationMs"`
}

func runIndexStats(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	out := cmd.OutOrStdout()
	cfg := loadConfig()

	idx, err := database.OpenIndex(cfg.Files.IndexPath)
	if err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}

	stats := IndexStats{
		Stats:       idx.Stats(),
		IndexPath:   cfg.Files.IndexPath,
		LedgerPath:  cfg.Files.LedgerPath,
		NotInLedger: []string{},
	}

	names, err := ledger.Read(cfg.Files.LedgerPath)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	done := make(map[string]bool, len(names))
	for _, name := range names {
		done[name] = true
	}
	stats.LedgerEntries = len(names)
	for _, rec := range idx.Records() {
		if !done[rec.FileName] {
			stats.NotInLedger = append(stats.NotInLedger, rec.FileName)
		}
	}

	if jsonOutput {
		return outputJSON(out, stats)
	}
	printIndexStats(out, stats)
	return nil
}

func printIndexStats(out io.Writer, s IndexStats) {
	fmt.Fprintf(out, "Index:   %s\n", s.IndexPath)
	fmt.Fprintf(out, "Ledger:  %s\n\n", s.LedgerPath)
	fmt.Fprintf(out, "  Photos with faces:  %d\n", s.Photos)
	fmt.Fprintf(out, "  Faces:              %d\n", s.Faces)
	fmt.Fprintf(out, "  Max faces/photo:    %d\n", s.MaxFaces)
	fmt.Fprintf(out, "  Ledger entries:     %d\n", s.LedgerEntries)

	if len(s.Dimensions) > 0 {
		dims := make([]int, 0, len(s.Dimensions))
		for d := range s.Dimensions {
			dims = append(dims, d)
		}
		sort.Ints(dims)
		fmt.Fprintf(out, "  Embedding dims:    ")
		for _, d := range dims {
			fmt.Fprintf(out, " %d (%d faces)", d, s.Dimensions[d])
		}
		fmt.Fprintln(out)
	}

	if len(s.NotInLedger) > 0 {
		fmt.Fprintf(out, "\n%d indexed photo(s) missing from the ledger (fixed by the next ingest):\n", len(s.NotInLedger))
		for _, name := range s.NotInLedger {
			fmt.Fprintf(out, "  %s\n", name)
		}
	}
}

func runIndexPush(cmd *cobra.Command, args []string) error {
	prune := mustGetBool(cmd, "prune")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	cfg := loadConfig()
	start := time.Now()

	if err := cfg.ValidateDatabase(); err != nil {
		return err
	}

	idx, err := database.OpenIndex(cfg.Files.IndexPath)
	if err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}
	records := idx.Records()

	pool, err := postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	applied, err := pool.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	if !jsonOutput {
		for _, m := range applied {
			fmt.Fprintf(out, "Applied migration %s\n", m)
		}
		fmt.Fprintf(out, "Pushing %d photo(s) to PostgreSQL...\n", len(records))
	}

	var (
		bar      *progressbar.ProgressBar
		onRecord func()
	)
	if !jsonOutput && len(records) > 0 {
		bar = newProgressBar(len(records), "Pushing")
		onRecord = func() { _ = bar.Add(1) }
	}

	result, err := postgres.NewPhotoRepository(pool).Sync(ctx, records, prune, onRecord)
	if bar != nil {
		_ = bar.Exit()
		fmt.Fprintln(out)
	}
	if err != nil {
		return fmt.Errorf("push interrupted after %d photo(s): %w", result.Photos, err)
	}

	push := PushResult{
		Photos:     result.Photos,
		Faces:      result.Faces,
		Pruned:     result.Pruned,
		Migrations: applied,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if jsonOutput {
		return outputJSON(out, push)
	}

	fmt.Fprintf(out, "Push complete!\n")
	fmt.Fprintf(out, "  Photos:  %d\n", push.Photos)
	fmt.Fprintf(out, "  Faces:   %d\n", push.Faces)
	if prune {
		fmt.Fprintf(out, "  Pruned:  %d\n", push.Pruned)
	}
	fmt.Fprintf(out, "  Took:    %s\n", formatDuration(time.Since(start)))
	return nil
}

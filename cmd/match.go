package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/database/postgres"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

var matchCmd = &cobra.Command{
	Use:   "match <probe-image>",
	Short: "Find photos containing the face in a probe image",
	Long: `Detect the faces in a probe image (e.g. a selfie) and list every indexed
photo containing a face closer than the match threshold, best match first.

If the probe contains several faces, the first one is used. Pick another one
with --face. With --db the PostgreSQL mirror (see "index push") is searched
instead of the local index file.

Examples:
  face-finder match selfie.jpg
  face-finder match group.jpg --face 2
  face-finder match selfie.jpg --db --json`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)
	matchCmd.Flags().Int("face", 0, "Index of the probe face to match (0-based)")
	matchCmd.Flags().Bool("db", false, "Search the PostgreSQL mirror instead of the index file")
	matchCmd.Flags().Bool("json", false, "Output as JSON")
}

// MatchOutput is the JSON form of a match.
type MatchOutput struct {
	Probe      string             `json:"probe"`
	ProbeFaces int                `json:"probeFaces"`
	Face       int                `json:"face"`
	Threshold  float64            `json:"threshold"`
	Searched   string             `json:"searched"`
	Count      int                `json:"count"`
	Matches    []facematch.Result `json:"matches"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	probePath := args[0]
	faceIndex := mustGetInt(cmd, "face")
	useDB := mustGetBool(cmd, "db")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	cfg := loadConfig()

	data, err := os.ReadFile(probePath)
	if err != nil {
		return fmt.Errorf("failed to read probe image: %w", err)
	}

	client := fingerprint.NewEmbeddingClient(cfg.Embedding.URL, cfg.Embedding.Timeout)
	faces, err := client.ExtractFaces(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to analyze probe image: %w", err)
	}
	probes := make([][]float64, len(faces))
	for i, f := range faces {
		probes[i] = f.Embedding
	}

	var (
		results  []facematch.Result
		searched string
	)
	if useDB {
		searched = "postgres"
		results, err = matchInDatabase(cmd, cfg, probes, faceIndex)
	} else {
		searched = cfg.Files.IndexPath
		results, err = matchInIndex(cfg.Files.IndexPath, probes, faceIndex)
	}
	if errors.Is(err, facematch.ErrNoFaceInProbe) {
		return fmt.Errorf("no face detected in %s, try a clearer photo of one face: %w", probePath, err)
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		if results == nil {
			results = []facematch.Result{}
		}
		return outputJSON(out, MatchOutput{
			Probe:      probePath,
			ProbeFaces: len(probes),
			Face:       faceIndex,
			Threshold:  facematch.Threshold,
			Searched:   searched,
			Count:      len(results),
			Matches:    results,
		})
	}

	if len(probes) > 1 {
		fmt.Fprintf(out, "Probe contains %d faces, matching face %d (use --face to pick another)\n\n", len(probes), faceIndex)
	}
	printMatchTable(out, results)
	return nil
}

func matchInIndex(path string, probes [][]float64, faceIndex int) ([]facematch.Result, error) {
	idx, err := database.OpenIndex(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	return facematch.NewMatcher(idx.Records()).MatchFace(probes, faceIndex)
}

func matchInDatabase(cmd *cobra.Command, cfg *config.Config, probes [][]float64, faceIndex int) ([]facematch.Result, error) {
	if len(probes) == 0 {
		return nil, facematch.ErrNoFaceInProbe
	}
	if faceIndex < 0 || faceIndex >= len(probes) {
		return nil, &facematch.FaceIndexError{Index: faceIndex, Count: len(probes)}
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return nil, err
	}

	pool, err := postgres.NewPool(cmd.Context(), &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	nearest, err := postgres.NewPhotoRepository(pool).FindWithin(cmd.Context(), probes[faceIndex], facematch.Threshold)
	if err != nil {
		return nil, err
	}

	results := make([]facematch.Result, 0, len(nearest))
	for _, n := range nearest {
		results = append(results, facematch.Result{
			FileName:   n.FileName,
			PublicID:   n.PublicID,
			Distance:   n.Distance,
			Confidence: facematch.Confidence(n.Distance),
			FaceIndex:  -1,
		})
	}
	facematch.Rank(results)
	return results, nil
}

func printMatchTable(out io.Writer, results []facematch.Result) {
	if len(results) == 0 {
		fmt.Fprintln(out, "No matching photos found.")
		return
	}

	fmt.Fprintf(out, "Found %d matching photo(s):\n\n", len(results))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPHOTO\tCONFIDENCE\tDISTANCE\tPUBLIC ID")
	fmt.Fprintln(w, "----\t-----\t----------\t--------\t---------")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%.1f%%\t%.4f\t%s\n", r.Rank, r.FileName, r.Confidence, r.Distance, r.PublicID)
	}
	w.Flush()
}

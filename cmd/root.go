package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	indexPath  string
	ledgerPath string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "face-finder",
	Short: "Upload event photos and find the ones a guest appears in",
	Long: `Face Finder ingests a folder (or a whole USB volume) of event photos: every
image is compressed, uploaded to Cloudinary and its faces are fingerprinted
into a local index. A probe selfie can then be matched against the index to
list every photo the same person appears in.

Ingestion is resumable: finished photos are recorded in a ledger file and
skipped on the next run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	// Ctrl+C stops dispatching new photos, in-flight ones finish
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&indexPath, "index", "", "Fingerprint index file (default from INDEX_PATH or face_index.json)")
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "Resume ledger file (default from LEDGER_PATH or uploaded_files.txt)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Append warnings and errors to this file instead of stderr")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/cloudinary"
	"github.com/kozaktomas/face-finder/internal/constants"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Remote storage commands",
	Long:  `Commands for inspecting the Cloudinary account photos are uploaded to.`,
}

var storageUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show storage, bandwidth and resource usage",
	Args:  cobra.NoArgs,
	RunE:  runStorageUsage,
}

var storageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded photos",
	Long: `List uploaded photos with their thumbnail URLs. Without --prefix the
configured upload folder is listed.

Examples:
  face-finder storage list
  face-finder storage list --prefix wedding_photos/IMG_1 --json`,
	Args: cobra.NoArgs,
	RunE: runStorageList,
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(storageUsageCmd)
	storageCmd.AddCommand(storageListCmd)

	storageUsageCmd.Flags().Bool("json", false, "Output as JSON")
	storageListCmd.Flags().String("prefix", "", "Public id prefix to list (default: the upload folder)")
	storageListCmd.Flags().Bool("json", false, "Output as JSON")
}

// StorageListEntry is one row of "storage list".
type StorageListEntry struct {
	cloudinary.Resource
	ThumbnailURL string `json:"thumbnail_url"`
}

// UsageStatus classifies storage usage.
type UsageStatus string

const (
	UsageHealthy  UsageStatus = "healthy"
	UsageNotice   UsageStatus = "notice"
	UsageCritical UsageStatus = "critical"
)

func storageStatus(percent float64) UsageStatus {
	switch {
	case percent > constants.UsageCriticalPercent:
		return UsageCritical
	case percent > constants.UsageWarningPercent:
		return UsageNotice
	default:
		return UsageHealthy
	}
}

func newCloudinaryClient() (*cloudinary.Client, error) {
	cfg := loadConfig()
	if err := cfg.ValidateCloudinary(); err != nil {
		return nil, err
	}
	client, err := cloudinary.New(cfg.Cloudinary)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloudinary client: %w", err)
	}
	return client, nil
}

func runStorageUsage(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	out := cmd.OutOrStdout()

	client, err := newCloudinaryClient()
	if err != nil {
		return err
	}
	usage, err := client.Usage(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(out, struct {
			*cloudinary.Usage
			StoragePercent float64     `json:"storage_percent"`
			Status         UsageStatus `json:"status"`
		}{usage, usage.Storage.Percent(), storageStatus(usage.Storage.Percent())})
	}
	printUsage(out, usage)
	return nil
}

func printUsage(out io.Writer, u *cloudinary.Usage) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(out, rule)
	fmt.Fprintln(out, "Cloudinary Storage Usage Report")
	fmt.Fprintln(out, rule)

	fmt.Fprintf(out, "\nSTORAGE:\n")
	fmt.Fprintf(out, "  Used:      %s\n", formatBytes(u.Storage.Usage))
	fmt.Fprintf(out, "  Limit:     %s\n", formatBytes(u.Storage.Limit))
	fmt.Fprintf(out, "  Remaining: %s\n", formatBytes(u.Storage.Remaining()))
	fmt.Fprintf(out, "  Usage:     %.1f%%\n", u.Storage.Percent())

	fmt.Fprintf(out, "\nBANDWIDTH (monthly):\n")
	fmt.Fprintf(out, "  Used:      %s\n", formatBytes(u.Bandwidth.Usage))
	fmt.Fprintf(out, "  Limit:     %s\n", formatBytes(u.Bandwidth.Limit))
	fmt.Fprintf(out, "  Usage:     %.1f%%\n", u.Bandwidth.Percent())

	fmt.Fprintf(out, "\nRESOURCES:\n")
	fmt.Fprintf(out, "  Images:    %d\n", u.Resources)
	if u.MaxImageResources > 0 {
		fmt.Fprintf(out, "  Limit:     %d\n", u.MaxImageResources)
		fmt.Fprintf(out, "  Remaining: %d\n", u.MaxImageResources-u.Resources)
	}

	if u.Transformations.Limit > 0 {
		fmt.Fprintf(out, "\nTRANSFORMATIONS (monthly):\n")
		fmt.Fprintf(out, "  Used:      %.0f\n", u.Transformations.Usage)
		fmt.Fprintf(out, "  Limit:     %.0f\n", u.Transformations.Limit)
		fmt.Fprintf(out, "  Usage:     %.1f%%\n", u.Transformations.Percent())
	}

	plan := u.Plan
	if plan == "" {
		plan = "Unknown"
	}
	fmt.Fprintf(out, "\nPlan: %s\n\n", plan)

	switch storageStatus(u.Storage.Percent()) {
	case UsageCritical:
		fmt.Fprintf(out, "WARNING: Storage is over %.0f%% full!\n", constants.UsageCriticalPercent)
	case UsageNotice:
		fmt.Fprintf(out, "NOTICE: Storage is over %.0f%% full\n", constants.UsageWarningPercent)
	default:
		fmt.Fprintln(out, "Storage usage is healthy")
	}
	fmt.Fprintln(out, rule)
}

func runStorageList(cmd *cobra.Command, args []string) error {
	prefix := mustGetString(cmd, "prefix")
	jsonOutput := mustGetBool(cmd, "json")
	out := cmd.OutOrStdout()

	client, err := newCloudinaryClient()
	if err != nil {
		return err
	}
	resources, err := client.List(cmd.Context(), prefix)
	if err != nil {
		return err
	}

	entries := make([]StorageListEntry, len(resources))
	for i, r := range resources {
		entries[i] = StorageListEntry{
			Resource:     r,
			ThumbnailURL: client.DeliveryURL(r.PublicID, constants.ThumbnailTransformation),
		}
	}

	if jsonOutput {
		return outputJSON(out, entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No uploaded photos found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PUBLIC ID\tSIZE\tDIMENSIONS\tCREATED\tTHUMBNAIL")
	fmt.Fprintln(w, "---------\t----\t----------\t-------\t---------")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%s\t%s\n",
			e.PublicID, formatBytes(float64(e.Bytes)), e.Width, e.Height, e.CreatedAt, e.ThumbnailURL)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal: %d photo(s)\n", len(entries))
	return nil
}

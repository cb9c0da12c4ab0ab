package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ViktorIovenko/KopifilesNAS/internal/store"
)

var (
	statusLimit  int
	statusErrors bool
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display recent copy runs",
		Long: `Display the most recent copy runs recorded in the history database with
their counts, bytes copied and outcome. Use --errors to also list the files
that failed in each run.`,
		Example: `  kopirnas status
  kopirnas status --limit 3 --errors`,
		RunE: statusRun,
	}

	cmd.Flags().IntVar(&statusLimit, "limit", 10, "number of runs to show")
	cmd.Flags().BoolVar(&statusErrors, "errors", false, "list failed files per run")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	runs, err := globalStore.ListCopyRuns(statusLimit)
	if err != nil {
		return fmt.Errorf("failed to list copy runs: %w", err)
	}
	log.Debug("status request", "runs", len(runs), "limit", statusLimit)

	if globalCache != nil {
		fmt.Printf("Geocache: %s cached places\n", humanize.Comma(int64(globalCache.Len())))
	}

	if len(runs) == 0 {
		fmt.Println("No copy runs recorded.")
		return nil
	}

	for _, run := range runs {
		printRun(run)
		if statusErrors && run.Errors > 0 {
			errs, err := globalStore.ListFileErrors(run.ID)
			if err != nil {
				return fmt.Errorf("failed to list file errors: %w", err)
			}
			fmt.Println("  Failed files:")
			for _, fe := range errs {
				fmt.Printf("    - %s: %s\n", fe.SourcePath, fe.Error)
			}
		}
	}
	return nil
}

func printRun(run store.CopyRun) {
	fmt.Printf("\n#%d %s (%s)\n", run.ID, run.Status, humanize.Time(run.StartTime))
	fmt.Printf("  %s -> %s\n", run.Source, run.Dest)
	if run.DeviceKind != "" {
		fmt.Printf("  Device:    %s\n", run.DeviceKind)
	}
	fmt.Printf("  Processed: %d  Copied: %d  Skipped: %d  Errors: %d\n",
		run.Processed, run.Copied, run.Skipped, run.Errors)
	fmt.Printf("  Bytes:     %s\n", humanize.Bytes(uint64(run.BytesCopied)))
	if !run.EndTime.IsZero() && run.EndTime.After(run.StartTime) {
		fmt.Printf("  Duration:  %s\n", run.EndTime.Sub(run.StartTime).Round(time.Second))
	}
	if run.ErrorMessage != "" {
		fmt.Printf("  Error:     %s\n", run.ErrorMessage)
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ViktorIovenko/KopifilesNAS/internal/archive"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect location history exports",
	}
	cmd.AddCommand(newArchiveRangeCmd())
	return cmd
}

func newArchiveRangeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "range [path]",
		Short: "Show the first and last sample date of a location history",
		Long: `Parse every supported export under path (default: archive.path) and
report the span of time it covers.`,
		Example: `  kopirnas archive range
  kopirnas archive range /data/Takeout/Location History`,
		Args: cobra.MaximumNArgs(1),
		RunE: archiveRangeRun,
	}
}

func archiveRangeRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	path := globalCfg.Archive.Path
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return fmt.Errorf("no archive path given and archive.path not set")
	}

	idx := archive.New(path, logger)
	first, last, ok := idx.DateRange()
	if !ok {
		fmt.Printf("%s: no location samples found\n", path)
		return nil
	}
	fmt.Printf("%s: %s .. %s (%d samples)\n", path,
		first.Format("2006-01-02"), last.Format("2006-01-02"), len(idx.Global()))
	return nil
}

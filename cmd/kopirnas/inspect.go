package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [path]",
		Short: "Classify a source volume and show where it would be copied",
		Long: `Scan a source volume once and report the detected device kind (Pocket,
Drone or Foto), the camera found in the first readable photo, file counts
per extension, and the destination a copy without --dst would use.`,
		Example: `  kopirnas inspect
  kopirnas inspect /media/usb`,
		Args: cobra.MaximumNArgs(1),
		RunE: inspectRun,
	}
	return cmd
}

func inspectRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalClassifier == nil {
		return fmt.Errorf("classifier not initialized")
	}

	path := globalCfg.Watch.SourcePath
	if len(args) == 1 {
		path = args[0]
	}

	info := globalClassifier.Inspect(path)
	if !info.Present {
		fmt.Printf("%s: not present\n", path)
		return nil
	}

	fmt.Printf("Source:      %s\n", info.Path)
	fmt.Printf("Kind:        %s\n", info.Kind)
	fmt.Printf("Destination: %s\n", globalCfg.DestinationFor(string(info.Kind)))
	if !info.Camera.Empty() {
		fmt.Printf("Camera:      %s %s", info.Camera.Make, info.Camera.Model)
		if info.Camera.Serial != "" {
			fmt.Printf(" (serial %s)", info.Camera.Serial)
		}
		fmt.Println()
	}
	fmt.Printf("Files:       %d (%d photos, %d videos)\n", info.TotalFiles, info.ImageFiles, info.VideoFiles)

	exts := make([]string, 0, len(info.ExtensionCounts))
	for ext := range info.ExtensionCounts {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	for _, ext := range exts {
		fmt.Printf("  %-8s %d\n", ext, info.ExtensionCounts[ext])
	}
	return nil
}

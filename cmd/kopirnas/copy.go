package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ViktorIovenko/KopifilesNAS/internal/config"
	"github.com/ViktorIovenko/KopifilesNAS/internal/engine"
)

var (
	copySrc        string
	copyDst        string
	copyArchive    string
	copyUseArchive bool
	copyNoArchive  bool
	copyFormats    string
	copyJobFile    string
)

func newCopyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy media from a source into the dated library",
		Long: `Copy every photo and video under the source into the destination tree.
Files that already exist at their destination are skipped, so a copy can be
repeated safely. Press Ctrl-C to stop after the file in progress.

Settings are taken from the config file, then from --job-file (a KEY=VALUE
file with SRC, DST, ARCHIVE, USE_ARCHIVE and FORMATS), then from flags.
Without a destination the one configured for the detected device is used.`,
		Example: `  kopirnas copy --src /media/usb --dst /mnt/nas/Foto
  kopirnas copy --src /media/usb --archive /data/Takeout --use-archive
  kopirnas copy --job-file /media/usb/config.txt
  kopirnas copy --src /media/usb --formats jpg,mp4`,
		RunE: copyRun,
	}

	cmd.Flags().StringVar(&copySrc, "src", "", "source directory (default: watch.source_path)")
	cmd.Flags().StringVar(&copyDst, "dst", "", "destination root (default: by device kind)")
	cmd.Flags().StringVar(&copyArchive, "archive", "", "location history file or directory")
	cmd.Flags().BoolVar(&copyUseArchive, "use-archive", false, "resolve places from the location history")
	cmd.Flags().BoolVar(&copyNoArchive, "no-archive", false, "ignore the location history even if configured")
	cmd.Flags().StringVar(&copyFormats, "formats", "", "comma-separated extensions to copy")
	cmd.Flags().StringVar(&copyJobFile, "job-file", "", "KEY=VALUE job file to read")

	return cmd
}

// buildCopyJob layers the config defaults, the job file and the flags.
func buildCopyJob(cfg *config.Config) (config.JobConfig, error) {
	job := cfg.JobDefaults(cfg.Watch.SourcePath, "")
	if copyJobFile != "" {
		var err error
		job, err = config.ReadJobFile(copyJobFile, job)
		if err != nil {
			return config.JobConfig{}, err
		}
	}
	if copySrc != "" {
		job.Source = copySrc
	}
	if copyDst != "" {
		job.Dest = copyDst
	}
	if copyArchive != "" {
		job.Archive = copyArchive
	}
	if copyUseArchive {
		job.UseArchive = true
	}
	if copyNoArchive {
		job.UseArchive = false
	}
	if copyFormats != "" {
		if formats := config.ParseFormats(copyFormats); len(formats) > 0 {
			job.Formats = formats
		}
	}
	return job, nil
}

func copyRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalController == nil {
		return fmt.Errorf("copy controller not initialized")
	}

	job, err := buildCopyJob(globalCfg)
	if err != nil {
		return err
	}
	job = engine.PrepareJob(job, globalCfg, globalClassifier)
	if err := job.Validate(); err != nil {
		return err
	}

	if _, err := globalController.Start(job); err != nil {
		return fmt.Errorf("failed to start copy: %w", err)
	}
	fmt.Printf("Copying %s -> %s", job.Source, job.Dest)
	if job.Kind != "" {
		fmt.Printf(" (%s)", job.Kind)
	}
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	followJob(ctx, globalController)

	state := globalController.Snapshot()
	printCopySummary(state)
	if state.LastError != "" {
		return fmt.Errorf("copy failed: %s", state.LastError)
	}
	if state.LastResult != nil && state.LastResult.Errors > 0 {
		return fmt.Errorf("copy completed with %d errors", state.LastResult.Errors)
	}
	return nil
}

// followJob prints events until the job finishes. Cancelling ctx asks the
// job to stop and keeps following until it has.
func followJob(ctx context.Context, ctrl *engine.Controller) {
	var lastSeq int64
	done := ctrl.Done()
	ctxDone := ctx.Done()
	for {
		changed := ctrl.Wait()
		for _, ev := range ctrl.EventsAfter(lastSeq) {
			printEvent(ev)
			lastSeq = ev.Seq
		}

		select {
		case <-done:
			for _, ev := range ctrl.EventsAfter(lastSeq) {
				printEvent(ev)
			}
			return
		case <-changed:
		case <-ctxDone:
			// Ask once, then keep following until the job reports done.
			ctxDone = nil
			fmt.Println("\nStopping after the current file...")
			if err := ctrl.Stop(); err != nil {
				logger.Debug("stop request ignored", "error", err)
			}
		}
	}
}

func printEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventCopied:
		fmt.Printf("  copied   %s -> %s\n", ev.Source, ev.Dest)
	case engine.EventSkipped:
		fmt.Printf("  skipped  %s (%s)\n", ev.Source, ev.Message)
	case engine.EventError:
		if ev.Source != "" {
			fmt.Printf("  ERROR    %s: %s\n", ev.Source, ev.Error)
		} else {
			fmt.Printf("  ERROR    %s\n", ev.Error)
		}
	case engine.EventStopped:
		fmt.Println("  stopped")
	default:
		fmt.Printf("  %-8s %s %s\n", ev.Kind, ev.Source, ev.Message)
	}
}

func printCopySummary(state engine.JobState) {
	fmt.Println("\n=== COPY SUMMARY ===")
	if state.LastResult == nil {
		fmt.Println("No result recorded.")
		return
	}
	r := state.LastResult
	fmt.Printf("Processed: %d\n", r.Processed)
	fmt.Printf("Copied:    %d\n", r.Copied)
	fmt.Printf("Skipped:   %d\n", r.Skipped)
	fmt.Printf("Errors:    %d\n", r.Errors)
	fmt.Printf("Bytes:     %s\n", humanize.Bytes(uint64(r.BytesCopied)))
	if state.Elapsed != "" {
		fmt.Printf("Elapsed:   %s\n", state.Elapsed)
	}
	if r.Stopped {
		fmt.Println("Stopped before completion.")
	}
}

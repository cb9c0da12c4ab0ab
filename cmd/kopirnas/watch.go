package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ViktorIovenko/KopifilesNAS/internal/config"
	"github.com/ViktorIovenko/KopifilesNAS/internal/engine"
	"github.com/ViktorIovenko/KopifilesNAS/internal/watcher"
)

var (
	watchJobFile  string
	watchInterval time.Duration
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Start a copy whenever the job file changes",
		Long: `Poll the job file (watch.job_file, relative to watch.source_path) and start
a copy each time its contents change. The first observation only records the
file. Changes seen while a copy runs, or within COOLDOWN_SEC of the last
copy ending, are picked up on a later poll.`,
		Example: `  kopirnas watch
  kopirnas watch --job-file /media/usb/config.txt --interval 5s`,
		RunE: watchRun,
	}

	cmd.Flags().StringVar(&watchJobFile, "job-file", "", "job file to poll (default: watch.job_file)")
	cmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval (default: watch.interval)")

	return cmd
}

// jobFilePath resolves the watched file: a relative name lives on the
// source volume.
func jobFilePath(cfg *config.Config) string {
	path := cfg.Watch.JobFile
	if watchJobFile != "" {
		path = watchJobFile
	}
	if path != "" && !filepath.IsAbs(path) && cfg.Watch.SourcePath != "" && watchJobFile == "" {
		path = filepath.Join(cfg.Watch.SourcePath, path)
	}
	return path
}

func newJobWatcher() *watcher.Watcher {
	interval := globalCfg.Watch.Interval
	if watchInterval > 0 {
		interval = watchInterval
	}
	base := globalCfg.JobDefaults(globalCfg.Watch.SourcePath, "")
	w := watcher.New(jobFilePath(globalCfg), base, globalController, interval, logger)
	w.Prepare = func(job config.JobConfig) config.JobConfig {
		return engine.PrepareJob(job, globalCfg, globalClassifier)
	}
	return w
}

func watchRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalController == nil {
		return fmt.Errorf("copy controller not initialized")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := newJobWatcher()
	fmt.Printf("Watching %s (Ctrl-C to exit)\n", jobFilePath(globalCfg))

	err := w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stopActiveJob(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

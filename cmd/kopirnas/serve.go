package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ViktorIovenko/KopifilesNAS/internal/server"
)

var (
	serveListen  string
	serveNoWatch bool
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API for status and copy control",
		Long: `Start the HTTP server exposing the copy controller: source volume status,
start and stop, the progress event log and a server-sent event stream.

When watch.enabled is set in the config, the job file watcher runs alongside
the server. Use --no-watch to disable it.`,
		Example: `  kopirnas serve
  kopirnas serve --listen 0.0.0.0:5000
  kopirnas serve --no-watch`,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (default: server.listen)")
	cmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "do not run the job file watcher")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if globalController == nil {
		return fmt.Errorf("copy controller not initialized")
	}

	listen := serveListen
	if listen == "" {
		listen = globalCfg.Server.Listen
	}

	log.Info("server starting", "listen", listen, "data_dir", globalCfg.Server.DataDir)

	srv := server.NewServer(globalController, globalClassifier, globalStore, globalCfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if globalCfg.Watch.Enabled && !serveNoWatch {
		w := newJobWatcher()
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Error("job watcher stopped", "error", err)
			}
		}()
	}

	// Channel to listen for errors from server
	errChan := make(chan error, 1)

	// Start the server in a goroutine
	go func() {
		fmt.Printf("Starting server on %s...\n", listen)
		if err := srv.Start(listen); err != nil {
			errChan <- err
		}
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for either an error or a shutdown signal
	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
		fmt.Println("\nShutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		stopActiveJob(shutdownCtx)

		fmt.Println("Server stopped gracefully")
	}

	return nil
}

// stopActiveJob asks a running copy to stop and waits for it, bounded by ctx.
func stopActiveJob(ctx context.Context) {
	if globalController == nil || !globalController.Running() {
		return
	}
	if err := globalController.Stop(); err != nil {
		logger.Debug("stop request ignored", "error", err)
	}
	select {
	case <-globalController.Done():
	case <-ctx.Done():
		logger.Warn("copy job still running at exit")
	}
}

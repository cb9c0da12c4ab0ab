// Package notify tells people that a copy job has finished.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ViktorIovenko/KopifilesNAS/internal/engine"
)

// FormatSummary renders a finished job as a short plain-text message.
func FormatSummary(s engine.Summary) string {
	var b strings.Builder

	switch {
	case s.Err != nil:
		b.WriteString("Copy failed")
	case s.Result.Stopped:
		b.WriteString("Copy stopped")
	default:
		b.WriteString("Copy finished")
	}
	if s.Dest != "" {
		fmt.Fprintf(&b, ": %s -> %s", s.Source, s.Dest)
	}
	b.WriteString("\n")

	r := s.Result
	fmt.Fprintf(&b, "Processed: %d\nCopied: %d (%s)\nSkipped: %d\nErrors: %d\n",
		r.Processed, r.Copied, humanize.Bytes(uint64(r.BytesCopied)), r.Skipped, r.Errors)

	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Duration: %s\n", s.FinishedAt.Sub(s.StartedAt).Truncate(time.Second))
	}
	if s.Err != nil {
		fmt.Fprintf(&b, "Error: %v\n", s.Err)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Log writes summaries to a logger. It is the notifier used when no
// messaging channel is configured.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Notify implements engine.Notifier.
func (l *Log) Notify(_ context.Context, s engine.Summary) error {
	l.logger.Info("copy job summary",
		"job_id", s.JobID,
		"processed", s.Result.Processed,
		"copied", s.Result.Copied,
		"skipped", s.Result.Skipped,
		"errors", s.Result.Errors,
		"stopped", s.Result.Stopped,
		"bytes", humanize.Bytes(uint64(s.Result.BytesCopied)),
	)
	return nil
}

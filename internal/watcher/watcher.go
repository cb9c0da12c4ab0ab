// Package watcher starts copy jobs when the job config file changes.
//
// The file is polled rather than watched with inotify: it usually lives on a
// removable volume that is mounted and unmounted underneath us.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/ViktorIovenko/KopifilesNAS/internal/config"
	"github.com/ViktorIovenko/KopifilesNAS/internal/engine"
)

// DefaultInterval is the poll period when none is configured.
const DefaultInterval = 10 * time.Second

// Controller is the part of engine.Controller the watcher drives.
type Controller interface {
	Start(job config.JobConfig) (string, error)
	Snapshot() engine.JobState
}

// Decision is what one poll did.
type Decision string

const (
	DecisionInitialized Decision = "initialized"
	DecisionUnchanged   Decision = "unchanged"
	DecisionMissing     Decision = "missing"
	DecisionPostponed   Decision = "postponed"
	DecisionCooldown    Decision = "cooldown"
	DecisionStarted     Decision = "started"
	DecisionFailed      Decision = "failed"
)

// Watcher polls one job file.
type Watcher struct {
	path       string
	base       config.JobConfig
	interval   time.Duration
	controller Controller
	logger     *slog.Logger

	// Prepare, when set, completes a parsed job before it starts.
	Prepare func(config.JobConfig) config.JobConfig

	lastSig  string
	seen     bool
	cooldown time.Duration
}

// New creates a watcher for path. Keys absent from the file keep their value
// from base.
func New(path string, base config.JobConfig, controller Controller, interval time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		path:       path,
		base:       base,
		interval:   interval,
		controller: controller,
		logger:     logger,
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watching job config", "path", w.path, "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.CheckOnce(time.Now())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// CheckOnce performs a single poll at time now. The first time the file is
// seen only records its signature; later changes start a job unless one is
// running or the cooldown since the previous job has not elapsed. A
// postponed change is retried on the next poll.
func (w *Watcher) CheckOnce(now time.Time) Decision {
	sig, err := signature(w.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.logger.Debug("job config not found", "path", w.path)
			return DecisionMissing
		}
		w.logger.Warn("failed to read job config", "path", w.path, "error", err)
		return DecisionFailed
	}

	if !w.seen {
		w.seen = true
		w.lastSig = sig
		return DecisionInitialized
	}
	if sig == w.lastSig {
		return DecisionUnchanged
	}

	state := w.controller.Snapshot()
	if state.Status.Active() {
		w.logger.Info("job config changed while a copy is running; postponing", "path", w.path)
		return DecisionPostponed
	}
	if !state.FinishedAt.IsZero() {
		if since := now.Sub(state.FinishedAt); since < w.cooldown {
			w.logger.Info("job config changed during cooldown; waiting",
				"since_last", since.Truncate(time.Second), "cooldown", w.cooldown)
			return DecisionCooldown
		}
	}

	w.lastSig = sig
	job, err := config.ReadJobFile(w.path, w.base)
	if err != nil {
		w.logger.Error("invalid job config", "path", w.path, "error", err)
		return DecisionFailed
	}
	if w.Prepare != nil {
		job = w.Prepare(job)
	}

	id, err := w.controller.Start(job)
	if err != nil {
		w.logger.Error("failed to start copy job", "path", w.path, "error", err)
		return DecisionFailed
	}
	w.cooldown = job.Cooldown
	w.logger.Info("job config changed; copy started", "job_id", id, "source", job.Source, "dest", job.Dest)
	return DecisionStarted
}

// signature is the hex SHA-256 of the file contents.
func signature(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ViktorIovenko/KopifilesNAS/internal/config"
	"github.com/ViktorIovenko/KopifilesNAS/internal/media"
	"github.com/ViktorIovenko/KopifilesNAS/internal/store"
)

// Runner executes one copy job. *CopyEngine is the production Runner.
type Runner interface {
	Run(ctx context.Context, job config.JobConfig, onEvent func(Event)) (CopyResult, error)
}

// RunRecorder persists job history. *store.Store satisfies it.
type RunRecorder interface {
	CreateCopyRun(run *store.CopyRun) error
	UpdateCopyRun(run *store.CopyRun) error
	AddFileError(rec *store.FileError) error
}

// Summary describes a finished job for notification.
type Summary struct {
	JobID      string
	Source     string
	Dest       string
	StartedAt  time.Time
	FinishedAt time.Time
	Result     CopyResult
	Err        error
}

// Notifier is told about every finished job, whatever its outcome.
type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// Controller runs at most one copy job at a time on a background goroutine.
type Controller struct {
	runner   Runner
	recorder RunRecorder
	notifier Notifier
	logger   *slog.Logger
	tracker  *JobTracker

	// Protected by mu.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController creates a controller. recorder and notifier may be nil.
func NewController(runner Runner, recorder RunRecorder, notifier Notifier, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	done := make(chan struct{})
	close(done)
	return &Controller{
		runner:   runner,
		recorder: recorder,
		notifier: notifier,
		logger:   logger,
		tracker:  NewJobTracker(),
		done:     done,
	}
}

// countFiles is replaced in tests.
var countFiles = media.CountFiles

// Start launches job on a new worker. It returns ErrJobRunning, and records
// that as the last error, when a job is already active.
func (c *Controller) Start(job config.JobConfig) (string, error) {
	// The pre-count walks the whole source, so it runs before mu is taken.
	total, counted := c.precount(job)

	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	if err := c.tracker.begin(id, job); err != nil {
		c.logger.Warn("copy job rejected", "error", err)
		return "", err
	}
	if counted {
		c.tracker.setTotal(total)
	}

	rec := c.createRun(id, job)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	c.logger.Info("copy job started", "job_id", id, "source", job.Source, "dest", job.Dest)
	go c.work(ctx, cancel, id, job, rec, done)
	return id, nil
}

func (c *Controller) precount(job config.JobConfig) (int, bool) {
	if job.Source == "" || c.Running() {
		return 0, false
	}
	counts, err := countFiles(job.Source, job.Allows)
	if err != nil {
		c.logger.Debug("could not pre-count source", "source", job.Source, "error", err)
		return 0, false
	}
	return counts.Total, true
}

// Stop asks the active job to stop before its next file. The worker is never
// interrupted mid-file.
func (c *Controller) Stop() error {
	if err := c.tracker.requestStop(); err != nil {
		return err
	}
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.logger.Info("copy job stop requested")
	return nil
}

// Snapshot returns the current job state.
func (c *Controller) Snapshot() JobState {
	return c.tracker.Snapshot()
}

// Events returns the event log, oldest first.
func (c *Controller) Events() []Event {
	return c.tracker.Events()
}

// EventsAfter returns the events logged after sequence number seq.
func (c *Controller) EventsAfter(seq int64) []Event {
	return c.tracker.EventsAfter(seq)
}

// Wait returns a channel closed on the next state or event change.
func (c *Controller) Wait() <-chan struct{} {
	return c.tracker.Wait()
}

// Done returns a channel closed when the current (or last) worker exits.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Running reports whether a job is running or stopping.
func (c *Controller) Running() bool {
	return c.tracker.Snapshot().Status.Active()
}

func (c *Controller) work(ctx context.Context, cancel context.CancelFunc, id string, job config.JobConfig, rec *store.CopyRun, done chan struct{}) {
	defer close(done)
	defer cancel()

	startedAt := time.Now()
	result, err := c.runGuarded(ctx, job, func(ev Event) {
		c.tracker.Record(ev)
		if ev.Kind == EventError {
			c.recordFileError(rec, ev)
		}
	})

	c.tracker.finish(result, err)
	state := c.tracker.Snapshot()

	if err != nil {
		c.logger.Error("copy job failed", "job_id", id, "error", err)
	} else {
		c.logger.Info("copy job finished", "job_id", id, "processed", result.Processed,
			"copied", result.Copied, "skipped", result.Skipped, "errors", result.Errors,
			"stopped", result.Stopped)
	}
	c.finishRun(rec, result, err)

	if c.notifier != nil {
		summary := Summary{
			JobID:      id,
			Source:     job.Source,
			Dest:       job.Dest,
			StartedAt:  startedAt,
			FinishedAt: state.FinishedAt,
			Result:     result,
			Err:        err,
		}
		if nerr := c.notifier.Notify(context.Background(), summary); nerr != nil {
			c.logger.Error("failed to send job notification", "job_id", id, "error", nerr)
		}
	}
}

// runGuarded runs the job and turns a panic into a job error so the
// controller always reaches finished.
func (c *Controller) runGuarded(ctx context.Context, job config.JobConfig, onEvent func(Event)) (result CopyResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("copy job panicked: %v", p)
		}
	}()
	return c.runner.Run(ctx, job, onEvent)
}

func (c *Controller) createRun(id string, job config.JobConfig) *store.CopyRun {
	if c.recorder == nil {
		return nil
	}
	rec := &store.CopyRun{
		JobID:      id,
		Source:     job.Source,
		Dest:       job.Dest,
		Archive:    job.Archive,
		UseArchive: job.UseArchive,
		DeviceKind: job.Kind,
		StartTime:  time.Now(),
		Status:     "running",
	}
	if err := c.recorder.CreateCopyRun(rec); err != nil {
		c.logger.Error("failed to create copy run record", "job_id", id, "error", err)
		return nil
	}
	return rec
}

func (c *Controller) recordFileError(rec *store.CopyRun, ev Event) {
	if rec == nil || c.recorder == nil {
		return
	}
	fe := &store.FileError{
		RunID:      rec.ID,
		SourcePath: ev.Source,
		Error:      ev.Error,
		OccurredAt: ev.Time,
	}
	if fe.OccurredAt.IsZero() {
		fe.OccurredAt = time.Now()
	}
	if err := c.recorder.AddFileError(fe); err != nil {
		c.logger.Error("failed to record file error", "path", ev.Source, "error", err)
	}
}

func (c *Controller) finishRun(rec *store.CopyRun, result CopyResult, runErr error) {
	if rec == nil {
		return
	}
	rec.EndTime = time.Now()
	rec.Processed = result.Processed
	rec.Copied = result.Copied
	rec.Skipped = result.Skipped
	rec.Errors = result.Errors
	rec.BytesCopied = result.BytesCopied
	rec.Stopped = result.Stopped
	switch {
	case runErr != nil:
		rec.Status = "failed"
		rec.ErrorMessage = runErr.Error()
	case result.Stopped:
		rec.Status = "stopped"
	default:
		rec.Status = "completed"
	}
	if err := c.recorder.UpdateCopyRun(rec); err != nil {
		c.logger.Error("failed to update copy run record", "job_id", rec.JobID, "error", err)
	}
}

package engine

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ViktorIovenko/KopifilesNAS/internal/config"
)

var (
	ErrJobRunning   = errors.New("a copy job is already running")
	ErrNoJobRunning = errors.New("no copy job is running")
)

// MaxEvents caps the event log; the oldest entries are dropped first.
const MaxEvents = 500

// JobStatus is the lifecycle state of the controller's job.
type JobStatus string

const (
	StatusIdle     JobStatus = "idle"
	StatusRunning  JobStatus = "running"
	StatusStopping JobStatus = "stopping"
	StatusFinished JobStatus = "finished"
)

var allowedTransitions = map[JobStatus][]JobStatus{
	StatusIdle:     {StatusRunning},
	StatusRunning:  {StatusRunning, StatusStopping, StatusFinished},
	StatusStopping: {StatusFinished},
	StatusFinished: {StatusIdle},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	return slices.Contains(allowedTransitions[from], to)
}

// Active reports whether a worker is still attached to the job.
func (s JobStatus) Active() bool {
	return s == StatusRunning || s == StatusStopping
}

// JobState is a snapshot of the controller's job, safe for JSON serialization.
type JobState struct {
	JobID      string    `json:"job_id,omitempty"`
	Status     JobStatus `json:"status"`
	Source     string    `json:"source,omitempty"`
	Dest       string    `json:"dest,omitempty"`
	UseArchive bool      `json:"use_archive"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Elapsed    string    `json:"elapsed,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	// CurrentTotal is nil when the source could not be counted.
	CurrentTotal  *int        `json:"current_total"`
	CurrentCopied int         `json:"current_copied"`
	Skipped       int         `json:"skipped"`
	Errors        int         `json:"errors"`
	LastResult    *CopyResult `json:"last_result,omitempty"`
}

// JobTracker holds the job state and event log shared between the worker
// and readers. SSE handlers use Wait() to block until something changes.
type JobTracker struct {
	mu sync.Mutex

	state   JobState
	events  []Event
	nextSeq int64

	// Notification channel: close-and-replace pattern.
	// Listeners call Wait() to get the current channel, then block on it.
	// Any update closes the old channel and replaces it with a new one.
	notify chan struct{}
}

// NewJobTracker creates an idle tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{
		state:  JobState{Status: StatusIdle},
		notify: make(chan struct{}),
	}
}

// Snapshot returns a copy of the current job state.
func (t *JobTracker) Snapshot() JobState {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state
	if s.CurrentTotal != nil {
		total := *s.CurrentTotal
		s.CurrentTotal = &total
	}
	if s.LastResult != nil {
		result := *s.LastResult
		s.LastResult = &result
	}
	switch {
	case s.Status.Active():
		s.Elapsed = time.Since(s.StartedAt).Truncate(time.Second).String()
	case !s.FinishedAt.IsZero():
		s.Elapsed = s.FinishedAt.Sub(s.StartedAt).Truncate(time.Second).String()
	}
	return s
}

// Events returns a copy of the event log, oldest first.
func (t *JobTracker) Events() []Event {
	return t.EventsAfter(0)
}

// EventsAfter returns the logged events whose sequence number exceeds seq.
func (t *JobTracker) EventsAfter(seq int64) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, _ := slices.BinarySearchFunc(t.events, seq+1, func(ev Event, target int64) int {
		switch {
		case ev.Seq < target:
			return -1
		case ev.Seq > target:
			return 1
		}
		return 0
	})
	out := make([]Event, len(t.events)-i)
	copy(out, t.events[i:])
	return out
}

// Wait returns a channel that will be closed when the next update occurs.
// Callers should select on this channel alongside a timeout for heartbeats.
func (t *JobTracker) Wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notify
}

// signal closes the current notify channel and replaces it with a new one.
// Must be called with t.mu held.
func (t *JobTracker) signal() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// transition moves the job to status to. Must be called with t.mu held.
func (t *JobTracker) transition(to JobStatus) error {
	if !CanTransition(t.state.Status, to) {
		return fmt.Errorf("invalid job transition %s -> %s", t.state.Status, to)
	}
	t.state.Status = to
	return nil
}

// begin resets the tracker for a new job. A finished job passes through
// idle on the way.
func (t *JobTracker) begin(id string, job config.JobConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status.Active() {
		t.state.LastError = ErrJobRunning.Error()
		t.signal()
		return ErrJobRunning
	}
	if t.state.Status == StatusFinished {
		if err := t.transition(StatusIdle); err != nil {
			return err
		}
	}

	t.state = JobState{
		JobID:      id,
		Status:     t.state.Status,
		Source:     job.Source,
		Dest:       job.Dest,
		UseArchive: job.UseArchive,
		StartedAt:  time.Now(),
	}
	t.events = nil
	if err := t.transition(StatusRunning); err != nil {
		return err
	}
	t.signal()
	return nil
}

// setTotal records the pre-counted number of candidate files.
func (t *JobTracker) setTotal(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.CurrentTotal = &total
	t.signal()
}

// requestStop moves a running job to stopping. A job already stopping is
// left alone.
func (t *JobTracker) requestStop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state.Status {
	case StatusStopping:
		return nil
	case StatusRunning:
		if err := t.transition(StatusStopping); err != nil {
			return err
		}
		t.signal()
		return nil
	default:
		return ErrNoJobRunning
	}
}

// Record appends ev to the log and updates the running counters.
func (t *JobTracker) Record(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(ev)
	t.signal()
}

// recordLocked appends an event, capping the log. Must be called with t.mu held.
func (t *JobTracker) recordLocked(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	t.nextSeq++
	ev.Seq = t.nextSeq

	switch ev.Kind {
	case EventCopied:
		t.state.CurrentCopied++
	case EventSkipped:
		t.state.Skipped++
	case EventError:
		t.state.Errors++
	}

	t.events = append(t.events, ev)
	if over := len(t.events) - MaxEvents; over > 0 {
		t.events = slices.Delete(t.events, 0, over)
	}
}

// finish closes out the job with its result or fatal error.
func (t *JobTracker) finish(result CopyResult, runErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if runErr != nil {
		t.state.LastError = runErr.Error()
		t.recordLocked(Event{Kind: EventError, Source: t.state.Source, Error: runErr.Error()})
	}
	t.state.FinishedAt = time.Now()
	t.state.LastResult = &result
	if err := t.transition(StatusFinished); err != nil {
		t.state.Status = StatusFinished
	}
	t.signal()
}

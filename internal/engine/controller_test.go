package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ViktorIovenko/KopifilesNAS/internal/config"
	"github.com/ViktorIovenko/KopifilesNAS/internal/media"
	"github.com/ViktorIovenko/KopifilesNAS/internal/store"
)

// fakeRunner runs fn in place of the copy engine.
type fakeRunner struct {
	fn func(ctx context.Context, job config.JobConfig, onEvent func(Event)) (CopyResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, job config.JobConfig, onEvent func(Event)) (CopyResult, error) {
	return f.fn(ctx, job, onEvent)
}

type recordingNotifier struct {
	mu        sync.Mutex
	summaries []Summary
}

func (n *recordingNotifier) Notify(_ context.Context, s Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, s)
	return nil
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the worker")
	}
}

// blockingRunner emits stopped and returns once ctx is cancelled, or returns
// normally when release is closed.
func blockingRunner(release <-chan struct{}) *fakeRunner {
	return &fakeRunner{fn: func(ctx context.Context, _ config.JobConfig, onEvent func(Event)) (CopyResult, error) {
		select {
		case <-release:
			return CopyResult{}, nil
		case <-ctx.Done():
			onEvent(Event{Kind: EventStopped})
			return CopyResult{Stopped: true}, nil
		}
	}}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusIdle, StatusRunning, true},
		{StatusIdle, StatusFinished, false},
		{StatusRunning, StatusStopping, true},
		{StatusRunning, StatusFinished, true},
		{StatusStopping, StatusRunning, false},
		{StatusStopping, StatusFinished, true},
		{StatusFinished, StatusIdle, true},
		{StatusFinished, StatusRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestControllerRejectsSecondStart(t *testing.T) {
	release := make(chan struct{})
	c := NewController(blockingRunner(release), nil, nil, testLogger())

	if _, err := c.Start(config.JobConfig{Source: "/src", Dest: "/dst"}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !c.Running() {
		t.Error("Running() = false after Start")
	}
	if _, err := c.Start(config.JobConfig{Source: "/other", Dest: "/dst"}); !errors.Is(err, ErrJobRunning) {
		t.Errorf("second Start() error = %v, want ErrJobRunning", err)
	}
	snap := c.Snapshot()
	if snap.LastError == "" || snap.Source != "/src" {
		t.Errorf("snapshot after rejected start = %+v", snap)
	}

	close(release)
	waitDone(t, c)

	if got := c.Snapshot().Status; got != StatusFinished {
		t.Errorf("Status = %s, want finished", got)
	}
}

func TestControllerStop(t *testing.T) {
	c := NewController(blockingRunner(make(chan struct{})), nil, nil, testLogger())

	if err := c.Stop(); !errors.Is(err, ErrNoJobRunning) {
		t.Errorf("Stop() without job error = %v, want ErrNoJobRunning", err)
	}

	if _, err := c.Start(config.JobConfig{Source: "/src", Dest: "/dst"}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	waitDone(t, c)

	snap := c.Snapshot()
	if snap.Status != StatusFinished {
		t.Errorf("Status = %s, want finished", snap.Status)
	}
	if snap.LastResult == nil || !snap.LastResult.Stopped {
		t.Errorf("LastResult = %+v, want stopped", snap.LastResult)
	}
	if snap.FinishedAt.IsZero() {
		t.Error("FinishedAt not set")
	}
	if err := c.Stop(); !errors.Is(err, ErrNoJobRunning) {
		t.Errorf("Stop() after finish error = %v, want ErrNoJobRunning", err)
	}
}

func TestControllerStartCountsWithoutLock(t *testing.T) {
	entered, release := make(chan struct{}), make(chan struct{})
	orig := countFiles
	countFiles = func(string, func(string) bool) (media.Counts, error) {
		close(entered)
		<-release
		return media.Counts{Total: 7}, nil
	}
	t.Cleanup(func() { countFiles = orig })

	runnerRelease := make(chan struct{})
	c := NewController(blockingRunner(runnerRelease), nil, nil, testLogger())

	started := make(chan error, 1)
	go func() {
		_, err := c.Start(config.JobConfig{Source: "/src", Dest: "/dst"})
		started <- err
	}()
	<-entered

	answered := make(chan error, 1)
	go func() {
		<-c.Done()
		answered <- c.Stop()
	}()
	select {
	case err := <-answered:
		if !errors.Is(err, ErrNoJobRunning) {
			t.Errorf("Stop() during pre-count error = %v, want ErrNoJobRunning", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Done() and Stop() blocked while the source was being counted")
	}

	close(release)
	if err := <-started; err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if snap := c.Snapshot(); snap.CurrentTotal == nil || *snap.CurrentTotal != 7 {
		t.Errorf("CurrentTotal = %v, want 7", snap.CurrentTotal)
	}
	close(runnerRelease)
	waitDone(t, c)
}

func TestControllerEventLogIsCapped(t *testing.T) {
	runner := &fakeRunner{fn: func(_ context.Context, _ config.JobConfig, onEvent func(Event)) (CopyResult, error) {
		for i := 0; i < MaxEvents+100; i++ {
			onEvent(Event{Kind: EventCopied, Source: "f"})
		}
		return CopyResult{Processed: MaxEvents + 100, Copied: MaxEvents + 100}, nil
	}}
	c := NewController(runner, nil, nil, testLogger())
	if _, err := c.Start(config.JobConfig{Source: "/src", Dest: "/dst"}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitDone(t, c)

	events := c.Events()
	if len(events) != MaxEvents {
		t.Fatalf("len(Events()) = %d, want %d", len(events), MaxEvents)
	}
	if events[0].Seq != 101 {
		t.Errorf("oldest Seq = %d, want 101", events[0].Seq)
	}
	if got := c.Snapshot().CurrentCopied; got != MaxEvents+100 {
		t.Errorf("CurrentCopied = %d, want %d", got, MaxEvents+100)
	}

	after := c.EventsAfter(events[len(events)-3].Seq)
	if len(after) != 2 {
		t.Errorf("EventsAfter() returned %d events, want 2", len(after))
	}
}

func TestControllerFatalError(t *testing.T) {
	c := NewController(newTestEngine(), nil, nil, testLogger())
	if _, err := c.Start(config.JobConfig{Source: filepath.Join(t.TempDir(), "missing"), Dest: t.TempDir()}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitDone(t, c)

	snap := c.Snapshot()
	if snap.Status != StatusFinished {
		t.Errorf("Status = %s, want finished", snap.Status)
	}
	if !strings.Contains(snap.LastError, "source") {
		t.Errorf("LastError = %q", snap.LastError)
	}
	if snap.CurrentTotal != nil {
		t.Errorf("CurrentTotal = %d, want absent", *snap.CurrentTotal)
	}
	events := c.Events()
	if len(events) != 1 || events[0].Kind != EventError {
		t.Errorf("events = %+v, want one error", events)
	}
}

func TestControllerRunsEngine(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "IMG_0001.jpg"), []byte("a"), march5)
	writeFile(t, filepath.Join(src, "IMG_0002.jpg"), []byte("b"), march5)
	writeFile(t, filepath.Join(src, "notes.txt"), []byte("c"), march5)

	notifier := &recordingNotifier{}
	c := NewController(newTestEngine(), nil, notifier, testLogger())
	id, err := c.Start(testJob(src, dst))
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if snap := c.Snapshot(); snap.CurrentTotal == nil || *snap.CurrentTotal != 2 {
		t.Errorf("CurrentTotal = %v, want 2", snap.CurrentTotal)
	}
	waitDone(t, c)

	snap := c.Snapshot()
	if snap.JobID != id || snap.CurrentCopied != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(notifier.summaries) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.summaries))
	}
	if s := notifier.summaries[0]; s.JobID != id || s.Result.Copied != 2 || s.Err != nil {
		t.Errorf("summary = %+v", s)
	}

	// A finished controller accepts the next job and resets its log.
	if _, err := c.Start(testJob(src, dst)); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	waitDone(t, c)
	snap = c.Snapshot()
	if snap.CurrentCopied != 0 || snap.Skipped != 2 {
		t.Errorf("second job snapshot = %+v, want 2 skipped", snap)
	}
	if got := len(c.Events()); got != 2 {
		t.Errorf("second job has %d events, want 2", got)
	}
}

func TestControllerRecordsHistory(t *testing.T) {
	st, err := store.New(":memory:", testLogger())
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}
	defer st.Close()

	runner := &fakeRunner{fn: func(_ context.Context, _ config.JobConfig, onEvent func(Event)) (CopyResult, error) {
		onEvent(Event{Kind: EventCopied, Source: "/src/a.jpg", Dest: "/dst/a.jpg"})
		onEvent(Event{Kind: EventError, Source: "/src/b.jpg", Error: "read failed"})
		return CopyResult{Processed: 2, Copied: 1, Errors: 1, BytesCopied: 10}, nil
	}}
	c := NewController(runner, st, nil, testLogger())
	id, err := c.Start(config.JobConfig{Source: "/src", Dest: "/dst", Kind: "Foto"})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitDone(t, c)

	run, err := st.GetCopyRunByJobID(id)
	if err != nil {
		t.Fatalf("GetCopyRunByJobID() failed: %v", err)
	}
	if run.Status != "completed" || run.Copied != 1 || run.Errors != 1 || run.DeviceKind != "Foto" {
		t.Errorf("run = %+v", run)
	}
	errs, err := st.ListFileErrors(run.ID)
	if err != nil {
		t.Fatalf("ListFileErrors() failed: %v", err)
	}
	if len(errs) != 1 || errs[0].SourcePath != "/src/b.jpg" {
		t.Errorf("file errors = %+v", errs)
	}
}

func TestControllerRecoversPanic(t *testing.T) {
	runner := &fakeRunner{fn: func(context.Context, config.JobConfig, func(Event)) (CopyResult, error) {
		panic("boom")
	}}
	c := NewController(runner, nil, nil, testLogger())
	if _, err := c.Start(config.JobConfig{Source: "/src", Dest: "/dst"}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitDone(t, c)

	snap := c.Snapshot()
	if snap.Status != StatusFinished || !strings.Contains(snap.LastError, "boom") {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestTrackerWaitSignals(t *testing.T) {
	tr := NewJobTracker()
	ch := tr.Wait()
	tr.Record(Event{Kind: EventInfo})
	select {
	case <-ch:
	default:
		t.Error("Wait() channel not closed after Record")
	}
}

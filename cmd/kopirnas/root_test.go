package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ViktorIovenko/KopifilesNAS/internal/config"
	"github.com/ViktorIovenko/KopifilesNAS/internal/geo"
	"github.com/ViktorIovenko/KopifilesNAS/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	_ = w.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading captured stdout: %v", err)
	}
	_ = r.Close()
	return string(data)
}

func withDiscardLogger(t *testing.T) {
	t.Helper()
	orig := logger
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Cleanup(func() { logger = orig })
}

// resetCopyFlags restores the copy command flags after a test sets them.
func resetCopyFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		copySrc, copyDst, copyArchive, copyFormats, copyJobFile = "", "", "", "", ""
		copyUseArchive, copyNoArchive = false, false
	})
}

func TestBuildCopyJobLayers(t *testing.T) {
	resetCopyFlags(t)
	cfg := config.DefaultConfig()
	cfg.Watch.SourcePath = "/media/usb"
	cfg.Archive = config.ArchiveConfig{Path: "/data/history", Enabled: true}

	jobFile := filepath.Join(t.TempDir(), "config.txt")
	content := "SRC=/media/card\nDST=/mnt/nas/Trips\nUSE_ARCHIVE=0\nFORMATS=jpg\n"
	if err := os.WriteFile(jobFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	copyJobFile = jobFile
	copyDst = "/mnt/override"
	copyFormats = "mp4, MOV"

	job, err := buildCopyJob(cfg)
	if err != nil {
		t.Fatalf("buildCopyJob() failed: %v", err)
	}
	if job.Source != "/media/card" {
		t.Errorf("Source = %q, want job file value", job.Source)
	}
	if job.Dest != "/mnt/override" {
		t.Errorf("Dest = %q, want flag value", job.Dest)
	}
	if job.UseArchive {
		t.Error("UseArchive = true, want job file to disable it")
	}
	if job.Archive != "/data/history" {
		t.Errorf("Archive = %q, want config value", job.Archive)
	}
	if strings.Join(job.Formats, ",") != ".mp4,.mov" {
		t.Errorf("Formats = %v", job.Formats)
	}
}

func TestBuildCopyJobDefaults(t *testing.T) {
	resetCopyFlags(t)
	cfg := config.DefaultConfig()
	cfg.Watch.SourcePath = "/media/usb"

	job, err := buildCopyJob(cfg)
	if err != nil {
		t.Fatalf("buildCopyJob() failed: %v", err)
	}
	if job.Source != "/media/usb" || job.Dest != "" || job.UseArchive {
		t.Errorf("job = %+v", job)
	}

	copyJobFile = filepath.Join(t.TempDir(), "missing.txt")
	if _, err := buildCopyJob(cfg); err == nil {
		t.Error("expected error for missing job file")
	}
}

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		lat, lon string
		wantErr  bool
	}{
		{"48.8566", "2.3522", false},
		{"-33.8688", "151.2093", false},
		{"north", "2.35", true},
		{"48.85", "east", true},
		{"91", "0", true},
		{"0", "181", true},
	}
	for _, tt := range tests {
		t.Run(tt.lat+","+tt.lon, func(t *testing.T) {
			_, err := parseCoordinate(tt.lat, tt.lon)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseCoordinate(%q, %q) error = %v, wantErr %v", tt.lat, tt.lon, err, tt.wantErr)
			}
		})
	}
}

func TestJobFilePath(t *testing.T) {
	t.Cleanup(func() { watchJobFile = "" })
	cfg := config.DefaultConfig()
	cfg.Watch.SourcePath = "/media/usb"
	cfg.Watch.JobFile = "config.txt"

	if got := jobFilePath(cfg); got != filepath.Join("/media/usb", "config.txt") {
		t.Errorf("jobFilePath() = %q", got)
	}

	watchJobFile = "local.txt"
	if got := jobFilePath(cfg); got != "local.txt" {
		t.Errorf("jobFilePath() with flag = %q, want flag value unchanged", got)
	}
}

func TestStatusRun(t *testing.T) {
	withDiscardLogger(t)
	st := newTestStore(t)
	orig := globalStore
	globalStore = st
	t.Cleanup(func() { globalStore = orig })

	out := captureStdout(t, func() {
		if err := statusRun(nil, nil); err != nil {
			t.Fatalf("statusRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "No copy runs recorded.") {
		t.Fatalf("expected empty message, got: %s", out)
	}

	start := time.Now().Add(-time.Hour)
	run := &store.CopyRun{
		JobID:       "job-1",
		Source:      "/media/usb",
		Dest:        "/mnt/nas/Foto",
		DeviceKind:  "Foto",
		StartTime:   start,
		EndTime:     start.Add(90 * time.Second),
		Processed:   3,
		Copied:      2,
		Errors:      1,
		BytesCopied: 2_500_000,
		Status:      "completed",
	}
	if err := st.CreateCopyRun(run); err != nil {
		t.Fatal(err)
	}
	if err := st.AddFileError(&store.FileError{RunID: run.ID, SourcePath: "/media/usb/bad.jpg", Error: "read failed", OccurredAt: start}); err != nil {
		t.Fatal(err)
	}

	statusErrors = true
	t.Cleanup(func() { statusErrors = false })
	out = captureStdout(t, func() {
		if err := statusRun(nil, nil); err != nil {
			t.Fatalf("statusRun returned error: %v", err)
		}
	})
	for _, want := range []string{"completed", "/media/usb -> /mnt/nas/Foto", "2.5 MB", "1m30s", "/media/usb/bad.jpg: read failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusRunReportsGeocache(t *testing.T) {
	withDiscardLogger(t)
	origStore, origCache := globalStore, globalCache
	globalStore = newTestStore(t)
	globalCache = geo.OpenCache("", logger)
	t.Cleanup(func() { globalStore, globalCache = origStore, origCache })

	if err := globalCache.Store(geo.Coordinate{Lat: 48.8566, Lon: 2.3522}, "Paris"); err != nil {
		t.Fatal(err)
	}
	out := captureStdout(t, func() {
		if err := statusRun(nil, nil); err != nil {
			t.Fatalf("statusRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "Geocache: 1 cached places") {
		t.Errorf("output missing cache size:\n%s", out)
	}
}

func TestArchiveRangeRun(t *testing.T) {
	withDiscardLogger(t)
	orig := globalCfg
	globalCfg = config.DefaultConfig()
	t.Cleanup(func() { globalCfg = orig })

	root := t.TempDir()
	data := `[{"latitudeE7":488566000,"longitudeE7":23522000,"timestamp":"2024-03-05T10:00:00Z"},` +
		`{"latitudeE7":515074000,"longitudeE7":-1278000,"timestamp":"2024-04-01T10:00:00Z"}]`
	if err := os.WriteFile(filepath.Join(root, "Records.json"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	out := captureStdout(t, func() {
		if err := archiveRangeRun(nil, []string{root}); err != nil {
			t.Fatalf("archiveRangeRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "2024-03-05 .. 2024-04-01") {
		t.Errorf("unexpected output: %s", out)
	}

	if err := archiveRangeRun(nil, nil); err == nil {
		t.Error("expected error without an archive path")
	}
}

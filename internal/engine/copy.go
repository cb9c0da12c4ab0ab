package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ViktorIovenko/KopifilesNAS/internal/archive"
	"github.com/ViktorIovenko/KopifilesNAS/internal/config"
	"github.com/ViktorIovenko/KopifilesNAS/internal/geo"
	"github.com/ViktorIovenko/KopifilesNAS/internal/media"
	"github.com/ViktorIovenko/KopifilesNAS/internal/safety"
)

var (
	ErrMissingSource = errors.New("source directory not set or not found")
	ErrMissingDest   = errors.New("destination directory not set")
)

// OtherCity labels files that have no location and no archive to consult.
const OtherCity = "Other"

// VideosDir is the per-day subfolder that receives videos and their sidecars.
const VideosDir = "Videos"

// EventKind identifies a progress event.
type EventKind string

const (
	EventCopied  EventKind = "copied"
	EventSkipped EventKind = "skipped"
	EventError   EventKind = "error"
	EventStopped EventKind = "stopped"
	EventInfo    EventKind = "info"
)

// Event is one entry of the progress feed.
type Event struct {
	// Seq orders events within a job; assigned by the tracker.
	Seq     int64     `json:"seq"`
	Kind    EventKind `json:"kind"`
	Source  string    `json:"source,omitempty"`
	Dest    string    `json:"dest,omitempty"`
	Time    time.Time `json:"time"`
	Error   string    `json:"error,omitempty"`
	Message string    `json:"message,omitempty"`
}

// CopyResult is the outcome of one engine run.
type CopyResult struct {
	Processed   int   `json:"processed"`
	Copied      int   `json:"copied"`
	Skipped     int   `json:"skipped"`
	Errors      int   `json:"errors"`
	Stopped     bool  `json:"stopped"`
	BytesCopied int64 `json:"bytes_copied"`
}

// CopyEngine walks a source tree and files every eligible photo and video
// into the date/city layout under the destination.
type CopyEngine struct {
	extractor *media.Extractor
	cache     *geo.Cache
	tiers     []geo.Tier
	logger    *slog.Logger
}

// NewCopyEngine creates an engine. tiers are the coordinate geocoders tried
// after the cache, in order.
func NewCopyEngine(extractor *media.Extractor, cache *geo.Cache, logger *slog.Logger, tiers ...geo.Tier) *CopyEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = media.NewExtractor(logger)
	}
	return &CopyEngine{
		extractor: extractor,
		cache:     cache,
		tiers:     tiers,
		logger:    logger,
	}
}

// run carries the per-job state threaded through a walk.
type run struct {
	job      config.JobConfig
	index    *archive.Index
	resolver *geo.Resolver
	result   CopyResult
	onEvent  func(Event)
}

func (r *run) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

// Run copies job.Source into job.Dest. Cancelling ctx stops the walk before
// the next file; the file in progress, including any geocoding it is waiting
// on, always completes. Per-file failures are counted and reported through
// onEvent. Only a job that cannot start returns an error.
func (e *CopyEngine) Run(ctx context.Context, job config.JobConfig, onEvent func(Event)) (CopyResult, error) {
	r := &run{job: job, onEvent: onEvent}

	if job.Source == "" {
		return r.result, ErrMissingSource
	}
	if info, err := os.Stat(job.Source); err != nil || !info.IsDir() {
		return r.result, fmt.Errorf("%w: %s", ErrMissingSource, job.Source)
	}
	if job.Dest == "" {
		return r.result, ErrMissingDest
	}
	if len(job.Formats) == 0 {
		job.Formats = config.DefaultFormats
		r.job = job
	}

	// The index lives for one run so exports added between jobs are seen.
	// The global fallback uses it even when month lookups are disabled.
	var archiveIdx geo.Archive
	if job.Archive != "" {
		r.index = archive.New(job.Archive, e.logger)
		archiveIdx = r.index
	}
	r.resolver = geo.NewResolver(e.cache, archiveIdx, e.logger, e.tiers...)

	e.logger.Info("copy started", "source", job.Source, "dest", job.Dest,
		"archive", job.Archive, "use_archive", job.UseArchive, "formats", job.Formats)

	if ctx.Err() != nil {
		e.stop(r)
		return r.result, nil
	}

	err := filepath.WalkDir(job.Source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == job.Source {
				return err
			}
			e.logger.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			e.stop(r)
			return filepath.SkipAll
		}
		if !e.eligible(r, path) {
			return nil
		}
		e.processFile(ctx, r, path)
		return nil
	})
	if err != nil {
		return r.result, fmt.Errorf("walking %s: %w", job.Source, err)
	}

	e.logger.Info("copy finished", "processed", r.result.Processed, "copied", r.result.Copied,
		"skipped", r.result.Skipped, "errors", r.result.Errors, "stopped", r.result.Stopped)
	return r.result, nil
}

func (e *CopyEngine) stop(r *run) {
	r.result.Stopped = true
	r.emit(Event{Kind: EventStopped, Message: "copy stopped"})
	e.logger.Info("copy stopped", "processed", r.result.Processed)
}

// eligible applies the extension filter. Sidecars always pass it, but one
// that belongs to a video is handled together with that video.
func (e *CopyEngine) eligible(r *run, path string) bool {
	ext := media.Ext(path)
	if ext == media.SidecarExt {
		if video, ok := media.CompanionVideo(path, r.job.Allows); ok {
			e.logger.Debug("sidecar travels with its video", "path", path, "video", video)
			return false
		}
		return true
	}
	return r.job.Allows(ext)
}

func (e *CopyEngine) processFile(ctx context.Context, r *run, path string) {
	r.result.Processed++

	class := media.ClassOf(path)
	md, err := e.extractor.Extract(path, class)
	if err != nil {
		e.fileError(r, path, err)
		return
	}

	city, confirmed := e.resolveCity(ctx, r, md)
	dest, err := destinationPath(r.job, md.CaptureTime, city, confirmed || r.job.UseArchive, class, path)
	if err != nil {
		e.fileError(r, path, err)
		return
	}

	if _, err := os.Lstat(dest); err == nil {
		r.result.Skipped++
		r.emit(Event{Kind: EventSkipped, Source: path, Dest: dest, Message: "already exists"})
		e.logger.Debug("destination exists", "source", path, "dest", dest)
		if md.Sidecar != "" {
			e.copySidecar(r, md.Sidecar, filepath.Dir(dest))
		}
		return
	} else if !errors.Is(err, fs.ErrNotExist) {
		e.fileError(r, path, err)
		return
	}

	n, err := copyFile(path, dest)
	if err != nil {
		e.fileError(r, path, err)
		return
	}
	r.result.Copied++
	r.result.BytesCopied += n
	r.emit(Event{Kind: EventCopied, Source: path, Dest: dest})
	e.logger.Debug("file copied", "source", path, "dest", dest, "city", city, "bytes", n)

	if md.Sidecar != "" {
		e.copySidecar(r, md.Sidecar, filepath.Dir(dest))
	}
}

// resolveCity names the place a file was taken and reports whether that
// place is backed by a coordinate or the month's location history.
func (e *CopyEngine) resolveCity(ctx context.Context, r *run, md media.Metadata) (string, bool) {
	var city string
	confirmed := false

	switch {
	case md.HasCoord:
		confirmed = true
		city = r.resolver.ResolveByCoordinate(ctx, md.Coord)
		if city == geo.UnknownCity && r.job.UseArchive {
			city = e.resolveByMonth(ctx, r, md.CaptureTime)
		}
	case r.job.UseArchive:
		city = e.resolveByMonth(ctx, r, md.CaptureTime)
		confirmed = city != "" && city != geo.UnknownCity
	default:
		city = OtherCity
	}

	if city == "" || city == geo.UnknownCity {
		city = r.resolver.ResolveGlobal(ctx, md.CaptureTime)
	}
	return city, confirmed
}

func (e *CopyEngine) resolveByMonth(ctx context.Context, r *run, t time.Time) string {
	if !r.job.UseArchive || r.index == nil {
		return geo.UnknownCity
	}
	points := r.index.ForMonth(t.Year(), t.Month())
	return r.resolver.ResolveByTimestamp(ctx, t, points)
}

// destinationPath builds {dest}/{YYYY}/{YYYY-MM-DD[-City]}/[Videos/]{name}.
func destinationPath(job config.JobConfig, taken time.Time, city string, withCity bool, class media.Class, src string) (string, error) {
	folder := taken.Format("2006-01-02")
	if withCity {
		if segment := safety.SanitizeSegment(city); segment != "" {
			folder += "-" + segment
		}
	}
	elems := []string{taken.Format("2006"), folder}
	if class == media.ClassVideo {
		elems = append(elems, VideosDir)
	}
	elems = append(elems, filepath.Base(src))
	return safety.SafeJoinUnder(job.Dest, elems...)
}

func (e *CopyEngine) copySidecar(r *run, sidecar, dir string) {
	dest := filepath.Join(dir, filepath.Base(sidecar))
	if _, err := os.Lstat(dest); err == nil {
		e.logger.Debug("sidecar exists", "source", sidecar, "dest", dest)
		return
	}
	n, err := copyFile(sidecar, dest)
	if err != nil {
		e.fileError(r, sidecar, err)
		return
	}
	r.result.BytesCopied += n
	r.emit(Event{Kind: EventInfo, Source: sidecar, Dest: dest, Message: "sidecar copied"})
}

func (e *CopyEngine) fileError(r *run, path string, err error) {
	r.result.Errors++
	r.emit(Event{Kind: EventError, Source: path, Error: err.Error()})
	e.logger.Warn("file failed", "path", path, "error", err)
}

// copyFile copies src to dst through a temporary file in the destination
// directory, preserving the source mode and modification time.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".kopirnas-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, in)
	if closeErr := tmp.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("copying %s: %w", src, err)
	}

	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("setting mode: %w", err)
	}
	if err := os.Chtimes(tmpName, time.Now(), info.ModTime()); err != nil {
		return 0, fmt.Errorf("setting times: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return 0, fmt.Errorf("moving into place: %w", err)
	}
	committed = true
	return n, nil
}

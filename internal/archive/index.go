package archive

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ViktorIovenko/KopifilesNAS/internal/geo"
)

type monthKey struct {
	year  int
	month time.Month
}

// Index serves samples from a location history source: either a directory
// of monthly exports named like "2024_MARCH.json" or a single JSON file
// used for every month. Results are parsed once and cached.
type Index struct {
	path   string
	logger *slog.Logger

	mu           sync.Mutex
	months       map[monthKey][]geo.Point
	global       []geo.Point
	globalLoaded bool
}

// New creates an index over path. Nothing is read until the first query.
func New(path string, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		path:   path,
		logger: logger,
		months: make(map[monthKey][]geo.Point),
	}
}

// ForMonth returns the samples recorded for the given calendar month.
func (i *Index) ForMonth(year int, month time.Month) []geo.Point {
	key := monthKey{year: year, month: month}

	i.mu.Lock()
	defer i.mu.Unlock()

	if pts, ok := i.months[key]; ok {
		return pts
	}

	prefix := fmt.Sprintf("%d_%s", year, strings.ToLower(month.String()))
	files, err := i.files(func(name string) bool {
		return strings.HasPrefix(name, prefix)
	})
	if err != nil {
		i.logger.Warn("failed to list archive files", "path", i.path, "error", err)
	}
	pts := i.load(files)
	i.months[key] = pts
	i.logger.Debug("archive month indexed", "year", year, "month", month, "files", len(files), "points", len(pts))
	return pts
}

// Global returns every sample across all archive files.
func (i *Index) Global() []geo.Point {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.globalLoaded {
		return i.global
	}
	files, err := i.files(func(string) bool { return true })
	if err != nil {
		i.logger.Warn("failed to list archive files", "path", i.path, "error", err)
	}
	i.global = i.load(files)
	i.globalLoaded = true
	i.logger.Debug("archive indexed", "files", len(files), "points", len(i.global))
	return i.global
}

// Nearest returns the coordinate of the sample closest in time to t.
func (i *Index) Nearest(t time.Time, points []geo.Point) (geo.Coordinate, bool) {
	return Nearest(t, points)
}

// DateRange reports the first and last sample time across the archive.
func (i *Index) DateRange() (first, last time.Time, ok bool) {
	pts := i.Global()
	if len(pts) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return pts[0].Time, pts[len(pts)-1].Time, true
}

// Nearest returns the coordinate of the point with the smallest absolute
// time difference to t. Ties go to the earlier point in the slice.
func Nearest(t time.Time, points []geo.Point) (geo.Coordinate, bool) {
	if len(points) == 0 {
		return geo.Coordinate{}, false
	}
	best := 0
	bestDiff := absDuration(points[0].Time.Sub(t))
	for idx := 1; idx < len(points); idx++ {
		if d := absDuration(points[idx].Time.Sub(t)); d < bestDiff {
			best, bestDiff = idx, d
		}
	}
	return points[best].Coord, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// files lists the JSON files of the source whose lowercase name passes match.
// A single-file source always returns itself.
func (i *Index) files(match func(lowerName string) bool) ([]string, error) {
	if i.path == "" {
		return nil, nil
	}
	info, err := os.Stat(i.path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{i.path}, nil
	}

	var out []string
	err = filepath.WalkDir(i.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			i.logger.Debug("skipping unreadable archive entry", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		if strings.HasSuffix(name, ".json") && match(name) {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

func (i *Index) load(files []string) []geo.Point {
	var all []geo.Point
	for _, f := range files {
		pts, err := ParseFile(f)
		if err != nil {
			i.logger.Warn("failed to parse archive file", "path", f, "error", err)
			continue
		}
		all = append(all, pts...)
	}
	if len(files) > 1 {
		all = normalize(all)
	}
	return all
}

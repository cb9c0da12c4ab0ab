package media

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Kind is the device a source volume came from.
type Kind string

const (
	KindPocket Kind = "Pocket"
	KindDrone  Kind = "Drone"
	KindFoto   Kind = "Foto"
)

// FlashInfo summarizes one scan of a source volume.
type FlashInfo struct {
	Path            string         `json:"path"`
	Present         bool           `json:"present"`
	Kind            Kind           `json:"kind"`
	TotalFiles      int            `json:"total_files"`
	ImageFiles      int            `json:"image_files"`
	VideoFiles      int            `json:"video_files"`
	Camera          Camera         `json:"camera"`
	ExtensionCounts map[string]int `json:"extension_counts"`
	HasBrandPrefix  bool           `json:"has_brand_prefix"`
	HasSidecar      bool           `json:"has_sidecar"`
	HasLogVideo     bool           `json:"has_log_video"`
}

// Classifier scans source volumes.
type Classifier struct {
	extractor *Extractor
	logger    *slog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(extractor *Extractor, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = NewExtractor(logger)
	}
	return &Classifier{extractor: extractor, logger: logger}
}

// Inspect walks path once and classifies what it finds. A missing path is
// reported as not present with the default kind.
func (c *Classifier) Inspect(path string) FlashInfo {
	info := FlashInfo{
		Path:            path,
		Kind:            KindFoto,
		ExtensionCounts: make(map[string]int),
	}
	st, err := os.Stat(path)
	if err != nil || !st.IsDir() {
		return info
	}
	info.Present = true

	cameraFound := false
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			c.logger.Debug("skipping unreadable entry", "path", p, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info.TotalFiles++
		ext := Ext(p)
		info.ExtensionCounts[ext]++
		if strings.HasPrefix(strings.ToUpper(d.Name()), BrandPrefix) {
			info.HasBrandPrefix = true
		}
		if ext == LogVideoExt {
			info.HasLogVideo = true
		}

		switch ClassOf(p) {
		case ClassSidecar:
			info.HasSidecar = true
		case ClassVideo:
			info.VideoFiles++
		case ClassPhoto:
			info.ImageFiles++
			if !cameraFound {
				if cam, ok := c.extractor.ReadCamera(p); ok {
					info.Camera = cam
					cameraFound = true
				}
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("source scan incomplete", "path", path, "error", err)
	}

	info.Kind = Classify(info)
	return info
}

// Classify applies the device heuristics in precedence order.
func Classify(info FlashInfo) Kind {
	switch {
	case info.HasLogVideo:
		return KindPocket
	case info.HasBrandPrefix && info.HasSidecar:
		return KindDrone
	case !info.Camera.Empty():
		return KindFoto
	case info.ImageFiles > 0 && info.VideoFiles == 0:
		return KindFoto
	case info.VideoFiles > 0 && info.ImageFiles == 0:
		return KindDrone
	default:
		return KindFoto
	}
}

// Counts is the number of files a job would consider.
type Counts struct {
	Total  int `json:"total"`
	Photos int `json:"photos"`
	Videos int `json:"videos"`
}

// CountFiles counts the files under root whose extension passes allowed.
// Sidecars are not counted; they travel with their video.
func CountFiles(root string, allowed func(ext string) bool) (Counts, error) {
	var counts Counts
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if allowed != nil && !allowed(Ext(p)) {
			return nil
		}
		switch ClassOf(p) {
		case ClassSidecar:
			return nil
		case ClassPhoto:
			counts.Photos++
		case ClassVideo:
			counts.Videos++
		}
		counts.Total++
		return nil
	})
	return counts, err
}

// Package media reads what a file says about itself: capture time, GPS fix
// and camera identity. It also classifies a whole source volume by device.
package media

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Class is the role an extension plays in the pipeline.
type Class int

const (
	ClassOther Class = iota
	ClassPhoto
	ClassVideo
	ClassSidecar
)

func (c Class) String() string {
	switch c {
	case ClassPhoto:
		return "photo"
	case ClassVideo:
		return "video"
	case ClassSidecar:
		return "sidecar"
	default:
		return "other"
	}
}

const (
	// SidecarExt is the telemetry subtitle file written next to drone and
	// action camera clips.
	SidecarExt = ".srt"
	// LogVideoExt is the low-resolution proxy only DJI Pocket/Osmo devices write.
	LogVideoExt = ".lrf"
	// BrandPrefix starts every file name written by DJI devices.
	BrandPrefix = "DJI_"
)

var (
	PhotoExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff"}
	VideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}
)

// Ext returns the lowercase extension of path.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// ClassOf classifies path by its extension.
func ClassOf(path string) Class {
	ext := Ext(path)
	switch {
	case ext == SidecarExt:
		return ClassSidecar
	case slices.Contains(PhotoExtensions, ext):
		return ClassPhoto
	case slices.Contains(VideoExtensions, ext):
		return ClassVideo
	default:
		return ClassOther
	}
}

// SidecarFor returns the telemetry file belonging to a video, if one exists.
func SidecarFor(videoPath string) (string, bool) {
	base := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
	for _, ext := range []string{SidecarExt, strings.ToUpper(SidecarExt)} {
		candidate := base + ext
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

// CompanionVideo returns the video a sidecar belongs to. Only videos whose
// extension passes allowed are considered.
func CompanionVideo(sidecarPath string, allowed func(ext string) bool) (string, bool) {
	base := strings.TrimSuffix(sidecarPath, filepath.Ext(sidecarPath))
	for _, ext := range VideoExtensions {
		if allowed != nil && !allowed(ext) {
			continue
		}
		for _, variant := range []string{ext, strings.ToUpper(ext)} {
			candidate := base + variant
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate, true
			}
		}
	}
	return "", false
}

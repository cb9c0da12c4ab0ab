package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SafeJoinUnder joins relative path elements under root and verifies the
// final path remains inside root. Absolute or traversing elements fail.
func SafeJoinUnder(root string, elems ...string) (string, error) {
	rel := filepath.Join(elems...)
	if rel == "" || rel == "." {
		return "", fmt.Errorf("path is empty")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %q", rel)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("parent traversal is not allowed: %q", rel)
	}
	return EnsureUnderRoot(root, filepath.Join(root, rel))
}

// EnsureUnderRoot verifies candidate resolves under root and returns
// an absolute normalized path.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %q", candidate)
	}
	return candAbs, nil
}

var segmentReplacer = strings.NewReplacer("/", "-", "\\", "-", "\x00", "")

// SanitizeSegment makes an externally supplied name (a city returned by a
// geocoder, say) usable as a single path segment.
func SanitizeSegment(name string) string {
	name = strings.TrimSpace(segmentReplacer.Replace(name))
	if name == "." || name == ".." {
		return ""
	}
	return name
}

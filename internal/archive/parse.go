// Package archive indexes location history exports (Google Takeout style)
// into time-ordered samples, per calendar month and globally.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/ViktorIovenko/KopifilesNAS/internal/geo"
)

// maxDepth bounds how far into nested containers records are searched.
const maxDepth = 8

// Parse extracts the samples of one export document, deduplicated and
// sorted ascending by time. Records of unknown layout contribute nothing.
func Parse(data []byte) ([]geo.Point, error) {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, fmt.Errorf("archive document is not valid JSON")
	}

	var pts []geo.Point
	walk(data, 0, &pts)
	return normalize(pts), nil
}

// ParseFile reads and parses one export file.
func ParseFile(path string) ([]geo.Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive file: %w", err)
	}
	pts, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pts, nil
}

func walk(raw json.RawMessage, depth int, out *[]geo.Point) {
	raw = bytes.TrimSpace(raw)
	if depth > maxDepth || len(raw) == 0 {
		return
	}

	switch raw[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return
		}
		for _, e := range elems {
			walk(e, depth+1, out)
		}
	case '{':
		var rec record
		if err := json.Unmarshal(raw, &rec); err == nil {
			if shapes := rec.shapes(); len(shapes) > 0 {
				for _, s := range shapes {
					*out = append(*out, rec.points(s)...)
				}
				return
			}
		}

		// A container such as {"timelineObjects": [...]} or {"locations": [...]}.
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(fields[k], depth+1, out)
		}
	}
}

type pointKey struct {
	nanos int64
	lat   float64
	lon   float64
}

// normalize collapses duplicates (same instant and coordinate) and sorts by
// time, keeping first-seen order among equal timestamps.
func normalize(pts []geo.Point) []geo.Point {
	seen := make(map[pointKey]struct{}, len(pts))
	out := make([]geo.Point, 0, len(pts))
	for _, p := range pts {
		k := pointKey{nanos: p.Time.UnixNano(), lat: p.Coord.Lat, lon: p.Coord.Lon}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	slices.SortStableFunc(out, func(a, b geo.Point) int {
		return a.Time.Compare(b.Time)
	})
	return out
}

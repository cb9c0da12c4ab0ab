package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ViktorIovenko/KopifilesNAS/internal/geo"
)

// shape identifies one of the record layouts found in location history exports.
type shape int

const (
	shapeLegacySegment shape = iota + 1
	shapeLegacyVisit
	shapeVisit
	shapeActivity
	shapeTimelinePath
	shapeRawPoint
)

func (s shape) String() string {
	switch s {
	case shapeLegacySegment:
		return "activitySegment"
	case shapeLegacyVisit:
		return "placeVisit"
	case shapeVisit:
		return "visit"
	case shapeActivity:
		return "activity"
	case shapeTimelinePath:
		return "timelinePath"
	case shapeRawPoint:
		return "rawPoint"
	default:
		return "unknown"
	}
}

// record is the union of every known layout. Which fields are populated
// decides its shapes.
type record struct {
	ActivitySegment *legacySegment `json:"activitySegment"`
	PlaceVisit      *legacyVisit   `json:"placeVisit"`

	StartTime    string       `json:"startTime"`
	EndTime      string       `json:"endTime"`
	Visit        *visit       `json:"visit"`
	Activity     *activity    `json:"activity"`
	TimelinePath []pathSample `json:"timelinePath"`

	LatitudeE7  *int64     `json:"latitudeE7"`
	LongitudeE7 *int64     `json:"longitudeE7"`
	TimestampMs flexString `json:"timestampMs"`
	Timestamp   string     `json:"timestamp"`
}

type e7Location struct {
	LatitudeE7  *int64 `json:"latitudeE7"`
	LongitudeE7 *int64 `json:"longitudeE7"`
}

type legacyDuration struct {
	StartTimestamp   string     `json:"startTimestamp"`
	StartTimestampMs flexString `json:"startTimestampMs"`
}

type legacySegment struct {
	StartLocation e7Location     `json:"startLocation"`
	Duration      legacyDuration `json:"duration"`
}

type legacyVisit struct {
	Location e7Location     `json:"location"`
	Duration legacyDuration `json:"duration"`
}

type visit struct {
	TopCandidate struct {
		PlaceLocation latLng `json:"placeLocation"`
	} `json:"topCandidate"`
}

type activity struct {
	Start latLng `json:"start"`
	End   latLng `json:"end"`
}

type pathSample struct {
	Point latLng `json:"point"`
	Time  string `json:"time"`
}

// latLng accepts either "lat, lng" or {"latLng": "lat, lng"}.
type latLng string

func (l *latLng) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = latLng(s)
		return nil
	}
	var obj struct {
		LatLng string `json:"latLng"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*l = latLng(obj.LatLng)
	return nil
}

// coord parses strings like "48.8566°, 2.3522°" or "geo:48.8566,2.3522".
func (l latLng) coord() (geo.Coordinate, bool) {
	s := strings.TrimSpace(string(l))
	s = strings.TrimPrefix(s, "geo:")
	s = strings.ReplaceAll(s, "°", "")
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return geo.Coordinate{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return geo.Coordinate{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return geo.Coordinate{}, false
	}
	c := geo.Coordinate{Lat: lat, Lon: lon}
	return c, c.Valid()
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) epochMillis() (time.Time, bool) {
	if f == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

func e7Coord(lat, lon *int64) (geo.Coordinate, bool) {
	if lat == nil || lon == nil {
		return geo.Coordinate{}, false
	}
	c := geo.Coordinate{Lat: float64(*lat) / 1e7, Lon: float64(*lon) / 1e7}
	return c, c.Valid()
}

// parseTime reads ISO 8601 timestamps. Values without a zone are taken as UTC.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func (d legacyDuration) start() (time.Time, bool) {
	if t, ok := parseTime(d.StartTimestamp); ok {
		return t, true
	}
	return d.StartTimestampMs.epochMillis()
}

func (r record) shapes() []shape {
	var out []shape
	if r.ActivitySegment != nil {
		out = append(out, shapeLegacySegment)
	}
	if r.PlaceVisit != nil {
		out = append(out, shapeLegacyVisit)
	}
	if r.Visit != nil {
		out = append(out, shapeVisit)
	}
	if r.Activity != nil {
		out = append(out, shapeActivity)
	}
	if len(r.TimelinePath) > 0 {
		out = append(out, shapeTimelinePath)
	}
	if r.LatitudeE7 != nil && r.LongitudeE7 != nil {
		out = append(out, shapeRawPoint)
	}
	return out
}

// points extracts every sample the record carries for shape s.
func (r record) points(s shape) []geo.Point {
	var out []geo.Point
	add := func(t time.Time, tok bool, c geo.Coordinate, cok bool) {
		if tok && cok {
			out = append(out, geo.Point{Time: t, Coord: c})
		}
	}

	switch s {
	case shapeLegacySegment:
		t, tok := r.ActivitySegment.Duration.start()
		c, cok := e7Coord(r.ActivitySegment.StartLocation.LatitudeE7, r.ActivitySegment.StartLocation.LongitudeE7)
		add(t, tok, c, cok)
	case shapeLegacyVisit:
		t, tok := r.PlaceVisit.Duration.start()
		c, cok := e7Coord(r.PlaceVisit.Location.LatitudeE7, r.PlaceVisit.Location.LongitudeE7)
		add(t, tok, c, cok)
	case shapeVisit:
		t, tok := parseTime(r.StartTime)
		c, cok := r.Visit.TopCandidate.PlaceLocation.coord()
		add(t, tok, c, cok)
	case shapeActivity:
		t, tok := parseTime(r.StartTime)
		c, cok := r.Activity.Start.coord()
		add(t, tok, c, cok)
		t, tok = parseTime(r.EndTime)
		c, cok = r.Activity.End.coord()
		add(t, tok, c, cok)
	case shapeTimelinePath:
		for _, sample := range r.TimelinePath {
			t, tok := parseTime(sample.Time)
			c, cok := sample.Point.coord()
			add(t, tok, c, cok)
		}
	case shapeRawPoint:
		t, tok := r.TimestampMs.epochMillis()
		if !tok {
			t, tok = parseTime(r.Timestamp)
		}
		c, cok := e7Coord(r.LatitudeE7, r.LongitudeE7)
		add(t, tok, c, cok)
	}
	return out
}

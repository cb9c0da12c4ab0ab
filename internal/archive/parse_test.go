package archive

import (
	"testing"
	"time"

	"github.com/ViktorIovenko/KopifilesNAS/internal/geo"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Fatalf("bad time %q: %v", s, err)
	}
	return ts
}

func TestParseShapes(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []geo.Point
	}{
		{
			name: "legacy activity segment",
			doc: `{"timelineObjects":[{"activitySegment":{
				"startLocation":{"latitudeE7":488566000,"longitudeE7":23522000},
				"duration":{"startTimestamp":"2024-03-05T10:00:00Z"}}}]}`,
			want: []geo.Point{{Time: mustTime(t, "2024-03-05T10:00:00Z"), Coord: geo.Coordinate{Lat: 48.8566, Lon: 2.3522}}},
		},
		{
			name: "legacy place visit with millis",
			doc: `{"timelineObjects":[{"placeVisit":{
				"location":{"latitudeE7":557558000,"longitudeE7":376173000},
				"duration":{"startTimestampMs":"1709632800000"}}}]}`,
			want: []geo.Point{{Time: time.UnixMilli(1709632800000).UTC(), Coord: geo.Coordinate{Lat: 55.7558, Lon: 37.6173}}},
		},
		{
			name: "visit with string placeLocation",
			doc:  `[{"startTime":"2024-03-05T12:00:00.000+01:00","visit":{"topCandidate":{"placeLocation":"geo:48.8566,2.3522"}}}]`,
			want: []geo.Point{{Time: mustTime(t, "2024-03-05T12:00:00+01:00"), Coord: geo.Coordinate{Lat: 48.8566, Lon: 2.3522}}},
		},
		{
			name: "semantic segment visit",
			doc:  `{"semanticSegments":[{"startTime":"2024-03-05T12:00:00Z","visit":{"topCandidate":{"placeLocation":{"latLng":"48.8566°, 2.3522°"}}}}]}`,
			want: []geo.Point{{Time: mustTime(t, "2024-03-05T12:00:00Z"), Coord: geo.Coordinate{Lat: 48.8566, Lon: 2.3522}}},
		},
		{
			name: "activity start and end",
			doc: `[{"startTime":"2024-03-05T08:00:00Z","endTime":"2024-03-05T09:00:00Z",
				"activity":{"start":"48.8566°, 2.3522°","end":{"latLng":"49.0097°, 2.5479°"}}}]`,
			want: []geo.Point{
				{Time: mustTime(t, "2024-03-05T08:00:00Z"), Coord: geo.Coordinate{Lat: 48.8566, Lon: 2.3522}},
				{Time: mustTime(t, "2024-03-05T09:00:00Z"), Coord: geo.Coordinate{Lat: 49.0097, Lon: 2.5479}},
			},
		},
		{
			name: "timeline path",
			doc: `[{"timelinePath":[
				{"point":"52.52°, 13.405°","time":"2024-03-06T10:00:00Z"},
				{"point":"52.50°, 13.40°","time":"2024-03-06T09:00:00Z"}]}]`,
			want: []geo.Point{
				{Time: mustTime(t, "2024-03-06T09:00:00Z"), Coord: geo.Coordinate{Lat: 52.50, Lon: 13.40}},
				{Time: mustTime(t, "2024-03-06T10:00:00Z"), Coord: geo.Coordinate{Lat: 52.52, Lon: 13.405}},
			},
		},
		{
			name: "raw locations",
			doc: `{"locations":[
				{"latitudeE7":488566000,"longitudeE7":23522000,"timestampMs":"1709632800000"},
				{"latitudeE7":488566000,"longitudeE7":23522000,"timestampMs":1709632800000},
				{"latitudeE7":515074000,"longitudeE7":-1278000,"timestamp":"2024-03-05T11:00:00Z"}]}`,
			want: []geo.Point{
				{Time: time.UnixMilli(1709632800000).UTC(), Coord: geo.Coordinate{Lat: 48.8566, Lon: 2.3522}},
				{Time: mustTime(t, "2024-03-05T11:00:00Z"), Coord: geo.Coordinate{Lat: 51.5074, Lon: -0.1278}},
			},
		},
		{
			name: "unknown shapes are ignored",
			doc:  `{"timelineObjects":[{"somethingElse":{"a":1}},42,"text",{"visit":{"topCandidate":{"placeLocation":"not a coordinate"}},"startTime":"2024-01-01T00:00:00Z"}]}`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.doc))
			if err != nil {
				t.Fatalf("Parse() failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d points %v, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if !got[i].Time.Equal(tt.want[i].Time) {
					t.Errorf("point %d time = %v, want %v", i, got[i].Time, tt.want[i].Time)
				}
				if got[i].Coord != tt.want[i].Coord {
					t.Errorf("point %d coord = %v, want %v", i, got[i].Coord, tt.want[i].Coord)
				}
			}
		})
	}
}

func TestParseInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte(`{"timelineObjects": [`)); err == nil {
		t.Error("Parse() succeeded on truncated document")
	}
}

func TestParseSortsAndDeduplicates(t *testing.T) {
	doc := `[
		{"latitudeE7":10000000,"longitudeE7":10000000,"timestamp":"2024-01-03T00:00:00Z"},
		{"latitudeE7":20000000,"longitudeE7":20000000,"timestamp":"2024-01-01T00:00:00Z"},
		{"latitudeE7":10000000,"longitudeE7":10000000,"timestamp":"2024-01-03T00:00:00Z"},
		{"latitudeE7":30000000,"longitudeE7":30000000,"timestamp":"2024-01-02T00:00:00Z"}
	]`
	got, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d points, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Time.Before(got[i-1].Time) {
			t.Errorf("points not sorted at %d: %v", i, got)
		}
	}
}

func TestNearest(t *testing.T) {
	base := mustTime(t, "2024-03-05T10:00:00Z")
	points := []geo.Point{
		{Time: base, Coord: geo.Coordinate{Lat: 1, Lon: 1}},
		{Time: base.Add(2 * time.Hour), Coord: geo.Coordinate{Lat: 2, Lon: 2}},
		{Time: base.Add(5 * time.Hour), Coord: geo.Coordinate{Lat: 3, Lon: 3}},
	}

	tests := []struct {
		name  string
		query time.Time
		want  geo.Coordinate
	}{
		{"equidistant picks earlier", base.Add(time.Hour), geo.Coordinate{Lat: 1, Lon: 1}},
		{"closer to second", base.Add(90 * time.Minute), geo.Coordinate{Lat: 2, Lon: 2}},
		{"before all", base.Add(-24 * time.Hour), geo.Coordinate{Lat: 1, Lon: 1}},
		{"after all", base.Add(48 * time.Hour), geo.Coordinate{Lat: 3, Lon: 3}},
		{"other zone same instant", base.Add(5 * time.Hour).In(time.FixedZone("X", 3*3600)), geo.Coordinate{Lat: 3, Lon: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Nearest(tt.query, points)
			if !ok || got != tt.want {
				t.Errorf("Nearest() = %v, %v, want %v", got, ok, tt.want)
			}
		})
	}

	if _, ok := Nearest(base, nil); ok {
		t.Error("Nearest() on empty points reported a match")
	}
}

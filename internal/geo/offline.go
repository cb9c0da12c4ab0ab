package geo

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

//go:embed places.csv
var embeddedPlaces string

// Place is one named populated place.
type Place struct {
	Name  string
	Coord Coordinate
}

// Gazetteer answers offline reverse lookups with the nearest known place.
type Gazetteer struct {
	places []Place
	maxKm  float64
}

// NewGazetteer builds a gazetteer. Places farther than maxKm from the query
// are not considered a match; maxKm <= 0 disables the limit.
func NewGazetteer(places []Place, maxKm float64) *Gazetteer {
	return &Gazetteer{places: places, maxKm: maxKm}
}

// DefaultPlaces returns the bundled list of major cities.
func DefaultPlaces() []Place {
	places, err := ParsePlacesCSV(strings.NewReader(embeddedPlaces))
	if err != nil {
		panic(fmt.Sprintf("embedded places: %v", err))
	}
	return places
}

// Lookup returns the name of the closest place within range.
func (g *Gazetteer) Lookup(_ context.Context, c Coordinate) (string, bool) {
	best := -1
	bestKm := 0.0
	for i, p := range g.places {
		d := DistanceKm(c, p.Coord)
		if best < 0 || d < bestKm {
			best, bestKm = i, d
		}
	}
	if best < 0 || (g.maxKm > 0 && bestKm > g.maxKm) {
		return "", false
	}
	return g.places[best].Name, true
}

// ParsePlacesCSV reads "name,lat,lon" rows with a header line.
func ParsePlacesCSV(r io.Reader) ([]Place, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read places csv: %w", err)
	}
	if len(rows) > 0 && rows[0][0] == "name" {
		rows = rows[1:]
	}

	places := make([]Place, 0, len(rows))
	for i, row := range rows {
		lat, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid latitude %q", i+1, row[1])
		}
		lon, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid longitude %q", i+1, row[2])
		}
		places = append(places, Place{Name: row[0], Coord: Coordinate{Lat: lat, Lon: lon}})
	}
	return places, nil
}

// LoadGeoNames reads a GeoNames dump (cities500.txt, cities1000.txt, ...).
// Rows are tab separated; name is column 2, latitude and longitude are
// columns 5 and 6. Malformed rows are skipped.
func LoadGeoNames(path string) ([]Place, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open places file: %w", err)
	}
	defer f.Close()

	var places []Place
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 6 {
			continue
		}
		lat, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(fields[5], 64)
		if err != nil {
			continue
		}
		places = append(places, Place{Name: fields[1], Coord: Coordinate{Lat: lat, Lon: lon}})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read places file: %w", err)
	}
	return places, nil
}

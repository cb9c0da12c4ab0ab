// Package geo turns coordinates and timestamps into city names. Lookups run
// through a chain of tiers (cache, offline place database, online geocoder)
// with first-success-wins semantics; the location archive supplies
// coordinates when a file carries none.
package geo

import (
	"math"
	"strconv"
	"time"
)

// UnknownCity is returned when no tier could name a place. It is never cached.
const UnknownCity = "Unknown city"

// zeroEpsilon is the threshold below which a (lat, lon) pair is treated as the
// 0,0 sensor artifact rather than a real fix.
const zeroEpsilon = 1e-4

const earthRadiusKm = 6371.0

// Coordinate is a point in signed decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IsZero reports whether both components are within epsilon of zero.
func (c Coordinate) IsZero() bool {
	return math.Abs(c.Lat) < zeroEpsilon && math.Abs(c.Lon) < zeroEpsilon
}

// Valid reports whether the coordinate lies within the WGS84 ranges.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lon)
}

// Key renders the cache key: shortest round-trip decimals joined by a comma.
func (c Coordinate) Key() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lon, 'f', -1, 64)
}

func (c Coordinate) String() string {
	return c.Key()
}

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b Coordinate) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Point is one location history sample.
type Point struct {
	Time  time.Time  `json:"time"`
	Coord Coordinate `json:"coord"`
}

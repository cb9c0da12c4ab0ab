package media

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ViktorIovenko/KopifilesNAS/internal/geo"
	"github.com/rwcarlsen/goexif/exif"
)

const exifTimeLayout = "2006:01:02 15:04:05"

var sidecarPattern = regexp.MustCompile(`\[latitude: ([\d.-]+)\] \[longitude: ([\d.-]+)\]`)

// Camera is the body that took a photo.
type Camera struct {
	Make   string `json:"make,omitempty"`
	Model  string `json:"model,omitempty"`
	Serial string `json:"serial,omitempty"`
}

// Empty reports whether nothing identifies the camera.
func (c Camera) Empty() bool {
	return c.Make == "" && c.Model == "" && c.Serial == ""
}

// Metadata is what one file tells us about when and where it was taken.
type Metadata struct {
	CaptureTime time.Time
	Coord       geo.Coordinate
	HasCoord    bool
	Camera      Camera
	// Sidecar is the telemetry file that accompanies a video.
	Sidecar string
}

// Extractor reads capture metadata from photos, videos and sidecars.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract returns the metadata of path. Only a missing or unreadable file is
// an error; absent EXIF or telemetry just means mtime and no coordinate.
func (e *Extractor) Extract(path string, class Class) (Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	md := Metadata{CaptureTime: info.ModTime()}

	switch class {
	case ClassPhoto:
		ex, err := readEXIF(path)
		if err != nil {
			e.logger.Debug("no usable EXIF", "path", path, "error", err)
			return md, nil
		}
		if !ex.captureTime.IsZero() {
			md.CaptureTime = ex.captureTime
		}
		md.Coord, md.HasCoord = ex.coord, ex.hasCoord
		md.Camera = ex.camera
	case ClassVideo:
		if sidecar, ok := SidecarFor(path); ok {
			md.Sidecar = sidecar
			md.Coord, md.HasCoord = e.sidecarCoord(sidecar)
		}
	case ClassSidecar:
		md.Coord, md.HasCoord = e.sidecarCoord(path)
	}
	return md, nil
}

// ReadCamera returns the camera identity recorded in a photo's EXIF.
func (e *Extractor) ReadCamera(path string) (Camera, bool) {
	ex, err := readEXIF(path)
	if err != nil || ex.camera.Empty() {
		return Camera{}, false
	}
	return ex.camera, true
}

func (e *Extractor) sidecarCoord(path string) (geo.Coordinate, bool) {
	f, err := os.Open(path)
	if err != nil {
		e.logger.Warn("failed to open sidecar", "path", path, "error", err)
		return geo.Coordinate{}, false
	}
	defer f.Close()

	c, ok, err := ParseSidecar(f)
	if err != nil {
		e.logger.Warn("failed to read sidecar", "path", path, "error", err)
	}
	return c, ok
}

// ParseSidecar scans telemetry text for the first
// "[latitude: x] [longitude: y]" pair.
func ParseSidecar(r io.Reader) (geo.Coordinate, bool, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := sidecarPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		lat, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		c := geo.Coordinate{Lat: lat, Lon: lon}
		if c.IsZero() || !c.Valid() {
			continue
		}
		return c, true, nil
	}
	return geo.Coordinate{}, false, scanner.Err()
}

type exifInfo struct {
	captureTime time.Time
	coord       geo.Coordinate
	hasCoord    bool
	camera      Camera
}

func readEXIF(path string) (exifInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return exifInfo{}, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return exifInfo{}, err
	}

	var out exifInfo
	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized, exif.DateTime} {
		if s := stringTag(x, field); s != "" {
			if t, err := time.ParseInLocation(exifTimeLayout, s, time.Local); err == nil {
				out.captureTime = t
				break
			}
		}
	}

	lat, latOK := gpsDegrees(x, exif.GPSLatitude, exif.GPSLatitudeRef, "N")
	lon, lonOK := gpsDegrees(x, exif.GPSLongitude, exif.GPSLongitudeRef, "E")
	if latOK && lonOK {
		c := geo.Coordinate{Lat: lat, Lon: lon}
		if !c.IsZero() && c.Valid() {
			out.coord, out.hasCoord = c, true
		}
	}

	out.camera = Camera{
		Make:   stringTag(x, exif.Make),
		Model:  stringTag(x, exif.Model),
		Serial: stringTag(x, exif.ImageUniqueID),
	}
	return out, nil
}

func stringTag(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

// gpsDegrees converts a degree/minute/second rational triple. Any reference
// other than positive flips the sign.
func gpsDegrees(x *exif.Exif, field, refField exif.FieldName, positive string) (float64, bool) {
	tag, err := x.Get(field)
	if err != nil || tag.Count < 3 {
		return 0, false
	}
	var parts [3]float64
	for i := range parts {
		num, den, err := tag.Rat2(i)
		if err != nil || den == 0 {
			return 0, false
		}
		parts[i] = float64(num) / float64(den)
	}
	deg := parts[0] + parts[1]/60 + parts[2]/3600

	if ref := stringTag(x, refField); ref != "" && !strings.EqualFold(ref, positive) {
		deg = -deg
	}
	return deg, true
}

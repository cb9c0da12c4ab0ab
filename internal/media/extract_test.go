package media

import (
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ViktorIovenko/KopifilesNAS/internal/media/mediatest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path string, data []byte, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExtractPhotoEXIF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "IMG_0001.tiff")
	writeFile(t, path, mediatest.BuildTIFF(mediatest.Paris()), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))

	md, err := NewExtractor(testLogger()).Extract(path, ClassPhoto)
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}

	want := time.Date(2024, 3, 5, 14, 30, 0, 0, time.Local)
	if !md.CaptureTime.Equal(want) {
		t.Errorf("CaptureTime = %v, want %v", md.CaptureTime, want)
	}
	if !md.HasCoord {
		t.Fatal("HasCoord = false, want true")
	}
	if math.Abs(md.Coord.Lat-48.8566) > 1e-4 || math.Abs(md.Coord.Lon-2.3522) > 1e-4 {
		t.Errorf("Coord = %v, want about 48.8566,2.3522", md.Coord)
	}
	if md.Camera.Make != "Canon" || md.Camera.Model != "EOS R6" || md.Camera.Serial != "0123456789" {
		t.Errorf("Camera = %+v", md.Camera)
	}
}

func TestExtractPhotoWithoutUniqueID(t *testing.T) {
	f := mediatest.Paris()
	f.Serial = ""
	path := filepath.Join(t.TempDir(), "IMG_0003.tiff")
	writeFile(t, path, mediatest.BuildTIFF(f), time.Time{})

	md, err := NewExtractor(testLogger()).Extract(path, ClassPhoto)
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if md.Camera.Make != "Canon" || md.Camera.Serial != "" {
		t.Errorf("Camera = %+v, want Canon with no serial", md.Camera)
	}
}

func TestExtractPhotoHemispheres(t *testing.T) {
	f := mediatest.Paris()
	f.LatRef, f.LonRef = "S", "W"
	path := filepath.Join(t.TempDir(), "IMG_0002.tiff")
	writeFile(t, path, mediatest.BuildTIFF(f), time.Time{})

	md, err := NewExtractor(testLogger()).Extract(path, ClassPhoto)
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if md.Coord.Lat >= 0 || md.Coord.Lon >= 0 {
		t.Errorf("Coord = %v, want both negative", md.Coord)
	}
}

func TestExtractPhotoZeroGPSIsAbsent(t *testing.T) {
	f := mediatest.Paris()
	f.Lat = [3][2]uint32{{0, 1}, {0, 1}, {0, 1}}
	f.Lon = [3][2]uint32{{0, 1}, {0, 1}, {0, 1}}
	path := filepath.Join(t.TempDir(), "IMG_0003.tiff")
	writeFile(t, path, mediatest.BuildTIFF(f), time.Time{})

	md, err := NewExtractor(testLogger()).Extract(path, ClassPhoto)
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if md.HasCoord {
		t.Errorf("HasCoord = true for 0,0 fix: %v", md.Coord)
	}
}

func TestExtractPhotoDateFallback(t *testing.T) {
	f := mediatest.Paris()
	f.DateTimeOriginal = ""
	f.WithGPS = false
	path := filepath.Join(t.TempDir(), "IMG_0004.tiff")
	writeFile(t, path, mediatest.BuildTIFF(f), time.Time{})

	md, err := NewExtractor(testLogger()).Extract(path, ClassPhoto)
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	want := time.Date(2024, 3, 6, 9, 0, 0, 0, time.Local)
	if !md.CaptureTime.Equal(want) {
		t.Errorf("CaptureTime = %v, want DateTime %v", md.CaptureTime, want)
	}
	if md.HasCoord {
		t.Error("HasCoord = true without GPS tags")
	}
}

func TestExtractPhotoWithoutEXIF(t *testing.T) {
	mtime := time.Date(2023, 8, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "plain.jpg")
	writeFile(t, path, []byte("not really a jpeg"), mtime)

	md, err := NewExtractor(testLogger()).Extract(path, ClassPhoto)
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if !md.CaptureTime.Equal(mtime) {
		t.Errorf("CaptureTime = %v, want mtime %v", md.CaptureTime, mtime)
	}
	if md.HasCoord || !md.Camera.Empty() {
		t.Errorf("unexpected metadata %+v", md)
	}
}

func TestExtractMissingFile(t *testing.T) {
	if _, err := NewExtractor(testLogger()).Extract(filepath.Join(t.TempDir(), "gone.jpg"), ClassPhoto); err == nil {
		t.Error("Extract() succeeded for a missing file")
	}
}

func TestExtractVideoSidecar(t *testing.T) {
	dir := t.TempDir()
	mtime := time.Date(2024, 3, 5, 18, 0, 0, 0, time.UTC)
	video := filepath.Join(dir, "DJI_0001.MP4")
	writeFile(t, video, []byte("video"), mtime)
	srt := strings.Join([]string{
		"1",
		"00:00:00,000 --> 00:00:00,033",
		"<font size=\"28\">FrameCnt: 1, DiffTime: 33ms",
		"[iso: 100] [shutter: 1/640.0] [latitude: 48.8584] [longitude: 2.2945] [rel_alt: 1.300 abs_alt: 95.1]</font>",
		"",
		"2",
		"[latitude: 10.0] [longitude: 10.0]",
	}, "\n")
	writeFile(t, filepath.Join(dir, "DJI_0001.SRT"), []byte(srt), time.Time{})

	md, err := NewExtractor(testLogger()).Extract(video, ClassVideo)
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if !md.CaptureTime.Equal(mtime) {
		t.Errorf("CaptureTime = %v, want mtime", md.CaptureTime)
	}
	if !md.HasCoord || md.Coord.Lat != 48.8584 || md.Coord.Lon != 2.2945 {
		t.Errorf("Coord = %v, %v, want first telemetry fix", md.Coord, md.HasCoord)
	}
	if filepath.Base(md.Sidecar) != "DJI_0001.SRT" {
		t.Errorf("Sidecar = %q", md.Sidecar)
	}
}

func TestExtractVideoWithoutSidecar(t *testing.T) {
	video := filepath.Join(t.TempDir(), "CLIP_0001.mp4")
	writeFile(t, video, []byte("video"), time.Time{})

	md, err := NewExtractor(testLogger()).Extract(video, ClassVideo)
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if md.HasCoord || md.Sidecar != "" {
		t.Errorf("unexpected metadata %+v", md)
	}
}

func TestParseSidecar(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		wantOK bool
		lat    float64
	}{
		{"match", "[latitude: -33.8568] [longitude: 151.2153]", true, -33.8568},
		{"zero fix skipped", "[latitude: 0.000000] [longitude: 0.000000]\n[latitude: 1.5] [longitude: 2.5]", true, 1.5},
		{"no telemetry", "00:00:01,000 --> 00:00:02,000\nhello", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok, err := ParseSidecar(strings.NewReader(tt.text))
			if err != nil {
				t.Fatalf("ParseSidecar() error: %v", err)
			}
			if ok != tt.wantOK || (ok && c.Lat != tt.lat) {
				t.Errorf("ParseSidecar() = %v, %v", c, ok)
			}
		})
	}
}

func TestClassOf(t *testing.T) {
	tests := map[string]Class{
		"a/IMG_0001.JPG": ClassPhoto,
		"b.tiff":         ClassPhoto,
		"DJI_0001.MP4":   ClassVideo,
		"clip.mkv":       ClassVideo,
		"DJI_0001.SRT":   ClassSidecar,
		"DJI_0001.LRF":   ClassOther,
		"notes.txt":      ClassOther,
	}
	for path, want := range tests {
		if got := ClassOf(path); got != want {
			t.Errorf("ClassOf(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestCompanionVideo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "DJI_0002.MOV"), []byte("v"), time.Time{})
	writeFile(t, filepath.Join(dir, "DJI_0002.srt"), []byte("s"), time.Time{})
	writeFile(t, filepath.Join(dir, "ORPHAN.srt"), []byte("s"), time.Time{})

	if v, ok := CompanionVideo(filepath.Join(dir, "DJI_0002.srt"), nil); !ok || filepath.Base(v) != "DJI_0002.MOV" {
		t.Errorf("CompanionVideo() = %q, %v", v, ok)
	}
	onlyMP4 := func(ext string) bool { return ext == ".mp4" }
	if _, ok := CompanionVideo(filepath.Join(dir, "DJI_0002.srt"), onlyMP4); ok {
		t.Error("CompanionVideo() matched a video that is not allowed")
	}
	if _, ok := CompanionVideo(filepath.Join(dir, "ORPHAN.srt"), nil); ok {
		t.Error("CompanionVideo() matched for an orphan sidecar")
	}
}

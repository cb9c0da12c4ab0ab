package geo

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sams96/rgeo"
	"github.com/twpayne/go-geom"
)

// Boundaries answers offline lookups by point-in-polygon against the Natural
// Earth urban areas bundled with rgeo. The dataset is decoded on first use,
// so commands that never geocode do not pay for it.
type Boundaries struct {
	logger *slog.Logger

	once sync.Once
	rg   *rgeo.Rgeo
}

// NewBoundaries returns an unloaded boundary tier.
func NewBoundaries(logger *slog.Logger) *Boundaries {
	if logger == nil {
		logger = slog.Default()
	}
	return &Boundaries{logger: logger}
}

func (b *Boundaries) load() {
	rg, err := rgeo.New(rgeo.Cities10)
	if err != nil {
		b.logger.Warn("urban area boundaries unavailable", "error", err)
		return
	}
	rg.Build()
	b.rg = rg
}

// Lookup returns the urban area containing c.
func (b *Boundaries) Lookup(_ context.Context, c Coordinate) (string, bool) {
	if !c.Valid() || c.IsZero() {
		return "", false
	}
	b.once.Do(b.load)
	if b.rg == nil {
		return "", false
	}
	loc, err := b.rg.ReverseGeocode(geom.Coord{c.Lon, c.Lat})
	if err != nil {
		if !errors.Is(err, rgeo.ErrLocationNotFound) {
			b.logger.Debug("boundary lookup failed", "coord", c.Key(), "error", err)
		}
		return "", false
	}
	if loc.City == "" {
		return "", false
	}
	return loc.City, true
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ViktorIovenko/KopifilesNAS/internal/geo"
)

func newGeocodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "geocode LAT LON",
		Short: "Resolve a coordinate through the geocoding chain",
		Long: `Resolve a coordinate the way a copy would: the cache first, then the
offline place list, then the online geocoder. Names found are cached.`,
		Example: `  kopirnas geocode 48.8566 2.3522
  kopirnas geocode -- -33.8688 151.2093`,
		Args: cobra.ExactArgs(2),
		RunE: geocodeRun,
	}
}

func parseCoordinate(latRaw, lonRaw string) (geo.Coordinate, error) {
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("invalid latitude %q", latRaw)
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("invalid longitude %q", lonRaw)
	}
	c := geo.Coordinate{Lat: lat, Lon: lon}
	if !c.Valid() {
		return geo.Coordinate{}, fmt.Errorf("coordinate %s out of range", c)
	}
	return c, nil
}

func geocodeRun(cmd *cobra.Command, args []string) error {
	c, err := parseCoordinate(args[0], args[1])
	if err != nil {
		return err
	}
	resolver := geo.NewResolver(globalCache, nil, logger, globalTiers...)
	fmt.Println(resolver.ResolveByCoordinate(cmd.Context(), c))
	return nil
}

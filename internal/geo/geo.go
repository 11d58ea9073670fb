// Package geo converts game-plane coordinates to simplefeatures geometry.
// The plane has no geodetic reference, so every geometry is planar XY.
package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/chronoportal/server/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ParseCoordinates parses a string in the format "x,y" into plane coordinates.
// Both values must be finite.
func ParseCoordinates(s string) (core.Coordinates, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return core.Coordinates{}, ErrInvalidCoordinates
	}
	x, err := parseFinite(parts[0])
	if err != nil {
		return core.Coordinates{}, err
	}
	y, err := parseFinite(parts[1])
	if err != nil {
		return core.Coordinates{}, err
	}
	return core.Coordinates{X: x, Y: y}, nil
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrInvalidCoordinates
	}
	return v, nil
}

// Point returns c as an XY point.
func Point(c core.Coordinates) geom.Point {
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: c.X, Y: c.Y}, Type: geom.DimXY})
}

// Trajectory builds a line string through the given locations in order.
// Fewer than two locations yield an empty line string.
func Trajectory(path []core.Coordinates) geom.LineString {
	if len(path) < 2 {
		return geom.LineString{}
	}
	flat := make([]float64, 0, len(path)*2)
	for _, c := range path {
		flat = append(flat, c.X, c.Y)
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
}

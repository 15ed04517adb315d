// Package geo converts a search center and radius into covering grid cells
// and rectangular bounding boxes.
//
// The math is a flat-earth local projection with longitude scaled by
// cos(latitude). It is adequate at sub-100 km scales and degrades near the
// poles.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

const (
	// EarthRadiusMeters is the WGS84 equatorial radius.
	EarthRadiusMeters = 6378137.0
	// KMPerDegree is the length of one degree of latitude.
	KMPerDegree = 111.32
)

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// String renders the coordinate as "lat, lon".
func (c Coordinate) String() string {
	return fmt.Sprintf("%g, %g", c.Lat, c.Lon)
}

// Point converts to an orb point (x = lon, y = lat).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lon, c.Lat}
}

// ParseCoordinate parses a "lat, lon" string.
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Coordinate{}, eris.Errorf("geo: expected \"lat, lon\", got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coordinate{}, eris.Wrapf(err, "geo: parse latitude %q", parts[0])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coordinate{}, eris.Wrapf(err, "geo: parse longitude %q", parts[1])
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Coordinate{}, eris.Errorf("geo: coordinate out of range: %q", s)
	}
	return Coordinate{Lat: lat, Lon: lon}, nil
}

// BoundingBox is an axis-aligned rectangle. TopLeft is the north-west corner
// and BottomRight the south-east corner.
type BoundingBox struct {
	TopLeft     Coordinate `json:"topLeft"`
	BottomRight Coordinate `json:"bottomRight"`
}

// Bound returns the box as an orb.Bound.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.TopLeft.Lon, b.BottomRight.Lat},
		Max: orb.Point{b.BottomRight.Lon, b.TopLeft.Lat},
	}
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Coordinate {
	c := b.Bound().Center()
	return Coordinate{Lat: c.Y(), Lon: c.X()}
}

// Contains reports whether c lies inside or on the edge of the box.
func (b BoundingBox) Contains(c Coordinate) bool {
	return b.Bound().Contains(c.Point())
}

// Polygon returns the box as a closed SRID 4326 polygon ring.
func (b BoundingBox) Polygon() *geom.Polygon {
	minLon, minLat := b.TopLeft.Lon, b.BottomRight.Lat
	maxLon, maxLat := b.BottomRight.Lon, b.TopLeft.Lat
	flat := []float64{
		minLon, minLat,
		maxLon, minLat,
		maxLon, maxLat,
		minLon, maxLat,
		minLon, minLat,
	}
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}).SetSRID(4326)
}

// BoundingBoxFor returns the rectangle circumscribing a circle of
// radiusMeters around center. A non-positive radius yields a zero-area box.
func BoundingBoxFor(center Coordinate, radiusMeters float64) BoundingBox {
	if radiusMeters <= 0 {
		return BoundingBox{TopLeft: center, BottomRight: center}
	}
	radiusKM := radiusMeters / 1000
	dLat := radiusKM / KMPerDegree
	dLon := radiusKM / (KMPerDegree * math.Cos(center.Lat*math.Pi/180))

	return BoundingBox{
		TopLeft:     Coordinate{Lat: center.Lat + dLat, Lon: center.Lon - dLon},
		BottomRight: Coordinate{Lat: center.Lat - dLat, Lon: center.Lon + dLon},
	}
}

// CellsPerSide returns how many cells of edge cellSize are needed to span
// 2*halfSide. It is at least 1.
func CellsPerSide(halfSide, cellSize float64) int {
	if halfSide <= 0 || cellSize <= 0 {
		return 1
	}
	return int(math.Ceil(2 * halfSide / cellSize))
}

// CoveringCells returns the centers of an n x n grid of cells with edge
// cellSize meters covering the square of side 2*halfSide around center.
// Cells are ordered south to north, and within a row east to west.
func CoveringCells(center Coordinate, halfSide, cellSize float64) []Coordinate {
	n := CellsPerSide(halfSide, cellSize)
	if n == 1 && (halfSide <= 0 || cellSize <= 0) {
		return []Coordinate{center}
	}

	latDiff := cellSize / EarthRadiusMeters * (180 / math.Pi)
	lonDiff := latDiff / math.Cos(center.Lat*math.Pi/180)
	half := float64(n) / 2

	cells := make([]Coordinate, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cells = append(cells, Coordinate{
				Lat: center.Lat + latDiff*(float64(i)-half+0.5),
				Lon: center.Lon - lonDiff*(float64(j)-half+0.5),
			})
		}
	}
	return cells
}

// CellBoxes returns the search box for each covering cell, using the cell
// edge as the box radius.
func CellBoxes(center Coordinate, halfSide, cellSize float64) []BoundingBox {
	cells := CoveringCells(center, halfSide, cellSize)
	boxes := make([]BoundingBox, len(cells))
	for i, c := range cells {
		boxes[i] = BoundingBoxFor(c, cellSize)
	}
	return boxes
}

// Union returns the smallest bound containing every box.
func Union(boxes []BoundingBox) orb.Bound {
	if len(boxes) == 0 {
		return orb.Bound{}
	}
	u := boxes[0].Bound()
	for _, b := range boxes[1:] {
		u = u.Union(b.Bound())
	}
	return u
}

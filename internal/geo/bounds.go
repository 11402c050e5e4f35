package geo

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/example/fleet-tracker/internal/models"
)

const (
	MinZoom = 1
	MaxZoom = 18
	// PointZoom is used when a fit collapses to a single point.
	PointZoom = 15
)

// Bounds is the rectangle a view has to show.
type Bounds struct {
	SouthWest models.Coord `json:"southWest"`
	NorthEast models.Coord `json:"northEast"`
}

func (b Bounds) Center() models.Coord {
	c := b.bound().Center()
	return models.Coord{Lat: c.Lat(), Lng: c.Lon()}
}

func (b Bounds) bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.SouthWest.Lng, b.SouthWest.Lat},
		Max: orb.Point{b.NorthEast.Lng, b.NorthEast.Lat},
	}
}

// Fit returns the smallest rectangle holding every coordinate. ok is false for
// an empty input.
func Fit(coords []models.Coord) (Bounds, bool) {
	if len(coords) == 0 {
		return Bounds{}, false
	}
	mp := make(orb.MultiPoint, 0, len(coords))
	for _, c := range coords {
		mp = append(mp, orb.Point{c.Lng, c.Lat})
	}
	b := mp.Bound()
	return Bounds{
		SouthWest: models.Coord{Lat: b.Min.Lat(), Lng: b.Min.Lon()},
		NorthEast: models.Coord{Lat: b.Max.Lat(), Lng: b.Max.Lon()},
	}, true
}

// ZoomFor approximates the web-map zoom level that shows b on one 256px tile.
func ZoomFor(b Bounds) int {
	span := math.Max(b.NorthEast.Lat-b.SouthWest.Lat, b.NorthEast.Lng-b.SouthWest.Lng)
	if span <= 0 {
		return PointZoom
	}
	z := int(math.Floor(math.Log2(360 / span)))
	if z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}

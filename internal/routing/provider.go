package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/fleet-tracker/internal/geo"
	"github.com/example/fleet-tracker/internal/models"
)

// Provider is an external road-routing service. Any error, timeout or
// unusable geometry counts as a failed attempt.
type Provider interface {
	Name() string
	Route(ctx context.Context, from, to models.Coord) (models.RoutePlan, error)
}

// ProviderError is one failed provider attempt. The resolver recovers from it
// locally; it only shows up in logs and metrics.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("provider %s: %v", e.Provider, e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

var (
	ErrNoRoute       = errors.New("no route in response")
	ErrBadGeometry   = errors.New("malformed or empty geometry")
	ErrRateLimited   = errors.New("provider rate limit reached")
	ErrNotConfigured = errors.New("provider not configured")
)

// StraightLine is the terminal fallback. It cannot fail.
func StraightLine(from, to models.Coord) models.RoutePlan {
	return models.RoutePlan{
		Path:       []models.Coord{from, to},
		Distance:   geo.Distance(from, to),
		Provenance: models.ProvenanceStraightLine,
	}
}

// checkPlan rejects geometry that cannot be drawn.
func checkPlan(p models.RoutePlan) error {
	if len(p.Path) < 2 {
		return ErrBadGeometry
	}
	for _, c := range p.Path {
		if !geo.ValidLat(c.Lat) || !geo.ValidLng(c.Lng) {
			return ErrBadGeometry
		}
	}
	if p.Distance < 0 || p.Distance != p.Distance {
		return fmt.Errorf("%w: distance %v", ErrBadGeometry, p.Distance)
	}
	return nil
}

// lngLatPairs converts GeoJSON [lng, lat] positions.
func lngLatPairs(coords [][]float64) ([]models.Coord, error) {
	out := make([]models.Coord, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			return nil, ErrBadGeometry
		}
		out = append(out, models.Coord{Lat: c[1], Lng: c[0]})
	}
	return out, nil
}

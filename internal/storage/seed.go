package storage

import (
	"context"

	"github.com/example/fleet-tracker/internal/models"
)

// DemoFleet is the regional demo data set, two trucks per region.
var DemoFleet = []struct {
	ID  string
	Pos models.Coord
}{
	{"North-Truck-1", models.Coord{Lat: 28.7041, Lng: 77.1025}},
	{"North-Truck-2", models.Coord{Lat: 30.7333, Lng: 76.7794}},
	{"South-Truck-1", models.Coord{Lat: 12.9716, Lng: 77.5946}},
	{"South-Truck-2", models.Coord{Lat: 13.0827, Lng: 80.2707}},
	{"East-Truck-1", models.Coord{Lat: 22.5726, Lng: 88.3639}},
	{"East-Truck-2", models.Coord{Lat: 26.1445, Lng: 91.7362}},
	{"West-Truck-1", models.Coord{Lat: 19.0760, Lng: 72.8777}},
	{"West-Truck-2", models.Coord{Lat: 18.5204, Lng: 73.8567}},
}

// SeedDemo upserts the demo fleet unless North-Truck-1 already exists.
// It reports whether anything was written.
func SeedDemo(ctx context.Context, s LocationStore) (bool, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range all {
		if d.ID == DemoFleet[0].ID {
			return false, nil
		}
	}
	for _, t := range DemoFleet {
		if _, err := s.Upsert(ctx, t.ID, t.Pos.Lat, t.Pos.Lng); err != nil {
			return false, err
		}
	}
	return true, nil
}

package main

import (
	"math"
	"testing"

	"github.com/example/fleet-tracker/internal/geo"
	"github.com/example/fleet-tracker/internal/models"
)

func TestWalkMovesRequestedDistance(t *testing.T) {
	start := models.Coord{Lat: 12.9716, Lng: 77.5946}
	for _, bearing := range []float64{0, math.Pi / 2, math.Pi, 3 * math.Pi / 2} {
		got := walk(start, bearing, 150)
		d := geo.Distance(start, got)
		if math.Abs(d-150) > 1 {
			t.Fatalf("bearing %.2f: moved %.2f m, want ~150", bearing, d)
		}
	}
}

func TestWalkWrapsLongitude(t *testing.T) {
	got := walk(models.Coord{Lat: 0, Lng: 179.9999}, math.Pi/2, 1000)
	if !geo.ValidLng(got.Lng) || got.Lng > 0 {
		t.Fatalf("expected wrap to the western hemisphere, got %v", got.Lng)
	}
}

package geo

import (
	"math"
	"strings"
	"time"

	"github.com/example/fleet-tracker/internal/models"
)

// EarthRadiusM is the sphere radius used for every distance in the system.
const EarthRadiusM = 6371000.0

// OfflineAfter is how long a device may stay silent before it is shown offline.
const OfflineAfter = 15 * time.Minute

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push a just past 1 for antipodal points
	a = math.Max(0, math.Min(1, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// PathLength sums the great-circle legs of an ordered path.
func PathLength(path []models.Coord) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += Distance(path[i-1], path[i])
	}
	return total
}

// IsOffline is derived on read, never stored.
func IsOffline(now, lastUpdated time.Time) bool {
	return now.Sub(lastUpdated) > OfflineAfter
}

func ValidLat(v float64) bool { return !math.IsNaN(v) && v >= -90 && v <= 90 }
func ValidLng(v float64) bool { return !math.IsNaN(v) && v >= -180 && v <= 180 }

type Region string

const (
	RegionNorth Region = "North"
	RegionSouth Region = "South"
	RegionEast  Region = "East"
	RegionWest  Region = "West"
)

var Regions = []Region{RegionNorth, RegionSouth, RegionEast, RegionWest}

// RegionOf buckets a device for the viewer menu. A region prefix in the id wins;
// otherwise the split is by coordinate, tuned for the Indian subcontinent.
// Pending devices without a prefix report ok=false.
func RegionOf(d models.Device) (Region, bool) {
	for _, r := range Regions {
		if strings.HasPrefix(d.ID, string(r)) {
			return r, true
		}
	}
	f, ok := d.Located()
	if !ok {
		return "", false
	}
	switch {
	case f.Lat >= 22 && f.Lng < 79:
		return RegionNorth, true
	case f.Lat >= 22:
		return RegionEast, true
	case f.Lng < 76:
		return RegionWest, true
	case f.Lng > 85:
		return RegionEast, true
	default:
		return RegionSouth, true
	}
}

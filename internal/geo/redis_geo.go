package geo

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/fleet-tracker/internal/models"
)

// RedisIndex mirrors the latest device positions into a Redis GEO set so other
// services can run radius queries without touching Postgres.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(client *redis.Client, key string) *RedisIndex {
	return &RedisIndex{client: client, key: key}
}

// Upsert stores the position with GEOADD and the report time in a side hash.
// Pending devices are skipped.
func (r *RedisIndex) Upsert(ctx context.Context, d models.Device) error {
	f, ok := d.Located()
	if !ok {
		return nil
	}
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: f.Lng, Latitude: f.Lat, Name: d.ID}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, MetaKey(d.ID), MetaFields(f)).Err()
}

// Nearby returns located devices within radiusM meters, nearest first.
func (r *RedisIndex) Nearby(ctx context.Context, c models.Coord, radiusM float64, limit int) ([]models.Device, error) {
	locs, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  c.Lng,
			Latitude:   c.Lat,
			Radius:     radiusM,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return []models.Device{}, nil
	}
	pipe := r.client.Pipeline()
	updated := make([]*redis.StringCmd, len(locs))
	for i, g := range locs {
		updated[i] = pipe.HGet(ctx, MetaKey(g.Name), metaUpdated)
	}
	// missing hashes come back as redis.Nil; devicesFromSearch tolerates them
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return devicesFromSearch(locs, updated), nil
}

// devicesFromSearch joins GEOSEARCH hits with their metadata replies. A hit
// without a readable timestamp keeps the zero time.
func devicesFromSearch(locs []redis.GeoLocation, updated []*redis.StringCmd) []models.Device {
	out := make([]models.Device, 0, len(locs))
	for i, g := range locs {
		var at time.Time
		if i < len(updated) {
			if v, err := updated[i].Result(); err == nil {
				at, _ = time.Parse(time.RFC3339Nano, v)
			}
		}
		out = append(out, models.LocatedDevice(g.Name, g.Latitude, g.Longitude, at))
	}
	return out
}

const metaUpdated = "updated"

// MetaKey is the hash holding per-device metadata next to the GEO member.
func MetaKey(id string) string { return "device:meta:" + id }

// MetaFields is the metadata hash written for a located device.
func MetaFields(f models.Fix) map[string]interface{} {
	return map[string]interface{}{metaUpdated: f.LastUpdated.UTC().Format(time.RFC3339Nano)}
}

// ParseRadius is shared by the HTTP layer; it caps silly values at 50 km.
func ParseRadius(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 5000
	}
	if f > 50000 {
		return 50000
	}
	return f
}

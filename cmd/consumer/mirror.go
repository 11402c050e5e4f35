package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/fleet-tracker/internal/geo"
	"github.com/example/fleet-tracker/internal/models"
	"github.com/example/fleet-tracker/internal/observability"
)

// MessageReader is the part of *kafka.Reader the mirror consumes.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// RedisUpdater is the subset of redis the mirror writes through.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	return r.c.GeoAdd(ctx, key, loc).Err()
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return r.c.HSet(ctx, key, values).Err()
}

// geoMirror copies accepted device positions from the location topic into
// the Redis GEO set behind /api/devices/nearby.
type geoMirror struct {
	reader     MessageReader
	redis      RedisUpdater
	geoKey     string
	logger     *slog.Logger
	attempts   int
	retryDelay time.Duration
	maxBackoff time.Duration
}

func newGeoMirror(reader MessageReader, rc RedisUpdater, geoKey string, logger *slog.Logger) *geoMirror {
	return &geoMirror{
		reader:     reader,
		redis:      rc,
		geoKey:     geoKey,
		logger:     logger,
		attempts:   3,
		retryDelay: 200 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

func (m *geoMirror) Serve(ctx context.Context) error {
	initial := min(time.Second, m.maxBackoff)
	backoff := initial
	for {
		msg, err := m.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("kafka read failed", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, m.maxBackoff)
			continue
		}
		backoff = initial
		m.handle(ctx, msg)
	}
}

func (m *geoMirror) String() string { return "geo-mirror" }

// handle mirrors one event. Bad payloads and pending devices are counted and
// skipped so a poison message never stalls the partition.
func (m *geoMirror) handle(ctx context.Context, msg kafka.Message) {
	observability.GeoMirrorConsumed.Inc()
	var d models.Device
	if err := json.Unmarshal(msg.Value, &d); err != nil || d.ID == "" {
		observability.GeoMirrorSkipped.WithLabelValues("invalid").Inc()
		m.logger.Warn("skipping undecodable event", "offset", msg.Offset, "error", err)
		return
	}
	if _, ok := d.Located(); !ok {
		observability.GeoMirrorSkipped.WithLabelValues("pending").Inc()
		return
	}
	if err := updateRedisWithRetry(ctx, m.redis, m.geoKey, d, m.attempts, m.retryDelay); err != nil {
		observability.GeoMirrorWrites.WithLabelValues("error").Inc()
		m.logger.Error("geo index write failed", "device_id", d.ID, "error", err)
		return
	}
	observability.GeoMirrorWrites.WithLabelValues("ok").Inc()
}

// updateRedisWithRetry writes the GEO member then its metadata hash in the
// geo.RedisIndex layout. Each failed attempt doubles the delay.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, geoKey string, d models.Device, attempts int, delay time.Duration) error {
	f, ok := d.Located()
	if !ok {
		return nil
	}
	write := func() error {
		if err := rc.GeoAdd(ctx, geoKey, &redis.GeoLocation{Longitude: f.Lng, Latitude: f.Lat, Name: d.ID}); err != nil {
			return err
		}
		return rc.HSet(ctx, geo.MetaKey(d.ID), geo.MetaFields(f))
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = write(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

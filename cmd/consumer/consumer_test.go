package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/fleet-tracker/internal/models"
	"github.com/example/fleet-tracker/internal/observability"
)

type fakeUpdater struct {
	failGeo  int // GeoAdd failures before succeeding
	failH    int // HSet failures before succeeding
	geoCalls int
	hCalls   int
	lastLoc  *redis.GeoLocation
	lastKey  string
	lastVals map[string]interface{}
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	f.lastLoc = loc
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	f.lastKey = key
	f.lastVals = values
	return nil
}

var truck = models.LocatedDevice("North-Truck-1", 28.7041, 77.1025, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	start := time.Now()
	if err := updateRedisWithRetry(context.Background(), f, "devices_geo", truck, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if f.lastLoc.Latitude != 28.7041 || f.lastLoc.Longitude != 77.1025 || f.lastLoc.Name != "North-Truck-1" {
		t.Fatalf("unexpected geo member %+v", f.lastLoc)
	}
	if f.lastKey != "device:meta:North-Truck-1" || f.lastVals["updated"] != "2024-05-01T10:00:00Z" {
		t.Fatalf("unexpected meta write %s %v", f.lastKey, f.lastVals)
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5, failH: 0}
	if err := updateRedisWithRetry(context.Background(), f, "devices_geo", truck, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestUpdateRedisWithRetry_SkipsPendingDevice(t *testing.T) {
	f := &fakeUpdater{}
	if err := updateRedisWithRetry(context.Background(), f, "devices_geo", models.PendingDevice("spare-1"), 3, time.Millisecond); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if f.geoCalls != 0 {
		t.Fatalf("pending device must not be written")
	}
}

// scriptedReader hands out its messages, then fails reads until ctx ends.
type scriptedReader struct {
	msgs []kafka.Message
	errs int
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		return m, nil
	}
	if r.errs > 0 {
		r.errs--
		return kafka.Message{}, errors.New("broker unavailable")
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func TestMirrorHandleSkipsBadEvents(t *testing.T) {
	f := &fakeUpdater{}
	m := newGeoMirror(&scriptedReader{}, f, "devices_geo", slog.New(slog.NewTextHandler(io.Discard, nil)))
	invalid := testutil.ToFloat64(observability.GeoMirrorSkipped.WithLabelValues("invalid"))
	pending := testutil.ToFloat64(observability.GeoMirrorSkipped.WithLabelValues("pending"))

	m.handle(context.Background(), kafka.Message{Value: []byte(`{"deviceId":`)})
	m.handle(context.Background(), kafka.Message{Value: []byte(`{"deviceId":"spare-1","lat":null,"lng":null,"lastUpdated":null}`)})
	m.handle(context.Background(), kafka.Message{Value: []byte(`{"lat":1,"lng":2}`)})
	if f.geoCalls != 0 {
		t.Fatalf("skipped events must not reach redis, got %d writes", f.geoCalls)
	}
	if got := testutil.ToFloat64(observability.GeoMirrorSkipped.WithLabelValues("invalid")) - invalid; got != 2 {
		t.Fatalf("expected 2 invalid skips, got %v", got)
	}
	if got := testutil.ToFloat64(observability.GeoMirrorSkipped.WithLabelValues("pending")) - pending; got != 1 {
		t.Fatalf("expected 1 pending skip, got %v", got)
	}

	m.handle(context.Background(), kafka.Message{Value: []byte(`{"deviceId":"North-Truck-1","lat":28.7041,"lng":77.1025,"lastUpdated":"2024-05-01T10:00:00Z"}`)})
	if f.geoCalls != 1 || f.lastLoc.Name != "North-Truck-1" {
		t.Fatalf("expected one geo write, got %d %+v", f.geoCalls, f.lastLoc)
	}
}

func TestMirrorServeSurvivesReadErrors(t *testing.T) {
	f := &fakeUpdater{}
	reader := &scriptedReader{
		msgs: []kafka.Message{{Value: []byte(`{"deviceId":"East-Truck-1","lat":22.5726,"lng":88.3639,"lastUpdated":"2024-05-01T10:00:00Z"}`)}},
		errs: 1,
	}
	m := newGeoMirror(reader, f, "devices_geo", slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.maxBackoff = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := m.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Serve to stop with the context, got %v", err)
	}
	if f.geoCalls != 1 || reader.errs != 0 {
		t.Fatalf("expected the event mirrored and the read error retried, geo=%d errs=%d", f.geoCalls, reader.errs)
	}
}

package routing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/fleet-tracker/internal/geo"
	"github.com/example/fleet-tracker/internal/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeProvider struct {
	name  string
	plan  models.RoutePlan
	err   error
	block bool
	calls atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Route(ctx context.Context, from, to models.Coord) (models.RoutePlan, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return models.RoutePlan{}, ctx.Err()
	}
	return f.plan, f.err
}

var (
	me    = models.Coord{Lat: 28.7041, Lng: 77.1025}
	south = models.Coord{Lat: 12.9716, Lng: 77.5946}
)

func roadPlan() models.RoutePlan {
	return models.RoutePlan{Path: []models.Coord{me, {Lat: 20, Lng: 77.3}, south}, Distance: 2150000}
}

func TestResolvePrimaryWins(t *testing.T) {
	primary := &fakeProvider{name: "primary", plan: roadPlan()}
	secondary := &fakeProvider{name: "secondary", plan: roadPlan()}
	r := NewResolver(discard, primary, secondary)

	plan := r.Resolve(context.Background(), me, south)
	if plan.Provenance != models.ProvenanceRouted || plan.Provider != "primary" {
		t.Fatalf("expected routed by primary, got %+v", plan)
	}
	if len(plan.Path) != 3 || plan.Distance != 2150000 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if secondary.calls.Load() != 0 {
		t.Fatalf("secondary must not be called when primary succeeds")
	}
}

func TestResolveFallsBackToSecondary(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("HTTP 503")}
	secondary := &fakeProvider{name: "secondary", plan: roadPlan()}
	r := NewResolver(discard, primary, secondary)

	plan := r.Resolve(context.Background(), me, south)
	if plan.Provider != "secondary" || plan.Provenance != models.ProvenanceRouted {
		t.Fatalf("expected secondary route, got %+v", plan)
	}
}

func TestResolveRejectsEmptyGeometry(t *testing.T) {
	primary := &fakeProvider{name: "primary", plan: models.RoutePlan{Path: []models.Coord{me}, Distance: 10}}
	r := NewResolver(discard, primary)

	plan := r.Resolve(context.Background(), me, south)
	if plan.Provenance != models.ProvenanceStraightLine {
		t.Fatalf("single-point geometry must count as failure, got %+v", plan)
	}
}

func TestResolveBothTimeOutGivesStraightLine(t *testing.T) {
	primary := &fakeProvider{name: "primary", block: true}
	secondary := &fakeProvider{name: "secondary", block: true}
	r := NewResolver(discard, primary, secondary)
	r.AttemptTimeout = 20 * time.Millisecond

	plan := r.Resolve(context.Background(), me, south)
	if plan.Provenance != models.ProvenanceStraightLine {
		t.Fatalf("expected straight-line fallback, got %s", plan.Provenance)
	}
	if len(plan.Path) != 2 || plan.Path[0] != me || plan.Path[1] != south {
		t.Fatalf("expected exactly the two endpoints, got %+v", plan.Path)
	}
	if math.Abs(plan.Distance-geo.Distance(me, south)) > 1e-6 {
		t.Fatalf("distance %f != haversine %f", plan.Distance, geo.Distance(me, south))
	}
	if primary.calls.Load() != 1 || secondary.calls.Load() != 1 {
		t.Fatalf("each provider is tried exactly once")
	}
}

func TestStraightLineAntipodal(t *testing.T) {
	from := models.Coord{Lat: -8.3737447300023, Lng: 162.0379137999558}
	to := models.Coord{Lat: 8.3737447300023, Lng: -17.96208620004421}
	plan := NewResolver(discard).Resolve(context.Background(), from, to)
	if math.IsNaN(plan.Distance) || plan.Distance <= 0 {
		t.Fatalf("fallback distance must be finite and positive, got %f", plan.Distance)
	}
}

func TestResolveWithoutProviders(t *testing.T) {
	plan := NewResolver(nil).Resolve(context.Background(), me, me)
	if plan.Distance != 0 || len(plan.Path) != 2 {
		t.Fatalf("unexpected plan %+v", plan)
	}
}

func TestResolveUsesCache(t *testing.T) {
	primary := &fakeProvider{name: "primary", plan: roadPlan()}
	r := NewResolver(discard, primary)
	r.Cache = NewCache(time.Minute)

	r.Resolve(context.Background(), me, south)
	r.Resolve(context.Background(), me, south)
	if primary.calls.Load() != 1 {
		t.Fatalf("expected one provider call with cache, got %d", primary.calls.Load())
	}
}

func TestCacheSkipsFallback(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set(me, south, StraightLine(me, south))
	if _, ok := c.Get(me, south); ok {
		t.Fatalf("fallback routes must not be cached")
	}
	if NewCache(0) != nil {
		t.Fatalf("zero ttl disables the cache")
	}
}

func TestGuardRateLimit(t *testing.T) {
	inner := &fakeProvider{name: "limited", plan: roadPlan()}
	g := Guard(inner, 1, discard)

	if _, err := g.Route(context.Background(), me, south); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	if _, err := g.Route(context.Background(), me, south); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("rate-limited call must not reach the provider")
	}
}

func TestGuardOpensBreaker(t *testing.T) {
	inner := &fakeProvider{name: "flaky", err: errors.New("boom")}
	g := Guard(inner, 0, discard)
	for i := 0; i < 5; i++ {
		g.Route(context.Background(), me, south)
	}
	if _, err := g.Route(context.Background(), me, south); err == nil {
		t.Fatalf("expected breaker rejection")
	}
	if inner.calls.Load() != 5 {
		t.Fatalf("open breaker must short-circuit, provider saw %d calls", inner.calls.Load())
	}
}

package routing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/fleet-tracker/internal/models"
	"github.com/example/fleet-tracker/internal/observability"
)

// DefaultAttemptTimeout bounds a single provider attempt.
const DefaultAttemptTimeout = 10 * time.Second

// Resolver turns an (origin, destination) pair into a RoutePlan by trying
// each provider in order and ending with a straight line.
type Resolver struct {
	Providers      []Provider
	AttemptTimeout time.Duration
	Cache          *Cache // optional, nil disables caching
	Logger         *slog.Logger
}

func NewResolver(logger *slog.Logger, providers ...Provider) *Resolver {
	return &Resolver{Providers: providers, AttemptTimeout: DefaultAttemptTimeout, Logger: logger}
}

// Resolve never fails: when every provider fails the result is the
// straight-line fallback.
func (r *Resolver) Resolve(ctx context.Context, origin, destination models.Coord) models.RoutePlan {
	start := time.Now()
	defer func() { observability.RouteLatency.Observe(time.Since(start).Seconds()) }()

	if p, ok := r.Cache.Get(origin, destination); ok {
		observability.RouteResolutions.WithLabelValues(string(p.Provenance)).Inc()
		return p
	}
	for _, p := range r.Providers {
		plan, err := r.attempt(ctx, p, origin, destination)
		if err == nil {
			r.Cache.Set(origin, destination, plan)
			observability.RouteResolutions.WithLabelValues(string(plan.Provenance)).Inc()
			return plan
		}
		observability.ProviderFailures.WithLabelValues(p.Name()).Inc()
		r.logger().Warn("route provider failed", "error", err)
	}
	plan := StraightLine(origin, destination)
	observability.RouteResolutions.WithLabelValues(string(plan.Provenance)).Inc()
	return plan
}

func (r *Resolver) attempt(ctx context.Context, p Provider, origin, destination models.Coord) (models.RoutePlan, error) {
	timeout := r.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	plan, err := p.Route(actx, origin, destination)
	if err == nil {
		err = checkPlan(plan)
	}
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			err = errors.Join(err, context.DeadlineExceeded)
		}
		return models.RoutePlan{}, &ProviderError{Provider: p.Name(), Err: err}
	}
	plan.Provenance = models.ProvenanceRouted
	if plan.Provider == "" {
		plan.Provider = p.Name()
	}
	return plan, nil
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

package routing

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/example/fleet-tracker/internal/models"
	"github.com/example/fleet-tracker/internal/observability"
)

// Guarded wraps a Provider with a client-side rate limit and a circuit
// breaker. Both reject immediately so a struggling provider costs the resolver
// nothing before it falls through to the next one.
type Guarded struct {
	inner   Provider
	cb      *gobreaker.CircuitBreaker[models.RoutePlan]
	limiter *rate.Limiter
}

// Guard builds a Guarded provider. rps <= 0 disables rate limiting.
func Guard(p Provider, rps float64, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	name := p.Name()
	observability.CircuitBreakerState.WithLabelValues(name).Set(0)
	g := &Guarded{inner: p}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	g.cb = gobreaker.NewCircuitBreaker[models.RoutePlan](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("route provider breaker", "provider", name, "from", from.String(), "to", to.String())
			observability.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return g
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) Route(ctx context.Context, from, to models.Coord) (models.RoutePlan, error) {
	if g.limiter != nil && !g.limiter.Allow() {
		return models.RoutePlan{}, ErrRateLimited
	}
	return g.cb.Execute(func() (models.RoutePlan, error) {
		p, err := g.inner.Route(ctx, from, to)
		if err != nil {
			return models.RoutePlan{}, err
		}
		if err := checkPlan(p); err != nil {
			return models.RoutePlan{}, err
		}
		return p, nil
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

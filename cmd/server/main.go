package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/fleet-tracker/internal/broadcast"
	"github.com/example/fleet-tracker/internal/config"
	"github.com/example/fleet-tracker/internal/geo"
	httpapi "github.com/example/fleet-tracker/internal/http"
	"github.com/example/fleet-tracker/internal/ingest"
	"github.com/example/fleet-tracker/internal/logging"
	"github.com/example/fleet-tracker/internal/models"
	"github.com/example/fleet-tracker/internal/routing"
	"github.com/example/fleet-tracker/internal/storage"
	"github.com/example/fleet-tracker/internal/supervisor"
)

func main() {
	cfg, cfgErr := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if cfgErr != nil {
		logger.Error("invalid configuration", "error", cfgErr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// after a signal the supervisor reports its own shutdown as an error
	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		logger.Error("fleet-tracker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("fleet-tracker stopped")
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	store, ready, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.SeedDemo {
		seeded, err := storage.SeedDemo(ctx, store)
		if err != nil {
			return err
		}
		logger.Info("demo fleet", "seeded", seeded)
	}

	sup := supervisor.New("fleet-tracker", logger, cfg.ShutdownTimeout)

	hub := broadcast.NewHub(store.GetAll, cfg.WSSendBuffer, logger)
	sup.Add(hub)
	var publisher broadcast.Publisher = hub

	var events ingest.EventSink
	var nearby httpapi.NearbyFinder
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		relay := broadcast.NewRedisRelay(rc, cfg.RedisChannel, hub, logger)
		sup.Add(relay)
		publisher = relay
		idx := geo.NewRedisIndex(rc, cfg.RedisGeoKey)
		nearby = idx
		// without Kafka the server keeps the GEO mirror itself
		events = geoSink{idx: idx}
		logger.Info("redis relay enabled", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		events = kp
		logger.Info("kafka location events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	api := httpapi.NewServer(httpapi.Deps{
		Store:      store,
		Ingest:     ingest.NewService(store, publisher, events, logger),
		Routes:     buildResolver(cfg, logger),
		Hub:        hub,
		Nearby:     nearby,
		HistoryLoc: cfg.HistoryTimezone,
		Ready:      ready,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	sup.Add(supervisor.NewHTTPService(srv, cfg.ShutdownTimeout))

	logger.Info("fleet-tracker listening", "addr", cfg.HTTPAddr)
	return sup.Serve(ctx)
}

// openStore picks Postgres when PG_DSN is set and the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.LocationStore, func(context.Context) error, func(), error) {
	if cfg.PGDSN == "" {
		logger.Warn("PG_DSN not set, using in-memory store")
		return storage.NewMemoryStore(cfg.HistoryTimezone), nil, func() {}, nil
	}
	ps, err := storage.NewPostgresStore(cfg.PGDSN, cfg.HistoryTimezone)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.RunMigrations {
		applied, err := ps.Migrate(ctx)
		if err != nil {
			_ = ps.Close()
			return nil, nil, nil, err
		}
		logger.Info("migrations applied", "files", applied)
	}
	return ps, ps.Ping, func() { _ = ps.Close() }, nil
}

func buildResolver(cfg config.ServerConfig, logger *slog.Logger) *routing.Resolver {
	var providers []routing.Provider
	if cfg.OSRMURL != "" {
		osrm := routing.NewOSRMClient(cfg.OSRMURL)
		osrm.Client.Timeout = cfg.RouteProviderTimeout
		providers = append(providers, routing.Guard(osrm, cfg.RouteProviderRPS, logger))
	}
	if cfg.ORSURL != "" && cfg.ORSAPIKey != "" {
		ors := routing.NewORSClient(cfg.ORSURL, cfg.ORSAPIKey)
		ors.Client.Timeout = cfg.RouteProviderTimeout
		providers = append(providers, routing.Guard(ors, cfg.RouteProviderRPS, logger))
	}
	if len(providers) == 0 {
		logger.Warn("no routing providers configured, routes will be straight lines")
	}
	r := routing.NewResolver(logger, providers...)
	r.AttemptTimeout = cfg.RouteProviderTimeout
	r.Cache = routing.NewCache(cfg.RouteCacheTTL)
	return r
}

type geoSink struct{ idx *geo.RedisIndex }

func (g geoSink) PublishLocation(ctx context.Context, d models.Device) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return g.idx.Upsert(ctx, d)
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/fleet-tracker/internal/config"
	"github.com/example/fleet-tracker/internal/logging"
	"github.com/example/fleet-tracker/internal/supervisor"
)

// consumer keeps the Redis GEO set in sync with the device-locations topic.
func main() {
	metricsAddr := flag.String("metrics-addr", ":2112", "address for /metrics, /healthz and /readyz")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *metricsAddr, logger); err != nil && ctx.Err() == nil {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, metricsAddr string, logger *slog.Logger) error {
	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: cfg.RedisPassword})
	defer rc.Close()
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	sup := supervisor.New("geo-mirror", logger, cfg.ShutdownTimeout)
	sup.Add(newGeoMirror(reader, &redisAdapter{c: rc}, cfg.RedisGeoKey, logger))
	sup.Add(supervisor.NewHTTPService(&http.Server{Addr: metricsAddr, Handler: opsHandler(rc)}, cfg.ShutdownTimeout))

	logger.Info("geo mirror consuming", "topic", cfg.KafkaTopic, "brokers", brokers, "group", cfg.KafkaGroup, "geo_key", cfg.RedisGeoKey, "metrics_addr", metricsAddr)
	err := sup.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func opsHandler(rc *redis.Client) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

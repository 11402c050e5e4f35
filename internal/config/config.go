package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig captures all tunable parameters for the tracker API process.
// Values come from environment variables (optionally seeded from a .env file)
// with defaults that let the binary run locally on the in-memory store.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	PGDSN           string
	RunMigrations   bool
	SeedDemo        bool
	HistoryTimezone *time.Location

	RedisAddr     string
	RedisPassword string
	RedisChannel  string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	OSRMURL              string
	ORSURL               string
	ORSAPIKey            string
	RouteProviderTimeout time.Duration
	RouteProviderRPS     float64
	RouteCacheTTL        time.Duration

	WSSendBuffer int

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:             ":8080",
		ReadTimeout:          5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          120 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		HistoryTimezone:      time.UTC,
		RedisChannel:         "fleet:updates",
		RedisGeoKey:          "devices_geo",
		KafkaTopic:           "device-locations",
		KafkaGroup:           "fleet-tracker-geo",
		OSRMURL:              "https://router.project-osrm.org",
		ORSURL:               "https://api.openrouteservice.org",
		RouteProviderTimeout: 10 * time.Second,
		RouteProviderRPS:     1,
		WSSendBuffer:         256,
		LogLevel:             "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	loadDotenv()
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")
	setBoolFromEnv(&cfg.SeedDemo, "SEED_DEMO", &errs)
	if v := strings.TrimSpace(os.Getenv("HISTORY_TIMEZONE")); v != "" {
		loc, err := time.LoadLocation(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid HISTORY_TIMEZONE: %w", err))
		} else {
			cfg.HistoryTimezone = loc
		}
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisChannel, "REDIS_CHANNEL")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	setOptionalStringFromEnv(&cfg.OSRMURL, "OSRM_URL")
	setOptionalStringFromEnv(&cfg.ORSURL, "ORS_URL")
	cfg.ORSAPIKey = strings.TrimSpace(os.Getenv("ORS_API_KEY"))
	setDurationFromEnv(&cfg.RouteProviderTimeout, "ROUTE_PROVIDER_TIMEOUT", &errs)
	setFloatFromEnv(&cfg.RouteProviderRPS, "ROUTE_PROVIDER_RPS", &errs)
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)

	setIntFromEnv(&cfg.WSSendBuffer, "WS_SEND_BUFFER", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.RouteProviderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ROUTE_PROVIDER_TIMEOUT must be > 0"))
	}
	if cfg.WSSendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("WS_SEND_BUFFER must be > 0"))
	}
	if cfg.RouteCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("ROUTE_CACHE_TTL must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

// ViewerConfig drives one viewer session of cmd/viewer.
type ViewerConfig struct {
	ServerURL string
	DeviceID  string
	NoticeTTL time.Duration
	Timeout   time.Duration
	LogLevel  string
}

func defaultViewerConfig() ViewerConfig {
	return ViewerConfig{
		ServerURL: "http://localhost:8080",
		NoticeTTL: 3 * time.Second,
		Timeout:   15 * time.Second,
		LogLevel:  "warn",
	}
}

func LoadViewerConfig() (ViewerConfig, error) {
	loadDotenv()
	cfg := defaultViewerConfig()
	var errs []error

	setStringFromEnv(&cfg.ServerURL, "SERVER_URL")
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	cfg.DeviceID = strings.TrimSpace(os.Getenv("DEVICE_ID"))
	setDurationFromEnv(&cfg.NoticeTTL, "NOTICE_TTL", &errs)
	setDurationFromEnv(&cfg.Timeout, "VIEWER_HTTP_TIMEOUT", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if !strings.HasPrefix(cfg.ServerURL, "http://") && !strings.HasPrefix(cfg.ServerURL, "https://") {
		errs = append(errs, fmt.Errorf("SERVER_URL must start with http:// or https://"))
	}
	return cfg, errors.Join(errs...)
}

// loadDotenv never overrides variables that are already set.
func loadDotenv() {
	_ = godotenv.Load()
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

// setOptionalStringFromEnv lets a set-but-empty variable ("OSRM_URL=")
// disable a default.
func setOptionalStringFromEnv(target *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*target = strings.TrimSpace(v)
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

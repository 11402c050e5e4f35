package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	for _, k := range []string{"OSRM_URL", "ORS_URL", "HISTORY_TIMEZONE", "ROUTE_CACHE_TTL"} {
		t.Setenv(k, "")
	}
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RouteProviderTimeout != 10*time.Second {
		t.Fatalf("expected 10s provider timeout, got %s", cfg.RouteProviderTimeout)
	}
	if cfg.RouteCacheTTL != 0 {
		t.Fatalf("route cache must be off by default")
	}
	if cfg.HistoryTimezone != time.UTC {
		t.Fatalf("expected UTC history timezone, got %v", cfg.HistoryTimezone)
	}
	// set-but-empty disables the public provider endpoints
	if cfg.OSRMURL != "" || cfg.ORSURL != "" {
		t.Fatalf("expected providers disabled, got %q %q", cfg.OSRMURL, cfg.ORSURL)
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SEED_DEMO", "true")
	t.Setenv("HISTORY_TIMEZONE", "Asia/Kolkata")
	t.Setenv("ROUTE_PROVIDER_RPS", "2.5")
	t.Setenv("WS_SEND_BUFFER", "32")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || !cfg.SeedDemo || cfg.RouteProviderRPS != 2.5 || cfg.WSSendBuffer != 32 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.HistoryTimezone.String() != "Asia/Kolkata" {
		t.Fatalf("unexpected timezone %v", cfg.HistoryTimezone)
	}
}

func TestLoadServerConfigJoinsErrors(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("WS_SEND_BUFFER", "0")
	t.Setenv("HISTORY_TIMEZONE", "Mars/Olympus")
	_, err := LoadServerConfig()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"HTTP_READ_TIMEOUT", "WS_SEND_BUFFER", "HISTORY_TIMEZONE"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadViewerConfig(t *testing.T) {
	t.Setenv("SERVER_URL", "http://tracker.local:8080/")
	t.Setenv("DEVICE_ID", "viewer-1")
	t.Setenv("NOTICE_TTL", "5s")
	cfg, err := LoadViewerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerURL != "http://tracker.local:8080" || cfg.DeviceID != "viewer-1" || cfg.NoticeTTL != 5*time.Second {
		t.Fatalf("unexpected viewer config %+v", cfg)
	}

	t.Setenv("SERVER_URL", "tracker.local")
	if _, err := LoadViewerConfig(); err == nil {
		t.Fatalf("expected scheme error")
	}
}

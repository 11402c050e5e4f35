//go:build integration

package storage

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Run with: go test -tags integration ./internal/storage/...

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("docker not available")
	}

	ctx = context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "fleet",
				"POSTGRES_PASSWORD": "fleet",
				"POSTGRES_DB":       "fleet",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://fleet:fleet@%s:%s/fleet?sslmode=disable", host, port.Port())
}

func openMigrated(t *testing.T, loc *time.Location) *PostgresStore {
	t.Helper()
	p, err := NewPostgresStore(startPostgres(t), loc)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	for i := 0; i < 2; i++ {
		if _, err := p.Migrate(context.Background()); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}
	return p
}

func TestPostgresIntegrationUpsertAndHistory(t *testing.T) {
	ctx := context.Background()
	ist := time.FixedZone("IST", 5*3600+1800)
	p := openMigrated(t, ist)

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, ist)
	t1 := day.Add(9 * time.Hour)
	t2 := t1.Add(time.Minute)
	before := day.Add(-time.Minute)

	if _, err := p.Register(ctx, "North-Truck-1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, at := range []time.Time{t1, t2, before} {
		at := at
		p.now = func() time.Time { return at }
		if _, err := p.Upsert(ctx, "North-Truck-1", 28.70, 77.10); err != nil {
			t.Fatalf("upsert at %s: %v", at, err)
		}
	}

	all, err := p.GetAll(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("get all: %v %+v", err, all)
	}
	f, ok := all[0].Located()
	if !ok || !f.LastUpdated.Equal(t2) {
		t.Fatalf("lastUpdated must stay at the newest report, got %+v", all[0])
	}

	hist, err := p.GetHistory(ctx, "North-Truck-1", day)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || !hist[0].Timestamp.Equal(t2) || !hist[1].Timestamp.Equal(t1) {
		t.Fatalf("expected two in-window points newest first, got %+v", hist)
	}
	prev, err := p.GetHistory(ctx, "North-Truck-1", day.AddDate(0, 0, -1))
	if err != nil || len(prev) != 1 || !prev[0].Timestamp.Equal(before) {
		t.Fatalf("stale write must still land in history of its own day, got %+v %v", prev, err)
	}
}

func TestPostgresIntegrationEqualTimestampsNewestArrivalFirst(t *testing.T) {
	ctx := context.Background()
	p := openMigrated(t, time.UTC)
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	for _, lat := range []float64{10, 11} {
		if _, err := p.Upsert(ctx, "East-Truck-1", lat, 80); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	hist, err := p.GetHistory(ctx, "East-Truck-1", at)
	if err != nil || len(hist) != 2 || hist[0].Lat != 11 {
		t.Fatalf("expected later arrival first, got %+v %v", hist, err)
	}
}

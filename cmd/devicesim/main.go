package main

import (
	"context"
	"flag"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/fleet-tracker/internal/config"
	"github.com/example/fleet-tracker/internal/geo"
	"github.com/example/fleet-tracker/internal/liveclient"
	"github.com/example/fleet-tracker/internal/logging"
	"github.com/example/fleet-tracker/internal/models"
)

// devicesim plays one truck: it registers, then reports a random-walk
// position through the ingestion endpoint on a fixed interval.
func main() {
	var (
		id       string
		interval time.Duration
		lat, lng float64
		stepM    float64
	)
	flag.StringVar(&id, "id", "", "device id (defaults to DEVICE_ID)")
	flag.DurationVar(&interval, "interval", 5*time.Second, "report interval")
	flag.Float64Var(&lat, "lat", 28.7041, "start latitude")
	flag.Float64Var(&lng, "lng", 77.1025, "start longitude")
	flag.Float64Var(&stepM, "step", 150, "max meters moved per report")
	flag.Parse()

	cfg, err := config.LoadViewerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if id == "" {
		id = cfg.DeviceID
	}
	if id == "" {
		logger.Error("device id required (-id or DEVICE_ID)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := liveclient.NewAPI(cfg.ServerURL, cfg.Timeout)
	if err := api.Register(ctx, id); err != nil {
		logger.Warn("register failed, reporting anyway", "device_id", id, "error", err)
	}

	pos := models.Coord{Lat: lat, Lng: lng}
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := api.ReportLocation(ctx, id, pos); err != nil {
			logger.Warn("report failed", "device_id", id, "error", err)
		} else {
			logger.Info("reported", "device_id", id, "lat", pos.Lat, "lng", pos.Lng)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pos = walk(pos, rng.Float64()*2*math.Pi, rng.Float64()*stepM)
	}
}

// walk moves c by dist meters along bearing (radians), clamped to valid
// coordinates.
func walk(c models.Coord, bearing, dist float64) models.Coord {
	dLat := dist * math.Cos(bearing) / geo.EarthRadiusM
	dLng := dist * math.Sin(bearing) / (geo.EarthRadiusM * math.Cos(c.Lat*math.Pi/180))
	out := models.Coord{Lat: c.Lat + dLat*180/math.Pi, Lng: c.Lng + dLng*180/math.Pi}
	out.Lat = math.Max(-90, math.Min(90, out.Lat))
	if out.Lng > 180 {
		out.Lng -= 360
	} else if out.Lng < -180 {
		out.Lng += 360
	}
	return out
}

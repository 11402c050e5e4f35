package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/example/fleet-tracker/internal/geo"
	"github.com/example/fleet-tracker/internal/mapview"
	"github.com/example/fleet-tracker/internal/models"
)

// printer reports what changed after each engine mutation. It runs on the
// engine goroutine, so it only writes and never calls back into the engine.
type printer struct {
	mu         sync.Mutex
	w          io.Writer
	lastMode   mapview.Mode
	lastNotice string
	lastRoute  *models.RoutePlan
	lastDay    time.Time
}

func (p *printer) onChange(v mapview.ViewState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v.Notice != "" && v.Notice != p.lastNotice {
		fmt.Fprintf(p.w, "! %s\n", v.Notice)
	}
	p.lastNotice = v.Notice

	if v.Mode != p.lastMode {
		fmt.Fprintf(p.w, "mode: %s\n", v.Mode)
		p.lastMode = v.Mode
	}
	if v.Path.Kind == mapview.PathRoute && v.Path.Route != nil && v.Path.Route != p.lastRoute {
		fmt.Fprint(p.w, renderView(v))
	}
	p.lastRoute = v.Path.Route
	if v.Path.Kind == mapview.PathHistory && !v.Path.Day.Equal(p.lastDay) {
		fmt.Fprint(p.w, renderView(v))
	}
	p.lastDay = v.Path.Day
}

func renderView(v mapview.ViewState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "mode=%s", v.Mode)
	if v.SelectedID != "" {
		fmt.Fprintf(&b, " selected=%s", v.SelectedID)
	}
	if v.HasBounds {
		fmt.Fprintf(&b, " center=%.4f,%.4f zoom=%d", v.Center.Lat, v.Center.Lng, v.Zoom)
		if v.ManualCenter {
			b.WriteString(" (manual)")
		}
	}
	b.WriteString("\n")
	switch v.Path.Kind {
	case mapview.PathRoute:
		if v.Path.Route == nil {
			b.WriteString("  route: resolving...\n")
			break
		}
		r := v.Path.Route
		fmt.Fprintf(&b, "  route: %s over %d points (%s", geo.FormatDistance(r.Distance), len(r.Path), r.Provenance)
		if r.Provider != "" {
			fmt.Fprintf(&b, " via %s", r.Provider)
		}
		b.WriteString(")\n")
	case mapview.PathHistory:
		pts := v.Path.History
		fmt.Fprintf(&b, "  history %s: %d points, %s travelled\n", v.Path.Day.Format("2006-01-02"), len(pts), geo.FormatDistance(v.Path.Length))
		for _, p := range pts {
			fmt.Fprintf(&b, "    %s  %.5f,%.5f\n", p.Timestamp.Local().Format("15:04:05"), p.Lat, p.Lng)
		}
	}
	return b.String()
}

// renderDevices groups devices by region the way the original menu did.
func renderDevices(v mapview.ViewState, now time.Time) string {
	groups := map[geo.Region][]models.Device{}
	var other []models.Device
	for _, d := range v.Devices {
		if r, ok := geo.RegionOf(d); ok {
			groups[r] = append(groups[r], d)
		} else {
			other = append(other, d)
		}
	}
	var b strings.Builder
	write := func(title string, ds []models.Device) {
		if len(ds) == 0 {
			return
		}
		sort.Slice(ds, func(i, j int) bool { return ds[i].ID < ds[j].ID })
		fmt.Fprintf(&b, "%s\n", title)
		for _, d := range ds {
			b.WriteString("  " + deviceLine(d, v, now) + "\n")
		}
	}
	for _, r := range geo.Regions {
		write(string(r), groups[r])
	}
	write("Unassigned", other)
	if b.Len() == 0 {
		return "no devices\n"
	}
	return b.String()
}

func deviceLine(d models.Device, v mapview.ViewState, now time.Time) string {
	mark := " "
	if d.ID == v.SelectedID {
		mark = "*"
	}
	f, ok := d.Located()
	if !ok {
		return fmt.Sprintf("%s %-16s pending", mark, d.ID)
	}
	status := "online"
	if geo.IsOffline(now, f.LastUpdated) {
		status = "offline"
	}
	line := fmt.Sprintf("%s %-16s %9.5f,%10.5f  %-7s %s", mark, d.ID, f.Lat, f.Lng, status, humanize.RelTime(f.LastUpdated, now, "ago", "from now"))
	if v.Self != nil {
		line += "  " + geo.FormatDistance(geo.Distance(*v.Self, f.Coord)) + " away"
	}
	return line
}

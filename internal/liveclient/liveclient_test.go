package liveclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/example/fleet-tracker/internal/models"
)

var at = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingSink struct {
	mu     sync.Mutex
	events []string
	got    chan struct{}
}

func (r *recordingSink) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recordingSink) ApplySnapshot(devices []models.Device) {
	r.add("snapshot:" + strings.Repeat("d", len(devices)))
}

func (r *recordingSink) ApplyUpdate(d models.Device) { r.add("update:" + d.ID) }

func (r *recordingSink) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %d of %d events", i, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestConnStreamsAndReconnects(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/live" {
			http.NotFound(w, r)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		n := conns.Add(1)
		dev := models.LocatedDevice("North-Truck-1", 28.7041, 77.1025, at)
		_ = ws.WriteJSON(models.LiveMessage{Type: models.MessageSnapshot, Devices: []models.Device{dev}})
		if n == 1 {
			upd := models.LocatedDevice("North-Truck-1", 28.70, 77.11, at.Add(time.Minute))
			_ = ws.WriteJSON(models.LiveMessage{Type: models.MessageUpdate, Device: &upd})
			return
		}
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	c, err := NewConn(srv.URL, quietLogger())
	if err != nil {
		t.Fatalf("new conn: %v", err)
	}
	c.MinBackoff = 10 * time.Millisecond

	sink := &recordingSink{got: make(chan struct{}, 16)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Stream(ctx, sink) }()

	events := sink.wait(t, 3)
	want := []string{"snapshot:d", "update:North-Truck-1", "snapshot:d"}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events=%v want %v", events, want)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("stream did not stop on cancel")
	}
}

func TestNewConnURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":    "ws://localhost:8080/ws/live",
		"https://tracker.example/": "wss://tracker.example/ws/live",
	}
	for in, want := range cases {
		c, err := NewConn(in, nil)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if c.URL != want {
			t.Fatalf("%s: got %s want %s", in, c.URL, want)
		}
	}
	if _, err := NewConn("ftp://x", nil); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestAPIRouteAndHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/route":
			if r.URL.Query().Get("fromLat") != "12.971600" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"success":true,"route":{"path":[{"lat":12.9716,"lng":77.5946},{"lat":13.0827,"lng":80.2707}],"distance":290000,"provenance":"routed","provider":"osrm"}}`))
		case "/api/history":
			if r.URL.Query().Get("date") != "2024-05-01" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"date must be YYYY-MM-DD"}`))
				return
			}
			_, _ = w.Write([]byte(`{"success":true,"history":[{"lat":28.7,"lng":77.1,"timestamp":"2024-05-01T10:00:00Z"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	api := NewAPI(srv.URL, time.Second)
	plan, err := api.Route(context.Background(), models.Coord{Lat: 12.9716, Lng: 77.5946}, models.Coord{Lat: 13.0827, Lng: 80.2707})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if plan.Provenance != models.ProvenanceRouted || len(plan.Path) != 2 || plan.Distance != 290000 {
		t.Fatalf("unexpected plan %+v", plan)
	}

	pts, err := api.History(context.Background(), "North-Truck-1", at)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(pts) != 1 || pts[0].DeviceID != "North-Truck-1" || !pts[0].Timestamp.Equal(at) {
		t.Fatalf("unexpected points %+v", pts)
	}

	_, err = api.History(context.Background(), "North-Truck-1", at.AddDate(0, 0, 1))
	if err == nil || !strings.Contains(err.Error(), "HTTP 400: date must be") {
		t.Fatalf("expected HTTP 400 error with server message, got %v", err)
	}
}

func TestAPIReportLocation(t *testing.T) {
	var got models.LocationReport
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/update-location" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	api := NewAPI(srv.URL+"/", time.Second)
	if err := api.ReportLocation(context.Background(), "West-Truck-1", models.Coord{Lat: 19.076, Lng: 72.8777}); err != nil {
		t.Fatalf("report: %v", err)
	}
	if got.DeviceID != "West-Truck-1" || got.Lat == nil || *got.Lat != 19.076 || *got.Lng != 72.8777 {
		t.Fatalf("server saw %+v", got)
	}
}

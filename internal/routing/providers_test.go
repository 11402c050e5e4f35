package routing

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/twpayne/go-polyline"

	"github.com/example/fleet-tracker/internal/models"
)

func TestOSRMPolylineGeometry(t *testing.T) {
	enc := string(polyline.EncodeCoords([][]float64{{28.70410, 77.10250}, {20.0, 77.3}, {12.97160, 77.59460}}))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/route/v1/driving/77.102500,28.704100;77.594600,12.971600") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("geometries") != "polyline" {
			t.Errorf("expected polyline geometry request")
		}
		io.WriteString(w, `{"code":"Ok","routes":[{"distance":2150123.5,"geometry":"`+strings.ReplaceAll(enc, `\`, `\\`)+`"}]}`)
	}))
	defer srv.Close()

	plan, err := NewOSRMClient(srv.URL).Route(context.Background(), me, south)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(plan.Path) != 3 || plan.Distance != 2150123.5 || plan.Provider != "osrm" {
		t.Fatalf("unexpected plan %+v", plan)
	}
	last := plan.Path[2]
	if math.Abs(last.Lat-12.9716) > 1e-9 || math.Abs(last.Lng-77.5946) > 1e-9 {
		t.Fatalf("unexpected last point %+v", plan.Path[2])
	}
}

func TestOSRMGeoJSONGeometry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":"Ok","routes":[{"distance":10,"geometry":{"type":"LineString","coordinates":[[77.1,28.7],[77.2,28.8]]}}]}`)
	}))
	defer srv.Close()

	c := NewOSRMClient(srv.URL)
	c.GeoJSON = true
	plan, err := c.Route(context.Background(), me, south)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if plan.Path[0] != (models.Coord{Lat: 28.7, Lng: 77.1}) {
		t.Fatalf("coordinates must be swapped from [lng,lat], got %+v", plan.Path[0])
	}
}

func TestOSRMFailures(t *testing.T) {
	cases := map[string]func(w http.ResponseWriter){
		"status":   func(w http.ResponseWriter) { w.WriteHeader(http.StatusTooManyRequests) },
		"noroute":  func(w http.ResponseWriter) { io.WriteString(w, `{"code":"NoRoute","routes":[]}`) },
		"badjson":  func(w http.ResponseWriter) { io.WriteString(w, `{"code":`) },
		"nullgeom": func(w http.ResponseWriter) { io.WriteString(w, `{"code":"Ok","routes":[{"distance":1,"geometry":null}]}`) },
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { h(w) }))
			defer srv.Close()
			if _, err := NewOSRMClient(srv.URL).Route(context.Background(), me, south); err == nil {
				t.Fatalf("expected failure")
			}
		})
	}
}

func TestORSRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/directions/driving-car/geojson" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "key-1" {
			t.Errorf("missing api key")
		}
		io.WriteString(w, `{"features":[{"properties":{"summary":{"distance":321.5}},"geometry":{"coordinates":[[77.1,28.7],[77.11,28.70]]}}]}`)
	}))
	defer srv.Close()

	plan, err := NewORSClient(srv.URL, "key-1").Route(context.Background(), me, south)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if plan.Distance != 321.5 || len(plan.Path) != 2 || plan.Provider != "openrouteservice" {
		t.Fatalf("unexpected plan %+v", plan)
	}
}

func TestUnconfiguredProvider(t *testing.T) {
	if _, err := NewORSClient("", "").Route(context.Background(), me, south); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

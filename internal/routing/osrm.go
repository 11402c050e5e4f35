package routing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/twpayne/go-polyline"

	"github.com/example/fleet-tracker/internal/models"
)

const maxBody = 1 << 20

// OSRMClient performs driving-route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
	// GeoJSON asks for coordinate-list geometry instead of an encoded polyline.
	GeoJSON bool
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (o *OSRMClient) Name() string { return "osrm" }

// Route queries /route/v1/driving/{lon1},{lat1};{lon2},{lat2}.
func (o *OSRMClient) Route(ctx context.Context, from, to models.Coord) (models.RoutePlan, error) {
	if o.Endpoint == "" {
		return models.RoutePlan{}, ErrNotConfigured
	}
	geometries := "polyline"
	if o.GeoJSON {
		geometries = "geojson"
	}
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=%s", o.Endpoint, from.Lng, from.Lat, to.Lng, to.Lat, geometries)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.RoutePlan{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return models.RoutePlan{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return models.RoutePlan{}, err
	}
	if resp.StatusCode/100 != 2 {
		return models.RoutePlan{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var out struct {
		Code   string `json:"code"`
		Routes []struct {
			Distance float64         `json:"distance"`
			Geometry json.RawMessage `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return models.RoutePlan{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return models.RoutePlan{}, fmt.Errorf("%w: %s", ErrNoRoute, out.Code)
	}
	path, err := decodeOSRMGeometry(out.Routes[0].Geometry)
	if err != nil {
		return models.RoutePlan{}, err
	}
	return models.RoutePlan{Path: path, Distance: out.Routes[0].Distance, Provenance: models.ProvenanceRouted, Provider: o.Name()}, nil
}

// decodeOSRMGeometry accepts either an encoded polyline string or a GeoJSON
// LineString object.
func decodeOSRMGeometry(raw json.RawMessage) ([]models.Coord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrBadGeometry
	}
	if raw[0] == '"' {
		var enc string
		if err := json.Unmarshal(raw, &enc); err != nil {
			return nil, err
		}
		coords, rest, err := polyline.DecodeCoords([]byte(enc))
		if err != nil || len(rest) != 0 {
			return nil, ErrBadGeometry
		}
		out := make([]models.Coord, 0, len(coords))
		for _, c := range coords {
			out = append(out, models.Coord{Lat: c[0], Lng: c[1]})
		}
		return out, nil
	}
	var line struct {
		Coordinates [][]float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil, err
	}
	return lngLatPairs(line.Coordinates)
}

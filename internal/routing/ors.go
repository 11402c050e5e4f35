package routing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/example/fleet-tracker/internal/models"
)

// ORSClient talks to the OpenRouteService directions API (GeoJSON flavour).
type ORSClient struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewORSClient(endpoint, apiKey string) *ORSClient {
	return &ORSClient{Endpoint: endpoint, APIKey: apiKey, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (o *ORSClient) Name() string { return "openrouteservice" }

func (o *ORSClient) Route(ctx context.Context, from, to models.Coord) (models.RoutePlan, error) {
	if o.Endpoint == "" {
		return models.RoutePlan{}, ErrNotConfigured
	}
	// ORS uses [lng, lat] order
	body, _ := json.Marshal(map[string]any{
		"coordinates": [][]float64{{from.Lng, from.Lat}, {to.Lng, to.Lat}},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Endpoint+"/v2/directions/driving-car/geojson", bytes.NewReader(body))
	if err != nil {
		return models.RoutePlan{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.APIKey != "" {
		req.Header.Set("Authorization", o.APIKey)
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
		Features []struct {
			Properties struct {
				Summary struct {
					Distance float64 `json:"distance"`
				} `json:"summary"`
			} `json:"properties"`
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return models.RoutePlan{}, err
	}
	if len(out.Features) == 0 {
		return models.RoutePlan{}, ErrNoRoute
	}
	feat := out.Features[0]
	path, err := lngLatPairs(feat.Geometry.Coordinates)
	if err != nil {
		return models.RoutePlan{}, err
	}
	return models.RoutePlan{Path: path, Distance: feat.Properties.Summary.Distance, Provenance: models.ProvenanceRouted, Provider: o.Name()}, nil
}

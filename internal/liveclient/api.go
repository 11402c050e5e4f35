package liveclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/example/fleet-tracker/internal/models"
)

// API is the REST side of the tracker as seen by viewers and devices.
type API struct {
	BaseURL string
	Client  *http.Client
}

func NewAPI(baseURL string, timeout time.Duration) *API {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &API{BaseURL: strings.TrimRight(baseURL, "/"), Client: &http.Client{Timeout: timeout}}
}

type apiError struct {
	Error string `json:"error"`
}

// Route asks the server's resolver. The server never fails a valid request;
// an error here means the server itself was unreachable.
func (a *API) Route(ctx context.Context, from, to models.Coord) (models.RoutePlan, error) {
	q := url.Values{}
	q.Set("fromLat", ftoa(from.Lat))
	q.Set("fromLng", ftoa(from.Lng))
	q.Set("toLat", ftoa(to.Lat))
	q.Set("toLng", ftoa(to.Lng))
	var out struct {
		Route models.RoutePlan `json:"route"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/route?"+q.Encode(), nil, &out); err != nil {
		return models.RoutePlan{}, err
	}
	return out.Route, nil
}

func (a *API) History(ctx context.Context, deviceID string, day time.Time) ([]models.HistoryPoint, error) {
	q := url.Values{}
	q.Set("deviceId", deviceID)
	q.Set("date", day.Format("2006-01-02"))
	var out struct {
		History []models.HistoryPoint `json:"history"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/history?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	for i := range out.History {
		out.History[i].DeviceID = deviceID
	}
	return out.History, nil
}

func (a *API) ReportLocation(ctx context.Context, deviceID string, c models.Coord) error {
	lat, lng := c.Lat, c.Lng
	body := models.LocationReport{DeviceID: deviceID, Lat: &lat, Lng: &lng}
	return a.do(ctx, http.MethodPost, "/api/update-location", body, nil)
}

func (a *API) Register(ctx context.Context, deviceID string) error {
	return a.do(ctx, http.MethodPost, "/api/devices", map[string]string{"deviceId": deviceID}, nil)
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e apiError
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', 6, 64) }

package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/fleet-tracker/internal/broadcast"
	"github.com/example/fleet-tracker/internal/geo"
	"github.com/example/fleet-tracker/internal/ingest"
	"github.com/example/fleet-tracker/internal/models"
	"github.com/example/fleet-tracker/internal/storage"
)

const dateLayout = "2006-01-02"

// RouteResolver always answers; provider failures degrade to a straight line.
type RouteResolver interface {
	Resolve(ctx context.Context, origin, dest models.Coord) models.RoutePlan
}

// NearbyFinder is the optional Redis GEO mirror.
type NearbyFinder interface {
	Nearby(ctx context.Context, c models.Coord, radiusM float64, limit int) ([]models.Device, error)
}

type Deps struct {
	Store      storage.LocationStore
	Ingest     *ingest.Service
	Routes     RouteResolver
	Hub        *broadcast.Hub
	Nearby     NearbyFinder
	HistoryLoc *time.Location
	// Ready backs /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	Deps
	logger   *slog.Logger
	mux      *mux.Router
	validate *validator.Validate
	now      func() time.Time
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.HistoryLoc == nil {
		deps.HistoryLoc = time.UTC
	}
	s := &Server{Deps: deps, logger: logger, mux: mux.NewRouter(), validate: validator.New(), now: time.Now}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api").Subrouter()
	api.HandleFunc("/update-location", s.handleUpdateLocation).Methods(http.MethodPost)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/route", s.handleRoute).Methods(http.MethodGet)
	api.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices", s.handleRegisterDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/nearby", s.handleNearby).Methods(http.MethodGet)

	s.mux.HandleFunc("/ws/live", s.handleLive)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var rep models.LocationReport
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&rep); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if _, err := s.Ingest.Ingest(r.Context(), rep); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type historyQuery struct {
	DeviceID string `validate:"required,max=64"`
	Date     string `validate:"required,datetime=2006-01-02"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := historyQuery{
		DeviceID: strings.TrimSpace(r.URL.Query().Get("deviceId")),
		Date:     strings.TrimSpace(r.URL.Query().Get("date")),
	}
	if err := s.validate.Struct(q); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "deviceId and date (YYYY-MM-DD) are required", err)
		return
	}
	day, err := time.ParseInLocation(dateLayout, q.Date, s.HistoryLoc)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "date must be YYYY-MM-DD", err)
		return
	}
	points, err := s.Store.GetHistory(r.Context(), q.DeviceID, day)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	out := make([]models.HistoryPoint, len(points))
	for i, p := range points {
		p.DeviceID = ""
		out[i] = p
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": out})
}

type routeQuery struct {
	FromLat string `validate:"required,latitude"`
	FromLng string `validate:"required,longitude"`
	ToLat   string `validate:"required,latitude"`
	ToLng   string `validate:"required,longitude"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := routeQuery{FromLat: v.Get("fromLat"), FromLng: v.Get("fromLng"), ToLat: v.Get("toLat"), ToLng: v.Get("toLng")}
	if err := s.validate.Struct(q); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "fromLat, fromLng, toLat and toLng must be valid coordinates", err)
		return
	}
	from := models.Coord{Lat: mustFloat(q.FromLat), Lng: mustFloat(q.FromLng)}
	to := models.Coord{Lat: mustFloat(q.ToLat), Lng: mustFloat(q.ToLng)}
	plan := s.Routes.Resolve(r.Context(), from, to)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"route":        plan,
		"distanceText": geo.FormatDistance(plan.Distance),
	})
}

// deviceView is the REST listing record. Offline and region are derived on
// read and never stored.
type deviceView struct {
	DeviceID    string     `json:"deviceId"`
	Lat         *float64   `json:"lat"`
	Lng         *float64   `json:"lng"`
	LastUpdated *time.Time `json:"lastUpdated"`
	Offline     bool       `json:"offline"`
	Region      string     `json:"region,omitempty"`
}

func (s *Server) toView(d models.Device) deviceView {
	v := deviceView{DeviceID: d.ID, Offline: true}
	if f, ok := d.Located(); ok {
		v.Lat, v.Lng, v.LastUpdated = &f.Lat, &f.Lng, &f.LastUpdated
		v.Offline = geo.IsOffline(s.now(), f.LastUpdated)
	}
	if reg, ok := geo.RegionOf(d); ok {
		v.Region = string(reg)
	}
	return v
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.Store.GetAll(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, s.toView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "devices": out})
}

type registerRequest struct {
	DeviceID string `json:"deviceId" validate:"required,max=64"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "deviceId is required (max 64 characters)", err)
		return
	}
	d, err := s.Store.Register(r.Context(), req.DeviceID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "device": s.toView(d)})
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	if s.Nearby == nil {
		s.writeError(w, r, http.StatusNotImplemented, "nearby search needs REDIS_ADDR", nil)
		return
	}
	v := r.URL.Query()
	lat, errLat := strconv.ParseFloat(v.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(v.Get("lng"), 64)
	if errLat != nil || errLng != nil || !geo.ValidLat(lat) || !geo.ValidLng(lng) {
		s.writeError(w, r, http.StatusBadRequest, "lat and lng must be valid coordinates", errors.Join(errLat, errLng))
		return
	}
	limit := 20
	if l, err := strconv.Atoi(v.Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	devices, err := s.Nearby.Nearby(r.Context(), models.Coord{Lat: lat, Lng: lng}, geo.ParseRadius(v.Get("radius")), limit)
	if err != nil {
		s.writeError(w, r, http.StatusBadGateway, "nearby search failed", err)
		return
	}
	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, s.toView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "devices": out})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			s.writeError(w, r, http.StatusServiceUnavailable, "not ready", err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// viewers are CLI and browser clients on any origin
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestIDFromContext(r.Context()))
		return
	}
	c, err := s.Hub.Subscribe(r.Context())
	if err != nil {
		_ = conn.Close()
		return
	}
	c.Pump(conn)
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *storage.ValidationError
	if errors.As(err, &ve) {
		s.writeError(w, r, http.StatusBadRequest, ve.Error(), err)
		return
	}
	s.writeError(w, r, http.StatusInternalServerError, "storage unavailable", err)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	args := []any{"status", status, "path", r.URL.Path, "request_id", requestIDFromContext(r.Context())}
	if err != nil {
		args = append(args, "error", err)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, args...)
	} else {
		s.logger.Warn(msg, args...)
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// mustFloat is only called on values the validator already accepted.
func mustFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

package mapview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/example/fleet-tracker/internal/geo"
	"github.com/example/fleet-tracker/internal/models"
	"github.com/example/fleet-tracker/internal/routing"
)

// RouteSource resolves a road route, normally through the server's route endpoint.
type RouteSource interface {
	Route(ctx context.Context, from, to models.Coord) (models.RoutePlan, error)
}

// HistorySource fetches one calendar day of points, newest first.
type HistorySource interface {
	History(ctx context.Context, deviceID string, day time.Time) ([]models.HistoryPoint, error)
}

// Feed is the live connection. Stream pushes snapshots and updates into the
// sink until ctx ends, reconnecting as it sees fit.
type Feed interface {
	Stream(ctx context.Context, sink LiveSink) error
}

// LiveSink is the part of the engine a Feed talks to.
type LiveSink interface {
	ApplySnapshot(devices []models.Device)
	ApplyUpdate(d models.Device)
}

type Config struct {
	Routes  RouteSource
	History HistorySource
	// Feed is owned by the engine: started by Run and stopped when Run returns.
	Feed Feed
	// SelfID is the viewer's own device; its pushed position is used as
	// "me" until SetSelf reports a local fix.
	SelfID    string
	NoticeTTL time.Duration
	// OnChange runs on the engine goroutine after every mutation.
	OnChange func(ViewState)
	Logger   *slog.Logger
}

const (
	DefaultNoticeTTL = 3 * time.Second
	eventBuffer      = 256
)

var ErrStopped = errors.New("mapview: engine stopped")

// Engine owns one viewer session's ViewState. Live pushes, route results and
// history results are all applied on a single goroutine through the event
// queue; fetch results carry the token they were issued with and are dropped
// when a newer request or a mode change has superseded them.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	events  chan func()
	done    chan struct{}
	started atomic.Bool
	view    atomic.Pointer[ViewState]

	// fields below are only touched on the engine goroutine
	state       ViewState
	localSelf   *models.Coord
	routeSeq    uint64
	routeCancel context.CancelFunc
	routeFrom   models.Coord
	routeTo     models.Coord
	histSeq     uint64
	histCancel  context.CancelFunc
	noticeSeq   uint64
	runCtx      context.Context
}

func New(cfg Config) *Engine {
	if cfg.NoticeTTL <= 0 {
		cfg.NoticeTTL = DefaultNoticeTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		events: make(chan func(), eventBuffer),
		done:   make(chan struct{}),
		state:  ViewState{Mode: ModeLive, Devices: map[string]models.Device{}, Zoom: geo.MinZoom},
	}
	initial := e.state.clone()
	e.view.Store(&initial)
	return e
}

// Run processes events until ctx ends. It may be called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("mapview: engine already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.runCtx = ctx

	feedDone := make(chan error, 1)
	if e.cfg.Feed != nil {
		go func() { feedDone <- e.cfg.Feed.Stream(ctx, e) }()
	} else {
		close(feedDone)
	}

	defer func() {
		e.cancelRoute()
		e.cancelHistory()
		close(e.done)
		<-feedDone
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-e.events:
			fn()
			e.publish()
		}
	}
}

// View returns the latest published state.
func (e *Engine) View() ViewState { return *e.view.Load() }

// Flush waits until every event submitted before it has been applied.
func (e *Engine) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	if err := e.post(func() { close(ack) }); err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

func (e *Engine) post(fn func()) error {
	select {
	case e.events <- fn:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

func (e *Engine) submit(fn func()) { _ = e.post(fn) }

// ApplySnapshot replaces the device map. In live mode it refits the view.
func (e *Engine) ApplySnapshot(devices []models.Device) {
	e.submit(func() {
		m := make(map[string]models.Device, len(devices))
		for _, d := range devices {
			m[d.ID] = d
		}
		e.state.Devices = m
		if e.state.Mode == ModeLive {
			e.fitLive()
		}
	})
}

// ApplyUpdate merges one pushed device in every mode. It never refits and
// never re-resolves an active route.
func (e *Engine) ApplyUpdate(d models.Device) {
	e.submit(func() {
		if cur, ok := e.state.Devices[d.ID]; ok {
			cf, curLocated := cur.Located()
			nf, newLocated := d.Located()
			if curLocated && (!newLocated || nf.LastUpdated.Before(cf.LastUpdated)) {
				return
			}
		}
		e.state.Devices[d.ID] = d
	})
}

// SetSelf records the viewer's own position from a local geolocation source.
func (e *Engine) SetSelf(c models.Coord) {
	e.submit(func() {
		self := c
		e.localSelf = &self
	})
}

// Select highlights a device. In nav, picking another device re-routes to it.
func (e *Engine) Select(id string) {
	e.submit(func() {
		switch e.state.Mode {
		case ModeLive:
			if _, ok := e.state.Devices[id]; !ok {
				e.notice(fmt.Sprintf("unknown device %s", id))
				return
			}
			e.state.SelectedID = id
		case ModeNav:
			if id != e.state.SelectedID {
				e.navigate(id)
			}
		case ModeHistory:
		}
	})
}

// Deselect clears the selection in live mode, acts as Reset in nav and is
// ignored while a history day is on screen.
func (e *Engine) Deselect() {
	e.submit(func() {
		switch e.state.Mode {
		case ModeLive:
			e.state.SelectedID = ""
		case ModeNav:
			e.reset()
		case ModeHistory:
		}
	})
}

// Navigate enters nav toward id and resolves a route from self.
func (e *Engine) Navigate(id string) {
	e.submit(func() { e.navigate(id) })
}

// ShowHistory requests one day of points for id. The mode only changes when
// the day has points; an empty day raises a notice instead.
func (e *Engine) ShowHistory(id string, day time.Time) {
	e.submit(func() { e.requestHistory(id, day) })
}

// Reset returns to live, dropping selection, path and any in-flight fetch.
func (e *Engine) Reset() {
	e.submit(e.reset)
}

// CenterOnSelf is a manual recenter. The next auto-fit replaces it.
func (e *Engine) CenterOnSelf() {
	e.submit(func() {
		self, ok := e.self()
		if !ok {
			e.notice("own position unknown")
			return
		}
		e.state.Center = self
		e.state.Zoom = geo.PointZoom
		e.state.ManualCenter = true
	})
}

func (e *Engine) navigate(id string) {
	if e.state.Mode == ModeHistory {
		e.notice("reset before navigating")
		return
	}
	d, ok := e.state.Devices[id]
	if !ok {
		e.notice(fmt.Sprintf("unknown device %s", id))
		return
	}
	target, located := d.Located()
	if !located {
		e.notice(fmt.Sprintf("%s has not reported a position yet", id))
		return
	}
	self, ok := e.self()
	if !ok {
		e.notice("own position unknown")
		return
	}

	e.cancelHistory()
	e.cancelRoute()
	e.state.Mode = ModeNav
	e.state.SelectedID = id
	e.state.Path = ActivePath{Kind: PathRoute}
	e.fit([]models.Coord{self, target.Coord})

	e.routeSeq++
	token := e.routeSeq
	from, to := self, target.Coord
	e.routeFrom, e.routeTo = from, to
	if e.cfg.Routes == nil {
		e.applyRoute(token, models.RoutePlan{}, errors.New("no route source"))
		return
	}
	ctx, cancel := context.WithCancel(e.runCtx)
	e.routeCancel = cancel
	e.state.RouteLoading = true

	go func() {
		plan, err := e.cfg.Routes.Route(ctx, from, to)
		e.submit(func() { e.applyRoute(token, plan, err) })
	}()
}

func (e *Engine) applyRoute(token uint64, plan models.RoutePlan, err error) {
	if token != e.routeSeq || e.state.Mode != ModeNav {
		e.logger.Debug("dropping superseded route result", "token", token, "current", e.routeSeq)
		return
	}
	if e.routeCancel != nil {
		e.routeCancel()
		e.routeCancel = nil
	}
	e.state.RouteLoading = false
	if err != nil || len(plan.Path) < 2 {
		e.logger.Warn("route fetch failed, drawing straight line", "error", err, "device_id", e.state.SelectedID)
		plan = routing.StraightLine(e.routeFrom, e.routeTo)
	}
	e.state.Path = ActivePath{Kind: PathRoute, Route: &plan, Length: plan.Distance}
}

func (e *Engine) requestHistory(id string, day time.Time) {
	if id == "" {
		e.notice("pick a device first")
		return
	}
	if e.cfg.History == nil {
		e.notice("history is not available")
		return
	}
	e.cancelHistory()
	e.histSeq++
	token := e.histSeq
	ctx, cancel := context.WithCancel(e.runCtx)
	e.histCancel = cancel
	e.state.HistoryLoading = true

	go func() {
		points, err := e.cfg.History.History(ctx, id, day)
		e.submit(func() { e.applyHistory(token, id, day, points, err) })
	}()
}

func (e *Engine) applyHistory(token uint64, id string, day time.Time, points []models.HistoryPoint, err error) {
	if token != e.histSeq {
		e.logger.Debug("dropping superseded history result", "token", token, "current", e.histSeq)
		return
	}
	e.histCancel()
	e.histCancel = nil
	e.state.HistoryLoading = false
	if err != nil {
		e.notice(fmt.Sprintf("history for %s unavailable", id))
		e.logger.Warn("history fetch failed", "device_id", id, "error", err)
		return
	}
	if len(points) == 0 {
		e.notice(fmt.Sprintf("no history for %s on %s", id, day.Format("2006-01-02")))
		return
	}

	e.cancelRoute()
	coords := make([]models.Coord, len(points))
	for i, p := range points {
		coords[i] = p.Coord()
	}
	e.state.Mode = ModeHistory
	e.state.SelectedID = id
	e.state.Path = ActivePath{Kind: PathHistory, History: points, Day: day, Length: geo.PathLength(coords)}
	e.fit(coords)
}

func (e *Engine) reset() {
	e.cancelRoute()
	e.cancelHistory()
	e.state.Mode = ModeLive
	e.state.SelectedID = ""
	e.state.Path = ActivePath{}
	e.fitLive()
}

// cancelRoute aborts the in-flight route fetch and invalidates its token.
func (e *Engine) cancelRoute() {
	if e.routeCancel != nil {
		e.routeCancel()
		e.routeCancel = nil
	}
	e.routeSeq++
	e.state.RouteLoading = false
}

func (e *Engine) cancelHistory() {
	if e.histCancel != nil {
		e.histCancel()
		e.histCancel = nil
	}
	e.histSeq++
	e.state.HistoryLoading = false
}

func (e *Engine) self() (models.Coord, bool) {
	if e.localSelf != nil {
		return *e.localSelf, true
	}
	if e.cfg.SelfID == "" {
		return models.Coord{}, false
	}
	if d, ok := e.state.Devices[e.cfg.SelfID]; ok {
		if f, located := d.Located(); located {
			return f.Coord, true
		}
	}
	return models.Coord{}, false
}

func (e *Engine) fitLive() {
	coords := make([]models.Coord, 0, len(e.state.Devices))
	for _, d := range e.state.Devices {
		if f, ok := d.Located(); ok {
			coords = append(coords, f.Coord)
		}
	}
	e.fit(coords)
}

// fit is the only auto-fit path; it always clears a manual center.
func (e *Engine) fit(coords []models.Coord) {
	e.state.ManualCenter = false
	b, ok := geo.Fit(coords)
	if !ok {
		e.state.HasBounds = false
		return
	}
	e.state.Bounds = b
	e.state.HasBounds = true
	e.state.Center = b.Center()
	e.state.Zoom = geo.ZoomFor(b)
}

func (e *Engine) notice(msg string) {
	e.noticeSeq++
	seq := e.noticeSeq
	e.state.Notice = msg
	time.AfterFunc(e.cfg.NoticeTTL, func() {
		e.submit(func() {
			if e.noticeSeq == seq {
				e.state.Notice = ""
			}
		})
	})
}

func (e *Engine) publish() {
	v := e.state.clone()
	if self, ok := e.self(); ok {
		v.Self = &self
	}
	e.view.Store(&v)
	if e.cfg.OnChange != nil {
		e.cfg.OnChange(v)
	}
}

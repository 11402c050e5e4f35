package mapview

import (
	"time"

	"github.com/example/fleet-tracker/internal/geo"
	"github.com/example/fleet-tracker/internal/models"
)

type Mode string

const (
	ModeLive    Mode = "live"
	ModeNav     Mode = "nav"
	ModeHistory Mode = "history"
)

type PathKind int

const (
	PathNone PathKind = iota
	PathRoute
	PathHistory
)

// ActivePath is either a route (nav) or a day of history points (history).
// A nav path with a nil Route is still resolving.
type ActivePath struct {
	Kind    PathKind
	Route   *models.RoutePlan
	History []models.HistoryPoint
	Day     time.Time
	// Length is the route distance, or the haversine sum over History.
	Length float64
}

func (p ActivePath) Empty() bool { return p.Kind == PathNone }

// ViewState is a published copy of the engine state. Treat Devices and the
// path slices as read-only; the engine replaces them rather than mutating.
type ViewState struct {
	Mode       Mode
	Devices    map[string]models.Device
	SelectedID string
	Path       ActivePath
	Self       *models.Coord

	Center       models.Coord
	Zoom         int
	Bounds       geo.Bounds
	HasBounds    bool
	ManualCenter bool

	Notice string
	// Loading names the fetches still in flight for the current mode.
	RouteLoading   bool
	HistoryLoading bool
}

// Device looks up a device by id in the merged map.
func (v ViewState) Device(id string) (models.Device, bool) {
	d, ok := v.Devices[id]
	return d, ok
}

func (v ViewState) clone() ViewState {
	out := v
	out.Devices = make(map[string]models.Device, len(v.Devices))
	for k, d := range v.Devices {
		out.Devices[k] = d
	}
	if v.Self != nil {
		c := *v.Self
		out.Self = &c
	}
	return out
}

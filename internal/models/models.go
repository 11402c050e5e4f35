package models

import (
	"time"

	"github.com/goccy/go-json"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Fix is a located device's last accepted report.
type Fix struct {
	Coord
	LastUpdated time.Time
}

// Device is either located (Fix != nil) or pending (registered, never reported).
// Callers go through Located so a missing position cannot be read as 0,0.
type Device struct {
	ID  string
	Fix *Fix
}

func LocatedDevice(id string, lat, lng float64, at time.Time) Device {
	return Device{ID: id, Fix: &Fix{Coord: Coord{Lat: lat, Lng: lng}, LastUpdated: at}}
}

func PendingDevice(id string) Device { return Device{ID: id} }

func (d Device) Located() (Fix, bool) {
	if d.Fix == nil {
		return Fix{}, false
	}
	return *d.Fix, true
}

// deviceWire is the flat record clients see: lat/lng/lastUpdated are null while pending.
type deviceWire struct {
	DeviceID    string     `json:"deviceId"`
	Lat         *float64   `json:"lat"`
	Lng         *float64   `json:"lng"`
	LastUpdated *time.Time `json:"lastUpdated"`
}

func (d Device) MarshalJSON() ([]byte, error) {
	w := deviceWire{DeviceID: d.ID}
	if f, ok := d.Located(); ok {
		w.Lat, w.Lng, w.LastUpdated = &f.Lat, &f.Lng, &f.LastUpdated
	}
	return json.Marshal(w)
}

func (d *Device) UnmarshalJSON(b []byte) error {
	var w deviceWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	d.ID = w.DeviceID
	d.Fix = nil
	if w.Lat != nil && w.Lng != nil {
		f := &Fix{Coord: Coord{Lat: *w.Lat, Lng: *w.Lng}}
		if w.LastUpdated != nil {
			f.LastUpdated = *w.LastUpdated
		}
		d.Fix = f
	}
	return nil
}

// HistoryPoint is one immutable row of the append-only position log.
type HistoryPoint struct {
	DeviceID  string    `json:"deviceId,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

func (p HistoryPoint) Coord() Coord { return Coord{Lat: p.Lat, Lng: p.Lng} }

type Provenance string

const (
	ProvenanceRouted       Provenance = "routed"
	ProvenanceStraightLine Provenance = "straight-line-fallback"
)

// RoutePlan is derived per (origin, destination) and never persisted.
type RoutePlan struct {
	Path       []Coord    `json:"path"`
	Distance   float64    `json:"distance"` // meters
	Provenance Provenance `json:"provenance"`
	Provider   string     `json:"provider,omitempty"`
}

// LocationReport is what a device sends to the ingestion endpoint.
type LocationReport struct {
	DeviceID string   `json:"deviceId" validate:"required,max=64"`
	Lat      *float64 `json:"lat" validate:"required"`
	Lng      *float64 `json:"lng" validate:"required"`
}

// Live channel message kinds.
const (
	MessageSnapshot = "snapshot"
	MessageUpdate   = "update"
)

// LiveMessage is one frame on the live channel: a snapshot carries Devices,
// an update carries Device.
type LiveMessage struct {
	Type    string   `json:"type"`
	Devices []Device `json:"devices,omitempty"`
	Device  *Device  `json:"device,omitempty"`
}

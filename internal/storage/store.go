package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/fleet-tracker/internal/geo"
	"github.com/example/fleet-tracker/internal/models"
)

// LocationStore owns the latest-position table and the append-only history log.
type LocationStore interface {
	// Upsert records an accepted report: the device row and one history row
	// in the same operation.
	Upsert(ctx context.Context, deviceID string, lat, lng float64) (models.Device, error)
	// Register creates a pending device if it does not exist yet.
	Register(ctx context.Context, deviceID string) (models.Device, error)
	GetAll(ctx context.Context) ([]models.Device, error)
	// GetHistory returns the points of one calendar day, newest first.
	// No rows is an empty slice, not an error.
	GetHistory(ctx context.Context, deviceID string, day time.Time) ([]models.HistoryPoint, error)
}

// ValidationError reports bad or missing input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageError wraps a persistence failure. The store does not retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func validateReport(deviceID string, lat, lng float64) error {
	if err := validateID(deviceID); err != nil {
		return err
	}
	if !geo.ValidLat(lat) {
		return &ValidationError{Field: "lat", Reason: "must be within [-90, 90]"}
	}
	if !geo.ValidLng(lng) {
		return &ValidationError{Field: "lng", Reason: "must be within [-180, 180]"}
	}
	return nil
}

func validateID(deviceID string) error {
	if deviceID == "" {
		return &ValidationError{Field: "deviceId", Reason: "required"}
	}
	if len(deviceID) > 64 {
		return &ValidationError{Field: "deviceId", Reason: "longer than 64 characters"}
	}
	return nil
}

// dayWindow maps a calendar day to the half-open interval [start, start+1d)
// in loc.
func dayWindow(day time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

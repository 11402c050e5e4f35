package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/fleet-tracker/internal/broadcast"
	"github.com/example/fleet-tracker/internal/models"
	"github.com/example/fleet-tracker/internal/observability"
	"github.com/example/fleet-tracker/internal/storage"
)

// EventSink receives accepted locations after they are durable. Failures are
// logged and never fail the ingestion.
type EventSink interface {
	PublishLocation(ctx context.Context, d models.Device) error
}

// Service persists a report and then fans it out. Persistence happens before
// publish so a subscriber never sees an update the store does not have.
type Service struct {
	Store     storage.LocationStore
	Publisher broadcast.Publisher
	Events    EventSink
	Logger    *slog.Logger

	validate *validator.Validate
}

func NewService(store storage.LocationStore, pub broadcast.Publisher, events EventSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: store, Publisher: pub, Events: events, Logger: logger, validate: validator.New()}
}

// Ingest returns a *storage.ValidationError for bad input and a
// *storage.StorageError when the write fails. A broadcast failure after a
// successful write is logged only: the write already happened and the next
// snapshot will carry it.
func (s *Service) Ingest(ctx context.Context, r models.LocationReport) (models.Device, error) {
	if err := s.check(r); err != nil {
		observability.LocationsRejected.WithLabelValues("validation").Inc()
		return models.Device{}, err
	}

	d, err := s.Store.Upsert(ctx, strings.TrimSpace(r.DeviceID), *r.Lat, *r.Lng)
	if err != nil {
		reason := "storage"
		if storage.IsValidation(err) {
			reason = "validation"
		}
		observability.LocationsRejected.WithLabelValues(reason).Inc()
		return models.Device{}, err
	}
	observability.LocationsAccepted.Inc()

	if s.Publisher != nil {
		if err := s.Publisher.Publish(ctx, d); err != nil {
			s.Logger.Warn("broadcast failed", "device_id", d.ID, "error", err)
		}
	}
	if s.Events != nil {
		if err := s.Events.PublishLocation(ctx, d); err != nil {
			s.Logger.Warn("location event publish failed", "device_id", d.ID, "error", err)
		}
	}
	return d, nil
}

func (s *Service) check(r models.LocationReport) error {
	v := s.validate
	if v == nil {
		v = validator.New()
	}
	err := v.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fieldName(fe.Field())
		switch fe.Tag() {
		case "required":
			return &storage.ValidationError{Field: field, Reason: "required"}
		case "max":
			return &storage.ValidationError{Field: field, Reason: fmt.Sprintf("longer than %s characters", fe.Param())}
		}
		return &storage.ValidationError{Field: field, Reason: fe.Tag()}
	}
	return &storage.ValidationError{Field: "report", Reason: err.Error()}
}

func fieldName(goName string) string {
	switch goName {
	case "DeviceID":
		return "deviceId"
	case "Lat":
		return "lat"
	case "Lng":
		return "lng"
	}
	return strings.ToLower(goName)
}

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/fleet-tracker/internal/models"
)

// MemoryStore keeps both tables in process. It is the fallback when no
// PG_DSN is configured and the store used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]models.Device
	history map[string][]models.HistoryPoint
	loc     *time.Location
	now     func() time.Time
}

func NewMemoryStore(loc *time.Location) *MemoryStore {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryStore{
		devices: make(map[string]models.Device),
		history: make(map[string][]models.HistoryPoint),
		loc:     loc,
		now:     time.Now,
	}
}

func (m *MemoryStore) Upsert(ctx context.Context, deviceID string, lat, lng float64) (models.Device, error) {
	if err := validateReport(deviceID, lat, lng); err != nil {
		return models.Device{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	at := m.now()
	m.history[deviceID] = append(m.history[deviceID], models.HistoryPoint{DeviceID: deviceID, Lat: lat, Lng: lng, Timestamp: at})
	cur, ok := m.devices[deviceID]
	if ok {
		if f, located := cur.Located(); located && f.LastUpdated.After(at) {
			// a newer report already won; history keeps this one anyway
			return cur, nil
		}
	}
	d := models.LocatedDevice(deviceID, lat, lng, at)
	m.devices[deviceID] = d
	return d, nil
}

func (m *MemoryStore) Register(ctx context.Context, deviceID string) (models.Device, error) {
	if err := validateID(deviceID); err != nil {
		return models.Device{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[deviceID]; ok {
		return d, nil
	}
	d := models.PendingDevice(deviceID)
	m.devices[deviceID] = d
	return d, nil
}

func (m *MemoryStore) GetAll(ctx context.Context) ([]models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out, nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, deviceID string, day time.Time) ([]models.HistoryPoint, error) {
	start, end := dayWindow(day, m.loc)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.HistoryPoint{}
	rows := m.history[deviceID]
	// walk newest-appended first so equal timestamps keep arrival order reversed
	for i := len(rows) - 1; i >= 0; i-- {
		if p := rows[i]; !p.Timestamp.Before(start) && p.Timestamp.Before(end) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// HistoryCount reports how many history rows a device has accumulated.
func (m *MemoryStore) HistoryCount(deviceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history[deviceID])
}

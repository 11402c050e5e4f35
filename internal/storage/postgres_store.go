package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/fleet-tracker/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db  *sql.DB
	loc *time.Location
	now func() time.Time
}

func NewPostgresStore(dsn string, loc *time.Location) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newPostgresStore(db, loc), nil
}

func newPostgresStore(db *sql.DB, loc *time.Location) *PostgresStore {
	if loc == nil {
		loc = time.UTC
	}
	return &PostgresStore{db: db, loc: loc, now: time.Now}
}

// Migrate applies every embedded migration in name order. All statements are
// idempotent so it is safe on every start.
func (p *PostgresStore) Migrate(ctx context.Context) ([]string, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return names, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

const upsertDevice = `
INSERT INTO devices (device_id, lat, lng, last_updated)
VALUES ($1, $2, $3, $4)
ON CONFLICT (device_id) DO UPDATE
    SET lat = EXCLUDED.lat, lng = EXCLUDED.lng, last_updated = EXCLUDED.last_updated
    WHERE devices.lat IS NULL OR devices.last_updated <= EXCLUDED.last_updated
RETURNING device_id, lat, lng, last_updated`

// Upsert writes the device row and its history row in one transaction. A
// report older than the stored one still lands in history but leaves the
// latest pointer alone.
func (p *PostgresStore) Upsert(ctx context.Context, deviceID string, lat, lng float64) (models.Device, error) {
	if err := validateReport(deviceID, lat, lng); err != nil {
		return models.Device{}, err
	}
	at := p.now().UTC()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Device{}, &StorageError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	d, err := scanDevice(tx.QueryRowContext(ctx, upsertDevice, deviceID, lat, lng, at))
	if errors.Is(err, sql.ErrNoRows) {
		d, err = scanDevice(tx.QueryRowContext(ctx, `SELECT device_id, lat, lng, last_updated FROM devices WHERE device_id = $1`, deviceID))
	}
	if err != nil {
		return models.Device{}, &StorageError{Op: "upsert device", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO location_history (device_id, lat, lng, recorded_at) VALUES ($1, $2, $3, $4)`, deviceID, lat, lng, at); err != nil {
		return models.Device{}, &StorageError{Op: "append history", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return models.Device{}, &StorageError{Op: "commit", Err: err}
	}
	return d, nil
}

func (p *PostgresStore) Register(ctx context.Context, deviceID string) (models.Device, error) {
	if err := validateID(deviceID); err != nil {
		return models.Device{}, err
	}
	if _, err := p.db.ExecContext(ctx, `INSERT INTO devices (device_id, last_updated) VALUES ($1, NOW()) ON CONFLICT (device_id) DO NOTHING`, deviceID); err != nil {
		return models.Device{}, &StorageError{Op: "register", Err: err}
	}
	d, err := scanDevice(p.db.QueryRowContext(ctx, `SELECT device_id, lat, lng, last_updated FROM devices WHERE device_id = $1`, deviceID))
	if err != nil {
		return models.Device{}, &StorageError{Op: "register", Err: err}
	}
	return d, nil
}

func (p *PostgresStore) GetAll(ctx context.Context) ([]models.Device, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT device_id, lat, lng, last_updated FROM devices`)
	if err != nil {
		return nil, &StorageError{Op: "list devices", Err: err}
	}
	defer rows.Close()
	out := []models.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, &StorageError{Op: "list devices", Err: err}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list devices", Err: err}
	}
	return out, nil
}

func (p *PostgresStore) GetHistory(ctx context.Context, deviceID string, day time.Time) ([]models.HistoryPoint, error) {
	start, end := dayWindow(day, p.loc)
	rows, err := p.db.QueryContext(ctx, `
SELECT lat, lng, recorded_at FROM location_history
WHERE device_id = $1 AND recorded_at >= $2 AND recorded_at < $3
ORDER BY recorded_at DESC, id DESC`, deviceID, start, end)
	if err != nil {
		return nil, &StorageError{Op: "history", Err: err}
	}
	defer rows.Close()
	out := []models.HistoryPoint{}
	for rows.Next() {
		hp := models.HistoryPoint{DeviceID: deviceID}
		if err := rows.Scan(&hp.Lat, &hp.Lng, &hp.Timestamp); err != nil {
			return nil, &StorageError{Op: "history", Err: err}
		}
		out = append(out, hp)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "history", Err: err}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(r rowScanner) (models.Device, error) {
	var (
		id       string
		lat, lng sql.NullFloat64
		at       sql.NullTime
	)
	if err := r.Scan(&id, &lat, &lng, &at); err != nil {
		return models.Device{}, err
	}
	if !lat.Valid || !lng.Valid {
		return models.PendingDevice(id), nil
	}
	return models.LocatedDevice(id, lat.Float64, lng.Float64, at.Time), nil
}

package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/homie-hub/internal/homie"
)

// KeyHomie stores the last applied Homie settings.
const KeyHomie = "homie"

// Repository defines the settings persistence operations.
type Repository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	LoadHomie(ctx context.Context) (homie.Settings, error)
	SaveHomie(ctx context.Context, s homie.Settings) error

	DeviceOverrides(ctx context.Context) (map[string]bool, error)
	SetDeviceEnabled(ctx context.Context, deviceID string, enabled bool) error
	ReplaceDeviceOverrides(ctx context.Context, overrides map[string]bool) error
	DeleteDeviceOverride(ctx context.Context, deviceID string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed settings repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Get returns the raw value stored under key.
func (r *SQLiteRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("querying setting %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (r *SQLiteRepository) Set(ctx context.Context, key, value string) error {
	const query = `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := r.db.ExecContext(ctx, query, key, value, now()); err != nil {
		return fmt.Errorf("storing setting %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting setting %s: %w", key, err)
	}
	return nil
}

// LoadHomie returns the stored Homie settings with the device overrides
// merged in. It returns ErrNotFound when nothing was saved yet.
func (r *SQLiteRepository) LoadHomie(ctx context.Context) (homie.Settings, error) {
	raw, err := r.Get(ctx, KeyHomie)
	if err != nil {
		return homie.Settings{}, err
	}

	var s homie.Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return homie.Settings{}, fmt.Errorf("decoding homie settings: %w", err)
	}

	overrides, err := r.DeviceOverrides(ctx)
	if err != nil {
		return homie.Settings{}, err
	}
	s.Devices = overrides
	return s, nil
}

// SaveHomie stores the Homie settings. Device overrides go to their own
// table and are replaced wholesale.
func (r *SQLiteRepository) SaveHomie(ctx context.Context, s homie.Settings) error {
	devices := s.Devices
	s.Devices = nil

	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding homie settings: %w", err)
	}
	if err := r.Set(ctx, KeyHomie, string(b)); err != nil {
		return err
	}
	return r.ReplaceDeviceOverrides(ctx, devices)
}

// DeviceOverrides returns every explicit enablement.
func (r *SQLiteRepository) DeviceOverrides(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT device_id, enabled FROM device_overrides`)
	if err != nil {
		return nil, fmt.Errorf("querying device overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		var enabled int
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, fmt.Errorf("scanning device override: %w", err)
		}
		out[id] = enabled == 1
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device overrides: %w", err)
	}
	return out, nil
}

// SetDeviceEnabled records an explicit enablement for one device.
func (r *SQLiteRepository) SetDeviceEnabled(ctx context.Context, deviceID string, enabled bool) error {
	const query = `INSERT INTO device_overrides (device_id, enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`
	if _, err := r.db.ExecContext(ctx, query, deviceID, boolInt(enabled), now()); err != nil {
		return fmt.Errorf("storing override for %s: %w", deviceID, err)
	}
	return nil
}

// DeleteDeviceOverride drops the override, reverting the device to
// enabled.
func (r *SQLiteRepository) DeleteDeviceOverride(ctx context.Context, deviceID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM device_overrides WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("deleting override for %s: %w", deviceID, err)
	}
	return nil
}

// ReplaceDeviceOverrides makes the table match overrides in one
// transaction.
func (r *SQLiteRepository) ReplaceDeviceOverrides(ctx context.Context, overrides map[string]bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM device_overrides`); err != nil {
		return fmt.Errorf("clearing device overrides: %w", err)
	}

	ts := now()
	for id, enabled := range overrides {
		const query = `INSERT INTO device_overrides (device_id, enabled, updated_at) VALUES (?, ?, ?)`
		if _, err := tx.ExecContext(ctx, query, id, boolInt(enabled), ts); err != nil {
			return fmt.Errorf("storing override for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing device overrides: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore persists devices, groups and status history to a SQLite
// database. The Registry owns the in-memory cache and single-writer
// discipline; the store is a thin, swappable persistence layer behind it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-open SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// LoadDevices returns every persisted device.
func (s *SQLiteStore) LoadDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT home_id, cync_id, name, type_code, capabilities, mac,
			firmware_version, state, brightness, temperature, red, green, blue,
			online, offline_count, updated_at
		FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// LoadGroups returns every persisted group.
func (s *SQLiteStore) LoadGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT home_id, group_id, name, member_ids, updated_at FROM groups`)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		var memberIDsJSON string
		var updatedAt int64
		if err := rows.Scan(&g.HomeID, &g.GroupID, &g.Name, &memberIDsJSON, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		if err := json.Unmarshal([]byte(memberIDsJSON), &g.MemberIDs); err != nil {
			return nil, fmt.Errorf("decoding group members: %w", err)
		}
		g.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// SaveDevice upserts a device row.
func (s *SQLiteStore) SaveDevice(ctx context.Context, d *Device) error {
	capabilitiesJSON, err := json.Marshal(d.Capabilities)
	if err != nil {
		return fmt.Errorf("encoding capabilities: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (
			home_id, cync_id, name, type_code, capabilities, mac, firmware_version,
			state, brightness, temperature, red, green, blue, online, offline_count, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(home_id, cync_id) DO UPDATE SET
			name=excluded.name, type_code=excluded.type_code, capabilities=excluded.capabilities,
			mac=excluded.mac, firmware_version=excluded.firmware_version,
			state=excluded.state, brightness=excluded.brightness, temperature=excluded.temperature,
			red=excluded.red, green=excluded.green, blue=excluded.blue,
			online=excluded.online, offline_count=excluded.offline_count, updated_at=excluded.updated_at`,
		d.HomeID, d.CyncID, d.Name, d.TypeCode, string(capabilitiesJSON), d.MAC, d.FirmwareVersion,
		d.Status.State, nullableInt(d.Status.Brightness), nullableInt(d.Status.Temperature),
		nullableInt(d.Status.Red), nullableInt(d.Status.Green), nullableInt(d.Status.Blue),
		d.Status.Online, d.Status.OfflineCount, d.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving device: %w", err)
	}
	return nil
}

// SaveGroup upserts a group row.
func (s *SQLiteStore) SaveGroup(ctx context.Context, g *Group) error {
	memberIDsJSON, err := json.Marshal(g.MemberIDs)
	if err != nil {
		return fmt.Errorf("encoding group members: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO groups (home_id, group_id, name, member_ids, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(home_id, group_id) DO UPDATE SET
			name=excluded.name, member_ids=excluded.member_ids, updated_at=excluded.updated_at`,
		g.HomeID, g.GroupID, g.Name, string(memberIDsJSON), g.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving group: %w", err)
	}
	return nil
}

// RecordStatusHistory appends a status snapshot for a device. This table
// is append-only and is not read back by the Registry itself; it exists
// for operator diagnostics (spec §4.6 instrumentation is in-process
// metrics, not a durable log, but a short state-history trail is useful
// for debugging flapping devices without wiring a separate TSDB).
func (s *SQLiteStore) RecordStatusHistory(ctx context.Context, deviceID string, status Status, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state_history (device_id, state, brightness, temperature, red, green, blue, online, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		deviceID, status.State, nullableInt(status.Brightness), nullableInt(status.Temperature),
		nullableInt(status.Red), nullableInt(status.Green), nullableInt(status.Blue),
		status.Online, at.Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording status history: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var capabilitiesJSON string
	var brightness, temperature, red, green, blue sql.NullInt64
	var updatedAt int64

	if err := row.Scan(
		&d.HomeID, &d.CyncID, &d.Name, &d.TypeCode, &capabilitiesJSON, &d.MAC,
		&d.FirmwareVersion, &d.Status.State, &brightness, &temperature, &red, &green, &blue,
		&d.Status.Online, &d.Status.OfflineCount, &updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(capabilitiesJSON), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("decoding capabilities: %w", err)
	}
	d.Status.Brightness = nullInt64ToPtr(brightness)
	d.Status.Temperature = nullInt64ToPtr(temperature)
	d.Status.Red = nullInt64ToPtr(red)
	d.Status.Green = nullInt64ToPtr(green)
	d.Status.Blue = nullInt64ToPtr(blue)
	d.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &d, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt64ToPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

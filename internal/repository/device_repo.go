package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"poolbridge"
)

// ErrDeviceNotFound is returned when no device row matches the given id.
var ErrDeviceNotFound = errors.New("device not found")

type DeviceSQLite struct {
	db *sql.DB
}

func NewDeviceSQLite(db *sql.DB) *DeviceSQLite {
	return &DeviceSQLite{db: db}
}

var _ DeviceRepo = (*DeviceSQLite)(nil)

const (
	upsertDeviceSQL = `
		INSERT INTO devices (id, name, serial_number, email, password, refresh_interval_s, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			serial_number=excluded.serial_number,
			email=excluded.email,
			password=excluded.password,
			refresh_interval_s=excluded.refresh_interval_s
	`

	selectDeviceSQL   = `SELECT id, name, serial_number, email, password, refresh_interval_s, created_at FROM devices WHERE id = ?`
	selectDevicesSQL  = `SELECT id, name, serial_number, email, password, refresh_interval_s, created_at FROM devices ORDER BY created_at ASC`
	deleteDeviceSQL   = `DELETE FROM devices WHERE id = ?`
	updateIntervalSQL = `UPDATE devices SET refresh_interval_s = ? WHERE id = ?`
)

// Save upserts a device row, stamping CreatedAt in UTC when zero.
func (r *DeviceSQLite) Save(ctx context.Context, d poolbridge.Device) error {
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	} else {
		created = created.UTC()
	}
	_, err := r.db.ExecContext(ctx, upsertDeviceSQL,
		d.ID,
		d.Name,
		d.SerialNumber,
		d.Email,
		d.Password,
		d.RefreshIntervalSec,
		created,
	)
	return err
}

func (r *DeviceSQLite) Get(ctx context.Context, id string) (poolbridge.Device, error) {
	row := r.db.QueryRowContext(ctx, selectDeviceSQL, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return poolbridge.Device{}, ErrDeviceNotFound
		}
		return poolbridge.Device{}, fmt.Errorf("select device %q: %w", id, err)
	}
	return d, nil
}

func (r *DeviceSQLite) List(ctx context.Context) ([]poolbridge.Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDevicesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]poolbridge.Device, 0, 4)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *DeviceSQLite) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, deleteDeviceSQL, id)
	if err != nil {
		return fmt.Errorf("delete device %q: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (r *DeviceSQLite) SetRefreshInterval(ctx context.Context, id string, seconds int) error {
	res, err := r.db.ExecContext(ctx, updateIntervalSQL, seconds, id)
	if err != nil {
		return fmt.Errorf("update refresh interval for %q: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (poolbridge.Device, error) {
	var d poolbridge.Device
	if err := row.Scan(
		&d.ID,
		&d.Name,
		&d.SerialNumber,
		&d.Email,
		&d.Password,
		&d.RefreshIntervalSec,
		&d.CreatedAt,
	); err != nil {
		return poolbridge.Device{}, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}

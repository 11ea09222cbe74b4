package repository

import (
	"context"
	"database/sql"
	"time"

	"poolbridge"
	"poolbridge/internal/repository/db"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*poolbridge.User, error)
}

// DeviceRepo persists registered pool devices and their settings.
type DeviceRepo interface {
	Save(ctx context.Context, d poolbridge.Device) error
	Get(ctx context.Context, id string) (poolbridge.Device, error)
	List(ctx context.Context) ([]poolbridge.Device, error)
	Delete(ctx context.Context, id string) error
	SetRefreshInterval(ctx context.Context, id string, seconds int) error
}

// EventRepo appends and queries the pool event log.
type EventRepo interface {
	Append(ctx context.Context, e poolbridge.PoolEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]poolbridge.PoolEvent, error)
}

type Repository struct {
	Devices DeviceRepo
	Events  EventRepo
	Auth    Authorization
}

func NewRepository(sqlDB *sql.DB) *Repository {
	return &Repository{
		Devices: NewDeviceSQLite(sqlDB),
		Events:  NewEventSQLite(sqlDB),
		Auth:    NewUserRepository(sqlDB),
	}
}

// InitDB re-exports schema setup so main wires one package.
func InitDB(path string) (*sql.DB, error) {
	return db.InitDB(path)
}

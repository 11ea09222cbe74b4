package service

import (
	"context"
	"time"

	"poolbridge"
	"poolbridge/internal/cloud"
	"poolbridge/internal/coordinator"
	"poolbridge/internal/logger"
	"poolbridge/internal/repository"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Pool exposes write operations against one device: field writes, schedule
// edits, refresh control.
type Pool interface {
	SubmitWrite(ctx context.Context, deviceID, field string, value any, origin string) error
	SetSchedule(ctx context.Context, deviceID, key string, p ScheduleParams, origin string) error
	DisableSchedule(ctx context.Context, deviceID, key, origin string) error
	RequestRefresh(deviceID string) error
	SetRefreshInterval(ctx context.Context, deviceID string, seconds int) (int, error)
}

// Monitoring exposes read-only access to cached device state.
type Monitoring interface {
	Snapshot(deviceID string) (poolbridge.DeviceSnapshot, bool, error)
	Health(deviceID string) (coordinator.Health, error)
	Subscribe(deviceID string, fields []string, fn func(changed []string)) (func(), error)
}

// EventLog exposes the append-only pool event log with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]poolbridge.PoolEvent, error)
}

// Devices manages device registrations and their coordinator lifecycles.
type Devices interface {
	Register(ctx context.Context, p RegisterParams) (poolbridge.Device, error)
	List(ctx context.Context) ([]poolbridge.Device, error)
	Remove(ctx context.Context, id string) error
	Reload(ctx context.Context, id string) error
	StartAll(ctx context.Context) error
}

// ScheduleParams is a partial schedule edit; empty strings leave the timer
// untouched.
type ScheduleParams struct {
	Start string
	End   string
	RPM   *int
}

// RegisterParams carries what a new device registration needs.
type RegisterParams struct {
	Name               string
	SerialNumber       string
	Email              string
	Password           string
	RefreshIntervalSec int
}

// LogFilter supports history filtering by time range and type.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string
}

// Deps bundles the shared collaborators service construction needs.
type Deps struct {
	CloudConfig cloud.Config
	CoordConfig coordinator.Config
	SigningKey  string
	Log         *logger.Logger
}

// Service aggregates all sub-services.
type Service struct {
	Pool
	Monitoring
	EventLog
	Devices
	Authorization
}

// NewService wires the repository layer and the coordinator registry into
// concrete services.
func NewService(repos *repository.Repository, registry *coordinator.Registry, deps Deps) *Service {
	recorder := newEventRecorder(repos.Events, deps.Log)
	devices := NewDeviceService(repos.Devices, registry, recorder, deps)
	return &Service{
		Pool:          NewPoolService(registry, repos.Devices),
		Monitoring:    NewMonitoringService(registry),
		EventLog:      NewEventLogService(repos.Events),
		Devices:       devices,
		Authorization: NewAuthService(repos.Auth, deps.SigningKey),
	}
}

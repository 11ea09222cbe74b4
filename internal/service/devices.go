package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"poolbridge"
	"poolbridge/internal/cloud"
	"poolbridge/internal/coordinator"
	"poolbridge/internal/logger"
	"poolbridge/internal/repository"
)

type DeviceService struct {
	repo     repository.DeviceRepo
	registry *coordinator.Registry
	recorder coordinator.EventRecorder
	cloudCfg cloud.Config
	coord    coordinator.Config
	log      *logger.Logger
}

func NewDeviceService(repo repository.DeviceRepo, registry *coordinator.Registry, recorder coordinator.EventRecorder, deps Deps) *DeviceService {
	return &DeviceService{
		repo:     repo,
		registry: registry,
		recorder: recorder,
		cloudCfg: deps.CloudConfig,
		coord:    deps.CoordConfig,
		log:      deps.Log,
	}
}

var _ Devices = (*DeviceService)(nil)

// Register stores a new device and starts polling it.
func (s *DeviceService) Register(ctx context.Context, p RegisterParams) (poolbridge.Device, error) {
	if p.SerialNumber == "" {
		return poolbridge.Device{}, fmt.Errorf("serial number is required")
	}
	if p.Email == "" || p.Password == "" {
		return poolbridge.Device{}, fmt.Errorf("cloud credentials are required")
	}
	d := poolbridge.Device{
		ID:                 uuid.NewString(),
		Name:               p.Name,
		SerialNumber:       p.SerialNumber,
		Email:              p.Email,
		Password:           p.Password,
		RefreshIntervalSec: p.RefreshIntervalSec,
		CreatedAt:          time.Now().UTC(),
	}
	if d.Name == "" {
		d.Name = d.SerialNumber
	}
	if err := s.repo.Save(ctx, d); err != nil {
		return poolbridge.Device{}, fmt.Errorf("saving device: %w", err)
	}
	s.start(d)
	s.recorder.Record(poolbridge.PoolEvent{
		DeviceID:    d.ID,
		Type:        poolbridge.EventDeviceAdded,
		Description: fmt.Sprintf("device %s registered", d.SerialNumber),
	})
	return d, nil
}

func (s *DeviceService) List(ctx context.Context) ([]poolbridge.Device, error) {
	return s.repo.List(ctx)
}

// Remove stops the coordinator and deletes the registration.
func (s *DeviceService) Remove(ctx context.Context, id string) error {
	s.registry.Remove(id)
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recorder.Record(poolbridge.PoolEvent{
		DeviceID:    id,
		Type:        poolbridge.EventDeviceRemoved,
		Description: "device removed",
	})
	return nil
}

// Reload restarts one device's coordinator from its persisted settings, or
// all of them when id is empty. Running coordinators are replaced.
func (s *DeviceService) Reload(ctx context.Context, id string) error {
	if id == "" {
		devices, err := s.repo.List(ctx)
		if err != nil {
			return err
		}
		for _, d := range devices {
			s.start(d)
		}
		s.recorder.Record(poolbridge.PoolEvent{
			Type:        poolbridge.EventReload,
			Description: fmt.Sprintf("reloaded %d devices", len(devices)),
		})
		return nil
	}

	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	s.start(d)
	s.recorder.Record(poolbridge.PoolEvent{
		DeviceID:    d.ID,
		Type:        poolbridge.EventReload,
		Description: fmt.Sprintf("device %s reloaded", d.SerialNumber),
	})
	return nil
}

// StartAll brings up coordinators for every persisted device. Used at boot.
func (s *DeviceService) StartAll(ctx context.Context) error {
	devices, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		s.start(d)
	}
	s.log.Infow("started device coordinators", "count", len(devices))
	return nil
}

func (s *DeviceService) start(d poolbridge.Device) {
	client := cloud.NewClient(s.cloudCfg, cloud.Credentials{
		Email:        d.Email,
		Password:     d.Password,
		SerialNumber: d.SerialNumber,
	})
	cfg := s.coord
	if d.RefreshIntervalSec > 0 {
		cfg.InitialInterval = time.Duration(d.RefreshIntervalSec) * time.Second
	}
	c := coordinator.New(d.ID, cfg, client, s.recorder, s.log.ForDevice(d.ID))
	s.registry.Put(d.ID, c)
}

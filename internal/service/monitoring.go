package service

import (
	"fmt"

	"poolbridge"
	"poolbridge/internal/coordinator"
)

type MonitoringService struct {
	registry *coordinator.Registry
}

func NewMonitoringService(registry *coordinator.Registry) *MonitoringService {
	return &MonitoringService{registry: registry}
}

var _ Monitoring = (*MonitoringService)(nil)

// Snapshot returns the cached device state. ok is false until the first
// successful poll completes.
func (s *MonitoringService) Snapshot(deviceID string) (poolbridge.DeviceSnapshot, bool, error) {
	c, found := s.registry.Get(deviceID)
	if !found {
		return poolbridge.DeviceSnapshot{}, false, fmt.Errorf("device %q: %w", deviceID, ErrDeviceNotRunning)
	}
	snap, ok := c.Snapshot()
	return snap, ok, nil
}

func (s *MonitoringService) Health(deviceID string) (coordinator.Health, error) {
	c, found := s.registry.Get(deviceID)
	if !found {
		return coordinator.Health{}, fmt.Errorf("device %q: %w", deviceID, ErrDeviceNotRunning)
	}
	return c.Health(), nil
}

func (s *MonitoringService) Subscribe(deviceID string, fields []string, fn func(changed []string)) (func(), error) {
	c, found := s.registry.Get(deviceID)
	if !found {
		return nil, fmt.Errorf("device %q: %w", deviceID, ErrDeviceNotRunning)
	}
	return c.Subscribe(fields, fn), nil
}

package service

import (
	"context"
	"errors"
	"fmt"

	"poolbridge"
	"poolbridge/internal/coordinator"
	"poolbridge/internal/repository"
)

var ErrDeviceNotRunning = errors.New("device has no running coordinator")

type PoolService struct {
	registry *coordinator.Registry
	devices  repository.DeviceRepo
}

func NewPoolService(registry *coordinator.Registry, devices repository.DeviceRepo) *PoolService {
	return &PoolService{registry: registry, devices: devices}
}

var _ Pool = (*PoolService)(nil)

func (s *PoolService) coordinator(deviceID string) (*coordinator.Coordinator, error) {
	c, ok := s.registry.Get(deviceID)
	if !ok {
		return nil, fmt.Errorf("device %q: %w", deviceID, ErrDeviceNotRunning)
	}
	return c, nil
}

// SubmitWrite enqueues a field write and waits for the coalesced command to
// be acknowledged or dropped.
func (s *PoolService) SubmitWrite(ctx context.Context, deviceID, field string, value any, origin string) error {
	c, err := s.coordinator(deviceID)
	if err != nil {
		return err
	}
	done, err := c.SubmitWrite(field, value, origin)
	if err != nil {
		return err
	}
	return awaitWrite(ctx, done)
}

// SetSchedule validates and enqueues a partial timer edit. An unknown
// schedule key is rejected once a snapshot is available to check against.
func (s *PoolService) SetSchedule(ctx context.Context, deviceID, key string, p ScheduleParams, origin string) error {
	c, err := s.coordinator(deviceID)
	if err != nil {
		return err
	}

	var change coordinator.ScheduleChange
	if p.Start != "" {
		t, err := poolbridge.ParseTimeOfDay(p.Start)
		if err != nil {
			return fmt.Errorf("invalid start time: %w", err)
		}
		change.Start = &t
	}
	if p.End != "" {
		t, err := poolbridge.ParseTimeOfDay(p.End)
		if err != nil {
			return fmt.Errorf("invalid end time: %w", err)
		}
		change.End = &t
	}
	change.RPM = p.RPM

	if snap, ok := c.Snapshot(); ok {
		if _, known := snap.Schedule(key); !known {
			return fmt.Errorf("unknown schedule %q", key)
		}
	}

	done, err := c.SetSchedule(key, change, origin)
	if err != nil {
		return err
	}
	return awaitWrite(ctx, done)
}

func (s *PoolService) DisableSchedule(ctx context.Context, deviceID, key, origin string) error {
	c, err := s.coordinator(deviceID)
	if err != nil {
		return err
	}
	if snap, ok := c.Snapshot(); ok {
		if _, known := snap.Schedule(key); !known {
			return fmt.Errorf("unknown schedule %q", key)
		}
	}
	done, err := c.DisableSchedule(key, origin)
	if err != nil {
		return err
	}
	return awaitWrite(ctx, done)
}

func (s *PoolService) RequestRefresh(deviceID string) error {
	c, err := s.coordinator(deviceID)
	if err != nil {
		return err
	}
	return c.RequestRefresh()
}

// SetRefreshInterval applies the new cadence to the running coordinator and
// persists it, returning the clamped value actually in effect.
func (s *PoolService) SetRefreshInterval(ctx context.Context, deviceID string, seconds int) (int, error) {
	c, err := s.coordinator(deviceID)
	if err != nil {
		return 0, err
	}
	applied := c.SetRefreshInterval(seconds)
	if err := s.devices.SetRefreshInterval(ctx, deviceID, applied); err != nil {
		return applied, err
	}
	return applied, nil
}

// awaitWrite blocks until the queue resolves the write or the caller gives
// up. A canceled wait does not cancel the queued command.
func awaitWrite(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

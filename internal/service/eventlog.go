package service

import (
	"context"
	"errors"
	"time"

	"poolbridge"
	"poolbridge/internal/logger"
	"poolbridge/internal/repository"
)

var ErrInvalidLogFilter = errors.New("invalid log filter: 'from' is after 'to'")

type EventLogService struct {
	repo repository.EventRepo
}

func NewEventLogService(repo repository.EventRepo) *EventLogService {
	return &EventLogService{repo: repo}
}

var _ EventLog = (*EventLogService)(nil)

func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]poolbridge.PoolEvent, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return nil, ErrInvalidLogFilter
	}
	return s.repo.List(ctx, f.From, f.To, f.Type)
}

// eventRecorder bridges coordinator events into the persistent log. Appends
// happen off the poll path, so a failed insert is logged, not propagated.
type eventRecorder struct {
	repo repository.EventRepo
	log  *logger.Logger
}

func newEventRecorder(repo repository.EventRepo, log *logger.Logger) *eventRecorder {
	return &eventRecorder{repo: repo, log: log}
}

func (r *eventRecorder) Record(e poolbridge.PoolEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.repo.Append(ctx, e); err != nil {
		r.log.Warnw("failed to append pool event", "type", e.Type, "device", e.DeviceID, "err", err)
	}
}

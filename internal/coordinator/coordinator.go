package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"poolbridge"
	"poolbridge/internal/cloud"
	"poolbridge/internal/logger"
)

// writeSpec maps a snapshot field to the cloud write that changes it.
type writeSpec struct {
	kind   cloud.WriteKind
	target string
	toggle bool // device encodes the value as 0/1
}

var writableFields = map[string]writeSpec{
	poolbridge.FieldBoost:           {kind: cloud.KindPool, target: "boost", toggle: true},
	poolbridge.FieldLowMode:         {kind: cloud.KindPool, target: "low", toggle: true},
	poolbridge.FieldPower:           {kind: cloud.KindPool, target: "exo_state", toggle: true},
	poolbridge.FieldProduction:      {kind: cloud.KindPool, target: "production", toggle: true},
	poolbridge.FieldAux1:            {kind: cloud.KindPool, target: "aux_1.state", toggle: true},
	poolbridge.FieldAux2:            {kind: cloud.KindPool, target: "aux_2.state", toggle: true},
	poolbridge.FieldFilterPump:      {kind: cloud.KindPool, target: "filter_pump.state", toggle: true},
	poolbridge.FieldORPSetpoint:     {kind: cloud.KindPool, target: "orp_sp"},
	poolbridge.FieldPHSetpoint:      {kind: cloud.KindPool, target: "ph_sp"},
	poolbridge.FieldHeatingSetpoint: {kind: cloud.KindHeating, target: "sp"},
	poolbridge.FieldHeatingEnabled:  {kind: cloud.KindHeating, target: "enabled", toggle: true},
}

// Coordinator owns one device's request/response cycle: the snapshot store,
// rate controller, write queue, settling manager, and poll loop. Nothing here
// is shared across devices.
type Coordinator struct {
	DeviceID string

	cfg    Config
	store  *Store
	rate   *RateController
	settle *SettleManager
	queue  *WriteQueue
	poller *Poller
	log    *logger.Logger

	cancel context.CancelFunc
}

// New wires and starts a coordinator for one device. The poll loop begins
// immediately; Close tears everything down.
func New(deviceID string, cfg Config, api cloud.API, events EventRecorder, log *logger.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	devLog := log.ForDevice(deviceID)

	store := NewStore()
	rate := NewRateController(cfg)
	settle := NewSettleManager()
	queue := NewWriteQueue(ctx, deviceID, cfg, api, store, settle, rate, events, devLog)
	poller := NewPoller(deviceID, cfg, api, store, rate, settle, events, devLog)
	queue.onApplied = poller.Boost

	c := &Coordinator{
		DeviceID: deviceID,
		cfg:      cfg,
		store:    store,
		rate:     rate,
		settle:   settle,
		queue:    queue,
		poller:   poller,
		log:      devLog,
		cancel:   cancel,
	}
	go poller.Run(ctx)
	return c
}

// Close cancels the poll loop and lets any in-flight fetch or drain finish or
// fail; queued-but-undrained writes are canceled.
func (c *Coordinator) Close() {
	c.cancel()
	c.queue.Wait()
	c.log.Infow("coordinator closed")
}

// Snapshot returns the cached device state; ok is false before the first
// successful fetch.
func (c *Coordinator) Snapshot() (poolbridge.DeviceSnapshot, bool) {
	return c.store.Read()
}

// Subscribe registers a field-change listener; an empty field list receives
// every change.
func (c *Coordinator) Subscribe(fields []string, fn func(changed []string)) (cancel func()) {
	return c.store.Subscribe(fields, fn)
}

// RequestRefresh asks for an immediate out-of-band poll.
func (c *Coordinator) RequestRefresh() error {
	return c.poller.RequestRefresh()
}

// SetRefreshInterval adjusts the steady polling cadence, clamped to the
// configured floor and ceiling. The new cadence becomes the rate controller's
// lower bound, so backoff still raises the interval toward the ceiling but
// recovery decays back to the user's choice rather than the global floor.
func (c *Coordinator) SetRefreshInterval(seconds int) int {
	d := clampDuration(time.Duration(seconds)*time.Second, IntervalFloor, IntervalCeiling)
	c.rate.SetBounds(d, c.cfg.MaxInterval)
	c.rate.SetBaseInterval(d)
	c.log.Debugw("refresh interval set", "seconds", int(d.Seconds()))
	return int(d.Seconds())
}

// Health reports auth and freshness status for this device.
func (c *Coordinator) Health() Health {
	return c.poller.Health()
}

// SubmitWrite enqueues a write intent for a plain field. The result channel
// delivers once the coalesced command is acknowledged, dropped, or canceled.
func (c *Coordinator) SubmitWrite(field string, value any, origin string) (<-chan error, error) {
	if strings.HasPrefix(field, poolbridge.SchedulePrefix) {
		return nil, fmt.Errorf("field %q is a schedule; use SetSchedule", field)
	}
	spec, ok := writableFields[field]
	if !ok {
		return nil, fmt.Errorf("field %q is not writable", field)
	}

	payload := value
	if spec.toggle {
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("field %q expects a boolean", field)
		}
		if b {
			payload = 1
		} else {
			payload = 0
		}
	}

	cmd := Command{
		Kind:    spec.kind,
		Key:     string(spec.kind) + ":" + spec.target,
		Target:  spec.target,
		Payload: payload,
		Fields:  map[string]any{field: value},
		Settle:  c.cfg.SwitchSettle,
		Intent: poolbridge.WriteIntent{
			TargetField:  field,
			DesiredValue: value,
			IssuedAt:     time.Now().UTC(),
			Origin:       origin,
		},
	}
	return c.queue.Enqueue(cmd), nil
}

// ScheduleChange is a partial edit of one timer slot; nil members are left
// untouched by the patch.
type ScheduleChange struct {
	Start *poolbridge.TimeOfDay
	End   *poolbridge.TimeOfDay
	RPM   *int
}

// SetSchedule enqueues a schedule edit. Rapid edits to the same schedule
// coalesce into a single outbound command carrying the latest value of each
// sub-field. RPM is ignored unless the schedule drives a variable speed pump.
func (c *Coordinator) SetSchedule(key string, change ScheduleChange, origin string) (<-chan error, error) {
	base := poolbridge.ScheduleRecord{Key: key, Kind: poolbridge.ScheduleOther}
	if snap, ok := c.store.Read(); ok {
		if rec, ok := snap.Schedule(key); ok {
			base = rec
		}
	}
	if base.Kind != poolbridge.ScheduleVSP {
		change.RPM = nil
	}

	patch := make(map[string]any)
	timer := make(map[string]any)
	optimistic := base
	if change.Start != nil {
		timer["start"] = string(*change.Start)
		optimistic.Start = *change.Start
	}
	if change.End != nil {
		timer["end"] = string(*change.End)
		optimistic.End = *change.End
	}
	if len(timer) > 0 {
		patch["timer"] = timer
	}
	if change.RPM != nil {
		patch["rpm"] = *change.RPM
		optimistic.RPM = change.RPM
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("no schedule changes provided for %q", key)
	}
	optimistic.Enabled = !(optimistic.Start.IsMidnight() && optimistic.End.IsMidnight())
	optimistic = optimistic.Normalized()

	cmd := Command{
		Kind:    cloud.KindSchedule,
		Key:     "schedule:" + key,
		Target:  key,
		Payload: patch,
		Fields:  map[string]any{poolbridge.ScheduleField(key): optimistic},
		Settle:  c.cfg.ScheduleSettle,
		Intent: poolbridge.WriteIntent{
			TargetField:  poolbridge.ScheduleField(key),
			DesiredValue: patch,
			IssuedAt:     time.Now().UTC(),
			Origin:       origin,
		},
	}
	return c.queue.Enqueue(cmd), nil
}

// DisableSchedule zeroes a schedule's timer. Disabling and the 00:00-00:00
// encoding are the same state.
func (c *Coordinator) DisableSchedule(key string, origin string) (<-chan error, error) {
	midnight := poolbridge.Midnight
	return c.SetSchedule(key, ScheduleChange{Start: &midnight, End: &midnight}, origin)
}

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"poolbridge"
	"poolbridge/internal/cloud"
	"poolbridge/internal/logger"
)

// ErrCommandFailed wraps a write whose remote call kept failing after all
// retries; it is surfaced to the originating caller as an action failure.
var ErrCommandFailed = errors.New("command failed")

// EventRecorder receives notable coordinator events for the event log.
type EventRecorder interface {
	Record(event poolbridge.PoolEvent)
}

// Command is one coalesced outbound write. Intents sharing a merge key
// collapse into a single command carrying the latest value of each sub-field.
type Command struct {
	Kind   cloud.WriteKind
	Key    string // merge key, e.g. "pool:boost" or "schedule:sch6"
	Target string
	// Payload is the wire value. For schedule commands it is a nested map
	// merged patch-wise; for everything else the latest value wins whole.
	Payload any
	// Fields are the snapshot fields this write affects; they seed the
	// settling window and the optimistic update.
	Fields map[string]any
	// Settle is how long polling stays suspended after the ack.
	Settle time.Duration
	Intent poolbridge.WriteIntent
}

type pendingCommand struct {
	cmd      Command
	attempts int
	waiters  []chan error
}

// WriteQueue accepts write intents, merges intents targeting the same merge
// key, and drains them one at a time through a single worker. At most one
// outbound command is in flight; an enqueue for a key that is currently
// draining starts a fresh pending entry behind it rather than firing a
// concurrent duplicate.
type WriteQueue struct {
	cfg      Config
	deviceID string
	api      cloud.API
	store    *Store
	settle   *SettleManager
	rate     *RateController
	events   EventRecorder
	log      *logger.Logger

	// onApplied fires after a successful drain, once the optimistic update
	// and the settling window are in place.
	onApplied func()

	mu      sync.Mutex
	pending map[string]*pendingCommand
	order   []string
	running bool

	ctx context.Context
	wg  sync.WaitGroup
}

func NewWriteQueue(ctx context.Context, deviceID string, cfg Config, api cloud.API, store *Store, settle *SettleManager, rate *RateController, events EventRecorder, log *logger.Logger) *WriteQueue {
	return &WriteQueue{
		cfg:      cfg.withDefaults(),
		deviceID: deviceID,
		api:      api,
		store:    store,
		settle:   settle,
		rate:     rate,
		events:   events,
		log:      log,
		pending:  make(map[string]*pendingCommand),
		ctx:      ctx,
	}
}

// Enqueue inserts or merges the command and schedules a drain. It never
// blocks; the returned channel delivers exactly one result when the command
// has been sent, dropped, or canceled.
func (q *WriteQueue) Enqueue(cmd Command) <-chan error {
	done := make(chan error, 1)

	// Polling pauses the moment an intent exists, before any network call.
	q.settle.NoteEnqueue(q.cfg.NoReadWindow)

	q.mu.Lock()
	if existing, ok := q.pending[cmd.Key]; ok {
		existing.cmd.Payload = mergePayload(cmd.Kind, existing.cmd.Payload, cmd.Payload)
		existing.cmd.Fields = mergeFieldValues(existing.cmd.Fields, cmd.Fields)
		if cmd.Settle > existing.cmd.Settle {
			existing.cmd.Settle = cmd.Settle
		}
		existing.cmd.Intent = cmd.Intent
		existing.waiters = append(existing.waiters, done)
		writesCoalesced.WithLabelValues(q.deviceID).Inc()
	} else {
		q.pending[cmd.Key] = &pendingCommand{cmd: cmd, waiters: []chan error{done}}
		q.order = append(q.order, cmd.Key)
	}
	if !q.running {
		q.running = true
		q.wg.Add(1)
		go q.worker()
	}
	q.mu.Unlock()

	return done
}

// Wait blocks until the drain worker has finished, for orderly teardown.
func (q *WriteQueue) Wait() {
	q.wg.Wait()
}

func (q *WriteQueue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.order) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		key := q.order[0]
		q.order = q.order[1:]
		item := q.pending[key]
		delete(q.pending, key)
		q.mu.Unlock()

		if item == nil {
			continue
		}
		if err := q.drain(item); err != nil {
			q.failWaiters(item, err)
			return // context canceled; stop draining
		}

		if err := q.sleep(q.cfg.WriteGap); err != nil {
			q.drainRemaining(err)
			return
		}
	}
}

// drain sends one command, retrying transient failures up to the retry
// budget. A non-nil return means the context was canceled.
func (q *WriteQueue) drain(item *pendingCommand) error {
	for {
		// Respect any rate-limit cooldown before touching the network.
		if hold := q.rate.HoldRemaining(); hold > 0 {
			if err := q.sleep(hold); err != nil {
				return err
			}
		}

		err := q.api.SendCommand(q.ctx, item.cmd.Kind, item.cmd.Target, item.cmd.Payload)
		if err == nil {
			q.applyResult(item.cmd)
			q.settleWaiters(item, nil)
			return nil
		}
		if q.ctx.Err() != nil {
			return q.ctx.Err()
		}

		item.attempts++
		if errors.Is(err, cloud.ErrRateLimited) {
			q.rate.OnRateLimited()
			writesTotal.WithLabelValues(q.deviceID, resultRateLimited).Inc()
			q.events.Record(poolbridge.PoolEvent{
				DeviceID:    q.deviceID,
				Type:        poolbridge.EventRateLimited,
				Description: "rate limited while sending " + item.cmd.Key,
			})
		} else {
			writesTotal.WithLabelValues(q.deviceID, resultError).Inc()
		}

		if item.attempts >= q.cfg.WriteRetries {
			q.log.Errorw("write dropped after retries", "key", item.cmd.Key, "attempts", item.attempts, "err", err)
			writesTotal.WithLabelValues(q.deviceID, resultFailed).Inc()
			q.events.Record(poolbridge.PoolEvent{
				DeviceID:    q.deviceID,
				Type:        poolbridge.EventCommandFailed,
				Description: fmt.Sprintf("command %s dropped after %d attempts", item.cmd.Key, item.attempts),
				Metadata:    map[string]any{"origin": item.cmd.Intent.Origin, "error": err.Error()},
			})
			q.settleWaiters(item, fmt.Errorf("%w: %s: %v", ErrCommandFailed, item.cmd.Key, err))
			return nil
		}

		q.log.Warnw("write attempt failed, retrying", "key", item.cmd.Key, "attempt", item.attempts, "err", err)
		writesTotal.WithLabelValues(q.deviceID, resultRetried).Inc()
		if err := q.sleep(q.cfg.WriteGap); err != nil {
			return err
		}
	}
}

// applyResult applies the optimistic update and opens the settling window.
// The update is only applied after the remote ack; a failed call must not
// poison the snapshot.
func (q *WriteQueue) applyResult(cmd Command) {
	fields := make([]string, 0, len(cmd.Fields))
	for name, value := range cmd.Fields {
		q.store.ApplyOptimistic(name, value)
		fields = append(fields, name)
	}
	q.settle.NoteWrite(fields, cmd.Settle)
	writesTotal.WithLabelValues(q.deviceID, resultSuccess).Inc()
	q.events.Record(poolbridge.PoolEvent{
		DeviceID:    q.deviceID,
		Type:        poolbridge.EventCommandSent,
		Description: "command " + cmd.Key + " acknowledged",
		Metadata:    map[string]any{"origin": cmd.Intent.Origin},
	})
	if q.onApplied != nil {
		q.onApplied()
	}
}

func (q *WriteQueue) settleWaiters(item *pendingCommand, err error) {
	for _, w := range item.waiters {
		w <- err
	}
	item.waiters = nil
}

func (q *WriteQueue) failWaiters(item *pendingCommand, err error) {
	q.settleWaiters(item, err)
	q.drainRemaining(err)
}

// drainRemaining cancels every queued-but-undrained command on teardown.
func (q *WriteQueue) drainRemaining(err error) {
	q.mu.Lock()
	pending := q.pending
	q.pending = make(map[string]*pendingCommand)
	q.order = nil
	q.running = false
	q.mu.Unlock()

	for _, item := range pending {
		q.settleWaiters(item, err)
	}
}

func (q *WriteQueue) sleep(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-q.ctx.Done():
		return q.ctx.Err()
	case <-timer.C:
		return nil
	}
}

// mergePayload combines a pending payload with a newer one. Schedule patches
// merge recursively so rapid edits to start, end, and rpm collapse into one
// command carrying the latest value of each sub-field; all other kinds are
// last-writer-wins.
func mergePayload(kind cloud.WriteKind, old, new any) any {
	if kind != cloud.KindSchedule {
		return new
	}
	oldMap, okOld := old.(map[string]any)
	newMap, okNew := new.(map[string]any)
	if !okOld || !okNew {
		return new
	}
	return deepMerge(oldMap, newMap)
}

func deepMerge(base, update map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(update))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range update {
		if sub, ok := v.(map[string]any); ok {
			if prev, ok := merged[k].(map[string]any); ok {
				merged[k] = deepMerge(prev, sub)
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

func mergeFieldValues(old, new map[string]any) map[string]any {
	merged := make(map[string]any, len(old)+len(new))
	for k, v := range old {
		merged[k] = v
	}
	for k, v := range new {
		if newRec, ok := v.(poolbridge.ScheduleRecord); ok {
			if oldRec, ok := merged[k].(poolbridge.ScheduleRecord); ok {
				merged[k] = mergeScheduleRecords(oldRec, newRec)
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

// mergeScheduleRecords layers a partial schedule edit over the pending one so
// the optimistic snapshot matches what the coalesced command will produce.
func mergeScheduleRecords(old, new poolbridge.ScheduleRecord) poolbridge.ScheduleRecord {
	merged := old
	if new.Start != "" {
		merged.Start = new.Start
	}
	if new.End != "" {
		merged.End = new.End
	}
	if new.RPM != nil {
		merged.RPM = new.RPM
	}
	if new.Kind != "" {
		merged.Kind = new.Kind
	}
	merged.Enabled = !(merged.Start.IsMidnight() && merged.End.IsMidnight())
	return merged.Normalized()
}

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"poolbridge"
	"poolbridge/internal/cloud"
	"poolbridge/internal/logger"
)

// hookAPI runs a callback inside FetchSnapshot, simulating writes that land
// while a fetch is in flight.
type hookAPI struct {
	mu      sync.Mutex
	snap    poolbridge.DeviceSnapshot
	err     error
	fetches int
	hook    func()
	block   chan struct{}
}

func (h *hookAPI) FetchSnapshot(ctx context.Context) (poolbridge.DeviceSnapshot, error) {
	h.mu.Lock()
	h.fetches++
	snap, err, hook, block := h.snap, h.err, h.hook, h.block
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return poolbridge.DeviceSnapshot{}, ctx.Err()
		}
	}
	return snap, err
}

func (h *hookAPI) SendCommand(ctx context.Context, kind cloud.WriteKind, target string, payload any) error {
	return nil
}

func (h *hookAPI) fetchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fetches
}

func newTestPoller(api cloud.API) (*Poller, *Store, *SettleManager, *RateController, *recordedEvents) {
	cfg := testRateConfig()
	store := NewStore()
	settle := NewSettleManager()
	rate := NewRateController(cfg)
	events := &recordedEvents{}
	p := NewPoller("dev1", cfg, api, store, rate, settle, events, logger.Get(logger.ErrorLevel))
	return p, store, settle, rate, events
}

func TestPollerReplacesStoreOnSuccess(t *testing.T) {
	api := &hookAPI{snap: snapshotWith(map[string]any{poolbridge.FieldTemperature: 24.0})}
	p, store, _, rate, _ := newTestPoller(api)

	p.poll(context.Background())

	snap, ok := store.Read()
	if !ok {
		t.Fatal("store not populated after successful poll")
	}
	if snap.Fields[poolbridge.FieldTemperature] != 24.0 {
		t.Fatalf("snapshot fields = %v", snap.Fields)
	}
	if st := rate.State(); st.ConsecutiveSuccesses != 1 {
		t.Fatalf("successes = %d, want 1", st.ConsecutiveSuccesses)
	}
	if h := p.Health(); h.LastSuccess.IsZero() {
		t.Fatal("health missing last success time")
	}
}

func TestPollerSkipsDuringSettleWindow(t *testing.T) {
	api := &hookAPI{snap: snapshotWith(map[string]any{poolbridge.FieldBoost: false})}
	p, store, settle, _, _ := newTestPoller(api)

	// An acknowledged write has set boost optimistically and opened a
	// settling window. The next tick must not fetch at all.
	store.ApplyOptimistic(poolbridge.FieldBoost, true)
	settle.NoteWrite([]string{poolbridge.FieldBoost}, time.Minute)

	p.poll(context.Background())

	if got := api.fetchCount(); got != 0 {
		t.Fatalf("poll fetched %d times during settling window", got)
	}
	snap, _ := store.Read()
	if snap.Fields[poolbridge.FieldBoost] != true {
		t.Fatal("optimistic value lost")
	}
}

func TestPollerDiscardsStaleMidFlightFetch(t *testing.T) {
	// The remote still reports boost=false, and the settling window opens
	// while that fetch is in flight. The fetched data is stale with respect
	// to the write and must be dropped.
	api := &hookAPI{snap: snapshotWith(map[string]any{poolbridge.FieldBoost: false})}
	p, store, settle, _, _ := newTestPoller(api)
	store.Replace(snapshotWith(map[string]any{poolbridge.FieldBoost: false}))

	api.hook = func() {
		store.ApplyOptimistic(poolbridge.FieldBoost, true)
		settle.NoteWrite([]string{poolbridge.FieldBoost}, time.Minute)
	}
	p.poll(context.Background())

	snap, _ := store.Read()
	if snap.Fields[poolbridge.FieldBoost] != true {
		t.Fatal("mid-flight fetch reverted the optimistic value")
	}
}

func TestPollerBacksOffOnRateLimit(t *testing.T) {
	api := &hookAPI{err: fmt.Errorf("status 429: %w", cloud.ErrRateLimited)}
	p, _, _, rate, events := newTestPoller(api)

	p.poll(context.Background())

	if got := rate.NextInterval(); got != 1200*time.Second {
		t.Fatalf("interval after 429 = %v, want 1200s", got)
	}
	if got := events.ofType(poolbridge.EventRateLimited); len(got) != 1 {
		t.Fatalf("rate-limited events = %d, want 1", len(got))
	}
}

func TestPollerRecordsAuthFailure(t *testing.T) {
	api := &hookAPI{err: fmt.Errorf("login rejected: %w", cloud.ErrUnauthorized)}
	p, _, _, _, events := newTestPoller(api)

	p.poll(context.Background())

	if h := p.Health(); h.AuthError == "" {
		t.Fatal("health missing auth error")
	}
	if got := events.ofType(poolbridge.EventAuthFailed); len(got) != 1 {
		t.Fatalf("auth-failed events = %d, want 1", len(got))
	}
}

func TestPollerRecordsGenericFailure(t *testing.T) {
	api := &hookAPI{err: errors.New("connection reset")}
	p, _, _, rate, events := newTestPoller(api)

	p.poll(context.Background())

	// Non-throttle failures back off more gently.
	if got := rate.NextInterval(); got != 900*time.Second {
		t.Fatalf("interval after network error = %v, want 900s", got)
	}
	if got := events.ofType(poolbridge.EventPollFailed); len(got) != 1 {
		t.Fatalf("poll-failed events = %d, want 1", len(got))
	}
}

func TestRequestRefreshDeferredDuringSettle(t *testing.T) {
	api := &hookAPI{snap: snapshotWith(map[string]any{poolbridge.FieldBoost: false})}
	p, store, settle, _, _ := newTestPoller(api)

	store.ApplyOptimistic(poolbridge.FieldBoost, true)
	settle.NoteWrite([]string{poolbridge.FieldBoost}, time.Minute)

	// A manual refresh during the window is a deferred no-op: no fetch, and
	// the cached optimistic value stays readable.
	if err := p.RequestRefresh(); !errors.Is(err, ErrRefreshDeferred) {
		t.Fatalf("err = %v, want ErrRefreshDeferred", err)
	}
	if got := api.fetchCount(); got != 0 {
		t.Fatalf("refresh fetched %d times during settling window", got)
	}
	snap, _ := store.Read()
	if snap.Fields[poolbridge.FieldBoost] != true {
		t.Fatal("optimistic value lost after deferred refresh")
	}
}

func TestRequestRefreshWhileFetchInFlight(t *testing.T) {
	block := make(chan struct{})
	api := &hookAPI{snap: snapshotWith(map[string]any{}), block: block}
	p, _, _, _, _ := newTestPoller(api)

	started := make(chan struct{})
	api.hook = func() { close(started) }
	done := make(chan struct{})
	go func() {
		p.poll(context.Background())
		close(done)
	}()
	<-started

	if err := p.RequestRefresh(); !errors.Is(err, ErrRefreshInFlight) {
		t.Fatalf("err = %v, want ErrRefreshInFlight", err)
	}
	close(block)
	<-done

	// Once idle and unblocked, a refresh is accepted.
	if err := p.RequestRefresh(); err != nil {
		t.Fatalf("refresh after fetch finished: %v", err)
	}
}

func TestRequestRefreshRetriesOnceHoldLapses(t *testing.T) {
	api := &hookAPI{snap: snapshotWith(map[string]any{})}
	p, _, settle, _, _ := newTestPoller(api)

	settle.NoteWrite([]string{poolbridge.FieldBoost}, 20*time.Millisecond)
	if err := p.RequestRefresh(); !errors.Is(err, ErrRefreshDeferred) {
		t.Fatalf("err = %v, want ErrRefreshDeferred", err)
	}

	// No poll has ever succeeded, so once the window expires the deferred
	// refresh queues a wakeup on its own.
	select {
	case <-p.kick:
	case <-time.After(2 * time.Second):
		t.Fatal("no wakeup after the settling window expired")
	}
}

func TestRequestRefreshGuardDropsRedundantRetry(t *testing.T) {
	api := &hookAPI{snap: snapshotWith(map[string]any{})}
	p, _, settle, _, _ := newTestPoller(api)

	// A poll just succeeded; the default guard of 120s makes a deferred
	// refresh redundant once its hold lapses.
	p.poll(context.Background())
	settle.NoteWrite([]string{poolbridge.FieldBoost}, 20*time.Millisecond)
	if err := p.RequestRefresh(); !errors.Is(err, ErrRefreshDeferred) {
		t.Fatalf("err = %v, want ErrRefreshDeferred", err)
	}

	select {
	case <-p.kick:
		t.Fatal("deferred refresh retried although a poll just succeeded")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRequestRefreshDeferredDuringCooldown(t *testing.T) {
	api := &hookAPI{err: fmt.Errorf("status 429: %w", cloud.ErrRateLimited)}
	p, _, _, _, _ := newTestPoller(api)

	p.poll(context.Background())

	if err := p.RequestRefresh(); !errors.Is(err, ErrRefreshDeferred) {
		t.Fatalf("err = %v, want ErrRefreshDeferred during cooldown", err)
	}
}

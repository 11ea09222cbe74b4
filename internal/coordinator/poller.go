package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"poolbridge"
	"poolbridge/internal/cloud"
	"poolbridge/internal/logger"
)

// Manual refresh outcomes. Both are no-ops, not failures: the caller keeps
// reading the cached snapshot.
var (
	// ErrRefreshInFlight means a fetch is already running.
	ErrRefreshInFlight = errors.New("refresh already in progress")
	// ErrRefreshDeferred means a settling window or rate-limit cooldown
	// currently forbids polling.
	ErrRefreshDeferred = errors.New("refresh deferred")
)

type pollerState int

const (
	stateIdle pollerState = iota
	stateFetching
)

// Poller is the control loop: on each tick it asks the settle manager whether
// polling is permitted, fetches if so, updates the store, and reports the
// outcome to the rate controller. It is the only path that overwrites the
// store with authoritative data.
type Poller struct {
	cfg      Config
	deviceID string
	api      cloud.API
	store    *Store
	rate     *RateController
	settle   *SettleManager
	events   EventRecorder
	log      *logger.Logger

	kick chan struct{}

	mu             sync.Mutex
	state          pollerState
	boostUntil     time.Time
	lastSuccess    time.Time
	authErr        string
	pendingRefresh *time.Timer
}

// retrySlack pads a deferred-refresh retry past the hold expiry so the
// re-check does not race the clock.
const retrySlack = 10 * time.Millisecond

func NewPoller(deviceID string, cfg Config, api cloud.API, store *Store, rate *RateController, settle *SettleManager, events EventRecorder, log *logger.Logger) *Poller {
	return &Poller{
		cfg:      cfg.withDefaults(),
		deviceID: deviceID,
		api:      api,
		store:    store,
		rate:     rate,
		settle:   settle,
		events:   events,
		log:      log,
		kick:     make(chan struct{}, 1),
	}
}

// Run drives the poll loop until the context is canceled. The first fetch
// happens immediately so observers have data as soon as possible.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)
	for {
		interval := p.nextWake()
		pollInterval.WithLabelValues(p.deviceID).Set(interval.Seconds())

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.mu.Lock()
			if p.pendingRefresh != nil {
				p.pendingRefresh.Stop()
				p.pendingRefresh = nil
			}
			p.mu.Unlock()
			return
		case <-timer.C:
		case <-p.kick:
			timer.Stop()
		}
		p.poll(ctx)
	}
}

// nextWake picks the sleep before the next poll attempt: the adaptive
// interval, shortened during a post-write boost, but never shorter than an
// active hold (settling window or 429 cooldown).
func (p *Poller) nextWake() time.Duration {
	interval := p.rate.NextInterval()

	p.mu.Lock()
	boosted := time.Now().Before(p.boostUntil)
	p.mu.Unlock()
	if boosted && p.cfg.BoostInterval < interval {
		interval = p.cfg.BoostInterval
	}

	if hold := p.settle.HoldRemaining(); hold > interval {
		interval = hold
	}
	if hold := p.rate.HoldRemaining(); hold > interval {
		interval = hold
	}
	return interval
}

// poll performs one fetch attempt if nothing blocks it.
func (p *Poller) poll(ctx context.Context) {
	if p.settle.IsPollingBlocked() || p.rate.HoldRemaining() > 0 {
		pollsTotal.WithLabelValues(p.deviceID, resultSkipped).Inc()
		p.log.Debugw("poll skipped", "reason", "settling or cooldown")
		return
	}

	p.mu.Lock()
	if p.state == stateFetching {
		p.mu.Unlock()
		return
	}
	p.state = stateFetching
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.state = stateIdle
		p.mu.Unlock()
	}()

	snap, err := p.api.FetchSnapshot(ctx)
	if err != nil {
		p.handleFetchError(ctx, err)
		return
	}

	// A settling window may have opened while the fetch was in flight; the
	// result is stale with respect to that write and must not revert it.
	if p.settle.IsPollingBlocked() {
		pollsTotal.WithLabelValues(p.deviceID, resultSkipped).Inc()
		p.log.Debugw("fetched data discarded, write settled mid-flight")
		return
	}

	p.store.Replace(snap)
	p.rate.OnSuccess()
	pollsTotal.WithLabelValues(p.deviceID, resultSuccess).Inc()
	p.mu.Lock()
	p.lastSuccess = time.Now()
	p.authErr = ""
	p.mu.Unlock()
}

func (p *Poller) handleFetchError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	switch {
	case errors.Is(err, cloud.ErrRateLimited):
		p.rate.OnRateLimited()
		pollsTotal.WithLabelValues(p.deviceID, resultRateLimited).Inc()
		p.log.Warnw("poll rate limited, backing off", "next_interval", p.rate.NextInterval())
		p.events.Record(poolbridge.PoolEvent{
			DeviceID:    p.deviceID,
			Type:        poolbridge.EventRateLimited,
			Description: "snapshot fetch throttled by remote service",
		})
	case errors.Is(err, cloud.ErrUnauthorized):
		p.rate.OnOtherFailure()
		pollsTotal.WithLabelValues(p.deviceID, resultError).Inc()
		p.mu.Lock()
		p.authErr = err.Error()
		p.mu.Unlock()
		p.log.Errorw("poll unauthorized", "err", err)
		p.events.Record(poolbridge.PoolEvent{
			DeviceID:    p.deviceID,
			Type:        poolbridge.EventAuthFailed,
			Description: "authentication failed during snapshot fetch",
		})
	default:
		p.rate.OnOtherFailure()
		pollsTotal.WithLabelValues(p.deviceID, resultError).Inc()
		p.log.Warnw("poll failed", "err", err)
		p.events.Record(poolbridge.PoolEvent{
			DeviceID:    p.deviceID,
			Type:        poolbridge.EventPollFailed,
			Description: "snapshot fetch failed",
			Metadata:    map[string]any{"error": err.Error()},
		})
	}
}

// RequestRefresh behaves as an out-of-band timer fire. It is honored only if
// no fetch is running and no settling window or cooldown blocks polling. A
// blocked request is deferred, not lost: a single retry is armed for when the
// hold lapses, and it fires only if no poll has succeeded within RefreshGuard
// by then.
func (p *Poller) RequestRefresh() error {
	p.mu.Lock()
	fetching := p.state == stateFetching
	p.mu.Unlock()
	if fetching {
		return ErrRefreshInFlight
	}
	if hold := p.holdRemaining(); hold > 0 {
		p.armRetry(hold)
		return ErrRefreshDeferred
	}
	p.wake()
	return nil
}

// holdRemaining is the longer of the settle and rate-limit holds.
func (p *Poller) holdRemaining() time.Duration {
	hold := p.settle.HoldRemaining()
	if h := p.rate.HoldRemaining(); h > hold {
		hold = h
	}
	return hold
}

// armRetry schedules at most one deferred-refresh retry.
func (p *Poller) armRetry(hold time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pendingRefresh != nil {
		return
	}
	p.pendingRefresh = time.AfterFunc(hold+retrySlack, p.retryRefresh)
}

// retryRefresh runs when a deferred refresh's hold should have lapsed. A
// recent poll success makes the retry redundant, since that poll already
// delivered authoritative state; a still-active hold re-arms the retry.
func (p *Poller) retryRefresh() {
	p.mu.Lock()
	p.pendingRefresh = nil
	fresh := !p.lastSuccess.IsZero() && time.Since(p.lastSuccess) < p.cfg.RefreshGuard
	p.mu.Unlock()

	if fresh {
		p.log.Debugw("deferred refresh dropped, recent poll already confirmed state")
		return
	}
	if hold := p.holdRemaining(); hold > 0 {
		p.armRetry(hold)
		return
	}
	p.wake()
}

func (p *Poller) wake() {
	select {
	case p.kick <- struct{}{}:
	default:
		// A wakeup is already queued.
	}
}

// Boost temporarily shortens the poll cadence, used right after a successful
// write so the authoritative state is confirmed quickly once settling ends.
func (p *Poller) Boost() {
	p.mu.Lock()
	p.boostUntil = time.Now().Add(p.cfg.BoostDuration)
	p.mu.Unlock()
	p.wake()
}

// Health reports the poller's authentication and freshness status.
type Health struct {
	LastSuccess time.Time `json:"last_success"`
	AuthError   string    `json:"auth_error,omitempty"`
	Rate        RateState `json:"rate"`
}

func (p *Poller) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Health{
		LastSuccess: p.lastSuccess,
		AuthError:   p.authErr,
		Rate:        p.rate.State(),
	}
}

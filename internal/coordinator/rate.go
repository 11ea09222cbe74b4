package coordinator

import (
	"sync"
	"time"
)

// RateState is a point-in-time view of the backoff machinery.
type RateState struct {
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	CurrentInterval      time.Duration `json:"current_interval"`
	MinInterval          time.Duration `json:"min_interval"`
	MaxInterval          time.Duration `json:"max_interval"`
}

// RateController adapts the polling cadence to what the remote service
// tolerates. The backoff is deliberately asymmetric: one rate-limit signal
// backs off immediately, while recovery requires a sustained success streak,
// so the loop cannot oscillate into repeated throttling.
type RateController struct {
	mu sync.Mutex

	cfg       Config
	current   time.Duration
	min       time.Duration
	max       time.Duration
	failures  int
	successes int
	notBefore time.Time

	now func() time.Time
}

func NewRateController(cfg Config) *RateController {
	cfg = cfg.withDefaults()
	return &RateController{
		cfg:     cfg,
		current: cfg.InitialInterval,
		min:     cfg.MinInterval,
		max:     cfg.MaxInterval,
		now:     time.Now,
	}
}

// OnSuccess records a successful remote call. Once the success streak passes
// the recovery threshold the interval decays geometrically toward the
// minimum.
func (r *RateController) OnSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
	r.successes++
	if r.successes > r.cfg.RecoveryThreshold {
		r.current = r.clamp(time.Duration(float64(r.current) / r.cfg.BackoffFactor))
	}
}

// OnRateLimited reacts to a throttle signal: the interval grows geometrically
// toward the maximum and a fixed cooldown holds off the next attempt
// regardless of interval.
func (r *RateController) OnRateLimited() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = 0
	r.failures++
	r.current = r.clamp(time.Duration(float64(r.current) * r.cfg.BackoffFactor))
	r.notBefore = r.now().Add(r.cfg.RateLimitCooldown)
}

// OnOtherFailure grows the interval more gently; network and auth errors are
// not necessarily load-related.
func (r *RateController) OnOtherFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = 0
	r.failures++
	r.current = r.clamp(time.Duration(float64(r.current) * r.cfg.GentleFactor))
}

// NextInterval reports the current polling interval without side effects.
func (r *RateController) NextInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// HoldRemaining reports how long the post-429 cooldown still forbids any
// attempt.
func (r *RateController) HoldRemaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	remaining := r.notBefore.Sub(r.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SetBounds moves the min/max interval bounds, clamped to the configured
// floor and ceiling, and re-clamps the current interval into them.
func (r *RateController) SetBounds(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	min = clampDuration(min, IntervalFloor, IntervalCeiling)
	max = clampDuration(max, min, IntervalCeiling)
	r.min = min
	r.max = max
	r.current = r.clamp(r.current)
}

// SetBaseInterval resets the cadence to the given steady interval, clamped to
// the bounds, without touching the streak counters.
func (r *RateController) SetBaseInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = r.clamp(d)
}

// State returns the current rate state.
func (r *RateController) State() RateState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RateState{
		ConsecutiveFailures:  r.failures,
		ConsecutiveSuccesses: r.successes,
		CurrentInterval:      r.current,
		MinInterval:          r.min,
		MaxInterval:          r.max,
	}
}

// clamp must be called with the lock held.
func (r *RateController) clamp(d time.Duration) time.Duration {
	return clampDuration(d, r.min, r.max)
}

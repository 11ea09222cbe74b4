package coordinator

import "time"

// Bounds the configured steady-poll interval may move within. Requests outside
// are clamped, never rejected.
const (
	IntervalFloor   = 300 * time.Second
	IntervalCeiling = 3600 * time.Second
)

// Config carries the tuning knobs of the coordination core. The defaults are
// the empirically tuned values the vendor cloud is known to tolerate; deploys
// override them through the config file rather than editing code.
type Config struct {
	// InitialInterval is the steady poll cadence before any backoff.
	InitialInterval time.Duration
	// MinInterval / MaxInterval bound the adaptive interval at all times.
	MinInterval time.Duration
	MaxInterval time.Duration

	// BackoffFactor is the geometric growth applied on a rate-limit signal
	// and the decay applied during recovery.
	BackoffFactor float64
	// GentleFactor is the milder growth for failures that are not
	// necessarily load-related (network, 5xx).
	GentleFactor float64
	// RecoveryThreshold is how many consecutive successes are required
	// before the interval starts decaying back toward MinInterval.
	RecoveryThreshold int
	// RateLimitCooldown is the fixed hold after a 429 before any further
	// attempt, regardless of the computed interval.
	RateLimitCooldown time.Duration

	// BoostInterval / BoostDuration temporarily speed up polling after a
	// successful write so the UI sees the confirmed state quickly.
	BoostInterval time.Duration
	BoostDuration time.Duration

	// RefreshGuard drops a deferred manual refresh when a poll has already
	// succeeded this recently by the time the blocking hold lapses.
	RefreshGuard time.Duration

	// NoReadWindow suspends polling the moment a write is enqueued, before
	// it has even been sent.
	NoReadWindow time.Duration
	// SwitchSettle / ScheduleSettle are the settling-window durations after
	// a write is acknowledged. Schedule propagation is observed to be much
	// slower than simple switches.
	SwitchSettle   time.Duration
	ScheduleSettle time.Duration

	// WriteGap spaces consecutive outbound commands.
	WriteGap time.Duration
	// WriteRetries bounds attempts per coalesced command before it is
	// dropped and surfaced as a failed command.
	WriteRetries int
}

// withDefaults fills zero values with the tuned defaults.
func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = IntervalFloor
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = IntervalCeiling
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = c.MinInterval
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 600 * time.Second
	}
	c.InitialInterval = clampDuration(c.InitialInterval, c.MinInterval, c.MaxInterval)
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2.0
	}
	if c.GentleFactor <= 1 {
		c.GentleFactor = 1.5
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = 3
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = 60 * time.Second
	}
	if c.BoostInterval <= 0 {
		c.BoostInterval = 10 * time.Second
	}
	if c.BoostDuration <= 0 {
		c.BoostDuration = 60 * time.Second
	}
	if c.RefreshGuard <= 0 {
		c.RefreshGuard = 120 * time.Second
	}
	if c.NoReadWindow <= 0 {
		c.NoReadWindow = 30 * time.Second
	}
	if c.SwitchSettle <= 0 {
		c.SwitchSettle = 45 * time.Second
	}
	if c.ScheduleSettle <= 0 {
		c.ScheduleSettle = 180 * time.Second
	}
	if c.WriteGap <= 0 {
		c.WriteGap = 8 * time.Second
	}
	if c.WriteRetries <= 0 {
		c.WriteRetries = 3
	}
	return c
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

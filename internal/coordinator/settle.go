package coordinator

import (
	"sync"
	"time"
)

// SettlingWindow is a time-boxed suspension of authoritative polling after a
// write, so the next poll cannot revert an optimistic update with stale data.
type SettlingWindow struct {
	OpenedAt time.Time     `json:"opened_at"`
	Duration time.Duration `json:"duration"`
	Reason   []string      `json:"reason"` // affected snapshot fields
}

func (w SettlingWindow) expiresAt() time.Time {
	return w.OpenedAt.Add(w.Duration)
}

// SettleManager tracks at most one settling window plus the shorter no-read
// hold that starts the moment a write is merely enqueued. A new write extends
// or replaces the window; windows never stack.
type SettleManager struct {
	mu          sync.Mutex
	window      SettlingWindow
	noReadUntil time.Time

	now func() time.Time
}

func NewSettleManager() *SettleManager {
	return &SettleManager{now: time.Now}
}

// NoteEnqueue opens the no-read hold: polling pauses as soon as an intent is
// queued, before the command has even been sent.
func (m *SettleManager) NoteEnqueue(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until := m.now().Add(d)
	if until.After(m.noReadUntil) {
		m.noReadUntil = until
	}
}

// NoteWrite opens or extends the settling window covering the given fields.
func (m *SettleManager) NoteWrite(fields []string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	proposed := SettlingWindow{OpenedAt: now, Duration: d, Reason: fields}
	if m.windowActiveLocked(now) && m.window.expiresAt().After(proposed.expiresAt()) {
		// The existing window already outlasts the new one; just widen its
		// reason set.
		m.window.Reason = mergeFields(m.window.Reason, fields)
		return
	}
	proposed.Reason = mergeFields(m.window.Reason, fields)
	if !m.windowActiveLocked(now) {
		proposed.Reason = append([]string(nil), fields...)
	}
	m.window = proposed
}

// IsPollingBlocked reports whether a poll touching the given fields must be
// deferred. With no arguments it answers for a whole-snapshot poll, which is
// the only kind the shadow endpoint supports.
func (m *SettleManager) IsPollingBlocked(fields ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now.Before(m.noReadUntil) {
		return true
	}
	if !m.windowActiveLocked(now) {
		return false
	}
	if len(fields) == 0 {
		return true
	}
	return overlaps(m.window.Reason, fields)
}

// IsWriteBlocked reports whether a write touching the given fields should
// wait for the active window, preventing out-of-order application of
// overlapping edits.
func (m *SettleManager) IsWriteBlocked(fields ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.windowActiveLocked(m.now()) {
		return false
	}
	if len(fields) == 0 {
		return false
	}
	return overlaps(m.window.Reason, fields)
}

// HoldRemaining reports how long polling stays blocked from now.
func (m *SettleManager) HoldRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	hold := m.noReadUntil
	if m.windowActiveLocked(now) && m.window.expiresAt().After(hold) {
		hold = m.window.expiresAt()
	}
	remaining := hold.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ActiveWindow returns the current window, if one is open.
func (m *SettleManager) ActiveWindow() (SettlingWindow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.windowActiveLocked(m.now()) {
		return SettlingWindow{}, false
	}
	return m.window, true
}

func (m *SettleManager) windowActiveLocked(now time.Time) bool {
	return m.window.Duration > 0 && now.Before(m.window.expiresAt())
}

func mergeFields(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, f := range list {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

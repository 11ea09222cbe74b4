package coordinator

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"poolbridge"
)

// Store holds the last-known device state. It is written authoritatively by
// the poller, patched optimistically by the write queue, and read by everyone
// else without ever blocking.
type Store struct {
	mu         sync.RWMutex
	snap       poolbridge.DeviceSnapshot
	ready      bool
	optimistic map[string]struct{}

	listeners  map[int]*listener
	nextListen int
}

type listener struct {
	fields map[string]struct{} // empty set means every field
	fn     func(changed []string)
}

func NewStore() *Store {
	return &Store{
		optimistic: make(map[string]struct{}),
		listeners:  make(map[int]*listener),
	}
}

// Read returns a copy of the current snapshot. The second return is false
// before the first successful fetch.
func (s *Store) Read() (poolbridge.DeviceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return poolbridge.DeviceSnapshot{}, false
	}
	return s.snap.Clone(), true
}

// Replace atomically swaps in an authoritative snapshot, clears any pending
// optimistic stamps, and notifies listeners of the fields that changed. The
// capability set is recomputed so fields can appear or disappear between
// hardware reports.
func (s *Store) Replace(snap poolbridge.DeviceSnapshot) {
	snap = snap.Clone()
	snap.RecomputeSupported()
	snap.OptimisticFields = nil

	s.mu.Lock()
	changed := diffFields(s.snap.Fields, snap.Fields)
	if !s.ready {
		changed = allFieldNames(snap.Fields)
	}
	s.snap = snap
	s.ready = true
	s.optimistic = make(map[string]struct{})
	targets := s.matchingListeners(changed)
	s.mu.Unlock()

	notify(targets, changed)
}

// ApplyOptimistic updates one field in place, stamped as optimistic. The
// freshness timestamp is not advanced, so a later authoritative replace is
// still trusted over this value.
func (s *Store) ApplyOptimistic(field string, value any) {
	s.mu.Lock()
	if !s.ready {
		s.snap.Fields = make(map[string]any)
		s.snap.FetchedAt = time.Time{}
		s.ready = true
	} else {
		s.snap = s.snap.Clone()
	}
	s.snap.Fields[field] = value
	s.optimistic[field] = struct{}{}
	s.snap.OptimisticFields = sortedKeys(s.optimistic)
	s.snap.RecomputeSupported()
	changed := []string{field}
	targets := s.matchingListeners(changed)
	s.mu.Unlock()

	notify(targets, changed)
}

// Subscribe registers a change listener for the named fields (none means all
// fields). The returned function cancels the subscription.
func (s *Store) Subscribe(fields []string, fn func(changed []string)) (cancel func()) {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}

	s.mu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = &listener{fields: set, fn: fn}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// matchingListeners must be called with the lock held.
func (s *Store) matchingListeners(changed []string) []*listener {
	if len(changed) == 0 {
		return nil
	}
	var out []*listener
	for _, l := range s.listeners {
		if l.wants(changed) {
			out = append(out, l)
		}
	}
	return out
}

func (l *listener) wants(changed []string) bool {
	if len(l.fields) == 0 {
		return true
	}
	for _, f := range changed {
		if _, ok := l.fields[f]; ok {
			return true
		}
	}
	return false
}

// notify runs outside the store lock so a listener may read the store.
func notify(targets []*listener, changed []string) {
	for _, l := range targets {
		l.fn(changed)
	}
}

func diffFields(old, new map[string]any) []string {
	var changed []string
	for name, v := range new {
		prev, ok := old[name]
		if !ok || !reflect.DeepEqual(prev, v) {
			changed = append(changed, name)
		}
	}
	for name := range old {
		if _, ok := new[name]; !ok {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

func allFieldNames(fields map[string]any) []string {
	return sortedKeysOf(fields)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeysOf(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

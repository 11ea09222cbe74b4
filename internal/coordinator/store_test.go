package coordinator

import (
	"testing"
	"time"

	"poolbridge"
)

func snapshotWith(fields map[string]any) poolbridge.DeviceSnapshot {
	snap := poolbridge.DeviceSnapshot{
		Fields:    fields,
		FetchedAt: time.Now().UTC(),
	}
	snap.RecomputeSupported()
	return snap
}

func TestStoreReadBeforeFirstFetch(t *testing.T) {
	s := NewStore()
	if _, ok := s.Read(); ok {
		t.Fatal("Read reported a snapshot before any fetch")
	}
}

func TestStoreReadReturnsIndependentCopy(t *testing.T) {
	s := NewStore()
	s.Replace(snapshotWith(map[string]any{poolbridge.FieldTemperature: 24.5}))

	snap, ok := s.Read()
	if !ok {
		t.Fatal("no snapshot after Replace")
	}
	snap.Fields[poolbridge.FieldTemperature] = 99.0

	again, _ := s.Read()
	if got := again.Fields[poolbridge.FieldTemperature]; got != 24.5 {
		t.Fatalf("mutating a read copy leaked into the store: %v", got)
	}
}

func TestStoreOptimisticDoesNotAdvanceFreshness(t *testing.T) {
	s := NewStore()
	fetched := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.Replace(poolbridge.DeviceSnapshot{
		Fields:    map[string]any{poolbridge.FieldBoost: false},
		FetchedAt: fetched,
	})

	s.ApplyOptimistic(poolbridge.FieldBoost, true)

	snap, _ := s.Read()
	if got := snap.Fields[poolbridge.FieldBoost]; got != true {
		t.Fatalf("optimistic value not visible: %v", got)
	}
	if !snap.FetchedAt.Equal(fetched) {
		t.Fatalf("optimistic update advanced FetchedAt to %v", snap.FetchedAt)
	}
	if len(snap.OptimisticFields) != 1 || snap.OptimisticFields[0] != poolbridge.FieldBoost {
		t.Fatalf("optimistic stamp missing: %v", snap.OptimisticFields)
	}
}

func TestStoreReplaceClearsOptimisticStamps(t *testing.T) {
	s := NewStore()
	s.Replace(snapshotWith(map[string]any{poolbridge.FieldBoost: false}))
	s.ApplyOptimistic(poolbridge.FieldBoost, true)

	s.Replace(snapshotWith(map[string]any{poolbridge.FieldBoost: true}))

	snap, _ := s.Read()
	if len(snap.OptimisticFields) != 0 {
		t.Fatalf("authoritative replace kept optimistic stamps: %v", snap.OptimisticFields)
	}
}

func TestStoreListenerFiltering(t *testing.T) {
	s := NewStore()
	s.Replace(snapshotWith(map[string]any{
		poolbridge.FieldTemperature: 24.0,
		poolbridge.FieldPH:          7.2,
	}))

	var phChanges, allChanges [][]string
	cancelPH := s.Subscribe([]string{poolbridge.FieldPH}, func(changed []string) {
		phChanges = append(phChanges, changed)
	})
	defer cancelPH()
	cancelAll := s.Subscribe(nil, func(changed []string) {
		allChanges = append(allChanges, changed)
	})
	defer cancelAll()

	// Temperature-only change: the pH listener stays quiet.
	s.Replace(snapshotWith(map[string]any{
		poolbridge.FieldTemperature: 25.0,
		poolbridge.FieldPH:          7.2,
	}))
	if len(phChanges) != 0 {
		t.Fatalf("pH listener fired for temperature change: %v", phChanges)
	}
	if len(allChanges) != 1 {
		t.Fatalf("catch-all listener fired %d times, want 1", len(allChanges))
	}

	// pH change reaches both.
	s.Replace(snapshotWith(map[string]any{
		poolbridge.FieldTemperature: 25.0,
		poolbridge.FieldPH:          7.4,
	}))
	if len(phChanges) != 1 {
		t.Fatalf("pH listener fired %d times, want 1", len(phChanges))
	}

	// Identical snapshot: nothing changed, nobody fires.
	before := len(allChanges)
	s.Replace(snapshotWith(map[string]any{
		poolbridge.FieldTemperature: 25.0,
		poolbridge.FieldPH:          7.4,
	}))
	if len(allChanges) != before {
		t.Fatal("listener fired for an identical snapshot")
	}
}

func TestStoreFirstReplaceNotifiesEverything(t *testing.T) {
	s := NewStore()
	var got []string
	cancel := s.Subscribe(nil, func(changed []string) { got = changed })
	defer cancel()

	s.Replace(snapshotWith(map[string]any{
		poolbridge.FieldTemperature: 24.0,
		poolbridge.FieldPH:          7.2,
	}))
	if len(got) != 2 {
		t.Fatalf("first replace notified %v, want both fields", got)
	}
}

func TestStoreCapabilityRecompute(t *testing.T) {
	s := NewStore()
	s.Replace(snapshotWith(map[string]any{
		poolbridge.FieldTemperature: 24.0,
		poolbridge.FieldORP:         650.0,
	}))

	snap, _ := s.Read()
	if !snap.Supports(poolbridge.FieldORP) {
		t.Fatal("ORP should be supported after first report")
	}

	// The sensor disappears from the next report; capability follows.
	s.Replace(snapshotWith(map[string]any{
		poolbridge.FieldTemperature: 24.0,
	}))
	snap, _ = s.Read()
	if snap.Supports(poolbridge.FieldORP) {
		t.Fatal("ORP still reported as supported after it vanished")
	}
}

// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hamlet-works/hamlet/lib/clock"
)

func newTestBuildingStore(t *testing.T) (*BuildingStore, *clock.FakeClock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buildings.json")
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewBuildingStore(path, 3*time.Second, fake, testLogger()), fake, path
}

func TestBuildingCreatedLazily(t *testing.T) {
	t.Parallel()
	store, _, _ := newTestBuildingStore(t)

	if _, ok := store.Enriched("forge"); ok {
		t.Fatal("building existed before first attribution")
	}
	created := store.GetOrCreate("forge")
	if created.BuildingID != "forge" {
		t.Errorf("BuildingID = %q", created.BuildingID)
	}
	if _, ok := store.Enriched("forge"); !ok {
		t.Error("building missing after GetOrCreate")
	}
}

func TestBuildingVisitTracking(t *testing.T) {
	t.Parallel()
	store, _, _ := newTestBuildingStore(t)
	store.GetOrCreate("library")

	store.RecordVisit("library", "scholar-1")
	store.RecordVisit("library", "scholar-2")
	store.RecordVisit("library", "scholar-1")

	enriched, _ := store.Enriched("library")
	if enriched.TotalVisits != 3 {
		t.Errorf("TotalVisits = %d, want 3", enriched.TotalVisits)
	}
	if len(enriched.UniqueVisitors) != 2 {
		t.Errorf("UniqueVisitors = %v, want 2 entries", enriched.UniqueVisitors)
	}
	// Flattened sorted for stable persistence.
	if enriched.UniqueVisitors[0] != "scholar-1" || enriched.UniqueVisitors[1] != "scholar-2" {
		t.Errorf("UniqueVisitors order = %v", enriched.UniqueVisitors)
	}
}

func TestBuildingActivityAccumulates(t *testing.T) {
	t.Parallel()
	store, _, _ := newTestBuildingStore(t)
	store.GetOrCreate("forge")

	store.RecordActivity("forge", 1, 30000, 20000)
	store.RecordActivity("forge", 2, 0, 0)
	store.RecordActivity("forge", -5, -1, -1) // clamps, never decreases

	enriched, _ := store.Enriched("forge")
	if enriched.ToolCalls != 3 {
		t.Errorf("ToolCalls = %d, want 3", enriched.ToolCalls)
	}
	if enriched.TotalInputBytes != 30000 || enriched.TotalOutputBytes != 20000 {
		t.Errorf("byte totals = (%d, %d)", enriched.TotalInputBytes, enriched.TotalOutputBytes)
	}
	// 3 tool calls + floor(50000/50000) byte bonus.
	if enriched.XP != 4 {
		t.Errorf("XP = %d, want 4", enriched.XP)
	}
	if enriched.Title != "Shack" {
		t.Errorf("Title = %q, want Shack", enriched.Title)
	}
}

func TestBuildingUnknownNoOps(t *testing.T) {
	t.Parallel()
	store, _, _ := newTestBuildingStore(t)

	if store.RecordActivity("ruins", 1, 0, 0) {
		t.Error("RecordActivity on unknown building reported ok")
	}
	if store.RecordVisit("ruins", "wanderer") {
		t.Error("RecordVisit on unknown building reported ok")
	}
	if len(store.All()) != 0 {
		t.Error("no-op mutations created buildings")
	}
}

func TestBuildingFlushRoundTrip(t *testing.T) {
	t.Parallel()
	store, fake, path := newTestBuildingStore(t)

	store.GetOrCreate("watchtower")
	store.RecordVisit("watchtower", "reviewer-1")
	store.RecordActivity("watchtower", 4, 1000, 2000)
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reloaded := NewBuildingStore(path, 3*time.Second, fake, testLogger())
	enriched, ok := reloaded.Enriched("watchtower")
	if !ok {
		t.Fatal("building missing after reload")
	}
	if enriched.ToolCalls != 4 || enriched.TotalVisits != 1 {
		t.Errorf("reloaded counters = %+v", enriched.BuildingProfile)
	}
	if len(enriched.UniqueVisitors) != 1 || enriched.UniqueVisitors[0] != "reviewer-1" {
		t.Errorf("reloaded visitors = %v", enriched.UniqueVisitors)
	}

	// The restored visitor set keeps deduplicating.
	reloaded.RecordVisit("watchtower", "reviewer-1")
	enriched, _ = reloaded.Enriched("watchtower")
	if len(enriched.UniqueVisitors) != 1 {
		t.Errorf("visitor set lost dedup across reload: %v", enriched.UniqueVisitors)
	}
}

func TestBuildingAllSorted(t *testing.T) {
	t.Parallel()
	store, _, _ := newTestBuildingStore(t)
	store.GetOrCreate("tavern")
	store.GetOrCreate("forge")
	store.GetOrCreate("library")

	all := store.All()
	if len(all) != 3 {
		t.Fatalf("All returned %d buildings", len(all))
	}
	if all[0].BuildingID != "forge" || all[1].BuildingID != "library" || all[2].BuildingID != "tavern" {
		t.Errorf("order = [%s %s %s]", all[0].BuildingID, all[1].BuildingID, all[2].BuildingID)
	}
}

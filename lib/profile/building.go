// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hamlet-works/hamlet/lib/clock"
	"github.com/hamlet-works/hamlet/lib/progression"
)

// BuildingStore is the durable repository of per-location aggregates.
// Its persistence file is independent of the agent store's. The
// building set is small and fixed by the activity→location table, but
// the store itself accepts any key and creates lazily on first
// attribution.
type BuildingStore struct {
	mu        sync.Mutex
	buildings map[string]*buildingState
	saver     *saver
	clock     clock.Clock
	logger    *slog.Logger
}

// buildingState pairs the persisted profile with the in-memory
// visitor set. The set is flattened to a sorted slice at save time.
type buildingState struct {
	profile  BuildingProfile
	visitors map[string]struct{}
}

// NewBuildingStore loads the store from path, archiving the prior
// file, with the same persistence discipline as the agent store.
func NewBuildingStore(path string, debounce time.Duration, cl clock.Clock, logger *slog.Logger) *BuildingStore {
	store := &BuildingStore{
		buildings: make(map[string]*buildingState),
		clock:     cl,
		logger:    logger,
	}

	persisted := make(map[string]BuildingProfile)
	if err := loadJSON(path, &persisted); err != nil {
		logger.Warn("building state unreadable, starting empty", "error", err)
		persisted = make(map[string]BuildingProfile)
	}
	for id, p := range persisted {
		state := &buildingState{profile: p, visitors: make(map[string]struct{}, len(p.UniqueVisitors))}
		for _, visitor := range p.UniqueVisitors {
			state.visitors[visitor] = struct{}{}
		}
		store.buildings[id] = state
	}

	archivePrior(path, cl.Now(), logger)
	store.saver = newSaver(path, debounce, cl, logger, store.marshal)
	return store
}

// GetOrCreate returns the profile for buildingID, creating it lazily
// on first attribution.
func (s *BuildingStore) GetOrCreate(buildingID string) BuildingProfile {
	now := s.clock.Now()

	s.mu.Lock()
	state, exists := s.buildings[buildingID]
	if !exists {
		state = &buildingState{
			profile: BuildingProfile{
				BuildingID:    buildingID,
				FirstActivity: now,
				LastActivity:  now,
			},
			visitors: make(map[string]struct{}),
		}
		s.buildings[buildingID] = state
	}
	result := cloneBuilding(state)
	s.mu.Unlock()

	if !exists {
		s.saver.schedule()
	}
	return result
}

// RecordActivity credits tool calls and byte volume to a building.
// Negative deltas are clamped to zero. Returns false when the
// building is unknown.
func (s *BuildingStore) RecordActivity(buildingID string, toolCalls int, inputBytes, outputBytes int64) bool {
	if toolCalls < 0 {
		toolCalls = 0
	}
	if inputBytes < 0 {
		inputBytes = 0
	}
	if outputBytes < 0 {
		outputBytes = 0
	}
	now := s.clock.Now()

	s.mu.Lock()
	state, exists := s.buildings[buildingID]
	if !exists {
		s.mu.Unlock()
		return false
	}
	state.profile.ToolCalls += toolCalls
	state.profile.TotalInputBytes += inputBytes
	state.profile.TotalOutputBytes += outputBytes
	state.profile.LastActivity = now
	s.mu.Unlock()

	s.saver.schedule()
	return true
}

// RecordVisit adds the agent to the building's unique-visitor set and
// increments the (non-unique) visit count. Returns false when the
// building is unknown.
func (s *BuildingStore) RecordVisit(buildingID, agentID string) bool {
	now := s.clock.Now()

	s.mu.Lock()
	state, exists := s.buildings[buildingID]
	if !exists {
		s.mu.Unlock()
		return false
	}
	state.visitors[agentID] = struct{}{}
	state.profile.TotalVisits++
	state.profile.LastActivity = now
	s.mu.Unlock()

	s.saver.schedule()
	return true
}

// Enriched returns the building profile merged with its derived
// progression, or false if the building has never been attributed.
func (s *BuildingStore) Enriched(buildingID string) (EnrichedBuilding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, exists := s.buildings[buildingID]
	if !exists {
		return EnrichedBuilding{}, false
	}
	return enrichBuilding(state), true
}

// All returns every building enriched, sorted by identifier for
// deterministic snapshot order.
func (s *BuildingStore) All() []EnrichedBuilding {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]EnrichedBuilding, 0, len(s.buildings))
	for _, state := range s.buildings {
		result = append(result, enrichBuilding(state))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].BuildingID < result[j].BuildingID
	})
	return result
}

// Flush writes the store synchronously, cancelling any pending
// debounced save.
func (s *BuildingStore) Flush() error {
	return s.saver.Flush()
}

func (s *BuildingStore) marshal() ([]byte, error) {
	s.mu.Lock()
	persisted := make(map[string]BuildingProfile, len(s.buildings))
	for id, state := range s.buildings {
		persisted[id] = cloneBuilding(state)
	}
	s.mu.Unlock()
	return json.MarshalIndent(persisted, "", "  ")
}

func enrichBuilding(state *buildingState) EnrichedBuilding {
	p := &state.profile
	return EnrichedBuilding{
		BuildingProfile: cloneBuilding(state),
		Progression:     progressionFrom(progression.Buildings, p.ToolCalls, p.TotalInputBytes, p.TotalOutputBytes),
	}
}

// cloneBuilding copies the profile with the visitor set flattened to
// a sorted slice.
func cloneBuilding(state *buildingState) BuildingProfile {
	result := state.profile
	if len(state.visitors) > 0 {
		visitors := make([]string, 0, len(state.visitors))
		for visitor := range state.visitors {
			visitors = append(visitors, visitor)
		}
		sort.Strings(visitors)
		result.UniqueVisitors = visitors
	} else {
		result.UniqueVisitors = nil
	}
	return result
}

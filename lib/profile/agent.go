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

// AgentStore is the durable repository of agent lifetime statistics,
// keyed by agent identifier. Mutating calls that reference an unknown
// identifier are explicit no-ops (second return false): a heartbeat
// racing a despawn is expected traffic, not an error.
//
// Safe for concurrent use.
type AgentStore struct {
	mu       sync.Mutex
	profiles map[string]*AgentProfile
	saver    *saver
	clock    clock.Clock
	logger   *slog.Logger
}

// NewAgentStore loads the store from path (missing file means a fresh
// village; a corrupt file is logged and replaced by an empty store)
// and archives the prior file. Saves are debounced by the given
// interval.
func NewAgentStore(path string, debounce time.Duration, cl clock.Clock, logger *slog.Logger) *AgentStore {
	store := &AgentStore{
		profiles: make(map[string]*AgentProfile),
		clock:    cl,
		logger:   logger,
	}
	if err := loadJSON(path, &store.profiles); err != nil {
		logger.Warn("agent state unreadable, starting empty", "error", err)
		store.profiles = make(map[string]*AgentProfile)
	}
	archivePrior(path, cl.Now(), logger)
	store.saver = newSaver(path, debounce, cl, logger, store.marshal)
	return store
}

// GetOrCreate returns the profile for agentID, creating it on first
// call. On later calls it refreshes the display name if changed, sets
// the parent only if unset (first parent wins), and updates the clan
// when a non-empty, different value arrives.
func (s *AgentStore) GetOrCreate(agentID, name, parentID, clan string) AgentProfile {
	now := s.clock.Now()

	s.mu.Lock()
	p, exists := s.profiles[agentID]
	if !exists {
		p = &AgentProfile{
			AgentID:   agentID,
			Name:      name,
			ParentID:  parentID,
			Clan:      clan,
			FirstSeen: now,
			LastSeen:  now,
		}
		s.profiles[agentID] = p
	} else {
		if name != "" && p.Name != name {
			p.Name = name
		}
		if p.ParentID == "" && parentID != "" {
			p.ParentID = parentID
		}
		if clan != "" && p.Clan != clan {
			p.Clan = clan
		}
		p.LastSeen = now
	}
	result := cloneAgent(p)
	s.mu.Unlock()

	s.saver.schedule()
	return result
}

// StoredName returns the persisted display name for agentID without
// creating a profile. Empty string when the identifier is unknown.
func (s *AgentStore) StoredName(agentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, exists := s.profiles[agentID]; exists {
		return p.Name
	}
	return ""
}

// RecordToolUse increments the tool-call counter and bumps LastSeen.
// Returns the new total; false when the identifier is unknown.
func (s *AgentStore) RecordToolUse(agentID string) (int, bool) {
	now := s.clock.Now()

	s.mu.Lock()
	p, exists := s.profiles[agentID]
	if !exists {
		s.mu.Unlock()
		return 0, false
	}
	p.ToolCalls++
	p.LastSeen = now
	total := p.ToolCalls
	s.mu.Unlock()

	s.saver.schedule()
	return total, true
}

// RecordBytes adds to the transfer counters, clamping negative deltas
// to zero so the totals stay monotonic. Returns the new running
// totals; false when the identifier is unknown.
func (s *AgentStore) RecordBytes(agentID string, inputBytes, outputBytes int64) (int64, int64, bool) {
	if inputBytes < 0 {
		inputBytes = 0
	}
	if outputBytes < 0 {
		outputBytes = 0
	}

	s.mu.Lock()
	p, exists := s.profiles[agentID]
	if !exists {
		s.mu.Unlock()
		return 0, 0, false
	}
	p.TotalInputBytes += inputBytes
	p.TotalOutputBytes += outputBytes
	in, out := p.TotalInputBytes, p.TotalOutputBytes
	s.mu.Unlock()

	s.saver.schedule()
	return in, out, true
}

// RecordActivity appends to the bounded recent-activity ring,
// evicting the oldest entry beyond the cap of 20. Returns false when
// the identifier is unknown.
func (s *AgentStore) RecordActivity(agentID, activity, detail string) bool {
	now := s.clock.Now()

	s.mu.Lock()
	p, exists := s.profiles[agentID]
	if !exists {
		s.mu.Unlock()
		return false
	}
	p.RecentActivity = append(p.RecentActivity, ActivityEntry{
		Activity:  activity,
		Detail:    detail,
		Timestamp: now,
	})
	if len(p.RecentActivity) > maxRecentActivity {
		p.RecentActivity = p.RecentActivity[len(p.RecentActivity)-maxRecentActivity:]
	}
	s.mu.Unlock()

	s.saver.schedule()
	return true
}

// RecordSession increments the session counter: one per
// first-heartbeat-since-spawn, not one per heartbeat. Returns false
// when the identifier is unknown.
func (s *AgentStore) RecordSession(agentID string) bool {
	s.mu.Lock()
	p, exists := s.profiles[agentID]
	if !exists {
		s.mu.Unlock()
		return false
	}
	p.Sessions++
	s.mu.Unlock()

	s.saver.schedule()
	return true
}

// RecordSubAgentSpawn increments the named parent's spawn counter.
// Returns false when the parent is unknown.
func (s *AgentStore) RecordSubAgentSpawn(parentID string) bool {
	s.mu.Lock()
	p, exists := s.profiles[parentID]
	if !exists {
		s.mu.Unlock()
		return false
	}
	p.SubAgentsSpawned++
	s.mu.Unlock()

	s.saver.schedule()
	return true
}

// Enriched returns the profile merged with its derived progression,
// or false if the identifier has never been seen.
func (s *AgentStore) Enriched(agentID string) (EnrichedAgent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, exists := s.profiles[agentID]
	if !exists {
		return EnrichedAgent{}, false
	}
	return enrichAgent(p), true
}

// All returns every profile enriched and sorted by descending XP
// (identifier ascending on ties), ready for leaderboards and
// cold-start snapshots.
func (s *AgentStore) All() []EnrichedAgent {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]EnrichedAgent, 0, len(s.profiles))
	for _, p := range s.profiles {
		result = append(result, enrichAgent(p))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].XP != result[j].XP {
			return result[i].XP > result[j].XP
		}
		return result[i].AgentID < result[j].AgentID
	})
	return result
}

// Names returns the identifier→name assignments for seeding the name
// allocator at startup, so restored residents keep their names and
// newcomers cannot collide with them.
func (s *AgentStore) Names() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]string, len(s.profiles))
	for id, p := range s.profiles {
		if p.Name != "" {
			result[id] = p.Name
		}
	}
	return result
}

// Flush writes the store synchronously, cancelling any pending
// debounced save. Call on shutdown.
func (s *AgentStore) Flush() error {
	return s.saver.Flush()
}

func (s *AgentStore) marshal() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(s.profiles, "", "  ")
}

func enrichAgent(p *AgentProfile) EnrichedAgent {
	return EnrichedAgent{
		AgentProfile: cloneAgent(p),
		Progression:  progressionFrom(progression.Agents, p.ToolCalls, p.TotalInputBytes, p.TotalOutputBytes),
	}
}

// cloneAgent copies a profile, including the activity ring, so
// callers never alias store-owned memory.
func cloneAgent(p *AgentProfile) AgentProfile {
	result := *p
	if len(p.RecentActivity) > 0 {
		result.RecentActivity = make([]ActivityEntry, len(p.RecentActivity))
		copy(result.RecentActivity, p.RecentActivity)
	}
	return result
}

// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"time"

	"github.com/hamlet-works/hamlet/lib/progression"
)

// maxRecentActivity bounds the per-agent activity ring buffer.
const maxRecentActivity = 20

// ActivityEntry is one entry in an agent's recent-activity ring.
type ActivityEntry struct {
	Activity  string    `json:"activity"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentProfile is the durable record for one agent identifier. All
// counters are monotonically non-decreasing; profiles are never
// deleted — retired agents remain as offline residents.
type AgentProfile struct {
	AgentID          string          `json:"agentId"`
	Name             string          `json:"name"`
	ToolCalls        int             `json:"toolCalls"`
	TotalInputBytes  int64           `json:"totalInputBytes"`
	TotalOutputBytes int64           `json:"totalOutputBytes"`
	Sessions         int             `json:"sessions"`
	SubAgentsSpawned int             `json:"subAgentsSpawned"`
	ParentID         string          `json:"parentId,omitempty"`
	Clan             string          `json:"clan,omitempty"`
	RecentActivity   []ActivityEntry `json:"recentActivity,omitempty"`
	FirstSeen        time.Time       `json:"firstSeen"`
	LastSeen         time.Time       `json:"lastSeen"`
}

// BuildingProfile is the durable record for one work location.
type BuildingProfile struct {
	BuildingID       string    `json:"buildingId"`
	ToolCalls        int       `json:"toolCalls"`
	TotalInputBytes  int64     `json:"totalInputBytes"`
	TotalOutputBytes int64     `json:"totalOutputBytes"`
	UniqueVisitors   []string  `json:"uniqueVisitors,omitempty"`
	TotalVisits      int       `json:"totalVisits"`
	FirstActivity    time.Time `json:"firstActivity"`
	LastActivity     time.Time `json:"lastActivity"`
}

// Progression is the derived level state merged into enriched
// lookups. Never persisted: recomputed from counters on demand.
type Progression struct {
	XP          int    `json:"xp"`
	Level       int    `json:"level"`
	Title       string `json:"title"`
	NextLevelXP int    `json:"nextLevelXP,omitempty"`
	NextTitle   string `json:"nextTitle,omitempty"`
}

// EnrichedAgent is an agent profile merged with its derived
// progression.
type EnrichedAgent struct {
	AgentProfile
	Progression
}

// EnrichedBuilding is a building profile merged with its derived
// progression.
type EnrichedBuilding struct {
	BuildingProfile
	Progression
}

// progressionFrom computes the derived fields for one counter set.
// NextLevelXP and NextTitle stay zero-valued at the table cap.
func progressionFrom(table progression.Table, actions int, inputBytes, outputBytes int64) Progression {
	xp := table.XP(actions, inputBytes, outputBytes)
	level := table.LevelFor(xp)
	derived := Progression{XP: xp, Level: level.Level, Title: level.Title}
	if next, ok := table.NextLevelFor(xp); ok {
		derived.NextLevelXP = next.MinXP
		derived.NextTitle = next.Title
	}
	return derived
}

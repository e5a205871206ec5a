// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

package village

import (
	"encoding/json"
	"fmt"

	"github.com/hamlet-works/hamlet/lib/profile"
)

// Event is the closed union of everything the relay broadcasts. Each
// kind is a concrete struct with its fields explicit, so payload-shape
// drift is a compile error rather than a runtime surprise for
// consumers.
type Event interface {
	// Kind returns the wire discriminator, e.g. "agent:spawn".
	Kind() string
}

// Building identifiers. Every activity maps to exactly one building;
// idle and unrecognized activities gather in the tavern.
const (
	BuildingGuildhall      = "guildhall"
	BuildingForge          = "forge"
	BuildingProvingGrounds = "proving-grounds"
	BuildingLibrary        = "library"
	BuildingWatchtower     = "watchtower"
	BuildingTavern         = "tavern"
)

// BuildingFor returns the building an activity is attributed to.
func BuildingFor(activity string) string {
	switch activity {
	case "planning":
		return BuildingGuildhall
	case "coding":
		return BuildingForge
	case "testing":
		return BuildingProvingGrounds
	case "researching":
		return BuildingLibrary
	case "reviewing":
		return BuildingWatchtower
	default:
		return BuildingTavern
	}
}

// isWorking reports whether an activity produces work (anything but
// empty or idle).
func isWorking(activity string) bool {
	return activity != "" && activity != "idle"
}

// AgentSpawn announces a resident entering the village (or, with
// Offline set, a historical resident replayed for a fresh
// subscriber). It carries everything needed to render the dwarf
// without further queries.
type AgentSpawn struct {
	AgentID          string                  `json:"agentId"`
	Name             string                  `json:"name"`
	Role             string                  `json:"role,omitempty"`
	Clan             string                  `json:"clan,omitempty"`
	ParentID         string                  `json:"parentId,omitempty"`
	Activity         string                  `json:"activity,omitempty"`
	Detail           string                  `json:"detail,omitempty"`
	XP               int                     `json:"xp"`
	Level            int                     `json:"level"`
	Title            string                  `json:"title"`
	TotalInputBytes  int64                   `json:"totalInputBytes"`
	TotalOutputBytes int64                   `json:"totalOutputBytes"`
	RecentActivity   []profile.ActivityEntry `json:"recentActivity,omitempty"`
	Offline          bool                    `json:"offline,omitempty"`
}

func (AgentSpawn) Kind() string { return "agent:spawn" }

// AgentWork reports an activity or detail change.
type AgentWork struct {
	AgentID  string `json:"agentId"`
	Activity string `json:"activity"`
	Detail   string `json:"detail,omitempty"`
	Building string `json:"building"`
}

func (AgentWork) Kind() string { return "agent:work" }

// AgentMove reports a change of attributed building.
type AgentMove struct {
	AgentID string `json:"agentId"`
	From    string `json:"from"`
	To      string `json:"to"`
}

func (AgentMove) Kind() string { return "agent:move" }

// AgentTokens carries the new running byte totals after a heartbeat
// reported transfer volume.
type AgentTokens struct {
	AgentID          string `json:"agentId"`
	TotalInputBytes  int64  `json:"totalInputBytes"`
	TotalOutputBytes int64  `json:"totalOutputBytes"`
}

func (AgentTokens) Kind() string { return "agent:tokens" }

// AgentXP is the routine progression refresh broadcast after any
// XP-affecting mutation. Distinct from AgentLevelUp, which fires only
// on a level edge.
type AgentXP struct {
	AgentID     string `json:"agentId"`
	XP          int    `json:"xp"`
	Level       int    `json:"level"`
	Title       string `json:"title"`
	NextLevelXP int    `json:"nextLevelXP,omitempty"`
	NextTitle   string `json:"nextTitle,omitempty"`
}

func (AgentXP) Kind() string { return "agent:xp" }

// AgentLevelUp fires when an agent's derived level strictly
// increases.
type AgentLevelUp struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name"`
	Level   int    `json:"level"`
	Title   string `json:"title"`
	XP      int    `json:"xp"`
}

func (AgentLevelUp) Kind() string { return "agent:levelup" }

// AgentWaiting fires on waiting-flag transitions only, never on
// steady-state heartbeats.
type AgentWaiting struct {
	AgentID string `json:"agentId"`
	Waiting bool   `json:"waiting"`
}

func (AgentWaiting) Kind() string { return "agent:waiting" }

// AgentAchievement fires exactly once per tool-call milestone
// crossing.
type AgentAchievement struct {
	AgentID   string `json:"agentId"`
	Name      string `json:"name"`
	Milestone int    `json:"milestone"`
}

func (AgentAchievement) Kind() string { return "agent:achievement" }

// AgentFailure relays an externally reported failure.
type AgentFailure struct {
	AgentID string `json:"agentId"`
	Reason  string `json:"reason,omitempty"`
}

func (AgentFailure) Kind() string { return "agent:failure" }

// AgentDespawn announces a session ending without explicit
// completion. Reason is "timeout" for sweep-driven despawns.
type AgentDespawn struct {
	AgentID string `json:"agentId"`
	Reason  string `json:"reason,omitempty"`
}

func (AgentDespawn) Kind() string { return "agent:despawn" }

// AgentComplete announces an explicit, successful completion.
type AgentComplete struct {
	AgentID string `json:"agentId"`
}

func (AgentComplete) Kind() string { return "agent:complete" }

// BuildingXP is the routine per-building progression refresh.
type BuildingXP struct {
	BuildingID string `json:"buildingId"`
	XP         int    `json:"xp"`
	Level      int    `json:"level"`
	Title      string `json:"title"`
	ToolCalls  int    `json:"toolCalls"`
}

func (BuildingXP) Kind() string { return "building:xp" }

// BuildingState is the full building snapshot, sent to fresh
// subscribers and on building level-ups.
type BuildingState struct {
	BuildingID       string `json:"buildingId"`
	XP               int    `json:"xp"`
	Level            int    `json:"level"`
	Title            string `json:"title"`
	ToolCalls        int    `json:"toolCalls"`
	TotalInputBytes  int64  `json:"totalInputBytes"`
	TotalOutputBytes int64  `json:"totalOutputBytes"`
	UniqueVisitors   int    `json:"uniqueVisitors"`
	TotalVisits      int    `json:"totalVisits"`
}

func (BuildingState) Kind() string { return "building:state" }

// MarshalEvent encodes an event as a JSON object with the kind
// discriminator spliced in as a leading "type" member.
func MarshalEvent(event Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", event.Kind(), err)
	}
	if len(payload) < 2 || payload[0] != '{' {
		return nil, fmt.Errorf("event %s did not encode to a JSON object", event.Kind())
	}

	tag, err := json.Marshal(event.Kind())
	if err != nil {
		return nil, fmt.Errorf("encoding %s event tag: %w", event.Kind(), err)
	}

	merged := make([]byte, 0, len(tag)+len(payload)+9)
	merged = append(merged, `{"type":`...)
	merged = append(merged, tag...)
	if len(payload) > 2 {
		merged = append(merged, ',')
	}
	merged = append(merged, payload[1:]...)
	return merged, nil
}

// buildingStateEvent projects an enriched building profile onto the
// wire snapshot.
func buildingStateEvent(enriched profile.EnrichedBuilding) BuildingState {
	return BuildingState{
		BuildingID:       enriched.BuildingID,
		XP:               enriched.XP,
		Level:            enriched.Level,
		Title:            enriched.Title,
		ToolCalls:        enriched.ToolCalls,
		TotalInputBytes:  enriched.TotalInputBytes,
		TotalOutputBytes: enriched.TotalOutputBytes,
		UniqueVisitors:   len(enriched.UniqueVisitors),
		TotalVisits:      enriched.TotalVisits,
	}
}

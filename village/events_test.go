// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

package village

import (
	"encoding/json"
	"testing"
)

func TestMarshalEventSplicesType(t *testing.T) {
	t.Parallel()
	payload, err := MarshalEvent(AgentMove{AgentID: "miner", From: "forge", To: "library"})
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, payload)
	}
	if decoded["type"] != "agent:move" {
		t.Errorf("type = %v", decoded["type"])
	}
	if decoded["agentId"] != "miner" || decoded["from"] != "forge" || decoded["to"] != "library" {
		t.Errorf("payload fields = %v", decoded)
	}
}

func TestMarshalEventSingleField(t *testing.T) {
	t.Parallel()
	payload, err := MarshalEvent(AgentComplete{AgentID: "done"})
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}
	want := `{"type":"agent:complete","agentId":"done"}`
	if string(payload) != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}
}

func TestBuildingForMapping(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"planning":    BuildingGuildhall,
		"coding":      BuildingForge,
		"testing":     BuildingProvingGrounds,
		"researching": BuildingLibrary,
		"reviewing":   BuildingWatchtower,
		"idle":        BuildingTavern,
		"daydreaming": BuildingTavern,
		"":            BuildingTavern,
	}
	for activity, want := range cases {
		if got := BuildingFor(activity); got != want {
			t.Errorf("BuildingFor(%q) = %q, want %q", activity, got, want)
		}
	}
}

func TestEventKindsAreDistinct(t *testing.T) {
	t.Parallel()
	events := []Event{
		AgentSpawn{}, AgentWork{}, AgentMove{}, AgentTokens{}, AgentXP{},
		AgentLevelUp{}, AgentWaiting{}, AgentAchievement{}, AgentFailure{},
		AgentDespawn{}, AgentComplete{}, BuildingXP{}, BuildingState{},
	}
	seen := make(map[string]bool)
	for _, event := range events {
		kind := event.Kind()
		if seen[kind] {
			t.Errorf("duplicate kind %q", kind)
		}
		seen[kind] = true
	}
}

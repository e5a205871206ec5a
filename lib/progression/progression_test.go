// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

package progression

import "testing"

func TestXPZeroCounters(t *testing.T) {
	t.Parallel()
	for _, table := range []Table{Agents, Buildings} {
		if got := table.XP(0, 0, 0); got != 0 {
			t.Errorf("XP(0,0,0): got %d, want 0", got)
		}
	}
}

func TestXPNeverNegative(t *testing.T) {
	t.Parallel()
	if got := Agents.XP(-5, -100, -100); got != 0 {
		t.Errorf("XP with negative counters: got %d, want 0", got)
	}
}

func TestXPByteBonusFloors(t *testing.T) {
	t.Parallel()
	// Agents divide at 10 KB per XP: 7000 bytes contribute 0,
	// 25000 bytes contribute 2.
	tests := []struct {
		actions    int
		inputBytes int64
		want       int
	}{
		{actions: 10, inputBytes: 7000, want: 10},
		{actions: 10, inputBytes: 25000, want: 12},
		{actions: 0, inputBytes: 9999, want: 0},
		{actions: 0, inputBytes: 10000, want: 1},
	}
	for _, test := range tests {
		if got := Agents.XP(test.actions, test.inputBytes, 0); got != test.want {
			t.Errorf("XP(%d, %d, 0): got %d, want %d", test.actions, test.inputBytes, got, test.want)
		}
	}
}

func TestXPSumsInputAndOutput(t *testing.T) {
	t.Parallel()
	// 6 KB in + 4 KB out crosses the 10 KB divisor together.
	if got := Agents.XP(0, 6000, 4000); got != 1 {
		t.Errorf("XP(0, 6000, 4000): got %d, want 1", got)
	}
}

func TestLevelForSaturates(t *testing.T) {
	t.Parallel()
	top := Agents.MaxLevel()
	if got := Agents.LevelFor(1 << 40); got != top {
		t.Errorf("LevelFor(huge): got %+v, want top level %+v", got, top)
	}
	if _, ok := Agents.NextLevelFor(1 << 40); ok {
		t.Error("NextLevelFor(huge): got a level, want none at cap")
	}
}

func TestLevelForNegativeXP(t *testing.T) {
	t.Parallel()
	if got := Agents.LevelFor(-1); got.Level != 1 {
		t.Errorf("LevelFor(-1): got level %d, want 1", got.Level)
	}
}

// TestLevelConsistency checks the table invariants across the whole
// range: wherever NextLevelFor returns a level L, LevelFor(L.MinXP)
// is exactly L, LevelFor(L.MinXP - 1) is not, and L is one step above
// the current level.
func TestLevelConsistency(t *testing.T) {
	t.Parallel()
	for _, table := range []Table{Agents, Buildings} {
		limit := table.MaxLevel().MinXP + 100
		for xp := 0; xp <= limit; xp++ {
			current := table.LevelFor(xp)
			next, ok := table.NextLevelFor(xp)
			if !ok {
				if current != table.MaxLevel() {
					t.Fatalf("xp=%d: no next level but current is %+v", xp, current)
				}
				continue
			}
			if next.Level != current.Level+1 {
				t.Fatalf("xp=%d: next level %d is not one above current %d", xp, next.Level, current.Level)
			}
			if got := table.LevelFor(next.MinXP); got != next {
				t.Fatalf("LevelFor(%d): got %+v, want %+v", next.MinXP, got, next)
			}
			if got := table.LevelFor(next.MinXP - 1); got == next {
				t.Fatalf("LevelFor(%d): prematurely reached %+v", next.MinXP-1, next)
			}
		}
	}
}

func TestTableValidationPanics(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		levels     []Level
		bytesPerXP int64
	}{
		{name: "empty", levels: nil, bytesPerXP: 1},
		{name: "nonzero start", levels: []Level{{Level: 1, MinXP: 5}}, bytesPerXP: 1},
		{name: "non-increasing", levels: []Level{{Level: 1, MinXP: 0}, {Level: 2, MinXP: 0}}, bytesPerXP: 1},
		{name: "zero divisor", levels: []Level{{Level: 1, MinXP: 0}}, bytesPerXP: 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("NewTable(%s) did not panic", test.name)
				}
			}()
			NewTable(test.levels, test.bytesPerXP)
		})
	}
}

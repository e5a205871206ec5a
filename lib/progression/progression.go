// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

// Package progression derives XP and levels from raw usage counters.
// Derivation is pure: levels are never stored, so retuning a table
// retroactively changes every displayed level without a migration.
package progression

import "fmt"

// Level is one entry in a progression table.
type Level struct {
	Level int    `json:"level"`
	Title string `json:"title"`
	MinXP int    `json:"minXP"`
}

// Table maps accumulated counters to XP and discrete levels. The two
// parameterizations, Agents and Buildings, share this shape.
type Table struct {
	levels     []Level
	bytesPerXP int64
}

// NewTable builds a Table from an ascending level list. Panics if the
// list is empty, does not start at MinXP 0, is not strictly
// increasing, or bytesPerXP is not positive — tables are package-level
// constants, so a bad one is a programming error.
func NewTable(levels []Level, bytesPerXP int64) Table {
	if len(levels) == 0 {
		panic("progression: empty level table")
	}
	if levels[0].MinXP != 0 {
		panic(fmt.Sprintf("progression: first level threshold is %d, want 0", levels[0].MinXP))
	}
	for i := 1; i < len(levels); i++ {
		if levels[i].MinXP <= levels[i-1].MinXP {
			panic(fmt.Sprintf("progression: thresholds not strictly increasing at level %d", levels[i].Level))
		}
	}
	if bytesPerXP <= 0 {
		panic(fmt.Sprintf("progression: bytesPerXP must be positive, got %d", bytesPerXP))
	}
	return Table{levels: levels, bytesPerXP: bytesPerXP}
}

// Agents is the per-agent progression table: 1 XP per tool call plus
// 1 XP per 10 KB transferred.
var Agents = NewTable([]Level{
	{Level: 1, Title: "Greenbeard", MinXP: 0},
	{Level: 2, Title: "Apprentice", MinXP: 50},
	{Level: 3, Title: "Journeyman", MinXP: 150},
	{Level: 4, Title: "Craftsdwarf", MinXP: 350},
	{Level: 5, Title: "Artisan", MinXP: 700},
	{Level: 6, Title: "Master", MinXP: 1200},
	{Level: 7, Title: "Grandmaster", MinXP: 2000},
	{Level: 8, Title: "Elder", MinXP: 3500},
	{Level: 9, Title: "Lorekeeper", MinXP: 6000},
	{Level: 10, Title: "Living Legend", MinXP: 10000},
}, 10_000)

// Buildings is the per-building progression table: 1 XP per attributed
// tool call plus 1 XP per 50 KB attributed. Buildings aggregate many
// agents, hence the coarser byte divisor and taller thresholds.
var Buildings = NewTable([]Level{
	{Level: 1, Title: "Shack", MinXP: 0},
	{Level: 2, Title: "Hut", MinXP: 100},
	{Level: 3, Title: "Cottage", MinXP: 300},
	{Level: 4, Title: "Lodge", MinXP: 700},
	{Level: 5, Title: "Hall", MinXP: 1500},
	{Level: 6, Title: "Manor", MinXP: 3000},
	{Level: 7, Title: "Keep", MinXP: 6000},
	{Level: 8, Title: "Fortress", MinXP: 12000},
	{Level: 9, Title: "Citadel", MinXP: 25000},
	{Level: 10, Title: "Wonder", MinXP: 50000},
}, 50_000)

// XP computes the experience value for the given counters: one point
// per primary action plus a floor-divided byte-volume bonus. Never
// negative; zero for an all-zero counter set.
func (t Table) XP(actions int, inputBytes, outputBytes int64) int {
	if actions < 0 {
		actions = 0
	}
	totalBytes := inputBytes + outputBytes
	if totalBytes < 0 {
		totalBytes = 0
	}
	return actions + int(totalBytes/t.bytesPerXP)
}

// LevelFor returns the highest level whose threshold is at or below
// xp. Saturates at the top entry for arbitrarily large xp; negative
// xp maps to the first level.
func (t Table) LevelFor(xp int) Level {
	current := t.levels[0]
	for _, level := range t.levels[1:] {
		if level.MinXP > xp {
			break
		}
		current = level
	}
	return current
}

// NextLevelFor returns the lowest level whose threshold is above xp.
// The second return is false when xp is already at the maximum level.
func (t Table) NextLevelFor(xp int) (Level, bool) {
	for _, level := range t.levels {
		if level.MinXP > xp {
			return level, true
		}
	}
	return Level{}, false
}

// MaxLevel returns the table's top entry.
func (t Table) MaxLevel() Level {
	return t.levels[len(t.levels)-1]
}

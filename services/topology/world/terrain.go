// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package world

import (
	"fmt"
	"strings"
)

// Terrain classifies a location's dominant ground type. The set is open
// ended: unknown classifications fall back to default guidance rather than
// failing, since the narrative oracle occasionally invents new ones.
type Terrain string

const (
	TerrainOpenPlain Terrain = "open-plain"
	TerrainForest    Terrain = "forest"
	TerrainMountain  Terrain = "mountain"
	TerrainCave      Terrain = "cave"
	TerrainCoast     Terrain = "coast"
	TerrainSwamp     Terrain = "swamp"
	TerrainDesert    Terrain = "desert"
	TerrainUrban     Terrain = "urban"
	TerrainRuin      Terrain = "ruin"
	TerrainRiverland Terrain = "riverland"
)

// Terrains lists the known classifications in stable order, for prompts and
// config validation.
var Terrains = []Terrain{
	TerrainOpenPlain, TerrainForest, TerrainMountain, TerrainCave,
	TerrainCoast, TerrainSwamp, TerrainDesert, TerrainUrban,
	TerrainRuin, TerrainRiverland,
}

// NormalizeTerrain lowercases and hyphenates a raw terrain label from the
// oracle ("Open Plain" -> "open-plain").
func NormalizeTerrain(raw string) Terrain {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = strings.ReplaceAll(t, " ", "-")
	t = strings.ReplaceAll(t, "_", "-")
	return Terrain(t)
}

// Guidance is the per-terrain generation heuristic: how many exits a
// location of this terrain typically has, and the typical travel cost of an
// exit crossing it. Advisory only; a count outside the range is a warning,
// never a rejection.
type Guidance struct {
	MinExits   int   `yaml:"min_exits" json:"min_exits"`
	MaxExits   int   `yaml:"max_exits" json:"max_exits"`
	TravelCost int64 `yaml:"travel_cost" json:"travel_cost"`
}

// Validate rejects ranges that could never guide anything.
func (g Guidance) Validate() error {
	if g.MinExits < 1 || g.MaxExits < g.MinExits {
		return fmt.Errorf("exit range [%d,%d] is not a valid guidance range", g.MinExits, g.MaxExits)
	}
	if g.MaxExits > len(Directions) {
		return fmt.Errorf("max exits %d exceeds the %d canonical directions", g.MaxExits, len(Directions))
	}
	if g.TravelCost <= 0 {
		return fmt.Errorf("travel cost must be positive, got %d", g.TravelCost)
	}
	return nil
}

// DefaultGuidanceTable returns the compiled-in terrain guidance. Deployments
// override entries via a YAML file loaded by GuidanceStore.
func DefaultGuidanceTable() map[Terrain]Guidance {
	return map[Terrain]Guidance{
		TerrainOpenPlain: {MinExits: 3, MaxExits: 5, TravelCost: 2},
		TerrainForest:    {MinExits: 2, MaxExits: 4, TravelCost: 3},
		TerrainMountain:  {MinExits: 1, MaxExits: 3, TravelCost: 5},
		TerrainCave:      {MinExits: 1, MaxExits: 3, TravelCost: 4},
		TerrainCoast:     {MinExits: 2, MaxExits: 4, TravelCost: 3},
		TerrainSwamp:     {MinExits: 2, MaxExits: 3, TravelCost: 4},
		TerrainDesert:    {MinExits: 2, MaxExits: 4, TravelCost: 4},
		TerrainUrban:     {MinExits: 3, MaxExits: 6, TravelCost: 1},
		TerrainRuin:      {MinExits: 1, MaxExits: 4, TravelCost: 2},
		TerrainRiverland: {MinExits: 2, MaxExits: 4, TravelCost: 2},
	}
}

// fallbackGuidance serves terrains the table has never heard of.
var fallbackGuidance = Guidance{MinExits: 2, MaxExits: 4, TravelCost: 3}

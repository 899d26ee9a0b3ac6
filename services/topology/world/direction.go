// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package world defines the domain model for the topology engine: locations,
// directional exits, terrain classification, and the error taxonomy shared by
// every component that reads or mutates the world graph.
package world

import (
	"fmt"
	"strings"
)

// Direction is a canonical direction token. Exits are keyed by direction, so
// only tokens from the canonical set below are valid on a persisted Exit.
type Direction string

const (
	North     Direction = "north"
	South     Direction = "south"
	East      Direction = "east"
	West      Direction = "west"
	Northeast Direction = "northeast"
	Northwest Direction = "northwest"
	Southeast Direction = "southeast"
	Southwest Direction = "southwest"
	Up        Direction = "up"
	Down      Direction = "down"
)

// Directions lists every canonical direction in stable order. Iteration order
// matters for deterministic stub slot assignment, so this is a slice, not a map.
var Directions = []Direction{
	North, Northeast, East, Southeast,
	South, Southwest, West, Northwest,
	Up, Down,
}

var opposites = map[Direction]Direction{
	North:     South,
	South:     North,
	East:      West,
	West:      East,
	Northeast: Southwest,
	Southwest: Northeast,
	Northwest: Southeast,
	Southeast: Northwest,
	Up:        Down,
	Down:      Up,
}

var directionAliases = map[string]Direction{
	"n": North, "s": South, "e": East, "w": West,
	"ne": Northeast, "nw": Northwest, "se": Southeast, "sw": Southwest,
	"u": Up, "d": Down,
}

// Opposite returns the reciprocal direction. Every canonical direction has
// exactly one opposite; calling this on a non-canonical token returns the
// zero Direction.
func (d Direction) Opposite() Direction {
	return opposites[d]
}

// Valid reports whether d is a member of the canonical direction set.
func (d Direction) Valid() bool {
	_, ok := opposites[d]
	return ok
}

func (d Direction) String() string { return string(d) }

// ParseDirection normalizes a raw token (case-insensitive, short aliases
// accepted) into a canonical Direction.
func ParseDirection(raw string) (Direction, error) {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == "" {
		return "", fmt.Errorf("%w: empty direction token", ErrInvalidDirection)
	}
	if d, ok := directionAliases[token]; ok {
		return d, nil
	}
	d := Direction(token)
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
	return d, nil
}

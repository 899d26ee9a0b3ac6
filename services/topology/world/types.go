// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package world

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocationState is the lifecycle state of a Location. The only legal
// progression is stub -> pending -> crystallized; states are never skipped
// and never move backwards.
type LocationState string

const (
	StateStub         LocationState = "stub"
	StatePending      LocationState = "pending"
	StateCrystallized LocationState = "crystallized"
)

var stateSuccessor = map[LocationState]LocationState{
	StateStub:    StatePending,
	StatePending: StateCrystallized,
}

// ProvenanceSource identifies how a location came to exist.
type ProvenanceSource string

const (
	SourceGenerated ProvenanceSource = "generated"
	SourceManual    ProvenanceSource = "manual"
)

// Provenance records where a location's base description came from.
type Provenance struct {
	Source      ProvenanceSource `json:"source"`
	Model       string           `json:"model,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
	InputHash   string           `json:"input_hash,omitempty"`
}

// HashInput produces the provenance hash for the text that seeded a
// generation call, so identical prompts are recognizable across runs.
func HashInput(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Layer is one additive description fragment appended after the base text
// was written. Layers never replace the base; they accumulate.
type Layer struct {
	Text    string    `json:"text"`
	Source  string    `json:"source,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Location is a vertex in the world graph.
//
// The base description is immutable once the location crystallizes; all
// later color arrives as layers. Mutating methods return errors instead of
// silently bending that rule.
type Location struct {
	ID         string        `json:"id"`
	Base       string        `json:"base"`
	Layers     []Layer       `json:"layers,omitempty"`
	Terrain    Terrain       `json:"terrain"`
	State      LocationState `json:"state"`
	Provenance Provenance    `json:"provenance"`
}

// NewStub creates a fresh stub location with a stable opaque ID. The base
// description stays empty until the narrative oracle fills it in.
func NewStub(terrain Terrain, prov Provenance) Location {
	return Location{
		ID:         uuid.NewString(),
		Terrain:    terrain,
		State:      StateStub,
		Provenance: prov,
	}
}

// SetBase writes the base description. Refused once crystallized.
func (l *Location) SetBase(text string) error {
	if l.State == StateCrystallized {
		return fmt.Errorf("location %s: %w", l.ID, ErrBaseImmutable)
	}
	l.Base = text
	return nil
}

// AppendLayer adds an additive description layer. Legal in every state;
// this is the only mutation allowed on crystallized text.
func (l *Location) AppendLayer(text, source string) {
	l.Layers = append(l.Layers, Layer{Text: text, Source: source, AddedAt: time.Now().UTC()})
}

// Advance moves the lifecycle forward one state. Skipping or reversing
// states is an error.
func (l *Location) Advance(to LocationState) error {
	if stateSuccessor[l.State] != to {
		return fmt.Errorf("location %s: illegal state transition %s -> %s", l.ID, l.State, to)
	}
	l.State = to
	return nil
}

// Crystallized reports whether the location's base text is frozen.
func (l *Location) Crystallized() bool { return l.State == StateCrystallized }

// FullDescription renders base text plus layers in append order.
func (l *Location) FullDescription() string {
	if len(l.Layers) == 0 {
		return l.Base
	}
	var b strings.Builder
	b.WriteString(l.Base)
	for _, layer := range l.Layers {
		b.WriteString("\n\n")
		b.WriteString(layer.Text)
	}
	return b.String()
}

// Clone returns a deep copy. Staged state hands out clones so callers can
// never reach through and mutate graph state in place.
func (l Location) Clone() Location {
	out := l
	if l.Layers != nil {
		out.Layers = make([]Layer, len(l.Layers))
		copy(out.Layers, l.Layers)
	}
	return out
}

// Validate checks structural well-formedness (not content quality).
func (l *Location) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return fmt.Errorf("location has empty ID")
	}
	// '|' is the slot key separator; IDs containing it would corrupt
	// (origin, direction) slot addressing.
	if strings.ContainsRune(l.ID, '|') {
		return fmt.Errorf("location ID %q contains reserved character '|'", l.ID)
	}
	if l.Terrain == "" {
		return fmt.Errorf("location %s has no terrain classification", l.ID)
	}
	switch l.State {
	case StateStub, StatePending, StateCrystallized:
	default:
		return fmt.Errorf("location %s has unknown state %q", l.ID, l.State)
	}
	return nil
}

// Exit is a directed edge between two locations. Every persisted exit has a
// reciprocal twin; the pair invariant is enforced by the commit paths, not
// here.
type Exit struct {
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	Direction   Direction `json:"direction"`
	// Duration is the travel cost in abstract time units. Strictly positive.
	Duration int64  `json:"duration"`
	Hook     string `json:"hook,omitempty"`
}

// SlotKey identifies the unique (origin, direction) slot this exit occupies.
func (e Exit) SlotKey() string {
	return e.Origin + "|" + string(e.Direction)
}

// Reciprocal builds the mirror edge: destination back to origin in the
// opposite direction, same travel cost.
func (e Exit) Reciprocal() Exit {
	return Exit{
		Origin:      e.Destination,
		Destination: e.Origin,
		Direction:   e.Direction.Opposite(),
		Duration:    e.Duration,
		Hook:        e.Hook,
	}
}

// Validate checks the exit is structurally sound.
func (e Exit) Validate() error {
	if e.Origin == "" || e.Destination == "" {
		return fmt.Errorf("exit %s->%s missing endpoint", e.Origin, e.Destination)
	}
	if e.Origin == e.Destination {
		return fmt.Errorf("exit at %s loops back to itself", e.Origin)
	}
	if strings.ContainsRune(e.Origin, '|') || strings.ContainsRune(e.Destination, '|') {
		return fmt.Errorf("exit %s->%s: endpoint contains reserved character '|'", e.Origin, e.Destination)
	}
	if !e.Direction.Valid() {
		return fmt.Errorf("exit %s: %w: %q", e.Origin, ErrInvalidDirection, e.Direction)
	}
	if e.Duration <= 0 {
		return fmt.Errorf("exit %s (%s): travel duration must be positive, got %d", e.Origin, e.Direction, e.Duration)
	}
	return nil
}

// ExitProposal is an inferred candidate exit for a stub, scored by how
// strongly the description text implies it.
type ExitProposal struct {
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason,omitempty"`
	// Forced marks proposals injected to guarantee a return path rather
	// than inferred from the text.
	Forced bool `json:"forced,omitempty"`
}

// Stub pairs a nascent location with the direction slot it fills off the
// batch root and the exit proposals inferred for it.
type Stub struct {
	Location Location `json:"location"`
	// Slot is the direction from the batch root to this stub. A traveler
	// entering the stub arrives moving along Slot, so the stub's return
	// path leaves via the opposite direction.
	Slot      Direction      `json:"slot"`
	Proposals []ExitProposal `json:"proposals,omitempty"`
	// Duration is the travel cost between root and stub for the slot exit.
	Duration int64 `json:"duration"`
	// Hook is the oracle's one-line teaser for the slot exit.
	Hook string `json:"hook,omitempty"`
}

// ReturnDirection is the direction a traveler standing in the stub takes to
// get back to the batch root.
func (s *Stub) ReturnDirection() Direction {
	return s.Slot.Opposite()
}

// GenerationBatch is the ephemeral unit of expansion work. It is created by
// the orchestrator, filled by the oracle and inferencer, filtered by the
// gate chain, and destroyed on commit or rejection. Only the audit trail
// outlives it.
type GenerationBatch struct {
	ID     string   `json:"id"`
	Root   Location `json:"root"`
	// ArrivalDirection is the direction the traveler entered the root from;
	// every stub in the batch must keep a path back toward it.
	ArrivalDirection Direction `json:"arrival_direction"`
	Depth            int       `json:"depth"`
	NeighborTarget   int       `json:"neighbor_target"`
	Stubs            []Stub    `json:"stubs"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewBatch creates an empty batch for a root expansion.
func NewBatch(root Location, arrival Direction, depth, neighborTarget int) *GenerationBatch {
	return &GenerationBatch{
		ID:               uuid.NewString(),
		Root:             root,
		ArrivalDirection: arrival,
		Depth:            depth,
		NeighborTarget:   neighborTarget,
		CreatedAt:        time.Now().UTC(),
	}
}

// StubBySlot returns the stub occupying the given direction slot, if any.
func (b *GenerationBatch) StubBySlot(d Direction) (*Stub, bool) {
	for i := range b.Stubs {
		if b.Stubs[i].Slot == d {
			return &b.Stubs[i], true
		}
	}
	return nil, false
}

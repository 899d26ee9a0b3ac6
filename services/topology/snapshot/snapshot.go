// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package snapshot serializes the world graph to a versioned JSON document
// and restores it through the same idempotent upserts the engine uses, so
// importing a snapshot over an identical graph is a no-op.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

// FormatVersion is the snapshot document version this build reads and
// writes. Readers accept documents at or below it.
const FormatVersion = 1

// ErrVersionUnsupported marks a document written by a newer build.
var ErrVersionUnsupported = errors.New("snapshot format version unsupported")

// GraphWalker is the store surface a snapshot needs: full iteration for
// export, upserts for import. Both the in-memory store and the badger store
// satisfy it; iteration order is ascending by ID in both, so exports of the
// same graph are byte-stable.
type GraphWalker interface {
	UpsertLocation(ctx context.Context, loc world.Location) error
	UpsertExit(ctx context.Context, exit world.Exit) error
	ForEachLocation(ctx context.Context, fn func(world.Location) error) error
	ForEachExit(ctx context.Context, fn func(world.Exit) error) error
}

// Document is the on-disk snapshot shape.
type Document struct {
	Version   int              `json:"version"`
	CreatedAt time.Time        `json:"created_at"`
	Locations []world.Location `json:"locations"`
	Exits     []world.Exit     `json:"exits"`
}

// Manifest summarizes a snapshot without its payload. The CLI writes it as
// a YAML sidecar next to the JSON document.
type Manifest struct {
	Version   int       `json:"version" yaml:"version"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Locations int       `json:"locations" yaml:"locations"`
	Exits     int       `json:"exits" yaml:"exits"`
}

// Export walks the store and writes one JSON document to w.
//
// # Description
//
// Locations and exits stream out in ascending ID order (the order the store
// iterators guarantee), so two exports of the same graph compare equal. The
// document is written in one piece; a partial write leaves w holding invalid
// JSON rather than a truncated-but-parseable snapshot.
//
// # Outputs
//
//   - Manifest: counts and timestamp of the exported document.
//   - error: store iteration or encoding failure.
func Export(ctx context.Context, store GraphWalker, w io.Writer) (Manifest, error) {
	doc := Document{
		Version:   FormatVersion,
		CreatedAt: time.Now().UTC(),
		Locations: make([]world.Location, 0, 64),
		Exits:     make([]world.Exit, 0, 128),
	}

	err := store.ForEachLocation(ctx, func(loc world.Location) error {
		doc.Locations = append(doc.Locations, loc)
		return nil
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("walk locations: %w", err)
	}

	err = store.ForEachExit(ctx, func(exit world.Exit) error {
		doc.Exits = append(doc.Exits, exit)
		return nil
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("walk exits: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return Manifest{}, fmt.Errorf("encode snapshot: %w", err)
	}
	return manifestOf(doc), nil
}

// Import reads one JSON document from r and replays it into the store.
//
// # Description
//
// Every entity is validated before anything is written, so a malformed
// document never half-applies. Locations land before exits because exit
// traversal assumes its endpoints resolve. Upserts are idempotent:
// re-importing a snapshot the store already holds changes nothing, and
// importing over a partially-restored store completes the restore.
//
// A document whose version exceeds FormatVersion is refused with
// ErrVersionUnsupported; older versions load as-is (version 1 is the first).
func Import(ctx context.Context, store GraphWalker, r io.Reader) (Manifest, error) {
	var doc Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return Manifest{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.Version > FormatVersion {
		return Manifest{}, fmt.Errorf("%w: document is version %d, this build reads up to %d",
			ErrVersionUnsupported, doc.Version, FormatVersion)
	}

	for i := range doc.Locations {
		if err := doc.Locations[i].Validate(); err != nil {
			return Manifest{}, fmt.Errorf("snapshot location %d: %w", i, err)
		}
	}
	for i := range doc.Exits {
		if err := doc.Exits[i].Validate(); err != nil {
			return Manifest{}, fmt.Errorf("snapshot exit %d: %w", i, err)
		}
	}

	for _, loc := range doc.Locations {
		if ctx.Err() != nil {
			return Manifest{}, ctx.Err()
		}
		if err := store.UpsertLocation(ctx, loc); err != nil {
			return Manifest{}, fmt.Errorf("restore location %s: %w", loc.ID, err)
		}
	}
	for _, exit := range doc.Exits {
		if ctx.Err() != nil {
			return Manifest{}, ctx.Err()
		}
		if err := store.UpsertExit(ctx, exit); err != nil {
			return Manifest{}, fmt.Errorf("restore exit %s: %w", exit.SlotKey(), err)
		}
	}
	return manifestOf(doc), nil
}

// WriteManifest renders the manifest as YAML.
func WriteManifest(w io.Writer, m Manifest) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return enc.Close()
}

// ReadManifest parses a YAML manifest.
func ReadManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

func manifestOf(doc Document) Manifest {
	return Manifest{
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
		Locations: len(doc.Locations),
		Exits:     len(doc.Exits),
	}
}

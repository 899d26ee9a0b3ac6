// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/worldloom/services/topology/storage"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

func seedWorld(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()

	locs := []world.Location{
		{ID: "harbor", Base: "Salt wind over a stone quay.", Terrain: world.TerrainCoast, State: world.StateCrystallized},
		{ID: "market", Base: "Stalls crowd a cobbled square.", Terrain: world.TerrainUrban, State: world.StateCrystallized,
			Layers: []world.Layer{{Text: "A bell tower leans over the north row.", AddedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}}},
		{ID: "ridge", Base: "Scree slopes above the town.", Terrain: world.TerrainMountain, State: world.StateCrystallized},
	}
	for _, loc := range locs {
		if err := store.UpsertLocation(ctx, loc); err != nil {
			t.Fatalf("UpsertLocation(%s) error = %v", loc.ID, err)
		}
	}

	pairs := []world.Exit{
		{Origin: "harbor", Destination: "market", Direction: world.North, Duration: 1},
		{Origin: "market", Destination: "ridge", Direction: world.Northeast, Duration: 5},
	}
	for _, exit := range pairs {
		if err := store.UpsertExit(ctx, exit); err != nil {
			t.Fatalf("UpsertExit(%s) error = %v", exit.SlotKey(), err)
		}
		if err := store.UpsertExit(ctx, exit.Reciprocal()); err != nil {
			t.Fatalf("UpsertExit(reciprocal of %s) error = %v", exit.SlotKey(), err)
		}
	}
	return store
}

func dump(t *testing.T, store GraphWalker) ([]world.Location, []world.Exit) {
	t.Helper()
	var locs []world.Location
	var exits []world.Exit
	if err := store.ForEachLocation(context.Background(), func(l world.Location) error {
		locs = append(locs, l)
		return nil
	}); err != nil {
		t.Fatalf("ForEachLocation error = %v", err)
	}
	if err := store.ForEachExit(context.Background(), func(e world.Exit) error {
		exits = append(exits, e)
		return nil
	}); err != nil {
		t.Fatalf("ForEachExit error = %v", err)
	}
	return locs, exits
}

func TestExportImportRoundTrip(t *testing.T) {
	src := seedWorld(t)

	var buf bytes.Buffer
	manifest, err := Export(context.Background(), src, &buf)
	if err != nil {
		t.Fatalf("Export error = %v", err)
	}
	if manifest.Version != FormatVersion {
		t.Errorf("manifest.Version = %d, want %d", manifest.Version, FormatVersion)
	}
	if manifest.Locations != 3 || manifest.Exits != 4 {
		t.Errorf("manifest counts = %d locations / %d exits, want 3 / 4", manifest.Locations, manifest.Exits)
	}

	dst := storage.NewMemoryStore()
	restored, err := Import(context.Background(), dst, &buf)
	if err != nil {
		t.Fatalf("Import error = %v", err)
	}
	if restored != manifest {
		t.Errorf("import manifest = %+v, want %+v", restored, manifest)
	}

	wantLocs, wantExits := dump(t, src)
	gotLocs, gotExits := dump(t, dst)
	if !reflect.DeepEqual(gotLocs, wantLocs) {
		t.Errorf("restored locations = %+v, want %+v", gotLocs, wantLocs)
	}
	if !reflect.DeepEqual(gotExits, wantExits) {
		t.Errorf("restored exits = %+v, want %+v", gotExits, wantExits)
	}
}

func TestExportOrderIsStable(t *testing.T) {
	store := seedWorld(t)

	decode := func() Document {
		var buf bytes.Buffer
		if _, err := Export(context.Background(), store, &buf); err != nil {
			t.Fatalf("Export error = %v", err)
		}
		var doc Document
		if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
			t.Fatalf("decode exported document: %v", err)
		}
		return doc
	}

	first := decode()
	second := decode()
	if !reflect.DeepEqual(first.Locations, second.Locations) {
		t.Errorf("location order changed between exports")
	}
	if !reflect.DeepEqual(first.Exits, second.Exits) {
		t.Errorf("exit order changed between exports")
	}
	for i := 1; i < len(first.Locations); i++ {
		if first.Locations[i-1].ID >= first.Locations[i].ID {
			t.Errorf("locations not in ascending ID order: %q before %q", first.Locations[i-1].ID, first.Locations[i].ID)
		}
	}
}

func TestImportIsIdempotent(t *testing.T) {
	src := seedWorld(t)
	var buf bytes.Buffer
	if _, err := Export(context.Background(), src, &buf); err != nil {
		t.Fatalf("Export error = %v", err)
	}
	raw := buf.Bytes()

	dst := storage.NewMemoryStore()
	for i := 0; i < 2; i++ {
		if _, err := Import(context.Background(), dst, bytes.NewReader(raw)); err != nil {
			t.Fatalf("Import pass %d error = %v", i+1, err)
		}
	}
	locs, exits := dst.Len()
	if locs != 3 || exits != 4 {
		t.Errorf("after double import: %d locations / %d exits, want 3 / 4", locs, exits)
	}
}

func TestImportRejectsNewerVersion(t *testing.T) {
	doc := `{"version": 2, "created_at": "2025-06-01T00:00:00Z", "locations": [], "exits": []}`
	_, err := Import(context.Background(), storage.NewMemoryStore(), strings.NewReader(doc))
	if !errors.Is(err, ErrVersionUnsupported) {
		t.Fatalf("Import error = %v, want ErrVersionUnsupported", err)
	}
}

func TestImportValidatesBeforeWriting(t *testing.T) {
	doc := `{
		"version": 1,
		"created_at": "2025-06-01T00:00:00Z",
		"locations": [
			{"id": "ok", "base": "Fine.", "terrain": "forest", "state": "crystallized", "provenance": {"source": "manual", "generated_at": "2025-06-01T00:00:00Z"}},
			{"id": "", "base": "No ID.", "terrain": "forest", "state": "crystallized", "provenance": {"source": "manual", "generated_at": "2025-06-01T00:00:00Z"}}
		],
		"exits": []
	}`
	dst := storage.NewMemoryStore()
	_, err := Import(context.Background(), dst, strings.NewReader(doc))
	if err == nil {
		t.Fatal("Import accepted a location with an empty ID")
	}
	locs, _ := dst.Len()
	if locs != 0 {
		t.Errorf("store holds %d locations after a rejected import, want 0", locs)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	_, err := Import(context.Background(), storage.NewMemoryStore(), strings.NewReader("terrain: not json"))
	if err == nil {
		t.Fatal("Import accepted non-JSON input")
	}
}

func TestManifestYAMLRoundTrip(t *testing.T) {
	want := Manifest{
		Version:   FormatVersion,
		CreatedAt: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
		Locations: 12,
		Exits:     22,
	}
	var buf bytes.Buffer
	if err := WriteManifest(&buf, want); err != nil {
		t.Fatalf("WriteManifest error = %v", err)
	}
	got, err := ReadManifest(&buf)
	if err != nil {
		t.Fatalf("ReadManifest error = %v", err)
	}
	if got != want {
		t.Errorf("manifest round trip = %+v, want %+v", got, want)
	}
}

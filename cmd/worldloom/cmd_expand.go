// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/worldloom/pkg/ux"
	"github.com/AleutianAI/worldloom/pkg/validation"
	"github.com/AleutianAI/worldloom/services/topology/expansion"
	"github.com/AleutianAI/worldloom/services/topology/reconnect"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

func runExpand(cmd *cobra.Command, args []string) error {
	rootID, err := validation.SanitizeLocationID(expandRoot)
	if err != nil {
		return err
	}

	var arrival world.Direction
	if expandArrival != "" {
		arrival, err = world.ParseDirection(expandArrival)
		if err != nil {
			return err
		}
	}

	engine, err := openEngine(useOracle)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	// Seed the root when it does not exist yet; growing a brand-new world
	// from nothing is the common first use.
	if _, err := engine.store.GetLocation(ctx, rootID); err != nil {
		if !errors.Is(err, world.ErrNotFound) {
			return err
		}
		root := seedRoot(rootID, expandTerrain, expandDescription)
		if err := root.Validate(); err != nil {
			return err
		}
		if err := engine.store.UpsertLocation(ctx, root); err != nil {
			return err
		}
		ux.Info("seeded root %s (%s)", rootID, root.Terrain)
	}

	spinner := ux.NewSpinner(fmt.Sprintf("expanding around %s", rootID)).WithType(ux.SpinnerCompass)
	spinner.Start()
	result, err := engine.orchestrator.Expand(ctx, expansion.Trigger{
		RootID:           rootID,
		ArrivalDirection: arrival,
		Depth:            expandDepth,
		NeighborTarget:   expandNeighbors,
	})
	spinner.Stop()
	if err != nil {
		return fmt.Errorf("expansion failed: %w", err)
	}

	printExpansionResult(result)
	return nil
}

func printExpansionResult(result *expansion.Result) {
	ux.Title("Expansion " + result.Outcome)
	ux.KeyValue("batch", result.BatchID)
	ux.KeyValue("locations", len(result.Locations))
	ux.KeyValue("exits", len(result.Exits))
	ux.KeyValue("elapsed", result.Elapsed.Round(time.Millisecond))

	for _, loc := range result.Locations {
		ux.Success("%s [%s] %s", loc.ID, loc.Terrain, firstLine(loc.Base))
	}
	for _, rej := range result.Rejections {
		ux.Warning("rejected at %s gate: %s", rej.Gate, rej.Reason)
	}
	for _, warning := range result.Warnings {
		ux.Detail("warning: %s", warning)
	}
}

func runReconnect(cmd *cobra.Command, args []string) error {
	locationID, err := validation.SanitizeLocationID(args[0])
	if err != nil {
		return err
	}

	engine, err := openEngine(useOracle)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	spinner := ux.NewSpinner(fmt.Sprintf("searching around %s", locationID)).WithType(ux.SpinnerCompass)
	spinner.Start()
	candidates, err := engine.searcher.Search(ctx, locationID, reconnectHops)
	spinner.Stop()
	if err != nil {
		return fmt.Errorf("reconnection search failed: %w", err)
	}

	ux.Title("Reconnection search")
	ux.KeyValue("candidates", len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if c.State == reconnect.StateCommitted {
			ux.Success("%s %s %s via %s (hops %d, ratio %.2f)",
				c.From, ux.IconArrow, c.To, c.Direction, c.Hops, c.Ratio())
		} else {
			ux.Detail("%s -> %s discarded: %s", c.From, c.To, c.Reason)
		}
	}
	return nil
}

func firstLine(text string) string {
	for i, r := range text {
		if r == '\n' {
			return text[:i]
		}
		if i > 76 {
			return text[:i] + "…"
		}
	}
	return text
}

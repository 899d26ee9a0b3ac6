// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/worldloom/pkg/ux"
	"github.com/AleutianAI/worldloom/pkg/validation"
	"github.com/AleutianAI/worldloom/services/topology/storage"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

func runVerify(cmd *cobra.Command, args []string) error {
	engine, err := openEngine(false)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := cmd.Context()

	ids := args
	if len(ids) == 0 {
		// No IDs means audit the whole store.
		err := engine.walker.ForEachLocation(ctx, func(loc world.Location) error {
			ids = append(ids, loc.ID)
			return nil
		})
		if err != nil {
			return err
		}
	} else if err := validation.ValidateLocationIDs(ids); err != nil {
		return err
	}

	if len(ids) == 0 {
		ux.Info("store is empty, nothing to audit")
		return nil
	}

	violations, err := storage.VerifyReciprocity(ctx, engine.store, ids)
	if err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}

	ux.Title("Integrity audit")
	ux.KeyValue("locations", len(ids))
	ux.KeyValue("violations", len(violations))
	if len(violations) == 0 {
		ux.Success("every exit has its reciprocal")
		return nil
	}
	for _, v := range violations {
		ux.Error("%s", v)
	}
	return fmt.Errorf("%d reciprocity violations", len(violations))
}

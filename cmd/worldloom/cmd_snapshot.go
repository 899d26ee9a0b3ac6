// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/worldloom/cmd/worldloom/gcs"
	"github.com/AleutianAI/worldloom/pkg/ux"
	"github.com/AleutianAI/worldloom/services/topology/snapshot"
)

func runSnapshotExport(cmd *cobra.Command, args []string) error {
	target := args[0]

	engine, err := openEngine(false)
	if err != nil {
		return err
	}
	defer engine.Close()

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}

	manifest, err := snapshot.Export(cmd.Context(), engine.walker, out)
	if err != nil {
		out.Close()
		os.Remove(target)
		return fmt.Errorf("export failed: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	// The YAML sidecar lets operators inspect a snapshot without parsing it.
	sidecar, err := os.Create(target + ".manifest.yaml")
	if err != nil {
		return fmt.Errorf("creating manifest sidecar: %w", err)
	}
	defer sidecar.Close()
	if err := snapshot.WriteManifest(sidecar, manifest); err != nil {
		return err
	}

	printManifest("Snapshot exported", target, manifest)
	return nil
}

func runSnapshotImport(cmd *cobra.Command, args []string) error {
	source := args[0]

	engine, err := openEngine(false)
	if err != nil {
		return err
	}
	defer engine.Close()

	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("opening snapshot file: %w", err)
	}
	defer in.Close()

	manifest, err := snapshot.Import(cmd.Context(), engine.walker, in)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	printManifest("Snapshot imported", source, manifest)
	return nil
}

func runSnapshotPush(cmd *cobra.Command, args []string) error {
	source := args[0]
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("snapshot file: %w", err)
	}

	object := snapshotObject
	if object == "" {
		object = gcs.ObjectName(source)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	client, err := gcs.NewClient(ctx, snapshotBucket, snapshotKey)
	if err != nil {
		return err
	}
	defer client.Close()

	spinner := ux.NewSpinner(fmt.Sprintf("uploading %s", source))
	spinner.Start()
	err = client.Upload(ctx, source, object)
	spinner.Stop()
	if err != nil {
		return err
	}

	ux.Success("pushed %s %s gs://%s/%s", source, ux.IconArrow, client.BucketName, object)
	return nil
}

func runSnapshotPull(cmd *cobra.Command, args []string) error {
	object, target := args[0], args[1]

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	client, err := gcs.NewClient(ctx, snapshotBucket, snapshotKey)
	if err != nil {
		return err
	}
	defer client.Close()

	spinner := ux.NewSpinner(fmt.Sprintf("downloading %s", object))
	spinner.Start()
	err = client.Download(ctx, object, target)
	spinner.Stop()
	if err != nil {
		return err
	}

	ux.Success("pulled gs://%s/%s %s %s", client.BucketName, object, ux.IconArrow, target)
	return nil
}

func printManifest(title, file string, m snapshot.Manifest) {
	ux.Title(title)
	ux.KeyValue("file", file)
	ux.KeyValue("version", m.Version)
	ux.KeyValue("locations", m.Locations)
	ux.KeyValue("exits", m.Exits)
	ux.KeyValue("created", m.CreatedAt.Format(time.RFC3339))
}

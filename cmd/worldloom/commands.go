// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/AleutianAI/worldloom/pkg/ux"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// --- Global flag variables ---
var (
	machineOutput bool
	dataDir       string
	useOracle     bool

	expandRoot        string
	expandArrival     string
	expandDepth       int
	expandNeighbors   int
	expandTerrain     string
	expandDescription string

	walkStart string

	snapshotBucket string
	snapshotKey    string
	snapshotObject string

	loreServiceURL string
	loreSource     string

	reconnectHops int

	rootCmd = &cobra.Command{
		Use:   "worldloom",
		Short: "Operate a worldloom topology store",
		Long: `worldloom manages the generated world graph: seed and expand
regions against a local store, walk the result interactively, audit exit
integrity, and move snapshots between stores and cloud storage.

The long-running HTTP engine is the topology service; this tool covers
everything an operator does around it.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ux.Init(machineOutput)
		},
	}

	expandCmd = &cobra.Command{
		Use:   "expand",
		Short: "Run one expansion trigger against the local store",
		Long: `Expand generates neighbor locations around a root in the local
graph store. Without --use-oracle the deterministic mock oracle drafts the
descriptions, which is enough to grow test worlds offline. If the root does
not exist yet it is seeded from --terrain and --description.`,
		RunE: runExpand, // Defined in cmd_expand.go
	}

	walkCmd = &cobra.Command{
		Use:   "walk",
		Short: "Explore the local world graph interactively",
		RunE:  runWalk, // Defined in cmd_walk.go
	}

	reconnectCmd = &cobra.Command{
		Use:   "reconnect [location-id]",
		Short: "Search for reconnection candidates around a location",
		Args:  cobra.ExactArgs(1),
		RunE:  runReconnect, // Defined in cmd_expand.go
	}

	verifyCmd = &cobra.Command{
		Use:   "verify [location-id...]",
		Short: "Audit the reciprocal-exit invariant over the local store",
		RunE:  runVerify, // Defined in cmd_verify.go
	}

	// --- Snapshots ---
	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Export, import, and transfer world snapshots",
	}
	snapshotExportCmd = &cobra.Command{
		Use:   "export [file]",
		Short: "Write the local world graph to a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotExport, // Defined in cmd_snapshot.go
	}
	snapshotImportCmd = &cobra.Command{
		Use:   "import [file]",
		Short: "Load a snapshot file into the local store (idempotent upserts)",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotImport, // Defined in cmd_snapshot.go
	}
	snapshotPushCmd = &cobra.Command{
		Use:   "push [file]",
		Short: "Upload a snapshot file to the configured GCS bucket",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotPush, // Defined in cmd_snapshot.go
	}
	snapshotPullCmd = &cobra.Command{
		Use:   "pull [object] [file]",
		Short: "Download a snapshot object from the configured GCS bucket",
		Args:  cobra.ExactArgs(2),
		RunE:  runSnapshotPull, // Defined in cmd_snapshot.go
	}

	loreCmd = &cobra.Command{
		Use:   "lore [file]",
		Short: "Ingest a canon document through a running topology service",
		Args:  cobra.ExactArgs(1),
		RunE:  runLoreIngest, // Defined in cmd_lore.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the worldloom version",
		Run: func(cmd *cobra.Command, args []string) {
			ux.KeyValue("worldloom", Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&machineOutput, "machine", false,
		"plain, parseable output (automatic when stdout is not a terminal)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "",
		"graph store directory (default ~/.worldloom/graph)")

	expandCmd.Flags().StringVar(&expandRoot, "root", "", "root location ID (required)")
	expandCmd.Flags().StringVar(&expandArrival, "arrival", "", "arrival direction, e.g. south")
	expandCmd.Flags().IntVar(&expandDepth, "depth", 1, "eager expansion depth")
	expandCmd.Flags().IntVar(&expandNeighbors, "neighbors", 0, "target neighbor count (0 = terrain guidance)")
	expandCmd.Flags().StringVar(&expandTerrain, "terrain", "open-plain", "terrain when seeding a missing root")
	expandCmd.Flags().StringVar(&expandDescription, "description", "", "base description when seeding a missing root")
	expandCmd.Flags().BoolVar(&useOracle, "use-oracle", false, "call the real narrative backend instead of the mock")
	_ = expandCmd.MarkFlagRequired("root")

	walkCmd.Flags().StringVar(&walkStart, "start", "", "location ID to start from (required)")
	_ = walkCmd.MarkFlagRequired("start")

	reconnectCmd.Flags().IntVar(&reconnectHops, "max-hops", 0, "search radius in hops (0 = default)")
	reconnectCmd.Flags().BoolVar(&useOracle, "use-oracle", false, "call the real narrative backend instead of the mock")

	snapshotCmd.PersistentFlags().StringVar(&snapshotBucket, "bucket", "", "GCS bucket for push/pull")
	snapshotCmd.PersistentFlags().StringVar(&snapshotKey, "sa-key", "", "service account key file for push/pull")
	snapshotPushCmd.Flags().StringVar(&snapshotObject, "object", "", "object name (default snapshots/<file>)")

	loreCmd.Flags().StringVar(&loreServiceURL, "service", "http://localhost:12310", "topology service base URL")
	loreCmd.Flags().StringVar(&loreSource, "source", "", "source name (default: the file name)")

	snapshotCmd.AddCommand(snapshotExportCmd, snapshotImportCmd, snapshotPushCmd, snapshotPullCmd)
	rootCmd.AddCommand(expandCmd, walkCmd, reconnectCmd, verifyCmd, snapshotCmd, loreCmd, versionCmd)
}

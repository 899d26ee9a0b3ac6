// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/worldloom/pkg/logging"
	"github.com/AleutianAI/worldloom/services/topology/events"
	"github.com/AleutianAI/worldloom/services/topology/expansion"
	"github.com/AleutianAI/worldloom/services/topology/gates"
	"github.com/AleutianAI/worldloom/services/topology/inference"
	"github.com/AleutianAI/worldloom/services/topology/oracle"
	"github.com/AleutianAI/worldloom/services/topology/reconnect"
	"github.com/AleutianAI/worldloom/services/topology/safety"
	"github.com/AleutianAI/worldloom/services/topology/similarity"
	"github.com/AleutianAI/worldloom/services/topology/staging"
	"github.com/AleutianAI/worldloom/services/topology/storage"
	storebadger "github.com/AleutianAI/worldloom/services/topology/storage/badger"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

// localEngine is the in-process counterpart of the topology service: the
// same components wired over a local badger store, without the HTTP surface.
// CLI commands use it to grow and inspect worlds offline.
type localEngine struct {
	store        storage.GraphStore
	orchestrator *expansion.Orchestrator
	searcher     *reconnect.Searcher
	logger       *slog.Logger

	// walker is the raw badger store, which adds full iteration on top of
	// the GraphStore contract. Snapshot and verify use it.
	walker *storebadger.Store

	db     *storebadger.DB
	closer func()
}

func defaultDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".worldloom", "graph")
	}
	return ".worldloom-graph"
}

// openEngine builds a localEngine over the store at --data. With realOracle
// false the mock oracle and embedder run everything deterministically.
func openEngine(realOracle bool) (*localEngine, error) {
	appLogger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		Service: "worldloom-cli",
		Quiet:   !machineOutput && os.Getenv("LOG_LEVEL") == "",
	})
	logger := appLogger.Slog()

	cfg := storebadger.DefaultConfig()
	cfg.Path = defaultDataDir()
	cfg.Logger = logger
	db, err := storebadger.OpenDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening graph store at %s: %w", cfg.Path, err)
	}

	baseStore, err := storebadger.NewStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	store, err := storage.WithRetry(baseStore, storage.DefaultRetryConfig(), logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	var narrative oracle.NarrativeOracle
	var embedder similarity.Embedder
	if realOracle {
		client, err := oracle.NewOpenAIOracle(oracle.DefaultConfig(), logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("narrative backend: %w", err)
		}
		narrative = client
		if emb, err := similarity.NewOpenAIEmbedder(similarity.DefaultEmbedderConfig(), logger); err == nil {
			embedder = emb
		} else {
			logger.Warn("embedding backend unavailable, duplication screen runs on the mock", "error", err)
			embedder = similarity.NewMockEmbedder()
		}
	} else {
		narrative = oracle.NewMockOracle()
		embedder = similarity.NewMockEmbedder()
	}

	guidance := world.NewGuidanceStore(logger)
	if path := os.Getenv("WORLDLOOM_GUIDANCE_FILE"); path != "" {
		if err := guidance.LoadFile(path); err != nil {
			logger.Warn("guidance file load failed, using built-in table", "path", path, "error", err)
		}
	}

	locks := world.NewKeyedLocks()
	quarantine := world.NewQuarantine()
	hub := events.NewHub(logger)

	area, err := staging.NewArea(store, locks, quarantine, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	chain := gates.DefaultChain(gates.Config{},
		safety.NewPatternClassifier(logger), embedder, store, guidance, logger)

	searcher, err := reconnect.NewSearcher(reconnect.Config{}, reconnect.Deps{
		Store:      store,
		Oracle:     narrative,
		Guidance:   guidance,
		Locks:      locks,
		Quarantine: quarantine,
		Hub:        hub,
		Logger:     logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	orchestrator, err := expansion.New(expansion.Config{}, expansion.Deps{
		Store:      store,
		Oracle:     narrative,
		Inferencer: inference.New(inference.Config{}, logger),
		Chain:      chain,
		Area:       area,
		Guidance:   guidance,
		Hub:        hub,
		Logger:     logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &localEngine{
		store:        store,
		orchestrator: orchestrator,
		searcher:     searcher,
		logger:       logger,
		walker:       baseStore,
		db:           db,
		closer: func() {
			guidance.Close()
			db.Close()
			appLogger.Close()
		},
	}, nil
}

func (e *localEngine) Close() {
	if e.closer != nil {
		e.closer()
	}
}

// seedRoot writes a manual, crystallized location so expansion has
// somewhere to start. Idempotent per ID.
func seedRoot(id, terrainRaw, description string) world.Location {
	terrain := world.NormalizeTerrain(terrainRaw)
	if description == "" {
		description = fmt.Sprintf("An unremarkable stretch of %s, waiting to be described.", terrain)
	}
	return world.Location{
		ID:      id,
		Base:    description,
		Terrain: terrain,
		State:   world.StateCrystallized,
		Provenance: world.Provenance{
			Source:      world.SourceManual,
			GeneratedAt: time.Now().UTC(),
		},
	}
}

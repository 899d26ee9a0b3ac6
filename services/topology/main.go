// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// The topology service exposes the world expansion and reconnection engine
// over HTTP. Everything optional degrades: without an OpenAI key the service
// runs on the deterministic mock oracle and embedder, without Weaviate the
// similarity index and lore corpus stay in memory, and without InfluxDB the
// per-batch sink is simply absent. That "lightweight mode" is what tests and
// local development run against; production wires all three.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/worldloom/pkg/logging"
	"github.com/AleutianAI/worldloom/services/topology/datatypes"
	"github.com/AleutianAI/worldloom/services/topology/events"
	"github.com/AleutianAI/worldloom/services/topology/expansion"
	"github.com/AleutianAI/worldloom/services/topology/gates"
	"github.com/AleutianAI/worldloom/services/topology/inference"
	"github.com/AleutianAI/worldloom/services/topology/lore"
	"github.com/AleutianAI/worldloom/services/topology/metrics"
	"github.com/AleutianAI/worldloom/services/topology/oracle"
	"github.com/AleutianAI/worldloom/services/topology/reconnect"
	"github.com/AleutianAI/worldloom/services/topology/routes"
	"github.com/AleutianAI/worldloom/services/topology/safety"
	"github.com/AleutianAI/worldloom/services/topology/similarity"
	"github.com/AleutianAI/worldloom/services/topology/staging"
	"github.com/AleutianAI/worldloom/services/topology/storage"
	storebadger "github.com/AleutianAI/worldloom/services/topology/storage/badger"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// buildOracle prefers the real OpenAI client and falls back to the mock when
// no API key is available.
func buildOracle(logger *slog.Logger) oracle.NarrativeOracle {
	client, err := oracle.NewOpenAIOracle(oracle.DefaultConfig(), logger)
	if err != nil {
		logger.Warn("no narrative backend configured, using mock oracle", "error", err)
		return oracle.NewMockOracle()
	}
	return client
}

func buildEmbedder(logger *slog.Logger) similarity.Embedder {
	embedder, err := similarity.NewOpenAIEmbedder(similarity.DefaultEmbedderConfig(), logger)
	if err != nil {
		logger.Warn("no embedding backend configured, using mock embedder", "error", err)
		return similarity.NewMockEmbedder()
	}
	return embedder
}

// buildLoreStore connects to Weaviate when WEAVIATE_SERVICE_URL is set;
// otherwise the corpus lives in memory and dies with the process.
func buildLoreStore(ctx context.Context, logger *slog.Logger) lore.Store {
	weaviateURL := os.Getenv("WEAVIATE_SERVICE_URL")
	if weaviateURL == "" {
		logger.Warn("WEAVIATE_SERVICE_URL not set, lore corpus is in-memory only")
		return lore.NewMemoryStore()
	}

	client, err := weaviate.NewClient(weaviate.Config{Scheme: "http", Host: weaviateURL})
	if err != nil {
		logger.Warn("weaviate client construction failed, lore corpus is in-memory only", "error", err)
		return lore.NewMemoryStore()
	}
	if err := datatypes.EnsureWeaviateSchema(ctx, client); err != nil {
		logger.Warn("weaviate schema setup failed, lore corpus is in-memory only", "error", err)
		return lore.NewMemoryStore()
	}
	store, err := lore.NewWeaviateStore(client, logger)
	if err != nil {
		logger.Warn("weaviate lore store failed, falling back to memory", "error", err)
		return lore.NewMemoryStore()
	}
	logger.Info("lore corpus backed by weaviate", "host", weaviateURL)
	return store
}

func buildInflux(ctx context.Context, logger *slog.Logger) *metrics.InfluxSink {
	url := os.Getenv("INFLUXDB_URL")
	if url == "" {
		return nil
	}
	sink, err := metrics.NewInfluxSink(ctx, url,
		os.Getenv("INFLUXDB_TOKEN"),
		getEnvOr("INFLUXDB_ORG", "worldloom"),
		getEnvOr("INFLUXDB_BUCKET", "topology"),
		logger)
	if err != nil {
		logger.Warn("influx sink unavailable", "error", err)
		return nil
	}
	return sink
}

func main() {
	port := getEnvOr("TOPOLOGY_PORT", "12310")

	appLogger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		LogDir:  os.Getenv("WORLDLOOM_LOG_DIR"),
		Service: "topology",
		JSON:    true,
	})
	defer appLogger.Close()
	logger := appLogger.Slog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := metrics.InitTelemetry(ctx, metrics.DefaultTelemetryConfig())
	if err != nil {
		log.Fatalf("telemetry setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	// --- Graph store ---
	storeCfg := storebadger.DefaultConfig()
	storeCfg.Path = getEnvOr("WORLDLOOM_DATA_DIR", storeCfg.Path)
	storeCfg.Logger = logger
	db, err := storebadger.OpenDB(storeCfg)
	if err != nil {
		log.Fatalf("opening graph store at %s: %v", storeCfg.Path, err)
	}
	defer db.Close()

	baseStore, err := storebadger.NewStore(db, logger)
	if err != nil {
		log.Fatalf("graph store setup failed: %v", err)
	}
	store, err := storage.WithRetry(baseStore, storage.DefaultRetryConfig(), logger)
	if err != nil {
		log.Fatalf("graph store retry wrapper failed: %v", err)
	}

	// --- World model plumbing ---
	guidance := world.NewGuidanceStore(logger)
	if path := os.Getenv("WORLDLOOM_GUIDANCE_FILE"); path != "" {
		if err := guidance.LoadFile(path); err != nil {
			logger.Warn("guidance file load failed, using built-in table", "path", path, "error", err)
		} else if err := guidance.Watch(path); err != nil {
			logger.Warn("guidance hot reload unavailable", "path", path, "error", err)
		}
	}
	defer guidance.Close()

	locks := world.NewKeyedLocks()
	quarantine := world.NewQuarantine()
	hub := events.NewHub(logger)

	if auditPath := os.Getenv("WORLDLOOM_AUDIT_LOG"); auditPath != "" {
		auditFile, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			logger.Warn("audit log unavailable", "path", auditPath, "error", err)
		} else {
			writer := events.NewAuditWriter(hub, auditFile, logger)
			defer func() {
				writer.Close()
				auditFile.Close()
			}()
		}
	}

	// --- Engine components ---
	oracleClient := buildOracle(logger)
	embedder := buildEmbedder(logger)
	influx := buildInflux(ctx, logger)
	if influx != nil {
		defer influx.Close()
	}

	area, err := staging.NewArea(store, locks, quarantine, logger)
	if err != nil {
		log.Fatalf("staging area setup failed: %v", err)
	}

	chain := gates.DefaultChain(gates.Config{},
		safety.NewPatternClassifier(logger), embedder, store, guidance, logger)

	loreStore := buildLoreStore(ctx, logger)
	ingestor, err := lore.NewIngestor(loreStore, embedder, logger)
	if err != nil {
		log.Fatalf("lore ingestor setup failed: %v", err)
	}
	retriever, err := lore.NewRetriever(loreStore, embedder, logger)
	if err != nil {
		log.Fatalf("lore retriever setup failed: %v", err)
	}

	searcher, err := reconnect.NewSearcher(reconnect.Config{}, reconnect.Deps{
		Store:      store,
		Oracle:     oracleClient,
		Guidance:   guidance,
		Locks:      locks,
		Quarantine: quarantine,
		Hub:        hub,
		Influx:     influx,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("reconnection searcher setup failed: %v", err)
	}
	worker := reconnect.NewWorker(searcher, 64, 2, logger)
	worker.Start(ctx)
	defer worker.Stop()

	orchestrator, err := expansion.New(expansion.Config{}, expansion.Deps{
		Store:      store,
		Oracle:     oracleClient,
		Inferencer: inference.New(inference.Config{}, logger),
		Chain:      chain,
		Area:       area,
		Guidance:   guidance,
		Hub:        hub,
		Influx:     influx,
		Lore:       retriever,
		Reconnect:  worker,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("orchestrator setup failed: %v", err)
	}

	// --- HTTP surface ---
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("topology-service"))

	routes.SetupRoutes(router, routes.Deps{
		Store:        store,
		Oracle:       oracleClient,
		Area:         area,
		Locks:        locks,
		Hub:          hub,
		Orchestrator: orchestrator,
		Searcher:     searcher,
		Ingestor:     ingestor,
		LoreStore:    loreStore,
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("topology service listening", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
}

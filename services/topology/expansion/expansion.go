// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package expansion coordinates one world-growth step: plan direction slots
// around a root, draft stubs through the narrative oracle, infer their
// exits, run the validation gate chain, stage what survived, and commit.
//
// Concurrent triggers on the same root serialize on a keyed mutex; the
// duplicate stub a slot race would create is the one unacceptable outcome.
// Unrelated roots expand in parallel up to the worker bound.
package expansion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/worldloom/services/topology/events"
	"github.com/AleutianAI/worldloom/services/topology/gates"
	"github.com/AleutianAI/worldloom/services/topology/inference"
	"github.com/AleutianAI/worldloom/services/topology/metrics"
	"github.com/AleutianAI/worldloom/services/topology/oracle"
	"github.com/AleutianAI/worldloom/services/topology/staging"
	"github.com/AleutianAI/worldloom/services/topology/storage"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

// Defaults for the orchestrator.
const (
	DefaultMaxBatchSize = 20
	DefaultMaxDepth     = 2
	DefaultWorkers      = 4
)

// ErrNoFreeSlots reports a root whose direction slots are all taken; there
// is nothing to expand.
var ErrNoFreeSlots = errors.New("no free direction slots")

// Trigger asks for one expansion around a root location.
type Trigger struct {
	// RootID names the crystallized location to expand.
	RootID string `json:"root_id"`

	// ArrivalDirection is the direction the traveler entered the root
	// from. Its slot is left alone and the opposite slot, the onward
	// continuation, is always attempted. Empty is allowed for manual
	// triggers with no travel history.
	ArrivalDirection world.Direction `json:"arrival_direction,omitempty"`

	// Depth is how many generations to expand eagerly. Zero means one.
	Depth int `json:"depth,omitempty"`

	// NeighborTarget caps how many new exits this trigger aims for. Zero
	// takes the terrain guidance maximum.
	NeighborTarget int `json:"neighbor_target,omitempty"`
}

// Result reports what one trigger did to the world.
type Result struct {
	BatchID string `json:"batch_id"`
	RootID  string `json:"root_id"`

	// Outcome is one of the metrics.Outcome* labels.
	Outcome string `json:"outcome"`

	Locations  []world.Location  `json:"locations,omitempty"`
	Exits      []world.Exit      `json:"exits,omitempty"`
	Rejections []gates.Rejection `json:"rejections,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`

	Elapsed time.Duration `json:"elapsed"`
}

// LoreSource supplies corpus snippets that anchor oracle drafts in the
// world's established fiction. Optional.
type LoreSource interface {
	Snippets(ctx context.Context, text string, limit int) ([]string, error)
}

// ReconnectScheduler receives newly committed location IDs for asynchronous
// reconnection search. Optional.
type ReconnectScheduler interface {
	Schedule(locationID string)
}

// Config tunes the orchestrator.
type Config struct {
	// MaxBatchSize caps slots per oracle call. Zero means the default.
	MaxBatchSize int

	// MaxDepth caps eager expansion depth. Zero means the default. Deeper
	// requests are clamped, never refused.
	MaxDepth int

	// Workers bounds concurrently processed triggers. Zero means the
	// default.
	Workers int64

	// LoreSnippets is how many corpus snippets to attach per oracle call.
	LoreSnippets int
}

func (c *Config) applyDefaults() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.LoreSnippets <= 0 {
		c.LoreSnippets = 3
	}
}

// Deps carries the orchestrator's collaborators. Store, Oracle, Inferencer,
// Chain, Area, and Guidance are required; the rest may be nil.
type Deps struct {
	Store      storage.GraphStore
	Oracle     oracle.NarrativeOracle
	Inferencer inference.Inferencer
	Chain      *gates.Chain
	Area       *staging.Area
	Guidance   gates.GuidanceLookup

	Hub       *events.Hub
	Influx    *metrics.InfluxSink
	Lore      LoreSource
	Reconnect ReconnectScheduler
	Logger    *slog.Logger
}

// Orchestrator runs the expansion pipeline.
//
// # Thread Safety
//
// Safe for concurrent use. Triggers on the same root serialize; the worker
// semaphore bounds total concurrency.
type Orchestrator struct {
	cfg  Config
	deps Deps

	// triggerLocks serializes triggers per root. It is distinct from the
	// staging area's write locks, which Commit acquires underneath us;
	// sharing a registry would self-deadlock.
	triggerLocks *world.KeyedLocks
	workers      *semaphore.Weighted
	logger       *slog.Logger
}

// New builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	cfg.applyDefaults()
	switch {
	case deps.Store == nil:
		return nil, errors.New("expansion: nil graph store")
	case deps.Oracle == nil:
		return nil, errors.New("expansion: nil oracle")
	case deps.Inferencer == nil:
		return nil, errors.New("expansion: nil inferencer")
	case deps.Chain == nil:
		return nil, errors.New("expansion: nil gate chain")
	case deps.Area == nil:
		return nil, errors.New("expansion: nil staging area")
	case deps.Guidance == nil:
		return nil, errors.New("expansion: nil guidance lookup")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		cfg:          cfg,
		deps:         deps,
		triggerLocks: world.NewKeyedLocks(),
		workers:      semaphore.NewWeighted(cfg.Workers),
		logger:       deps.Logger,
	}, nil
}

// Expand runs one trigger end to end.
//
// Description:
//
//	The trigger occupies one worker slot for its whole lifetime, nested
//	depth expansion included. A fully failed trigger returns an error; a
//	batch that lost stubs to gates returns the accepted subset alongside
//	the rejection reasons. Cancellation is honored up to the staging
//	commit; once committed the result stands.
//
// Outputs:
//
//	*Result - Committed locations and exits, rejections, warnings.
//	error - Lookup failures, oracle failures, infra errors, cancellation.
func (o *Orchestrator) Expand(ctx context.Context, trigger Trigger) (*Result, error) {
	if trigger.RootID == "" {
		return nil, errors.New("expand: empty root ID")
	}
	if trigger.ArrivalDirection != "" && !trigger.ArrivalDirection.Valid() {
		return nil, fmt.Errorf("expand %s: arrival %q: %w",
			trigger.RootID, string(trigger.ArrivalDirection), world.ErrInvalidDirection)
	}
	depth := trigger.Depth
	if depth <= 0 {
		depth = 1
	}
	if depth > o.cfg.MaxDepth {
		o.logger.Warn("Expansion depth clamped",
			"root", trigger.RootID, "requested", depth, "max", o.cfg.MaxDepth)
		depth = o.cfg.MaxDepth
	}

	target := trigger.NeighborTarget
	if target < 0 {
		target = 0
	}

	if err := o.workers.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("expand %s: %w", trigger.RootID, err)
	}
	defer o.workers.Release(1)

	return o.expandOnce(ctx, trigger.RootID, trigger.ArrivalDirection, depth, target)
}

// expandOnce handles one root at one depth level. Nested levels recurse
// here directly so a trigger never takes a second worker slot.
func (o *Orchestrator) expandOnce(ctx context.Context, rootID string, arrival world.Direction, depth, neighborTarget int) (*Result, error) {
	ctx, span := otel.Tracer("expansion").Start(ctx, "expansion.Expand",
		trace.WithAttributes(
			attribute.String("root.id", rootID),
			attribute.String("arrival", string(arrival)),
			attribute.Int("depth", depth),
		))
	defer span.End()

	started := time.Now()

	unlock := o.triggerLocks.Lock(rootID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, err := o.deps.Store.GetLocation(ctx, rootID)
	if err != nil {
		return nil, o.fail(rootID, "", started, fmt.Errorf("expand %s: %w", rootID, err))
	}
	if !root.Crystallized() {
		return nil, o.fail(rootID, "", started,
			fmt.Errorf("expand %s: location is %s; only crystallized locations expand", rootID, root.State))
	}

	existing, err := o.deps.Store.ExitsFrom(ctx, rootID)
	if err != nil {
		return nil, o.fail(rootID, "", started, fmt.Errorf("expand %s: exits: %w", rootID, err))
	}

	guide := o.deps.Guidance.Lookup(root.Terrain)
	slots := planSlots(existing, arrival, guide, o.cfg.MaxBatchSize, neighborTarget)
	if len(slots) == 0 {
		o.logger.Info("Nothing to expand", "root", rootID, "existingExits", len(existing))
		result := &Result{
			RootID:   rootID,
			Outcome:  metrics.OutcomeRejected,
			Warnings: []string{fmt.Sprintf("%s: %v", rootID, ErrNoFreeSlots)},
			Elapsed:  time.Since(started),
		}
		metrics.RecordBatch(result.Outcome, 0, 0, result.Elapsed.Seconds())
		return result, nil
	}

	drafts, err := o.draftStubs(ctx, root, slots)
	if err != nil {
		return nil, o.fail(rootID, "", started, err)
	}

	batch := o.assembleBatch(root, arrival, depth, slots, drafts)

	gateResult, err := o.deps.Chain.Validate(ctx, batch)
	if err != nil {
		return nil, o.fail(rootID, batch.ID, started, fmt.Errorf("validate batch %s: %w", batch.ID, err))
	}
	for _, rejection := range gateResult.Rejected {
		metrics.RecordGateRejection(rejection.Gate)
		o.publish(events.Event{
			Type:    events.TypeStubRejected,
			RootID:  rootID,
			BatchID: batch.ID,
			Payload: map[string]any{
				"gate":   rejection.Gate,
				"slot":   string(rejection.Slot),
				"reason": rejection.Reason,
			},
		})
	}

	result := &Result{
		BatchID:    batch.ID,
		RootID:     rootID,
		Rejections: gateResult.Rejected,
		Warnings:   gateResult.Warnings,
	}

	if len(gateResult.Accepted) == 0 {
		result.Outcome = metrics.OutcomeRejected
		result.Elapsed = time.Since(started)
		metrics.RecordBatch(result.Outcome, 0, len(gateResult.Rejected), result.Elapsed.Seconds())
		o.deps.Influx.RecordBatch(ctx, rootID, result.Outcome, 0, len(gateResult.Rejected), result.Elapsed)
		o.logger.Info("Batch fully rejected", "root", rootID, "batchID", batch.ID,
			"rejected", len(gateResult.Rejected))
		return result, nil
	}

	staged := *batch
	staged.Stubs = gateResult.Accepted
	handle, err := o.deps.Area.Stage(&staged)
	if err != nil {
		return nil, o.fail(rootID, batch.ID, started, fmt.Errorf("stage batch %s: %w", batch.ID, err))
	}
	metrics.SetStagedBatches(o.deps.Area.PendingCount())
	o.publish(events.Event{
		Type:    events.TypeBatchStaged,
		RootID:  rootID,
		BatchID: batch.ID,
		Payload: map[string]any{"stubs": len(gateResult.Accepted)},
	})

	locations, exits, err := o.deps.Area.Commit(ctx, handle)
	metrics.SetStagedBatches(o.deps.Area.PendingCount())
	if err != nil {
		// An undecided handle is dropped so the area does not accumulate
		// abandoned batches; the store's idempotent upserts make any
		// partial progress harmless.
		if discardErr := o.deps.Area.Discard(handle); discardErr != nil &&
			!errors.Is(discardErr, world.ErrAlreadyCommitted) {
			o.logger.Warn("Discard after failed commit", "handleID", handle.ID(), "error", discardErr)
		}
		return nil, o.fail(rootID, batch.ID, started, fmt.Errorf("commit batch %s: %w", batch.ID, err))
	}

	result.Locations = locations
	result.Exits = exits
	result.Outcome = metrics.OutcomeCommitted
	if len(gateResult.Rejected) > 0 {
		result.Outcome = metrics.OutcomePartial
	}

	for _, loc := range locations {
		o.publish(events.Event{
			Type:    events.TypeLocationCrystallized,
			RootID:  rootID,
			BatchID: batch.ID,
			Payload: map[string]any{"location": loc.ID, "terrain": string(loc.Terrain)},
		})
		if o.deps.Reconnect != nil {
			o.deps.Reconnect.Schedule(loc.ID)
		}
	}

	// Depth beyond one expands each new location in turn. The traveler
	// notionally walked out of the root, so the way back toward it is the
	// nested arrival. Failures here are logged, not fatal: the committed
	// batch above already stands.
	if depth > 1 {
		for i := range staged.Stubs {
			stub := &staged.Stubs[i]
			nested, err := o.expandOnce(ctx, stub.Location.ID, stub.ReturnDirection(), depth-1, neighborTarget)
			if err != nil {
				o.logger.Warn("Nested expansion failed",
					"root", stub.Location.ID, "depth", depth-1, "error", err)
				continue
			}
			result.Locations = append(result.Locations, nested.Locations...)
			result.Exits = append(result.Exits, nested.Exits...)
			result.Rejections = append(result.Rejections, nested.Rejections...)
			result.Warnings = append(result.Warnings, nested.Warnings...)
		}
	}

	result.Elapsed = time.Since(started)
	metrics.RecordBatch(result.Outcome, len(locations), len(gateResult.Rejected), result.Elapsed.Seconds())
	o.deps.Influx.RecordBatch(ctx, rootID, result.Outcome, len(locations), len(gateResult.Rejected), result.Elapsed)
	o.publish(events.Event{
		Type:    events.TypeBatchCommitted,
		RootID:  rootID,
		BatchID: batch.ID,
		Payload: map[string]any{
			"locations":  len(locations),
			"exits":      len(exits),
			"rejected":   len(gateResult.Rejected),
			"elapsed_ms": result.Elapsed.Milliseconds(),
		},
	})
	span.SetAttributes(
		attribute.String("outcome", result.Outcome),
		attribute.Int("accepted", len(locations)),
		attribute.Int("rejected", len(gateResult.Rejected)),
	)
	o.logger.Info("Batch committed",
		"root", rootID,
		"batchID", batch.ID,
		"outcome", result.Outcome,
		"locations", len(locations),
		"exits", len(exits),
		"rejected", len(gateResult.Rejected),
		"elapsed", result.Elapsed)
	return result, nil
}

// draftStubs runs the oracle call with lore attached and metrics recorded.
func (o *Orchestrator) draftStubs(ctx context.Context, root world.Location, slots []oracle.SlotRequest) ([]oracle.StubDraft, error) {
	req := oracle.BatchRequest{
		RootID:          root.ID,
		RootDescription: root.FullDescription(),
		RootTerrain:     root.Terrain,
		Slots:           slots,
	}
	if o.deps.Lore != nil {
		snippets, err := o.deps.Lore.Snippets(ctx, root.FullDescription(), o.cfg.LoreSnippets)
		if err != nil {
			o.logger.Warn("Lore retrieval failed; drafting without it", "root", root.ID, "error", err)
		} else {
			req.Lore = snippets
		}
	}

	started := time.Now()
	resp, err := o.deps.Oracle.GenerateBatch(ctx, req)
	elapsed := time.Since(started).Seconds()
	switch {
	case err == nil:
		metrics.RecordOracleCall("generate", "success", elapsed)
	case errors.Is(err, world.ErrOracleTimeout):
		metrics.RecordOracleCall("generate", "timeout", elapsed)
	default:
		metrics.RecordOracleCall("generate", "error", elapsed)
	}
	if err != nil {
		return nil, fmt.Errorf("draft %d stubs for %s: %w", len(slots), root.ID, err)
	}
	return resp.Drafts, nil
}

// assembleBatch turns oracle drafts into a generation batch with inferred
// exit proposals. Nothing is filtered here; the gate chain is the filter.
func (o *Orchestrator) assembleBatch(root world.Location, arrival world.Direction, depth int, slots []oracle.SlotRequest, drafts []oracle.StubDraft) *world.GenerationBatch {
	batch := world.NewBatch(root, arrival, depth, len(slots))

	for _, draft := range drafts {
		terrain := world.NormalizeTerrain(draft.Terrain)
		prov := world.Provenance{
			Source:      world.SourceGenerated,
			GeneratedAt: time.Now().UTC(),
			InputHash:   world.HashInput(root.ID + ":" + string(draft.Slot) + ":" + root.FullDescription()),
		}
		loc := world.NewStub(terrain, prov)
		if err := loc.SetBase(draft.Description); err != nil {
			// Unreachable for a fresh stub; guard against future edits.
			o.logger.Warn("Stub description refused", "slot", string(draft.Slot), "error", err)
			continue
		}

		stub := world.Stub{
			Location: loc,
			Slot:     draft.Slot,
			Duration: o.deps.Guidance.Lookup(terrain).TravelCost,
			Hook:     draft.Hook,
		}
		inferred := o.deps.Inferencer.InferExits(draft.Description, terrain, stub.ReturnDirection())
		stub.Proposals = inferred.Proposals
		batch.Stubs = append(batch.Stubs, stub)

		for _, warning := range inferred.Warnings {
			o.logger.Warn("Exit inference", "slot", string(draft.Slot), "warning", warning)
		}
	}
	return batch
}

// fail records a failed batch attempt and returns the causing error.
func (o *Orchestrator) fail(rootID, batchID string, started time.Time, err error) error {
	elapsed := time.Since(started)
	metrics.RecordBatch(metrics.OutcomeFailed, 0, 0, elapsed.Seconds())
	o.deps.Influx.RecordBatch(context.Background(), rootID, metrics.OutcomeFailed, 0, 0, elapsed)
	o.publish(events.Event{
		Type:    events.TypeBatchFailed,
		RootID:  rootID,
		BatchID: batchID,
		Payload: map[string]any{"error": err.Error()},
	})
	o.logger.Error("Could not expand", "root", rootID, "error", err, "elapsed", elapsed)
	return err
}

func (o *Orchestrator) publish(evt events.Event) {
	if o.deps.Hub != nil {
		o.deps.Hub.Publish(evt)
	}
}

// planSlots picks the direction slots to draft.
//
// The arrival slot is the way back home and is never planned. Its opposite,
// the onward continuation, goes first when free: a traveler pushing north
// should always find north keeps going. Remaining slots fill in canonical
// direction order up to the terrain guidance maximum, so planning is
// deterministic for a given store state.
func planSlots(existing []world.Exit, arrival world.Direction, guide world.Guidance, maxBatch, neighborTarget int) []oracle.SlotRequest {
	occupied := make(map[world.Direction]bool, len(existing)+1)
	for _, e := range existing {
		occupied[e.Direction] = true
	}
	if arrival.Valid() {
		occupied[arrival] = true
	}

	target := guide.MaxExits
	if neighborTarget > 0 && neighborTarget < target {
		target = neighborTarget
	}
	if target > maxBatch {
		target = maxBatch
	}
	if target <= 0 {
		return nil
	}

	slots := make([]oracle.SlotRequest, 0, target)
	if arrival.Valid() {
		if onward := arrival.Opposite(); !occupied[onward] {
			slots = append(slots, oracle.SlotRequest{Direction: onward})
			occupied[onward] = true
		}
	}
	for _, d := range world.Directions {
		if len(slots) >= target {
			break
		}
		if occupied[d] {
			continue
		}
		slots = append(slots, oracle.SlotRequest{Direction: d})
		occupied[d] = true
	}
	return slots
}

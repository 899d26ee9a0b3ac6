// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reconnect stitches freshly generated regions back into the
// existing graph. Generation only ever grows trees: every new location
// hangs off the batch that created it, so without reconnection the world
// degenerates into corridors. The searcher walks the committed exit graph
// outward from a new location, proposes direct exits to locations that are
// close in travel time, has the oracle judge whether the two descriptions
// tolerate being adjacent, and commits survivors as reciprocal pairs.
//
// Distance is pure graph geometry. Hop count and accumulated travel
// duration are the only spatial measurements; there are no coordinates
// anywhere in the engine.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/worldloom/services/topology/events"
	"github.com/AleutianAI/worldloom/services/topology/metrics"
	"github.com/AleutianAI/worldloom/services/topology/oracle"
	"github.com/AleutianAI/worldloom/services/topology/storage"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

// Defaults for the searcher.
const (
	DefaultMaxHops          = 4
	DefaultToleranceFactor  = 2.0
	DefaultJudgeParallelism = 4
)

// CandidateState tracks a candidate through its gates. Every candidate
// passes through each state in order; none may be skipped.
type CandidateState string

const (
	StateProposed           CandidateState = "proposed"
	StateDurationChecked    CandidateState = "duration-checked"
	StateConsistencyChecked CandidateState = "consistency-checked"
	StateCommitted          CandidateState = "committed"
	StateDiscarded          CandidateState = "discarded"
)

var candidateSuccessor = map[CandidateState][]CandidateState{
	StateProposed:           {StateDurationChecked, StateDiscarded},
	StateDurationChecked:    {StateConsistencyChecked, StateDiscarded},
	StateConsistencyChecked: {StateCommitted, StateDiscarded},
}

// Candidate is a proposed direct exit between two already-crystallized
// locations, discovered by search rather than generation. Candidates are
// transient: they either commit as a reciprocal exit pair or are discarded
// with a reason, and are never stored.
type Candidate struct {
	// From is the new location the search started at.
	From string `json:"from"`

	// To is the reached location the candidate would connect to.
	To string `json:"to"`

	// Direction is the proposed slot on From; the reciprocal occupies the
	// opposite slot on To.
	Direction world.Direction `json:"direction"`

	// Hops is the length of the existing path the search traversed.
	Hops int `json:"hops"`

	// CandidateDuration is the travel cost the new exit would carry.
	CandidateDuration int64 `json:"candidate_duration"`

	// OriginalDuration is the travel cost of the existing path from From
	// to To, back through the point where the new region attaches.
	OriginalDuration int64 `json:"original_duration"`

	State CandidateState `json:"state"`

	// Reason explains a discard. Empty for committed candidates.
	Reason string `json:"reason,omitempty"`

	dest world.Location
}

// Ratio is the candidate travel cost over the existing path's cost.
// Committed reconnections sit at or below the tolerance factor.
func (c *Candidate) Ratio() float64 {
	if c.OriginalDuration <= 0 {
		return 0
	}
	return float64(c.CandidateDuration) / float64(c.OriginalDuration)
}

func (c *Candidate) advance(next CandidateState) error {
	for _, allowed := range candidateSuccessor[c.State] {
		if next == allowed {
			c.State = next
			return nil
		}
	}
	return fmt.Errorf("candidate %s->%s cannot move %s -> %s", c.From, c.To, c.State, next)
}

// GuidanceLookup answers terrain guidance queries. *world.GuidanceStore
// satisfies it.
type GuidanceLookup interface {
	Lookup(t world.Terrain) world.Guidance
}

// Config tunes the searcher.
type Config struct {
	// MaxHops bounds the outward walk. Zero means the default.
	MaxHops int

	// ToleranceFactor is the largest acceptable candidate-over-original
	// duration ratio. Zero means the default.
	ToleranceFactor float64

	// JudgeParallelism bounds concurrent consistency judgements. Zero
	// means the default.
	JudgeParallelism int
}

func (c *Config) applyDefaults() {
	if c.MaxHops <= 0 {
		c.MaxHops = DefaultMaxHops
	}
	if c.ToleranceFactor <= 0 {
		c.ToleranceFactor = DefaultToleranceFactor
	}
	if c.JudgeParallelism <= 0 {
		c.JudgeParallelism = DefaultJudgeParallelism
	}
}

// Deps carries the searcher's collaborators. Store, Oracle, Guidance, and
// Locks are required. Locks must be the same registry the staging area
// commits under, so expansion and reconnection writes to one location
// serialize.
type Deps struct {
	Store    storage.GraphStore
	Oracle   oracle.NarrativeOracle
	Guidance GuidanceLookup
	Locks    *world.KeyedLocks

	Quarantine *world.Quarantine
	Hub        *events.Hub
	Influx     *metrics.InfluxSink
	Logger     *slog.Logger
}

// Searcher finds and commits reconnection candidates.
//
// # Thread Safety
//
// Safe for concurrent use. Commits take per-location locks; concurrent
// searches over overlapping regions serialize only at the commit step.
type Searcher struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

// NewSearcher builds a Searcher.
func NewSearcher(cfg Config, deps Deps) (*Searcher, error) {
	cfg.applyDefaults()
	switch {
	case deps.Store == nil:
		return nil, errors.New("reconnect: nil graph store")
	case deps.Oracle == nil:
		return nil, errors.New("reconnect: nil oracle")
	case deps.Guidance == nil:
		return nil, errors.New("reconnect: nil guidance lookup")
	case deps.Locks == nil:
		return nil, errors.New("reconnect: nil lock registry")
	}
	if deps.Quarantine == nil {
		deps.Quarantine = world.NewQuarantine()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Searcher{cfg: cfg, deps: deps, logger: deps.Logger}, nil
}

// Search runs the full reconnection pipeline for one new location.
//
// Description:
//
//	Walks the committed graph breadth-first from newLocationID up to
//	maxHops (zero means the configured default), proposing a candidate for
//	every crystallized location reached at two or more hops that has a
//	free slot pair. Candidates pass a duration gate (the new exit must not
//	cost more than ToleranceFactor times the existing path), then a
//	consistency judgement by the oracle, then commit as reciprocal pairs
//	under per-location locks. Discards are terminal and logged for curator
//	review; they are never retried within the same search.
//
// Outputs:
//
//	[]Candidate - Every candidate proposed, in deterministic search order,
//	              each in a terminal state unless an error cut the run short.
//	error - Store or oracle infrastructure failures, integrity violations,
//	        cancellation. Gate discards are not errors.
func (s *Searcher) Search(ctx context.Context, newLocationID string, maxHops int) ([]Candidate, error) {
	if maxHops <= 0 {
		maxHops = s.cfg.MaxHops
	}
	ctx, span := otel.Tracer("reconnect").Start(ctx, "reconnect.Search",
		trace.WithAttributes(
			attribute.String("location.id", newLocationID),
			attribute.Int("max_hops", maxHops),
		))
	defer span.End()

	started := time.Now()

	origin, err := s.deps.Store.GetLocation(ctx, newLocationID)
	if err != nil {
		return nil, fmt.Errorf("reconnect %s: %w", newLocationID, err)
	}
	if !origin.Crystallized() {
		return nil, fmt.Errorf("reconnect %s: location is %s; only crystallized locations reconnect",
			newLocationID, origin.State)
	}

	candidates, err := s.propose(ctx, origin, maxHops)
	if err != nil {
		return nil, fmt.Errorf("reconnect %s: %w", newLocationID, err)
	}
	if len(candidates) == 0 {
		s.logger.Debug("No reconnection candidates", "location", newLocationID, "maxHops", maxHops)
		return nil, nil
	}

	s.checkDurations(candidates)

	if err := s.judgeConsistency(ctx, origin, candidates); err != nil {
		return candidates, fmt.Errorf("reconnect %s: %w", newLocationID, err)
	}

	committed := 0
	for i := range candidates {
		c := &candidates[i]
		if c.State != StateConsistencyChecked {
			continue
		}
		if err := s.commit(ctx, c, started); err != nil {
			return candidates, fmt.Errorf("reconnect %s: %w", newLocationID, err)
		}
		if c.State == StateCommitted {
			committed++
		}
	}

	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("committed", committed),
	)
	s.logger.Info("Reconnection search finished",
		"location", newLocationID,
		"candidates", len(candidates),
		"committed", committed,
		"elapsed", time.Since(started))
	return candidates, nil
}

// pathNode is one BFS frontier entry.
type pathNode struct {
	id       string
	hops     int
	duration int64
}

// propose walks outward and builds proposed candidates. Exits come back
// from the store in canonical direction order, so the walk and therefore
// the candidate list are deterministic for a given graph.
func (s *Searcher) propose(ctx context.Context, origin world.Location, maxHops int) ([]Candidate, error) {
	originExits, err := s.deps.Store.ExitsFrom(ctx, origin.ID)
	if err != nil {
		return nil, fmt.Errorf("exits of %s: %w", origin.ID, err)
	}
	// Slots claimed on the origin side, by existing exits or by earlier
	// candidates in this search.
	claimed := make(map[world.Direction]bool, len(originExits))
	for _, e := range originExits {
		claimed[e.Direction] = true
	}
	originGuide := s.deps.Guidance.Lookup(origin.Terrain)

	visited := map[string]bool{origin.ID: true}
	queue := []pathNode{{id: origin.ID}}
	var candidates []Candidate

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := queue[0]
		queue = queue[1:]
		if node.hops >= maxHops {
			continue
		}
		exits, err := s.deps.Store.ExitsFrom(ctx, node.id)
		if err != nil {
			return nil, fmt.Errorf("exits of %s: %w", node.id, err)
		}
		for _, e := range exits {
			if visited[e.Destination] {
				continue
			}
			visited[e.Destination] = true
			next := pathNode{id: e.Destination, hops: node.hops + 1, duration: node.duration + e.Duration}
			queue = append(queue, next)
			if next.hops < 2 {
				// One hop away means already adjacent.
				continue
			}
			dest, err := s.deps.Store.GetLocation(ctx, e.Destination)
			if err != nil {
				return nil, fmt.Errorf("location %s referenced by exit %s: %w", e.Destination, e.SlotKey(), err)
			}
			if !dest.Crystallized() {
				continue
			}

			dir, ok, err := s.pickSlot(ctx, claimed, dest.ID)
			if err != nil {
				return nil, err
			}
			if !ok {
				s.logger.Debug("No free slot pair for candidate",
					"from", origin.ID, "to", dest.ID, "hops", next.hops)
				continue
			}
			claimed[dir] = true

			cost := originGuide.TravelCost
			if destCost := s.deps.Guidance.Lookup(dest.Terrain).TravelCost; destCost > cost {
				cost = destCost
			}
			candidates = append(candidates, Candidate{
				From:              origin.ID,
				To:                dest.ID,
				Direction:         dir,
				Hops:              next.hops,
				CandidateDuration: cost,
				OriginalDuration:  next.duration,
				State:             StateProposed,
				dest:              dest,
			})
		}
	}
	return candidates, nil
}

// pickSlot finds the first canonical direction free on the origin side
// whose opposite is free on the destination side.
func (s *Searcher) pickSlot(ctx context.Context, claimed map[world.Direction]bool, destID string) (world.Direction, bool, error) {
	destExits, err := s.deps.Store.ExitsFrom(ctx, destID)
	if err != nil {
		return "", false, fmt.Errorf("exits of %s: %w", destID, err)
	}
	destOccupied := make(map[world.Direction]bool, len(destExits))
	for _, e := range destExits {
		destOccupied[e.Direction] = true
	}
	for _, d := range world.Directions {
		if claimed[d] || destOccupied[d.Opposite()] {
			continue
		}
		return d, true, nil
	}
	return "", false, nil
}

// checkDurations applies the duration gate to every proposed candidate.
func (s *Searcher) checkDurations(candidates []Candidate) {
	for i := range candidates {
		c := &candidates[i]
		limit := float64(c.OriginalDuration) * s.cfg.ToleranceFactor
		if float64(c.CandidateDuration) <= limit {
			if err := c.advance(StateDurationChecked); err != nil {
				s.logger.Error("Candidate state error", "error", err)
			}
			continue
		}
		s.discard(c, fmt.Sprintf("candidate duration %d exceeds %.1fx the existing path's %d",
			c.CandidateDuration, s.cfg.ToleranceFactor, c.OriginalDuration))
	}
}

// judgeConsistency asks the oracle about every duration-checked candidate.
// Judgements run in parallel up to the configured bound; an oracle
// infrastructure failure fails the search rather than being recorded as a
// discard, so callers can tell "this pairing is bad" from "I could not
// check this pairing".
func (s *Searcher) judgeConsistency(ctx context.Context, origin world.Location, candidates []Candidate) error {
	verdicts := make([]oracle.ConsistencyResult, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.JudgeParallelism)
	for i := range candidates {
		if candidates[i].State != StateDurationChecked {
			continue
		}
		i := i
		c := &candidates[i]
		g.Go(func() error {
			q := oracle.ConsistencyQuery{
				From:      origin,
				To:        c.dest,
				Direction: c.Direction,
				Duration:  c.CandidateDuration,
			}
			started := time.Now()
			res, err := s.deps.Oracle.JudgeConsistency(gctx, q)
			elapsed := time.Since(started).Seconds()
			switch {
			case err == nil:
				metrics.RecordOracleCall("judge", "success", elapsed)
			case errors.Is(err, world.ErrOracleTimeout):
				metrics.RecordOracleCall("judge", "timeout", elapsed)
			default:
				metrics.RecordOracleCall("judge", "error", elapsed)
			}
			if err != nil {
				return fmt.Errorf("judge %s -> %s: %w", c.From, c.To, err)
			}
			verdicts[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range candidates {
		c := &candidates[i]
		if c.State != StateDurationChecked {
			continue
		}
		v := verdicts[i]
		if v.Verdict == oracle.VerdictConsistent {
			if err := c.advance(StateConsistencyChecked); err != nil {
				s.logger.Error("Candidate state error", "error", err)
			}
			continue
		}
		// Ambiguous counts as a rejection: an exit the narrative cannot
		// clearly support does not get committed.
		s.discard(c, fmt.Sprintf("%v: %s judged %s: %s",
			world.ErrConsistencyRejected, c.To, v.Verdict, v.Reason))
	}
	return nil
}

// commit writes one candidate as a reciprocal exit pair under per-location
// locks, re-checking the slot pair against writes that landed since the
// search began.
func (s *Searcher) commit(ctx context.Context, c *Candidate, started time.Time) error {
	unlock := s.deps.Locks.LockMany(c.From, c.To)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.deps.Quarantine.Check(c.From); err != nil {
		s.discard(c, err.Error())
		return nil
	}
	if err := s.deps.Quarantine.Check(c.To); err != nil {
		s.discard(c, err.Error())
		return nil
	}

	taken, err := s.slotTaken(ctx, c)
	if err != nil {
		return err
	}
	if taken {
		s.discard(c, fmt.Sprintf("slot %s was taken while the search ran", c.Direction))
		return nil
	}

	out := world.Exit{
		Origin:      c.From,
		Destination: c.To,
		Direction:   c.Direction,
		Duration:    c.CandidateDuration,
	}
	// The pair write is insulated from caller cancellation: a disconnect
	// landing between the two upserts must not leave a half-committed pair
	// blamed on the store and the origin quarantined.
	writeCtx := context.WithoutCancel(ctx)
	if err := s.deps.Store.UpsertExit(writeCtx, out); err != nil {
		return fmt.Errorf("write exit %s: %w", out.SlotKey(), err)
	}
	if err := s.deps.Store.UpsertExit(writeCtx, out.Reciprocal()); err != nil {
		if world.Retryable(err) {
			// The forward upsert is idempotent; a retried search heals
			// this pair instead of duplicating it.
			return fmt.Errorf("write reciprocal of %s: %w", out.SlotKey(), err)
		}
		reason := fmt.Sprintf("reconnection exit %s committed without reciprocal: %v", out.SlotKey(), err)
		s.deps.Quarantine.Flag(c.From, reason)
		metrics.RecordIntegrityViolation()
		s.publish(events.Event{
			Type:    events.TypeLocationQuarantined,
			RootID:  c.From,
			Payload: map[string]any{"reason": reason},
		})
		return fmt.Errorf("write reciprocal of %s: %w", out.SlotKey(), &world.IntegrityError{
			LocationID: c.From,
			Direction:  c.Direction,
			Reason:     reason,
		})
	}

	if err := c.advance(StateCommitted); err != nil {
		return err
	}
	metrics.RecordReconnection(metrics.OutcomeCommitted, c.Hops, c.Ratio())
	s.deps.Influx.RecordReconnection(ctx, metrics.OutcomeCommitted, c.Hops, c.Ratio(), time.Since(started))
	s.publish(events.Event{
		Type:   events.TypeReconnectCommitted,
		RootID: c.From,
		Payload: map[string]any{
			"to":        c.To,
			"direction": string(c.Direction),
			"hops":      c.Hops,
			"ratio":     c.Ratio(),
		},
	})
	s.logger.Info("Reconnection committed",
		"from", c.From, "to", c.To, "direction", c.Direction,
		"hops", c.Hops, "ratio", c.Ratio())
	return nil
}

// discard retires a candidate with a reason. Discards are logged at warning
// level so curators reviewing the world can audit them.
func (s *Searcher) discard(c *Candidate, reason string) {
	if err := c.advance(StateDiscarded); err != nil {
		s.logger.Error("Candidate state error", "error", err)
		return
	}
	c.Reason = reason
	metrics.RecordReconnection(metrics.OutcomeDiscarded, 0, 0)
	s.publish(events.Event{
		Type:   events.TypeReconnectDiscarded,
		RootID: c.From,
		Payload: map[string]any{
			"to":     c.To,
			"hops":   c.Hops,
			"reason": reason,
		},
	})
	s.logger.Warn("Reconnection candidate discarded",
		"from", c.From, "to", c.To, "hops", c.Hops, "reason", reason)
}

// slotTaken reports whether either side of the candidate's slot pair is now
// occupied.
func (s *Searcher) slotTaken(ctx context.Context, c *Candidate) (bool, error) {
	fromExits, err := s.deps.Store.ExitsFrom(ctx, c.From)
	if err != nil {
		return false, fmt.Errorf("exits of %s: %w", c.From, err)
	}
	for _, e := range fromExits {
		if e.Direction == c.Direction {
			return true, nil
		}
	}
	toExits, err := s.deps.Store.ExitsFrom(ctx, c.To)
	if err != nil {
		return false, fmt.Errorf("exits of %s: %w", c.To, err)
	}
	for _, e := range toExits {
		if e.Direction == c.Direction.Opposite() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Searcher) publish(evt events.Event) {
	if s.deps.Hub != nil {
		s.deps.Hub.Publish(evt)
	}
}

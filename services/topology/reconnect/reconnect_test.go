// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reconnect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/worldloom/services/topology/events"
	"github.com/AleutianAI/worldloom/services/topology/oracle"
	"github.com/AleutianAI/worldloom/services/topology/storage"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// graph seeds an in-memory store with crystallized locations and exit pairs.
type graph struct {
	t     *testing.T
	store *storage.MemoryStore
}

func newGraph(t *testing.T) *graph {
	t.Helper()
	return &graph{t: t, store: storage.NewMemoryStore()}
}

func (g *graph) loc(id string, terrain world.Terrain) {
	g.t.Helper()
	err := g.store.UpsertLocation(context.Background(), world.Location{
		ID:      id,
		Base:    fmt.Sprintf("The place called %s.", id),
		Terrain: terrain,
		State:   world.StateCrystallized,
	})
	if err != nil {
		g.t.Fatalf("UpsertLocation(%s) error = %v", id, err)
	}
}

func (g *graph) pair(origin string, dir world.Direction, dest string, duration int64) {
	g.t.Helper()
	out := world.Exit{Origin: origin, Destination: dest, Direction: dir, Duration: duration}
	if err := g.store.UpsertExit(context.Background(), out); err != nil {
		g.t.Fatalf("UpsertExit(%s) error = %v", out.SlotKey(), err)
	}
	if err := g.store.UpsertExit(context.Background(), out.Reciprocal()); err != nil {
		g.t.Fatalf("UpsertExit(reciprocal of %s) error = %v", out.SlotKey(), err)
	}
}

// chain lays out n-p-a-b-x northward with the given per-exit duration.
func (g *graph) chain(terrain world.Terrain, duration int64, ids ...string) {
	g.t.Helper()
	for _, id := range ids {
		g.loc(id, terrain)
	}
	for i := 0; i+1 < len(ids); i++ {
		g.pair(ids[i], world.North, ids[i+1], duration)
	}
}

type testRig struct {
	graph      *graph
	oracle     *oracle.MockOracle
	hub        *events.Hub
	quarantine *world.Quarantine
	searcher   *Searcher
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	logger := discardLogger()
	g := newGraph(t)
	mock := oracle.NewMockOracle()
	hub := events.NewHub(logger)
	quarantine := world.NewQuarantine()

	searcher, err := NewSearcher(cfg, Deps{
		Store:      g.store,
		Oracle:     mock,
		Guidance:   world.NewGuidanceStore(logger),
		Locks:      world.NewKeyedLocks(),
		Quarantine: quarantine,
		Hub:        hub,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewSearcher() error = %v", err)
	}
	return &testRig{graph: g, oracle: mock, hub: hub, quarantine: quarantine, searcher: searcher}
}

func TestSearchCommitsNearbyCandidates(t *testing.T) {
	r := newTestRig(t, Config{})
	r.graph.chain(world.TerrainOpenPlain, 2, "n", "p", "a", "b", "x")
	ctx := context.Background()

	sub, cancel := r.hub.Subscribe(16)
	defer cancel()

	candidates, err := r.searcher.Search(ctx, "n", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("got %d candidates %+v, want 3 (a, b, x)", len(candidates), candidates)
	}

	want := []struct {
		to       string
		dir      world.Direction
		hops     int
		original int64
	}{
		{"a", world.Northeast, 2, 4},
		{"b", world.East, 3, 6},
		{"x", world.Southeast, 4, 8},
	}
	for i, w := range want {
		c := candidates[i]
		if c.State != StateCommitted {
			t.Errorf("candidate[%d] state = %s (%s), want committed", i, c.State, c.Reason)
		}
		if c.To != w.to || c.Direction != w.dir || c.Hops != w.hops || c.OriginalDuration != w.original {
			t.Errorf("candidate[%d] = {to %s dir %s hops %d original %d}, want {%s %s %d %d}",
				i, c.To, c.Direction, c.Hops, c.OriginalDuration, w.to, w.dir, w.hops, w.original)
		}
		if c.CandidateDuration != 2 {
			t.Errorf("candidate[%d] duration = %d, want the open-plain travel cost 2", i, c.CandidateDuration)
		}
	}
	if got := candidates[2].Ratio(); got != 0.25 {
		t.Errorf("candidate[x] ratio = %v, want 0.25", got)
	}

	exits, err := r.graph.store.ExitsFrom(ctx, "n")
	if err != nil {
		t.Fatalf("ExitsFrom(n) error = %v", err)
	}
	if len(exits) != 4 {
		t.Fatalf("n has %d exits, want 4 (original chain plus three shortcuts)", len(exits))
	}
	for _, c := range candidates {
		back, err := r.graph.store.ExitsFrom(ctx, c.To)
		if err != nil {
			t.Fatalf("ExitsFrom(%s) error = %v", c.To, err)
		}
		var reciprocal bool
		for _, e := range back {
			if e.Destination == "n" && e.Direction == c.Direction.Opposite() {
				reciprocal = true
			}
		}
		if !reciprocal {
			t.Errorf("shortcut to %s has no reciprocal", c.To)
		}
	}

	committedEvents := 0
	deadline := time.After(2 * time.Second)
	for committedEvents < 3 {
		select {
		case evt := <-sub:
			if evt.Type == events.TypeReconnectCommitted {
				committedEvents++
			}
		case <-deadline:
			t.Fatalf("saw %d commit events, want 3", committedEvents)
		}
	}
}

func TestSearchRespectsHopLimit(t *testing.T) {
	r := newTestRig(t, Config{MaxHops: 4})
	// y sits at hop five, one past the limit.
	r.graph.chain(world.TerrainOpenPlain, 2, "n", "p", "a", "b", "x", "y")

	candidates, err := r.searcher.Search(context.Background(), "n", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, c := range candidates {
		if c.To == "y" {
			t.Fatalf("candidate proposed at hop 5 with maxHops 4: %+v", c)
		}
	}
	var sawX bool
	for _, c := range candidates {
		if c.To == "x" {
			sawX = true
		}
	}
	if !sawX {
		t.Error("location at exactly maxHops was not proposed")
	}

	exits, err := r.graph.store.ExitsFrom(context.Background(), "y")
	if err != nil {
		t.Fatalf("ExitsFrom(y) error = %v", err)
	}
	if len(exits) != 1 {
		t.Errorf("y has %d exits, want only the chain exit", len(exits))
	}
}

func TestSearchDurationGateDiscards(t *testing.T) {
	r := newTestRig(t, Config{})
	// A mountain origin makes the candidate exit cost 5, while the cheap
	// existing path costs 2. 5 > 2 * 2.0, so the shortcut is worse than
	// just walking.
	r.graph.loc("n", world.TerrainMountain)
	r.graph.loc("p", world.TerrainOpenPlain)
	r.graph.loc("a", world.TerrainOpenPlain)
	r.graph.pair("n", world.North, "p", 1)
	r.graph.pair("p", world.North, "a", 1)

	candidates, err := r.searcher.Search(context.Background(), "n", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	c := candidates[0]
	if c.State != StateDiscarded {
		t.Fatalf("candidate state = %s, want discarded", c.State)
	}
	if !strings.Contains(c.Reason, "exceeds") {
		t.Errorf("discard reason = %q, want a duration complaint", c.Reason)
	}
	if n := r.oracle.JudgeCalls(); n != 0 {
		t.Errorf("oracle judged %d duration-failed candidates", n)
	}

	exits, err := r.graph.store.ExitsFrom(context.Background(), "n")
	if err != nil {
		t.Fatalf("ExitsFrom(n) error = %v", err)
	}
	if len(exits) != 1 {
		t.Errorf("n has %d exits, want only the original", len(exits))
	}
}

func TestSearchConsistencyGateDiscards(t *testing.T) {
	for _, verdict := range []oracle.Verdict{oracle.VerdictContradictory, oracle.VerdictAmbiguous} {
		t.Run(string(verdict), func(t *testing.T) {
			r := newTestRig(t, Config{})
			r.graph.chain(world.TerrainOpenPlain, 2, "n", "p", "a")
			r.oracle.Verdict = verdict

			candidates, err := r.searcher.Search(context.Background(), "n", 0)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if len(candidates) != 1 {
				t.Fatalf("got %d candidates, want 1", len(candidates))
			}
			c := candidates[0]
			if c.State != StateDiscarded {
				t.Fatalf("candidate state = %s, want discarded", c.State)
			}
			if !strings.Contains(c.Reason, string(verdict)) {
				t.Errorf("discard reason = %q, want the %s verdict named", c.Reason, verdict)
			}

			exits, err := r.graph.store.ExitsFrom(context.Background(), "n")
			if err != nil {
				t.Fatalf("ExitsFrom(n) error = %v", err)
			}
			if len(exits) != 1 {
				t.Errorf("n has %d exits, want only the original", len(exits))
			}
		})
	}
}

func TestSearchJudgeFailureIsAnError(t *testing.T) {
	r := newTestRig(t, Config{})
	r.graph.chain(world.TerrainOpenPlain, 2, "n", "p", "a")
	r.oracle.JudgeFunc = func(q oracle.ConsistencyQuery) (oracle.ConsistencyResult, error) {
		return oracle.ConsistencyResult{}, world.ErrOracleTimeout
	}

	_, err := r.searcher.Search(context.Background(), "n", 0)
	if !errors.Is(err, world.ErrOracleTimeout) {
		t.Fatalf("Search() error = %v, want ErrOracleTimeout", err)
	}
	if !world.Retryable(err) {
		t.Errorf("Retryable(%v) = false, want true", err)
	}

	exits, err := r.graph.store.ExitsFrom(context.Background(), "n")
	if err != nil {
		t.Fatalf("ExitsFrom(n) error = %v", err)
	}
	if len(exits) != 1 {
		t.Errorf("a failed search committed %d exits", len(exits)-1)
	}
}

func TestSearchSlotRaceDiscards(t *testing.T) {
	r := newTestRig(t, Config{})
	r.graph.chain(world.TerrainOpenPlain, 2, "n", "p", "a")
	r.graph.loc("interloper", world.TerrainOpenPlain)

	// Occupy the candidate's chosen slot while the judgement is in flight,
	// as a concurrent expansion would.
	r.oracle.JudgeFunc = func(q oracle.ConsistencyQuery) (oracle.ConsistencyResult, error) {
		err := r.graph.store.UpsertExit(context.Background(), world.Exit{
			Origin:      q.From.ID,
			Destination: "interloper",
			Direction:   q.Direction,
			Duration:    2,
		})
		if err != nil {
			return oracle.ConsistencyResult{}, err
		}
		return oracle.ConsistencyResult{Verdict: oracle.VerdictConsistent}, nil
	}

	candidates, err := r.searcher.Search(context.Background(), "n", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	c := candidates[0]
	if c.State != StateDiscarded {
		t.Fatalf("candidate state = %s, want discarded after losing the slot", c.State)
	}
	if !strings.Contains(c.Reason, "taken") {
		t.Errorf("discard reason = %q, want a slot-taken notice", c.Reason)
	}

	// The destination side stayed untouched.
	back, err := r.graph.store.ExitsFrom(context.Background(), "a")
	if err != nil {
		t.Fatalf("ExitsFrom(a) error = %v", err)
	}
	for _, e := range back {
		if e.Destination == "n" && e.Direction != world.South {
			t.Errorf("unexpected exit %s after discarded candidate", e.SlotKey())
		}
	}
}

// cancelAfterExitStore cancels the caller's context once a forward exit
// lands, the way a client disconnect can land between a pair's writes.
type cancelAfterExitStore struct {
	*storage.MemoryStore
	cancel context.CancelFunc
	once   sync.Once
}

func (s *cancelAfterExitStore) UpsertExit(ctx context.Context, exit world.Exit) error {
	if err := s.MemoryStore.UpsertExit(ctx, exit); err != nil {
		return err
	}
	s.once.Do(s.cancel)
	return nil
}

func TestCommitSurvivesMidWriteCancellation(t *testing.T) {
	logger := discardLogger()
	g := newGraph(t)
	g.chain(world.TerrainOpenPlain, 8, "n", "p", "a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quarantine := world.NewQuarantine()
	searcher, err := NewSearcher(Config{}, Deps{
		Store:      &cancelAfterExitStore{MemoryStore: g.store, cancel: cancel},
		Oracle:     oracle.NewMockOracle(),
		Guidance:   world.NewGuidanceStore(logger),
		Locks:      world.NewKeyedLocks(),
		Quarantine: quarantine,
		Hub:        events.NewHub(logger),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewSearcher() error = %v", err)
	}

	// The shortcut's forward write triggers the cancellation; the reciprocal
	// must still land instead of quarantining n over a routine disconnect.
	candidates, err := searcher.Search(ctx, "n", 0)
	if err != nil {
		t.Fatalf("Search() error = %v, want the pair completed", err)
	}
	if len(candidates) != 1 || candidates[0].State != StateCommitted {
		t.Fatalf("candidates = %+v, want one committed shortcut", candidates)
	}
	if err := quarantine.Check("n"); err != nil {
		t.Errorf("origin quarantined after a routine disconnect: %v", err)
	}

	back, err := g.store.ExitsFrom(context.Background(), "a")
	if err != nil {
		t.Fatalf("ExitsFrom(a) error = %v", err)
	}
	var reciprocal bool
	for _, e := range back {
		if e.Destination == "n" && e.Direction == candidates[0].Direction.Opposite() {
			reciprocal = true
		}
	}
	if !reciprocal {
		t.Errorf("shortcut to a has no reciprocal after mid-write cancellation")
	}
}

func TestSearchSkipsQuarantinedEndpoint(t *testing.T) {
	r := newTestRig(t, Config{})
	r.graph.chain(world.TerrainOpenPlain, 2, "n", "p", "a")
	r.quarantine.Flag("a", "manual hold")

	candidates, err := r.searcher.Search(context.Background(), "n", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	c := candidates[0]
	if c.State != StateDiscarded {
		t.Fatalf("candidate state = %s, want discarded", c.State)
	}
	if !strings.Contains(c.Reason, "quarantined") {
		t.Errorf("discard reason = %q, want the quarantine named", c.Reason)
	}
}

func TestSearchAlreadyAdjacentNotProposed(t *testing.T) {
	r := newTestRig(t, Config{})
	// Triangle: n is directly connected to both p and x; x is also
	// reachable through p. Nothing is worth reconnecting.
	r.graph.loc("n", world.TerrainOpenPlain)
	r.graph.loc("p", world.TerrainOpenPlain)
	r.graph.loc("x", world.TerrainOpenPlain)
	r.graph.pair("n", world.North, "x", 2)
	r.graph.pair("n", world.East, "p", 2)
	r.graph.pair("p", world.Northeast, "x", 2)

	candidates, err := r.searcher.Search(context.Background(), "n", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("got candidates %+v for a fully adjacent region, want none", candidates)
	}
}

func TestSearchOriginChecks(t *testing.T) {
	r := newTestRig(t, Config{})

	if _, err := r.searcher.Search(context.Background(), "ghost", 0); !errors.Is(err, world.ErrNotFound) {
		t.Errorf("Search(ghost) error = %v, want ErrNotFound", err)
	}

	pending := world.Location{
		ID:      "soft",
		Base:    "Not yet real.",
		Terrain: world.TerrainForest,
		State:   world.StatePending,
	}
	if err := r.graph.store.UpsertLocation(context.Background(), pending); err != nil {
		t.Fatalf("UpsertLocation() error = %v", err)
	}
	if _, err := r.searcher.Search(context.Background(), "soft", 0); err == nil ||
		!strings.Contains(err.Error(), "only crystallized") {
		t.Errorf("Search(soft) error = %v, want a crystallization refusal", err)
	}
}

func TestCandidateStateTransitions(t *testing.T) {
	cases := []struct {
		from, to CandidateState
		ok       bool
	}{
		{StateProposed, StateDurationChecked, true},
		{StateProposed, StateDiscarded, true},
		{StateProposed, StateConsistencyChecked, false},
		{StateProposed, StateCommitted, false},
		{StateDurationChecked, StateConsistencyChecked, true},
		{StateDurationChecked, StateCommitted, false},
		{StateConsistencyChecked, StateCommitted, true},
		{StateConsistencyChecked, StateDiscarded, true},
		{StateCommitted, StateDiscarded, false},
		{StateDiscarded, StateCommitted, false},
	}
	for _, tc := range cases {
		c := Candidate{From: "n", To: "x", State: tc.from}
		err := c.advance(tc.to)
		if tc.ok && err != nil {
			t.Errorf("advance(%s -> %s) error = %v, want nil", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("advance(%s -> %s) succeeded, want refusal", tc.from, tc.to)
		}
	}
}

func TestWorkerRunsScheduledSearch(t *testing.T) {
	r := newTestRig(t, Config{})
	r.graph.chain(world.TerrainOpenPlain, 2, "n", "p", "a")

	worker := NewWorker(r.searcher, 4, 1, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)
	defer worker.Stop()

	worker.Schedule("n")

	deadline := time.Now().Add(2 * time.Second)
	for {
		exits, err := r.graph.store.ExitsFrom(context.Background(), "n")
		if err != nil {
			t.Fatalf("ExitsFrom(n) error = %v", err)
		}
		if len(exits) == 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("scheduled search never committed; n has %d exits", len(exits))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorkerDropsWhenQueueFull(t *testing.T) {
	r := newTestRig(t, Config{})
	worker := NewWorker(r.searcher, 1, 1, discardLogger())
	// Not started: the first schedule fills the buffer, the second drops.
	worker.Schedule("one")
	worker.Schedule("two")
	if got := worker.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
}

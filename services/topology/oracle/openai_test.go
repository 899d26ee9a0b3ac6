// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package oracle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"text/template"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseBatchResponse(t *testing.T) {
	slots := []SlotRequest{
		{Direction: world.North},
		{Direction: world.East},
	}

	raw := "```json\n" + `{"stubs":[
		{"slot":"North","terrain":"forest","description":"You push through bracken."},
		{"slot":"east","terrain":"coast","description":"Salt wind hits you.","hook":"a rotting pier"},
		{"slot":"west","terrain":"swamp","description":"Not requested."},
		{"slot":"north","terrain":"forest","description":"Duplicate slot."},
		{"slot":"east","terrain":"coast","description":""}
	]}` + "\n```"

	resp, dropped, err := parseBatchResponse(raw, slots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %d", len(resp.Drafts))
	}
	if dropped != 3 {
		t.Errorf("expected 3 dropped drafts, got %d", dropped)
	}
	if resp.Drafts[0].Slot != world.North {
		t.Errorf("expected normalized north slot, got %q", resp.Drafts[0].Slot)
	}
	if resp.Drafts[1].Hook != "a rotting pier" {
		t.Errorf("hook lost in parsing: %q", resp.Drafts[1].Hook)
	}
}

func TestParseBatchResponseAllDropped(t *testing.T) {
	slots := []SlotRequest{{Direction: world.North}}
	_, _, err := parseBatchResponse(`{"stubs":[{"slot":"sideways","description":"nope"}]}`, slots)
	if err == nil {
		t.Fatal("expected error when no usable drafts remain")
	}
}

func TestParseBatchResponseNotJSON(t *testing.T) {
	_, _, err := parseBatchResponse("I cannot help with that.", []SlotRequest{{Direction: world.North}})
	if err == nil {
		t.Fatal("expected error for non-JSON response")
	}
}

func TestParseConsistencyResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Verdict
		wantErr bool
	}{
		{"consistent", `{"verdict":"consistent","reason":"both coastal"}`, VerdictConsistent, false},
		{"contradictory", `{"verdict":"contradictory","reason":"desert beside glacier"}`, VerdictContradictory, false},
		{"ambiguous", `{"verdict":"ambiguous"}`, VerdictAmbiguous, false},
		{"mixed case", `{"verdict":"Consistent"}`, VerdictConsistent, false},
		{"unknown token maps to ambiguous", `{"verdict":"probably fine"}`, VerdictAmbiguous, false},
		{"garbage", "no json here", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseConsistencyResponse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Verdict != tt.want {
				t.Errorf("verdict = %q, want %q", got.Verdict, tt.want)
			}
		})
	}
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"server error", &openai.APIError{HTTPStatusCode: http.StatusBadGateway}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false},
		{"unauthorized", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, false},
		{"network failure", &openai.RequestError{Err: errors.New("connection refused")}, true},
		{"unknown error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyAPIError(tt.err)
			if errors.Is(got, world.ErrTransient) != tt.wantTransient {
				t.Errorf("transient = %v, want %v (err: %v)", !tt.wantTransient, tt.wantTransient, got)
			}
		})
	}
}

func TestClassifyErrMapsDeadline(t *testing.T) {
	o := &OpenAIOracle{config: DefaultConfig()}

	got := o.classifyErr(context.Background(), context.DeadlineExceeded)
	if !errors.Is(got, world.ErrOracleTimeout) {
		t.Errorf("deadline should map to oracle timeout, got %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got = o.classifyErr(ctx, context.Canceled)
	if !errors.Is(got, context.Canceled) {
		t.Errorf("caller cancellation should propagate, got %v", got)
	}
	if errors.Is(got, world.ErrOracleTimeout) {
		t.Error("caller cancellation must not look like an oracle timeout")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero deadline", func(c *Config) { c.Deadline = 0 }, true},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, true},
		{"retries without backoff", func(c *Config) { c.RetryBackoff = 0 }, true},
		{"no retries no backoff", func(c *Config) { c.MaxRetries = 0; c.RetryBackoff = 0 }, false},
		{"negative concurrency", func(c *Config) { c.MaxConcurrent = -1 }, true},
		{"negative rate", func(c *Config) { c.RequestsPerSecond = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildGenerationPrompt(t *testing.T) {
	o := &OpenAIOracle{
		config:  DefaultConfig(),
		genTmpl: template.Must(template.New("generate").Parse(generationPromptTemplate)),
	}

	req := BatchRequest{
		RootID:          "root-1",
		RootDescription: "A wind-scoured plain under a pewter sky.",
		RootTerrain:     world.TerrainOpenPlain,
		Slots: []SlotRequest{
			{Direction: world.North, Hook: "a worn trail climbs north"},
			{Direction: world.East},
		},
		Lore: []string{"The plains belong to the Hollow Clans."},
	}

	prompt, err := o.buildGenerationPrompt(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"A wind-scoured plain",
		"- north (the anchor's text hints: a worn trail climbs north)",
		"- east",
		"Hollow Clans",
		string(world.TerrainRiverland),
		`{"stubs":`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q\nprompt:\n%s", want, prompt)
		}
	}
}

func TestWithRetryStopsOnTerminal(t *testing.T) {
	o := &OpenAIOracle{config: DefaultConfig(), logger: discardLogger()}
	calls := 0
	terminal := errors.New("bad request")

	err := o.withRetry(context.Background(), "test", func() error {
		calls++
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("terminal errors must not be retried, got %d calls", calls)
	}
}

func TestWithRetryRecoversFromTransient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	o := &OpenAIOracle{config: cfg, logger: discardLogger()}

	calls := 0
	err := o.withRetry(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return world.ErrTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Hour
	o := &OpenAIOracle{config: cfg, logger: discardLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- o.withRetry(ctx, "test", func() error {
			return world.ErrTransient
		})
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}

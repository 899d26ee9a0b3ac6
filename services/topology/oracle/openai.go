// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/awnumar/memguard"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

const generationSystemRole = "You are the topology engine for a persistent interactive fiction world. " +
	"You draft new locations that fit seamlessly next to existing ones."

// generationPromptTemplate asks for one stub per requested slot. The JSON
// shape is spelled out because smaller models drift without it.
const generationPromptTemplate = `The anchor location you are expanding around:
Terrain: {{.Req.RootTerrain}}
Description: {{.Req.RootDescription}}
{{if .Req.Lore}}
Established lore, stay consistent with it:
{{range .Req.Lore}}- {{.}}
{{end}}{{end}}
Draft exactly one new adjacent location for each of these compass slots:
{{range .Req.Slots}}- {{.Direction}}{{if .Hook}} (the anchor's text hints: {{.Hook}}){{end}}
{{end}}
Each draft needs:
- "slot": the compass slot it fills
- "terrain": one of: {{.TerrainList}}
- "description": 2-4 sentences, second person, present tense
- "hook": optional, a short feature a traveler could follow onward

Respond with ONLY valid JSON (no markdown, no preamble):
{"stubs":[{"slot":"north","terrain":"forest","description":"...","hook":"..."}]}`

const consistencySystemRole = "You audit a persistent world graph for narrative contradictions. " +
	"You judge strictly and briefly."

const consistencyPromptTemplate = `Two locations already exist in the world.

Location A, terrain {{.From.Terrain}}:
{{.FromText}}

Location B, terrain {{.To.Terrain}}:
{{.ToText}}

Proposed link: leaving A heading {{.Direction}} arrives directly at B after {{.Duration}} time units of travel.

Judge whether that link contradicts anything in either description (climate,
elevation, enclosure, scale, established geography). "consistent" only when
nothing conflicts; "contradictory" when something plainly does; "ambiguous"
when you cannot tell.

Respond with ONLY valid JSON (no markdown, no preamble):
{"verdict":"consistent|contradictory|ambiguous","reason":"brief"}`

// judgeTemperature keeps consistency verdicts near-deterministic.
const judgeTemperature float32 = 0.1

// Config tunes the OpenAI-backed oracle.
type Config struct {
	// Model names the chat model. Empty falls back to OPENAI_MODEL, then
	// to gpt-4o-mini.
	Model string

	// Deadline bounds one whole batch or judgement, retries included.
	// A miss fails the call with world.ErrOracleTimeout.
	Deadline time.Duration

	// MaxRetries is the number of transient-failure retries that fit
	// inside the deadline.
	MaxRetries int

	// RetryBackoff is the base backoff, doubled each retry.
	RetryBackoff time.Duration

	// MaxConcurrent caps in-flight API calls. 0 disables the cap.
	MaxConcurrent int

	// RequestsPerSecond is the sustained API rate. 0 disables limiting.
	RequestsPerSecond float64

	// Burst is the rate limiter burst size.
	Burst int

	// Temperature for generation calls. Judgement calls always run cold.
	Temperature float32

	// MaxTokens bounds the completion length.
	MaxTokens int
}

// DefaultConfig returns production defaults. The 10 second deadline is
// deliberate: an expansion trigger would rather fail fast and be retried
// than hold a player's traversal hostage.
func DefaultConfig() Config {
	return Config{
		Deadline:          10 * time.Second,
		MaxRetries:        2,
		RetryBackoff:      200 * time.Millisecond,
		MaxConcurrent:     4,
		RequestsPerSecond: 2,
		Burst:             2,
		Temperature:       0.8,
		MaxTokens:         1200,
	}
}

// Validate rejects configurations that could never complete a call.
func (c Config) Validate() error {
	if c.Deadline <= 0 {
		return errors.New("deadline must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if c.MaxRetries > 0 && c.RetryBackoff <= 0 {
		return errors.New("retry backoff must be positive when retries are enabled")
	}
	if c.MaxConcurrent < 0 {
		return errors.New("max concurrent must not be negative")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("requests per second must not be negative")
	}
	if c.MaxTokens < 0 {
		return errors.New("max tokens must not be negative")
	}
	return nil
}

// OpenAIOracle is the production NarrativeOracle over the OpenAI chat API.
//
// Thread Safety: safe for concurrent use after construction.
type OpenAIOracle struct {
	client    *openai.Client
	key       *memguard.LockedBuffer
	config    Config
	limiter   *rate.Limiter
	semaphore chan struct{}
	logger    *slog.Logger
	genTmpl   *template.Template
	judgeTmpl *template.Template
}

// NewOpenAIOracle builds the client. The API key comes from OPENAI_API_KEY
// or the container secret mount and lives in a locked buffer until Close.
func NewOpenAIOracle(cfg Config, logger *slog.Logger) (*OpenAIOracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("OPENAI_MODEL")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
		logger.Warn("OPENAI_MODEL not set, defaulting", slog.String("model", cfg.Model))
	}

	genTmpl, err := template.New("generate").Parse(generationPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("compile generation template: %w", err)
	}
	judgeTmpl, err := template.New("judge").Parse(consistencyPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("compile consistency template: %w", err)
	}

	key, err := LoadAPIKey()
	if err != nil {
		return nil, err
	}

	o := &OpenAIOracle{
		client:    openai.NewClient(key.String()),
		key:       key,
		config:    cfg,
		logger:    logger,
		genTmpl:   genTmpl,
		judgeTmpl: judgeTmpl,
	}
	if cfg.MaxConcurrent > 0 {
		o.semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	logger.Info("narrative oracle initialized",
		slog.String("model", cfg.Model),
		slog.Duration("deadline", cfg.Deadline),
	)
	return o, nil
}

// Close destroys the key buffer. The oracle is unusable afterwards.
func (o *OpenAIOracle) Close() {
	if o.key != nil {
		o.key.Destroy()
	}
}

// GenerateBatch drafts stubs for every requested slot. The batch shares one
// deadline; a miss fails the whole batch with world.ErrOracleTimeout and the
// trigger may retry it.
func (o *OpenAIOracle) GenerateBatch(ctx context.Context, req BatchRequest) (BatchResponse, error) {
	if len(req.Slots) == 0 {
		return BatchResponse{}, nil
	}

	prompt, err := o.buildGenerationPrompt(req)
	if err != nil {
		return BatchResponse{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.config.Deadline)
	defer cancel()

	var resp BatchResponse
	err = o.withRetry(callCtx, "generate_batch", func() error {
		raw, err := o.complete(callCtx, generationSystemRole, prompt, o.config.Temperature)
		if err != nil {
			return err
		}
		parsed, dropped, err := parseBatchResponse(raw, req.Slots)
		if err != nil {
			// Garbled output is worth another attempt within the deadline.
			return fmt.Errorf("parse batch response: %v: %w", err, world.ErrTransient)
		}
		if dropped > 0 {
			o.logger.Warn("oracle drafted slots that were not requested",
				slog.String("root_id", req.RootID),
				slog.Int("dropped", dropped),
			)
		}
		resp = parsed
		return nil
	})
	if err != nil {
		return BatchResponse{}, o.classifyErr(ctx, err)
	}

	o.logger.Debug("batch generated",
		slog.String("root_id", req.RootID),
		slog.Int("requested", len(req.Slots)),
		slog.Int("drafted", len(resp.Drafts)),
	)
	return resp, nil
}

// JudgeConsistency asks whether the proposed adjacency contradicts either
// location's established text.
func (o *OpenAIOracle) JudgeConsistency(ctx context.Context, q ConsistencyQuery) (ConsistencyResult, error) {
	prompt, err := o.buildConsistencyPrompt(q)
	if err != nil {
		return ConsistencyResult{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.config.Deadline)
	defer cancel()

	var result ConsistencyResult
	err = o.withRetry(callCtx, "judge_consistency", func() error {
		raw, err := o.complete(callCtx, consistencySystemRole, prompt, judgeTemperature)
		if err != nil {
			return err
		}
		parsed, err := parseConsistencyResponse(raw)
		if err != nil {
			return fmt.Errorf("parse consistency response: %v: %w", err, world.ErrTransient)
		}
		result = parsed
		return nil
	})
	if err != nil {
		return ConsistencyResult{}, o.classifyErr(ctx, err)
	}
	return result, nil
}

// withRetry re-runs fn on transient failures with exponential backoff.
// Context expiry is never retried here: the per-call deadline is the batch
// contract, and retrying past it would just burn the caller's time.
func (o *OpenAIOracle) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := o.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !errors.Is(err, world.ErrTransient) {
			return err
		}
		o.logger.Debug("oracle call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", o.config.MaxRetries),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("oracle %s failed after %d attempts: %w", op, o.config.MaxRetries+1, lastErr)
}

// complete performs one rate-limited, concurrency-capped chat call.
func (o *OpenAIOracle) complete(ctx context.Context, systemRole, prompt string, temperature float32) (string, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	if o.semaphore != nil {
		select {
		case o.semaphore <- struct{}{}:
			defer func() { <-o.semaphore }()
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	req := openai.ChatCompletionRequest{
		Model: o.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemRole},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
	}
	if o.config.MaxTokens > 0 {
		req.MaxCompletionTokens = o.config.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", ClassifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices: %w", world.ErrTransient)
	}
	return resp.Choices[0].Message.Content, nil
}

// ClassifyAPIError sorts API failures into the shared taxonomy: rate limits
// and server errors are transient, everything else is terminal for this
// call. Shared with the embedding client.
func ClassifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("openai status %d: %v: %w", apiErr.HTTPStatusCode, err, world.ErrTransient)
		}
		return fmt.Errorf("openai status %d: %w", apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("openai request: %v: %w", err, world.ErrTransient)
	}
	return err
}

// classifyErr converts terminal context expiry into the oracle timeout
// class. Cancellation from the caller propagates untouched.
func (o *OpenAIOracle) classifyErr(parent context.Context, err error) error {
	if errors.Is(err, context.Canceled) && parent.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("narrative backend missed the %s deadline: %w", o.config.Deadline, world.ErrOracleTimeout)
	}
	return err
}

func (o *OpenAIOracle) buildGenerationPrompt(req BatchRequest) (string, error) {
	data := struct {
		Req         BatchRequest
		TerrainList string
	}{
		Req:         req,
		TerrainList: terrainList(),
	}
	var buf bytes.Buffer
	if err := o.genTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("build generation prompt: %w", err)
	}
	return buf.String(), nil
}

func (o *OpenAIOracle) buildConsistencyPrompt(q ConsistencyQuery) (string, error) {
	data := struct {
		From      world.Location
		To        world.Location
		FromText  string
		ToText    string
		Direction world.Direction
		Duration  int64
	}{
		From:      q.From,
		To:        q.To,
		FromText:  q.From.FullDescription(),
		ToText:    q.To.FullDescription(),
		Direction: q.Direction,
		Duration:  q.Duration,
	}
	var buf bytes.Buffer
	if err := o.judgeTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("build consistency prompt: %w", err)
	}
	return buf.String(), nil
}

func terrainList() string {
	names := make([]string, len(world.Terrains))
	for i, t := range world.Terrains {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

type batchEnvelope struct {
	Stubs []StubDraft `json:"stubs"`
}

// parseBatchResponse decodes the model output and keeps only well-formed
// drafts for slots that were actually requested. It returns the number of
// dropped drafts so the caller can log hallucinated slots.
func parseBatchResponse(raw string, slots []SlotRequest) (BatchResponse, int, error) {
	data, err := ExtractJSON(raw)
	if err != nil {
		return BatchResponse{}, 0, err
	}
	var env batchEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return BatchResponse{}, 0, fmt.Errorf("decode stubs: %w", err)
	}
	if len(env.Stubs) == 0 {
		return BatchResponse{}, 0, errors.New("response contained no stubs")
	}

	requested := make(map[world.Direction]bool, len(slots))
	for _, s := range slots {
		requested[s.Direction] = true
	}

	var (
		out     BatchResponse
		seen    = make(map[world.Direction]bool, len(slots))
		dropped int
	)
	for _, d := range env.Stubs {
		dir, err := world.ParseDirection(string(d.Slot))
		if err != nil || !requested[dir] || seen[dir] || strings.TrimSpace(d.Description) == "" {
			dropped++
			continue
		}
		seen[dir] = true
		d.Slot = dir
		out.Drafts = append(out.Drafts, d)
	}
	if len(out.Drafts) == 0 {
		return BatchResponse{}, dropped, errors.New("no usable drafts in response")
	}
	return out, dropped, nil
}

func parseConsistencyResponse(raw string) (ConsistencyResult, error) {
	data, err := ExtractJSON(raw)
	if err != nil {
		return ConsistencyResult{}, err
	}
	var result ConsistencyResult
	if err := json.Unmarshal(data, &result); err != nil {
		return ConsistencyResult{}, fmt.Errorf("decode verdict: %w", err)
	}
	switch Verdict(strings.ToLower(strings.TrimSpace(string(result.Verdict)))) {
	case VerdictConsistent:
		result.Verdict = VerdictConsistent
	case VerdictContradictory:
		result.Verdict = VerdictContradictory
	case VerdictAmbiguous:
		result.Verdict = VerdictAmbiguous
	default:
		// An unrecognized verdict cannot clear a reconnection.
		result.Reason = strings.TrimSpace("unrecognized verdict " + string(result.Verdict) + "; " + result.Reason)
		result.Verdict = VerdictAmbiguous
	}
	return result, nil
}

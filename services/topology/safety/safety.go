// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package safety screens generated prose before it can enter the world
// graph. A rejection here is terminal for the stub: the engine never edits
// offending text into shape, it drops the draft.
package safety

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Result is one screening outcome. Category and Match are only set when the
// text was rejected.
type Result struct {
	Allowed bool

	// Category names the rule group that fired ("assistant-artifact",
	// "prompt-injection", ...).
	Category string

	// Match is the pattern that fired, for rejection logs. Never the
	// offending prose itself, which may be long and is already stored in
	// the batch.
	Match string
}

// Classifier screens a piece of generated text.
//
// Thread Safety: implementations must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// ruleGroup is a named set of patterns. Groups are checked in order and the
// first hit wins, so cheaper and more decisive groups come first.
type ruleGroup struct {
	category string
	patterns []string
}

// defaultRuleGroups is the stock screen for oracle output. It targets the
// failure modes of generation pipelines rather than player input:
// assistant chatter leaking into prose, injected instructions echoed back,
// out-of-setting vocabulary, unprompted explicit content, and stray
// real-world personal data.
var defaultRuleGroups = []ruleGroup{
	{
		category: "assistant-artifact",
		patterns: []string{
			`\bas an ai\b`,
			`\blanguage model\b`,
			`\bi cannot (?:help|assist|generate|create|fulfill)\b`,
			`\bi(?:'|\s a)m sorry,? but\b`,
			`\bi apologize,? but\b`,
		},
	},
	{
		category: "prompt-injection",
		patterns: []string{
			`\bignore (?:all )?(?:previous|prior) instructions\b`,
			`\bsystem prompt\b`,
			`\bdeveloper message\b`,
			`\byou are now\b`,
		},
	},
	{
		category: "explicit-content",
		patterns: []string{
			`\bsexually explicit\b`,
			`\bgraphic sexual\b`,
			`\bgratuitous (?:gore|torture)\b`,
		},
	},
	{
		category: "setting-breach",
		patterns: []string{
			`\b(?:smartphone|cell phone|internet|wi-?fi|email|website)\b`,
			`\b(?:america|europe|london|tokyo)\b`,
			`\b(?:dollar|euro)s?\b`,
		},
	},
	{
		category: "personal-data",
		patterns: []string{
			`\b\d{3}-\d{2}-\d{4}\b`,
			`\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`,
		},
	},
}

type compiledRule struct {
	category string
	re       *regexp.Regexp
}

// PatternClassifier is the stock Classifier: case-insensitive word-boundary
// patterns grouped by category, first match wins.
//
// Thread Safety: safe for concurrent use after construction.
type PatternClassifier struct {
	rules  []compiledRule
	logger *slog.Logger
}

// NewPatternClassifier compiles the default rule set.
func NewPatternClassifier(logger *slog.Logger) *PatternClassifier {
	c, err := NewPatternClassifierWithRules(defaultRuleGroups, logger)
	if err != nil {
		// The default set is compiled in tests; a failure here is a
		// programming error, not an input error.
		panic(err)
	}
	return c
}

// NewPatternClassifierWithRules compiles a custom rule set. Deployments
// extend the defaults with world-specific vocabulary bans.
func NewPatternClassifierWithRules(groups []ruleGroup, logger *slog.Logger) (*PatternClassifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var rules []compiledRule
	for _, g := range groups {
		for _, p := range g.patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, err
			}
			rules = append(rules, compiledRule{category: g.category, re: re})
		}
	}
	return &PatternClassifier{rules: rules, logger: logger}, nil
}

// RuleGroup builds a custom group for NewPatternClassifierWithRules.
func RuleGroup(category string, patterns ...string) ruleGroup {
	return ruleGroup{category: category, patterns: patterns}
}

// DefaultRuleGroups exposes a copy of the stock rules so deployments can
// append to them.
func DefaultRuleGroups() []ruleGroup {
	out := make([]ruleGroup, len(defaultRuleGroups))
	copy(out, defaultRuleGroups)
	return out
}

// Classify implements Classifier. It never errors; the error return exists
// for remote implementations.
func (c *PatternClassifier) Classify(ctx context.Context, text string) (Result, error) {
	_, span := otel.Tracer("safety").Start(ctx, "safety.Classify")
	defer span.End()

	text = strings.ToLower(text)
	for _, r := range c.rules {
		if r.re.MatchString(text) {
			span.SetAttributes(
				attribute.Bool("allowed", false),
				attribute.String("category", r.category),
			)
			c.logger.Debug("text rejected by safety screen",
				slog.String("category", r.category),
				slog.String("pattern", r.re.String()),
			)
			return Result{Allowed: false, Category: r.category, Match: r.re.String()}, nil
		}
	}
	span.SetAttributes(attribute.Bool("allowed", true))
	return Result{Allowed: true}, nil
}

// MockClassifier is a canned Classifier for tests.
type MockClassifier struct {
	// Result returned on every call when ClassifyFunc is nil.
	Result Result

	// Err fails every call.
	Err error

	// ClassifyFunc overrides the canned result.
	ClassifyFunc func(text string) (Result, error)
}

// NewMockClassifier returns a mock that allows everything.
func NewMockClassifier() *MockClassifier {
	return &MockClassifier{Result: Result{Allowed: true}}
}

// Classify implements Classifier.
func (m *MockClassifier) Classify(ctx context.Context, text string) (Result, error) {
	if m.Err != nil {
		return Result{}, m.Err
	}
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(text)
	}
	return m.Result, nil
}

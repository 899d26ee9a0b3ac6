// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package inference scores how strongly a description implies exits.
//
// The oracle writes prose; this package reads it back out as directional
// proposals. Scoring is lexical: a direction mention plus travel vocabulary
// in the same sentence earns high confidence, a bare mention earns too little
// to survive the threshold, and an explicit blocker ("cliffs bar the way
// north") suppresses the direction outright. The arrival direction is exempt
// from all of that: a navigable world must always offer the way back, so it
// is forced in at maximum confidence and a textual contradiction is surfaced
// as a warning instead of being honored.
package inference

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

// DefaultThreshold excludes proposals scored below it.
const DefaultThreshold = 0.5

// Confidence tiers assigned by the lexical scorer.
const (
	confidenceForced   = 1.0
	confidenceStrong   = 0.9
	confidenceModerate = 0.7
	confidenceWeak     = 0.3
)

// Result carries the surviving proposals plus advisory warnings. Warnings
// never suppress a proposal.
type Result struct {
	Proposals []world.ExitProposal
	Warnings  []string
}

// Inferencer converts a description into exit proposals.
type Inferencer interface {
	InferExits(description string, terrain world.Terrain, arrival world.Direction) Result
}

// Config tunes the lexical inferencer.
type Config struct {
	// Threshold excludes proposals below it. Zero means DefaultThreshold.
	Threshold float64
}

// LexicalInferencer is the pattern-table implementation of Inferencer.
//
// Thread Safety: safe for concurrent use; all state is immutable after New.
type LexicalInferencer struct {
	threshold float64
	logger    *slog.Logger
}

// New builds a LexicalInferencer.
func New(cfg Config, logger *slog.Logger) *LexicalInferencer {
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &LexicalInferencer{threshold: threshold, logger: logger}
}

// directionCues maps mention patterns to directions. Compound tokens come
// first: each match is masked out of the sentence before shorter tokens are
// scanned, so "northeast" never also reads as north or east. RE2 has no
// lookahead, which rules out the usual exclusion trick.
var directionCues = []struct {
	dir world.Direction
	re  *regexp.Regexp
}{
	{world.Northeast, regexp.MustCompile(`(?i)\bnorth[-\s]?east(?:ern|ward|wards)?\b`)},
	{world.Northwest, regexp.MustCompile(`(?i)\bnorth[-\s]?west(?:ern|ward|wards)?\b`)},
	{world.Southeast, regexp.MustCompile(`(?i)\bsouth[-\s]?east(?:ern|ward|wards)?\b`)},
	{world.Southwest, regexp.MustCompile(`(?i)\bsouth[-\s]?west(?:ern|ward|wards)?\b`)},
	{world.North, regexp.MustCompile(`(?i)\bnorth(?:ern|ward|wards)?\b`)},
	{world.South, regexp.MustCompile(`(?i)\bsouth(?:ern|ward|wards)?\b`)},
	{world.East, regexp.MustCompile(`(?i)\beast(?:ern|ward|wards)?\b`)},
	{world.West, regexp.MustCompile(`(?i)\bwest(?:ern|ward|wards)?\b`)},
	{world.Up, regexp.MustCompile(`(?i)\b(?:up(?:ward|wards)?|above|overhead|skyward|ascend(?:s|ing|ed)?)\b`)},
	{world.Down, regexp.MustCompile(`(?i)\b(?:down(?:ward|wards)?|below|beneath|underneath|descend(?:s|ing|ed)?)\b`)},
}

var (
	passageNounRe = regexp.MustCompile(`(?i)\b(?:paths?|trails?|roads?|tracks?|stairs?|stairways?|stairwells?|steps|passages?|passageways?|tunnels?|arch(?:es|ways?)?|bridges?|gates?|gateways?|doors?|doorways?|openings?|corridors?|lanes?|causeways?|ramps?|slopes?|ladders?|shafts?|trapdoors?|exits?|streets?|alleys?)\b`)

	movementVerbRe = regexp.MustCompile(`(?i)\b(?:leads?|leading|runs?|running|climbs?|climbing|descend(?:s|ing|ed)?|ascend(?:s|ing|ed)?|winds?|winding|opens?|opening|continues?|continuing|stretch(?:es|ing)?|heads?|heading|drops?|dropping|rises?|rising|curves?|curving|cuts?|cutting|snakes?|snaking|flows?|flowing|crosses|crossing)\b`)

	blockerRe = regexp.MustCompile(`(?i)\b(?:blocks?|blocked|blocking|bars?|barred|barring|seals?|sealed|walled(?:\s+off)?|impassable|impenetrable|collapsed|caved?[-\s]?in|no\s+(?:way|path|exit|passage)|cannot\s+(?:be\s+)?(?:pass(?:ed)?|cross(?:ed)?|climb(?:ed)?)|closed(?:\s+off)?)\b`)
)

// verticalAffinity nudges up/down proposals for terrain where vertical
// movement is the norm, so a single modest cue clears the threshold.
var verticalAffinity = map[world.Terrain]float64{
	world.TerrainCave:     0.15,
	world.TerrainMountain: 0.1,
	world.TerrainRuin:     0.1,
}

type directionEvidence struct {
	confidence float64
	reason     string
	blocked    bool
	blockCue   string
}

// InferExits implements Inferencer.
//
// Description:
//
//	Splits the description into sentences, scores every direction each
//	sentence mentions, and aggregates per direction (highest confidence
//	wins; a blocker anywhere wins over everything). Proposals below the
//	threshold are excluded entirely rather than emitted with a low score.
//	The arrival direction is always proposed at maximum confidence; if the
//	text blocks it, that contradiction becomes a warning.
//
// Inputs:
//
//	description - The prose to read exits out of.
//	terrain - Terrain of the described location; vertical cues get a small
//	          boost on terrain that favors them.
//	arrival - Direction back toward the location the traveler came from.
//	          Empty means there is no return path to force.
//
// Outputs:
//
//	Result - Surviving proposals in canonical direction order, plus warnings.
func (l *LexicalInferencer) InferExits(description string, terrain world.Terrain, arrival world.Direction) Result {
	var result Result

	if arrival != "" && !arrival.Valid() {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("arrival direction %q is not canonical; no return path forced", string(arrival)))
		arrival = ""
	}

	evidence := make(map[world.Direction]*directionEvidence)
	for _, sentence := range splitSentences(description) {
		scoreSentence(sentence, evidence)
	}

	for _, dir := range world.Directions {
		ev := evidence[dir]

		if dir == arrival {
			if ev != nil && ev.blocked {
				warning := fmt.Sprintf(
					"description contradicts the return path %s (%q); forcing the exit anyway",
					dir, ev.blockCue)
				result.Warnings = append(result.Warnings, warning)
				l.logger.Warn("Return path contradicted by description",
					"direction", string(dir),
					"cue", ev.blockCue)
			}
			result.Proposals = append(result.Proposals, world.ExitProposal{
				Direction:  dir,
				Confidence: confidenceForced,
				Reason:     "return path",
				Forced:     true,
			})
			continue
		}

		if ev == nil || ev.blocked {
			continue
		}

		confidence := ev.confidence
		if dir == world.Up || dir == world.Down {
			confidence += verticalAffinity[terrain]
			if confidence > 1 {
				confidence = 1
			}
		}
		if confidence < l.threshold {
			continue
		}

		result.Proposals = append(result.Proposals, world.ExitProposal{
			Direction:  dir,
			Confidence: confidence,
			Reason:     ev.reason,
		})
	}

	return result
}

// scoreSentence records evidence for every direction the sentence mentions.
func scoreSentence(sentence string, evidence map[world.Direction]*directionEvidence) {
	masked := sentence
	var mentioned []world.Direction
	for _, cue := range directionCues {
		if cue.re.MatchString(masked) {
			mentioned = append(mentioned, cue.dir)
			masked = cue.re.ReplaceAllString(masked, " ")
		}
	}
	if len(mentioned) == 0 {
		return
	}

	blocked := blockerRe.MatchString(sentence)
	hasNoun := passageNounRe.MatchString(sentence)
	hasVerb := movementVerbRe.MatchString(sentence)

	var confidence float64
	var reason string
	switch {
	case hasNoun && hasVerb:
		confidence, reason = confidenceStrong, "passage and movement cues"
	case hasNoun:
		confidence, reason = confidenceModerate, "passage cue"
	case hasVerb:
		confidence, reason = confidenceModerate, "movement cue"
	default:
		confidence, reason = confidenceWeak, "mentioned without travel cues"
	}

	for _, dir := range mentioned {
		ev := evidence[dir]
		if ev == nil {
			ev = &directionEvidence{}
			evidence[dir] = ev
		}
		if blocked {
			ev.blocked = true
			if ev.blockCue == "" {
				ev.blockCue = strings.TrimSpace(blockerRe.FindString(sentence))
			}
			continue
		}
		if confidence > ev.confidence {
			ev.confidence = confidence
			ev.reason = reason
		}
	}
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '.', '!', '?', ';', '\n':
			return true
		}
		return false
	})
}

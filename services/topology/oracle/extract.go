// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first JSON object out of a model response. Models
// wrap JSON in markdown fences, preambles ("Here is the result:") and
// postambles despite instructions not to, so the scanner tolerates all of
// that: it strips a leading code fence, then returns the first
// brace-balanced segment that parses as valid JSON.
func ExtractJSON(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("empty response")
	}
	if strings.HasPrefix(s, "```") {
		s = stripFence(s)
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, errors.New("no JSON object in response")
	}

	var (
		depth    int
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// Braces inside string values don't count.
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				candidate := []byte(s[start : i+1])
				if !json.Valid(candidate) {
					return nil, fmt.Errorf("balanced segment is not valid JSON: %s", truncate(string(candidate), 80))
				}
				return candidate, nil
			}
		}
	}
	return nil, errors.New("unterminated JSON object in response")
}

// stripFence removes a leading markdown code fence (``` or ```json, any
// case) and its closing fence.
func stripFence(s string) string {
	idx := strings.IndexByte(s, '\n')
	if idx < 0 {
		return s
	}
	s = s[idx+1:]
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

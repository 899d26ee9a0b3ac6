// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package oracle

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantErr   bool
		wantField string
		wantValue any
	}{
		{
			name:      "clean JSON",
			input:     `{"verdict":"consistent","reason":"no conflicts"}`,
			wantErr:   false,
			wantField: "verdict",
			wantValue: "consistent",
		},
		{
			name:      "JSON with whitespace",
			input:     `   {"verdict":"ambiguous"}   `,
			wantErr:   false,
			wantField: "verdict",
			wantValue: "ambiguous",
		},
		{
			name:      "markdown JSON block",
			input:     "```json\n{\"verdict\":\"consistent\"}\n```",
			wantErr:   false,
			wantField: "verdict",
			wantValue: "consistent",
		},
		{
			name:      "generic code block",
			input:     "```\n{\"verdict\":\"consistent\"}\n```",
			wantErr:   false,
			wantField: "verdict",
			wantValue: "consistent",
		},
		{
			name:      "uppercase fence label",
			input:     "```JSON\n{\"verdict\":\"consistent\"}\n```",
			wantErr:   false,
			wantField: "verdict",
			wantValue: "consistent",
		},
		{
			name:      "JSON with preamble",
			input:     "Here is my judgement:\n{\"verdict\":\"contradictory\"}",
			wantErr:   false,
			wantField: "verdict",
			wantValue: "contradictory",
		},
		{
			name:      "JSON with postamble",
			input:     "{\"verdict\":\"consistent\"}\nHope this helps!",
			wantErr:   false,
			wantField: "verdict",
			wantValue: "consistent",
		},
		{
			name:      "nested braces in string",
			input:     `{"reason":"the cave {mouth} is sealed","verdict":"contradictory"}`,
			wantErr:   false,
			wantField: "verdict",
			wantValue: "contradictory",
		},
		{
			name:      "escaped quotes in string",
			input:     `{"reason":"the sign reads \"keep out\"","verdict":"consistent"}`,
			wantErr:   false,
			wantField: "verdict",
			wantValue: "consistent",
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "whitespace only",
			input:   "   \t\n  ",
			wantErr: true,
		},
		{
			name:    "no JSON",
			input:   "The locations seem fine to me.",
			wantErr: true,
		},
		{
			name:    "malformed JSON",
			input:   "{verdict: consistent}",
			wantErr: true,
		},
		{
			name:    "incomplete JSON",
			input:   "{\"verdict\":\"consistent\"",
			wantErr: true,
		},
		{
			name:      "multiple objects takes the first",
			input:     `{"first":1} {"second":2}`,
			wantErr:   false,
			wantField: "first",
			wantValue: float64(1),
		},
		{
			name:      "nested object",
			input:     `{"stubs":[{"slot":"north","description":"a dim hollow"}]}`,
			wantErr:   false,
			wantField: "stubs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExtractJSON(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var parsed map[string]any
			if err := json.Unmarshal(result, &parsed); err != nil {
				t.Fatalf("result is not valid JSON: %v", err)
			}

			if tt.wantField != "" {
				val, exists := parsed[tt.wantField]
				if !exists {
					t.Errorf("expected field %q not found", tt.wantField)
				}
				if tt.wantValue != nil && val != tt.wantValue {
					t.Errorf("field %q: expected %v, got %v", tt.wantField, tt.wantValue, val)
				}
			}
		})
	}
}

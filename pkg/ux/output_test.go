// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// captureStdout runs fn with stdout redirected and returns what it printed.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()
	w.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("reading captured stdout: %v", err)
	}
	return buf.String()
}

func TestMachineModeOutput(t *testing.T) {
	SetMachine(true)
	defer SetMachine(false)

	tests := []struct {
		name string
		fn   func()
		want string
	}{
		{"title", func() { Title("World Status") }, "== World Status\n"},
		{"success", func() { Success("committed %d stubs", 4) }, "OK: committed 4 stubs\n"},
		{"warning", func() { Warning("slot taken") }, "WARN: slot taken\n"},
		{"error", func() { Error("store down") }, "ERROR: store down\n"},
		{"info", func() { Info("ready") }, "INFO: ready\n"},
		{"detail", func() { Detail("hops=%d", 3) }, "DETAIL: hops=3\n"},
		{"keyvalue", func() { KeyValue("locations", 12) }, "locations=12\n"},
		{"box", func() { Box("plain") }, "plain\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := captureStdout(t, tt.fn); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStyledOutputCarriesMessage(t *testing.T) {
	SetMachine(false)
	out := captureStdout(t, func() {
		Success("exit pair written")
		Warning("guidance range exceeded")
	})
	if !strings.Contains(out, "exit pair written") {
		t.Errorf("success message missing: %q", out)
	}
	if !strings.Contains(out, "guidance range exceeded") {
		t.Errorf("warning message missing: %q", out)
	}
}

func TestIconRender(t *testing.T) {
	// Styled rendering may wrap the glyph in escape codes; the glyph
	// itself must survive.
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow} {
		if !strings.Contains(icon.Render(), string(icon)) {
			t.Errorf("icon %q lost its glyph: %q", string(icon), icon.Render())
		}
	}
}

func TestSpinnerMachineMode(t *testing.T) {
	SetMachine(true)
	defer SetMachine(false)

	out := captureStdout(t, func() {
		s := NewSpinner("expanding frontier")
		s.Start()
		s.Stop()
	})
	if out != "PROGRESS: expanding frontier\n" {
		t.Errorf("output = %q", out)
	}
}

func TestSpinnerStartStopIdempotent(t *testing.T) {
	SetMachine(true)
	defer SetMachine(false)

	s := NewSpinner("working")
	captureStdout(t, func() {
		s.Start()
		s.Start()
		s.Stop()
		s.Stop()
	})
}

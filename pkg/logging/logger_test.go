// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "LEVEL(42)"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWritesLogFile(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "topology",
		Quiet:   true,
	})
	logger.Info("graph opened", "locations", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	name := "topology_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	var entry map[string]any
	line := strings.TrimSpace(string(data))
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log file line is not JSON: %v\nline: %s", err, line)
	}
	if entry["msg"] != "graph opened" {
		t.Errorf("msg = %v, want %q", entry["msg"], "graph opened")
	}
	if entry["service"] != "topology" {
		t.Errorf("service attr = %v, want %q", entry["service"], "topology")
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "filter",
		Quiet:   true,
	})
	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")
	logger.Close()

	name := "filter_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "dropped") {
		t.Errorf("below-level messages reached the file:\n%s", content)
	}
	if !strings.Contains(content, "kept") {
		t.Errorf("warn message missing from the file:\n%s", content)
	}
}

func TestExporterReceivesEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "export",
		Quiet:    true,
		Exporter: exporter,
	})
	logger.Info("batch committed", "accepted", 4)

	// Export runs on its own goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for len(exporter.Entries()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("exported %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Message != "batch committed" {
		t.Errorf("Message = %q, want %q", e.Message, "batch committed")
	}
	if e.Service != "export" {
		t.Errorf("Service = %q, want %q", e.Service, "export")
	}
	if got := e.Attrs["accepted"]; got != 4 {
		t.Errorf("Attrs[accepted] = %v, want 4", got)
	}
	logger.Close()
}

func TestCloseIsIdempotent(t *testing.T) {
	logger := New(Config{Level: LevelInfo, Quiet: true, Exporter: &NopExporter{}})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestWithStampsAttributes(t *testing.T) {
	exporter := NewBufferedExporter()
	parent := New(Config{Level: LevelInfo, Service: "parent", Quiet: true, Exporter: exporter})
	child := parent.With("batch_id", "b-1")
	if child.Slog() == parent.Slog() {
		t.Fatal("With returned the parent's slog handle")
	}
	child.Info("staged")
	parent.Close()
}

func TestWriterExporter(t *testing.T) {
	var sb strings.Builder
	e := NewWriterExporter(&sb)
	err := e.Export(context.Background(), LogEntry{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Level:     LevelInfo,
		Service:   "w",
		Message:   "hello",
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	line := sb.String()
	if !strings.Contains(line, `"msg":"hello"`) || !strings.HasSuffix(line, "\n") {
		t.Errorf("unexpected line: %q", line)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package world

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// GuidanceStore serves the terrain guidance table to the rest of the engine.
// It starts from the compiled-in defaults, optionally overlays a YAML file,
// and can hot-reload that file when it changes on disk.
//
// Thread Safety: safe for concurrent use. Lookup takes a read lock only.
type GuidanceStore struct {
	mu    sync.RWMutex
	table map[Terrain]Guidance

	logger  *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewGuidanceStore builds a store seeded with DefaultGuidanceTable.
func NewGuidanceStore(logger *slog.Logger) *GuidanceStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuidanceStore{
		table:  DefaultGuidanceTable(),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Lookup returns the guidance for a terrain, falling back to a generic
// range for classifications the table does not know.
func (s *GuidanceStore) Lookup(t Terrain) Guidance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.table[t]; ok {
		return g
	}
	return fallbackGuidance
}

// Snapshot returns a copy of the current table for inspection endpoints.
func (s *GuidanceStore) Snapshot() map[Terrain]Guidance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Terrain]Guidance, len(s.table))
	for k, v := range s.table {
		out[k] = v
	}
	return out
}

// guidanceFile is the YAML shape of a guidance override file.
type guidanceFile struct {
	Terrains map[string]Guidance `yaml:"terrains"`
}

// LoadFile overlays guidance entries from a YAML file onto the defaults.
// Unknown terrains in the file extend the table; invalid entries fail the
// whole load so a half-applied table never serves traffic.
func (s *GuidanceStore) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read guidance file: %w", err)
	}
	var parsed guidanceFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse guidance file %s: %w", path, err)
	}

	next := DefaultGuidanceTable()
	for name, g := range parsed.Terrains {
		terrain := NormalizeTerrain(name)
		if err := g.Validate(); err != nil {
			return fmt.Errorf("guidance entry %q: %w", name, err)
		}
		next[terrain] = g
	}

	s.mu.Lock()
	s.table = next
	s.mu.Unlock()

	s.logger.Info("terrain guidance loaded",
		slog.String("path", path),
		slog.Int("entries", len(parsed.Terrains)))
	return nil
}

// Watch reloads the guidance file whenever it is rewritten. Reload failures
// keep the previous table and log a warning; a bad edit never takes the
// engine down. Call Close to stop watching.
func (s *GuidanceStore) Watch(path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create guidance watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save and
	// a file-level watch dies with the old inode.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return fmt.Errorf("watch guidance dir: %w", err)
	}
	s.watcher = w

	go s.watchLoop(path)
	return nil
}

func (s *GuidanceStore) watchLoop(path string) {
	const debounce = 200 * time.Millisecond
	var timer *time.Timer
	target := filepath.Clean(path)

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if err := s.LoadFile(path); err != nil {
					s.logger.Warn("guidance reload failed, keeping previous table",
						slog.String("path", path),
						slog.String("error", err.Error()))
				}
			})
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("guidance watcher error", slog.String("error", err.Error()))
		}
	}
}

// Close stops the file watcher, if one was started.
func (s *GuidanceStore) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}

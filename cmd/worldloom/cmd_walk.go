// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/worldloom/pkg/ux"
	"github.com/AleutianAI/worldloom/pkg/validation"
	"github.com/AleutianAI/worldloom/services/topology/storage"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

// runWalk starts the interactive graph explorer at --start. It is read-only:
// walking never mutates the store, so a stroll through a live world is safe.
func runWalk(cmd *cobra.Command, args []string) error {
	startID, err := validation.SanitizeLocationID(walkStart)
	if err != nil {
		return err
	}

	if ux.Machine() {
		return fmt.Errorf("walk is interactive and needs a terminal")
	}

	engine, err := openEngine(false)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := cmd.Context()
	loc, err := engine.store.GetLocation(ctx, startID)
	if err != nil {
		return fmt.Errorf("start location %s: %w", startID, err)
	}
	exits, err := engine.store.ExitsFrom(ctx, startID)
	if err != nil {
		return err
	}

	model := newWalkModel(ctx, engine.store, loc, exits)
	program := tea.NewProgram(model, tea.WithAltScreen())
	final, err := program.Run()
	if err != nil {
		return fmt.Errorf("walk session failed: %w", err)
	}

	if m, ok := final.(walkModel); ok && m.steps > 0 {
		ux.KeyValue("steps", m.steps)
		ux.KeyValue("ended at", m.location.ID)
	}
	return nil
}

// movedMsg delivers the result of a traversal step. back marks a retrace,
// which unwinds the trail instead of extending it.
type movedMsg struct {
	location world.Location
	exits    []world.Exit
	back     bool
	err      error
}

// walkModel is the bubbletea model for the graph explorer. Single-threaded
// inside the bubbletea event loop; store reads run as commands.
type walkModel struct {
	ctx   context.Context
	store storage.GraphStore

	location world.Location
	exits    []world.Exit
	trail    []string
	steps    int

	viewport viewport.Model
	width    int
	height   int
	ready    bool

	errMsg   string
	quitting bool
}

func newWalkModel(ctx context.Context, store storage.GraphStore, loc world.Location, exits []world.Exit) walkModel {
	return walkModel{
		ctx:      ctx,
		store:    store,
		location: loc,
		exits:    exits,
	}
}

// Init implements tea.Model.
func (m walkModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m walkModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 2
		footerHeight := len(m.exits) + 3
		viewportHeight := m.height - headerHeight - footerHeight
		if viewportHeight < 3 {
			viewportHeight = 3
		}

		if !m.ready {
			m.viewport = viewport.New(m.width, viewportHeight)
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = viewportHeight
		}
		m.viewport.SetContent(m.renderDescription())

	case tea.KeyMsg:
		switch key := msg.String(); key {
		case "q", "Q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit

		case "b", "B":
			return m.stepBack()

		case "j", "down":
			m.viewport.LineDown(1)

		case "k", "up":
			m.viewport.LineUp(1)

		case "g", "home":
			m.viewport.GotoTop()

		case "G", "end":
			m.viewport.GotoBottom()

		default:
			if dir, err := world.ParseDirection(key); err == nil {
				return m.stepTo(dir)
			}
		}

	case movedMsg:
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			return m, nil
		}
		if msg.back {
			m.steps--
		} else {
			m.trail = append(m.trail, m.location.ID)
			m.steps++
		}
		m.location = msg.location
		m.exits = msg.exits
		m.errMsg = ""
		if m.ready {
			m.viewport.SetContent(m.renderDescription())
			m.viewport.GotoTop()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// stepTo moves through the exit in the given direction, if one exists.
func (m walkModel) stepTo(dir world.Direction) (walkModel, tea.Cmd) {
	for _, exit := range m.exits {
		if exit.Direction == dir {
			return m, m.moveCmd(exit.Destination, false)
		}
	}
	m.errMsg = fmt.Sprintf("no exit %s from %s", dir, m.location.ID)
	return m, nil
}

// stepBack retraces the most recent step. The trail only shrinks here, so
// backing up never loops.
func (m walkModel) stepBack() (walkModel, tea.Cmd) {
	if len(m.trail) == 0 {
		m.errMsg = "nowhere to go back to"
		return m, nil
	}
	previous := m.trail[len(m.trail)-1]
	m.trail = m.trail[:len(m.trail)-1]
	return m, m.moveCmd(previous, true)
}

func (m walkModel) moveCmd(id string, back bool) tea.Cmd {
	ctx, store := m.ctx, m.store
	return func() tea.Msg {
		loc, err := store.GetLocation(ctx, id)
		if err != nil {
			return movedMsg{err: fmt.Errorf("location %s: %w", id, err)}
		}
		exits, err := store.ExitsFrom(ctx, id)
		if err != nil {
			return movedMsg{err: fmt.Errorf("exits from %s: %w", id, err)}
		}
		return movedMsg{location: loc, exits: exits, back: back}
	}
}

// View implements tea.Model.
func (m walkModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading...\n"
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m walkModel) renderHeader() string {
	title := fmt.Sprintf("%s  [%s]", m.location.ID, m.location.Terrain)
	return ux.Styles.Title.Render(title) + "\n" +
		ux.Styles.Muted.Render(strings.Repeat("─", min(m.width, 72)))
}

func (m walkModel) renderDescription() string {
	desc := m.location.FullDescription()
	if strings.TrimSpace(desc) == "" {
		desc = "(no description yet)"
	}
	return desc
}

func (m walkModel) renderFooter() string {
	var b strings.Builder
	if len(m.exits) == 0 {
		b.WriteString(ux.Styles.Warning.Render("dead end: no exits"))
		b.WriteString("\n")
	}
	for _, exit := range m.exits {
		line := fmt.Sprintf("%s %-10s %s", ux.IconArrow, exit.Direction, exit.Destination)
		if exit.Hook != "" {
			line += ux.Styles.Muted.Render("  " + exit.Hook)
		}
		b.WriteString(ux.Styles.Subtitle.Render(line))
		b.WriteString("\n")
	}
	if m.errMsg != "" {
		b.WriteString(ux.Styles.Error.Render(m.errMsg))
		b.WriteString("\n")
	}
	b.WriteString(ux.Styles.Muted.Render(
		fmt.Sprintf("steps %d • move: n/s/e/w/ne/nw/se/sw/u/d • b back • j/k scroll • q quit", m.steps)))
	return b.String()
}

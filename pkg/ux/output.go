// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides styled terminal output for the worldloom CLI.
//
// Output has two modes. Styled mode renders titles, boxes, and status lines
// through lipgloss; machine mode strips all decoration and prefixes lines
// with a stable token so scripts can parse them. Machine mode switches on
// automatically when stdout is not a terminal.
package ux

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Worldloom palette: loom greens with parchment and ember accents.
var (
	ColorMossBright = lipgloss.Color("#7FD66A") // success, highlights
	ColorMoss       = lipgloss.Color("#5CAD4E") // primary brand color
	ColorFern       = lipgloss.Color("#3E8948") // interactive elements
	ColorPine       = lipgloss.Color("#2C6B3F") // borders, accents
	ColorLoam       = lipgloss.Color("#4A4238") // muted text
	ColorParchment  = lipgloss.Color("#E8DCC4") // body text on dark terminals

	ColorSuccess = lipgloss.Color("#7FD66A")
	ColorWarning = lipgloss.Color("#E5B454") // ember amber
	ColorError   = lipgloss.Color("#D65A4A") // kiln red
	ColorMuted   = lipgloss.Color("#4A4238")
)

// Styles holds the pre-built lipgloss styles the CLI prints with.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorMossBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorMoss),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorLoam),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorMossBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorPine).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a themed status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
	IconCompass Icon = "✦"
)

// Render returns the icon with its semantic color applied.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// machine is 1 when output must stay plain and parseable.
var machine atomic.Bool

// Init decides the output mode. Pass true to force machine mode (the
// --machine flag); otherwise styled output is used only on a terminal.
func Init(forceMachine bool) {
	machine.Store(forceMachine || !isatty.IsTerminal(os.Stdout.Fd()))
}

// SetMachine overrides the mode directly. Tests use this.
func SetMachine(on bool) {
	machine.Store(on)
}

// Machine reports whether plain output mode is active.
func Machine() bool {
	return machine.Load()
}

// Title prints a styled section title, or "== text" in machine mode.
func Title(text string) {
	if Machine() {
		fmt.Println("==", text)
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a checked status line.
func Success(format string, args ...any) {
	statusLine(IconSuccess, "OK", format, args...)
}

// Warning prints a warning status line.
func Warning(format string, args ...any) {
	statusLine(IconWarning, "WARN", format, args...)
}

// Error prints an error status line.
func Error(format string, args ...any) {
	statusLine(IconError, "ERROR", format, args...)
}

// Info prints an unadorned line in styled mode and an "INFO:" line in
// machine mode.
func Info(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if Machine() {
		fmt.Println("INFO:", msg)
		return
	}
	fmt.Println(msg)
}

// Detail prints a muted, indented detail line.
func Detail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if Machine() {
		fmt.Println("DETAIL:", msg)
		return
	}
	fmt.Println("  " + Styles.Muted.Render(msg))
}

// Box prints text inside a rounded border, or plainly in machine mode.
func Box(text string) {
	if Machine() {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Box.Render(text))
}

// KeyValue prints an aligned "key: value" line.
func KeyValue(key string, value any) {
	if Machine() {
		fmt.Printf("%s=%v\n", key, value)
		return
	}
	fmt.Printf("%s %v\n", Styles.Subtitle.Render(key+":"), value)
}

func statusLine(icon Icon, token, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if Machine() {
		fmt.Printf("%s: %s\n", token, msg)
		return
	}
	fmt.Printf("%s %s\n", icon.Render(), msg)
}

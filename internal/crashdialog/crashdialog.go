// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package crashdialog presents unrecoverable failures to the user.
//
// On an interactive terminal the details are shown in a full-screen,
// scrollable panel that blocks until dismissed. Otherwise they are written to
// stderr as a framed report.
package crashdialog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aplane-algo/embedbridge/internal/util"
)

// DefaultTitle heads the dialog.
const DefaultTitle = "Application has crashed"

// Swapped in tests.
var (
	exit      = os.Exit
	newDialog = New
)

// Dialog describes where and how crash details are presented.
type Dialog struct {
	Title string
	// Interactive selects the full-screen dialog.
	Interactive bool
	In          io.Reader
	Out         io.Writer
}

// New returns a dialog bound to the process terminal.
func New() *Dialog {
	return &Dialog{
		Title:       DefaultTitle,
		Interactive: util.IsInteractive(),
		In:          os.Stdin,
		Out:         os.Stderr,
	}
}

// Show presents details and returns once the user has dismissed them.
func (d *Dialog) Show(details string) error {
	if details == "" {
		details = "No details available."
	}
	title := d.Title
	if title == "" {
		title = DefaultTitle
	}

	if !d.Interactive {
		_, err := io.WriteString(d.Out, Report(title, details))
		return err
	}

	width, height := util.TerminalSize()
	m := newModel(title, details, width, height)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithInput(d.In), tea.WithOutput(os.Stdout))
	if _, err := p.Run(); err != nil {
		// Fall back to a plain report so the details are never lost.
		_, _ = io.WriteString(d.Out, Report(title, details))
		return fmt.Errorf("crash dialog failed: %w", err)
	}
	return nil
}

// Show presents details on the process terminal.
func Show(details string) error {
	return New().Show(details)
}

// Fatal shows details, logs them and terminates the process with status 1.
func Fatal(details string) {
	util.Logger.Error("fatal error", "details", details)
	if err := newDialog().Show(details); err != nil {
		util.Logger.Warn("crash dialog unavailable", "error", err)
	}
	exit(1)
}

// Report renders a plain-text crash report.
func Report(title, details string) string {
	rule := strings.Repeat("=", 72)
	var sb strings.Builder
	sb.WriteString(rule + "\n")
	sb.WriteString(title + "\n")
	sb.WriteString(rule + "\n")
	sb.WriteString(strings.TrimRight(details, "\n") + "\n")
	sb.WriteString(rule + "\n")
	return sb.String()
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("1")).
			Padding(0, 1)
	frameStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("1")).
			Padding(0, 1)
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// model is the bubbletea model behind the interactive dialog.
type model struct {
	title     string
	details   string
	viewport  viewport.Model
	dismissed bool
}

// chrome is the number of rows used by everything except the viewport.
const chrome = 6

func newModel(title, details string, width, height int) model {
	vp := viewport.New(contentWidth(width), contentHeight(height))
	vp.SetContent(wrap(details, contentWidth(width)))
	return model{title: title, details: details, viewport: vp}
}

func contentWidth(width int) int {
	if w := width - 4; w > 10 {
		return w
	}
	return 10
}

func contentHeight(height int) int {
	if h := height - chrome; h > 3 {
		return h
	}
	return 3
}

func wrap(details string, width int) string {
	return lipgloss.NewStyle().Width(width).Render(details)
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "esc", "q", "ctrl+c":
			m.dismissed = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.viewport.Width = contentWidth(msg.Width)
		m.viewport.Height = contentHeight(msg.Height)
		m.viewport.SetContent(wrap(m.details, m.viewport.Width))
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString("\n")
	sb.WriteString(frameStyle.Render(m.viewport.View()))
	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render("↑/↓ scroll • enter/q to quit"))
	return sb.String()
}

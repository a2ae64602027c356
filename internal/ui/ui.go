// Package ui holds the terminal styles shared by the CLI commands.
package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/marco308/ticktick-bridge/internal/snapshot"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#f7768e")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#565f89"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#565f89")).Strikethrough(true)
)

// Title renders a section heading.
func Title(s string) string { return titleStyle.Render(s) }

// Success renders a confirmation line.
func Success(s string) string { return successStyle.Render(s) }

// Error renders an error line.
func Error(s string) string { return errorStyle.Render(s) }

// Warn renders a warning line.
func Warn(s string) string { return warnStyle.Render(s) }

// Muted renders secondary detail.
func Muted(s string) string { return mutedStyle.Render(s) }

// TaskLine renders one task as a list row: checkbox, title, then due
// date and priority as muted detail.
func TaskLine(t snapshot.Task) string {
	box := "[ ]"
	title := t.Title
	if t.Completed {
		box = "[x]"
		title = doneStyle.Render(title)
	}

	line := fmt.Sprintf("  %s %s", box, title)
	if t.Due != nil {
		due := t.Due.Local().Format("Mon Jan 2 15:04")
		if t.IsAllDay {
			due = t.Due.Local().Format("Mon Jan 2")
		}
		if !t.Completed && t.Due.Before(time.Now()) {
			line += " " + warnStyle.Render(due)
		} else {
			line += " " + mutedStyle.Render(due)
		}
	}
	if t.Priority != snapshot.PriorityNone {
		line += " " + warnStyle.Render("!"+snapshot.PriorityName(t.Priority))
	}
	return line
}

// ProjectHeader renders a project heading with its open-task count.
func ProjectHeader(p *snapshot.Project) string {
	return fmt.Sprintf("%s %s", titleStyle.Render(p.Name), mutedStyle.Render(fmt.Sprintf("(%d open)", p.TaskCount())))
}

package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// noteItem is the list item backing one notification log row.
type noteItem struct{ Note }

// List item interface methods.
func (it noteItem) Title() string       { return it.Message }
func (it noteItem) Description() string { return it.Note.Description }
func (it noteItem) FilterValue() string { return it.Message + " " + it.Note.Description }

// notesDelegate renders noteItem rows with a right-justified timestamp.
type notesDelegate struct{}

func (d notesDelegate) Height() int                             { return 1 }
func (d notesDelegate) Spacing() int                            { return 0 }
func (d notesDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (d notesDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	it, ok := listItem.(noteItem)
	if !ok {
		return
	}
	selected := index == m.Index()
	leftPrefix := "  "
	lineStyle := lipgloss.NewStyle()
	if selected {
		leftPrefix = "> "
		lineStyle = lineStyle.Foreground(lipgloss.Color("69")).Bold(true)
	}

	left := fmt.Sprintf("%s%s %s", leftPrefix, noteIcon(it.Kind), it.Message)
	if it.Note.Description != "" {
		left += ": " + it.Note.Description
	}
	right := it.At.Format("15:04:05")

	padding := m.Width() - lipgloss.Width(left) - lipgloss.Width(right)
	if padding < 1 {
		padding = 1
	}
	line := left + spaces(padding) + right
	_, _ = fmt.Fprint(w, lineStyle.Render(line))
}

func spaces(n int) string {
	if n <= 0 {
		return ""
	}
	return lipgloss.NewStyle().Width(n).Render("")
}

func noteIcon(k NoteKind) string {
	switch k {
	case NoteSuccess:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Render("✓")
	case NoteError:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("…")
	}
}

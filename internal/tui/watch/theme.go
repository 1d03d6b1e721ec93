// Package watch is the terminal status view for a running relay. It polls
// /healthz and follows the /events notice stream.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme keeps all watch styling in one place.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusQueued  lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	ActivityOn  lipgloss.Style
	ActivityOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusQueued:  lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		ActivityOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		ActivityOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// workerStyle colours a worker state name.
func (t Theme) workerStyle(state string) lipgloss.Style {
	switch state {
	case "ready":
		return t.StatusOK
	case "starting":
		return t.StatusRunning
	case "failed", "exited":
		return t.StatusFailed
	default:
		return t.StatusQueued
	}
}

// outcomeStyle colours a dispatch outcome.
func (t Theme) outcomeStyle(outcome string) lipgloss.Style {
	switch outcome {
	case "success":
		return t.StatusOK
	case "queued":
		return t.StatusQueued
	case "not_implemented":
		return t.StatusRunning
	default:
		return t.StatusFailed
	}
}

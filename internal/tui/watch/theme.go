// Package watch implements the deviceui system watch TUI.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme keeps the watch colours in one place.
type Theme struct {
	StateRunning lipgloss.Style
	StateBusy    lipgloss.Style
	StateStopped lipgloss.Style
	Failed       lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Label     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	accent := lipgloss.Color("#5FAFD7")

	return Theme{
		StateRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#00D75F")).Bold(true),
		StateBusy:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")).Bold(true),
		StateStopped: lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")).Bold(true),
		Failed:       lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Label:     lipgloss.NewStyle().Foreground(accent),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#8A8A8A")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		PulseOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00D75F")),
		PulseOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// StateStyle picks the colour for a supervisor state name.
func (t Theme) StateStyle(state string) lipgloss.Style {
	switch state {
	case "running":
		return t.StateRunning
	case "starting", "handshake_pending", "restarting":
		return t.StateBusy
	default:
		return t.StateStopped
	}
}

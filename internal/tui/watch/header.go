package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// UIStatus mirrors GET /v1/ui/status and the ui.state event payload.
type UIStatus struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Pid       int       `json:"pid"`
	AliveAt   time.Time `json:"alive_at"`
	Enabled   bool      `json:"enabled"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error"`
}

// merge applies a ui.state payload, which carries no name.
func (s UIStatus) merge(update UIStatus) UIStatus {
	if update.Name == "" {
		update.Name = s.Name
	}
	return update
}

func renderHeader(st UIStatus, connected bool, spin string, pulse Pulse, theme Theme, now time.Time, width int) string {
	innerWidth := width - 4

	name := st.Name
	if name == "" {
		name = "device UI"
	}
	title := fmt.Sprintf(" DEVICEUI WATCH %s %s", theme.Highlight.Render(spin), theme.Dim.Render(name))
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	state := st.State
	if state == "" {
		state = "unknown"
	}
	stateText := theme.StateStyle(state).Render(strings.ToUpper(state))
	if !connected {
		stateText += " " + theme.Failed.Render("(disconnected)")
	}

	pid := "-"
	if st.Pid > 0 {
		pid = fmt.Sprintf("%d", st.Pid)
	}
	enabled := "disabled"
	if st.Enabled {
		enabled = "enabled"
	}

	stateLine := fmt.Sprintf(" %s  %s %s  %s %d  %s",
		stateText,
		theme.Label.Render("pid"), pid,
		theme.Label.Render("restarts"), st.Restarts,
		enabled,
	)
	aliveLine := fmt.Sprintf(" %s %s  %s %s",
		theme.Label.Render("alive"), formatAlive(st.AliveAt, now),
		theme.Label.Render("activity"), pulse.Render(theme),
	)

	lines := []string{titleLine, stateLine, aliveLine}
	if st.LastError != "" {
		lines = append(lines, " "+theme.Failed.Render("last error: "+st.LastError))
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func formatAlive(at, now time.Time) string {
	if at.IsZero() {
		return "never"
	}
	return formatDuration(now.Sub(at)) + " ago"
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

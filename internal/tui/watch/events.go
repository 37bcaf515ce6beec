package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tidwall/gjson"

	"github.com/mattjoyce/deviceui/internal/events"
)

func renderEventLines(eventLog []events.Event, theme Theme) string {
	if len(eventLog) == 0 {
		return theme.Dim.Render("Waiting for events...")
	}
	lines := make([]string, 0, len(eventLog))
	for _, e := range eventLog {
		lines = append(lines, formatEvent(e, theme))
	}
	return strings.Join(lines, "\n")
}

func renderEventStream(body string, theme Theme, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT TAIL"),
		lipgloss.NewStyle().Padding(0, 1).Render(body),
	)
	return theme.Border.Width(width - 4).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeUIReady, events.TypeStepComplete, events.TypeSettingsPersisted, events.TypeSettingsPushed:
		typeStyle = theme.StateRunning
	case events.TypeUIError, events.TypeUIRestart:
		typeStyle = theme.Failed
	case events.TypeUIState:
		typeStyle = theme.StateStyle(gjson.GetBytes(e.Data, "state").String())
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-18s", e.Type)), describeEvent(e))
}

// describeEvent pulls a short summary out of the event payload.
func describeEvent(e events.Event) string {
	data := gjson.ParseBytes(e.Data)
	var parts []string

	switch e.Type {
	case events.TypeUIState:
		parts = append(parts, data.Get("state").String())
		if pid := data.Get("pid").Int(); pid > 0 {
			parts = append(parts, fmt.Sprintf("pid=%d", pid))
		}
		if msg := data.Get("last_error").String(); msg != "" {
			parts = append(parts, msg)
		}
	case events.TypeUIRestart:
		parts = append(parts, fmt.Sprintf("restarts=%d", data.Get("restarts").Int()))
	case events.TypeStepComplete:
		parts = append(parts, fmt.Sprintf("step=%d", data.Get("step").Int()))
		if cmd := data.Get("result.command").String(); cmd != "" {
			parts = append(parts, cmd)
		}
		if msg := data.Get("result.error").String(); msg != "" {
			parts = append(parts, msg)
		}
	case events.TypeSettingsPersisted:
		parts = append(parts, fmt.Sprintf("fields=%d", data.Get("fields").Int()))
	case events.TypeSettingsPushed:
		parts = append(parts, fmt.Sprintf("sent=%d", len(data.Get("sent").Array())))
		if failed := data.Get("failed").Array(); len(failed) > 0 {
			parts = append(parts, fmt.Sprintf("failed=%d", len(failed)))
		}
	default:
		for _, key := range []string{"name", "error"} {
			if v := data.Get(key).String(); v != "" {
				parts = append(parts, v)
			}
		}
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}

package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"

	"github.com/mattjoyce/deviceui/internal/events"
)

const maxEventLog = 50

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	token  string

	width  int
	height int

	status    UIStatus
	connected bool
	eventLog  []events.Event

	spinner spinner.Model
	pulse   Pulse
	tail    viewport.Model
	theme   Theme
	now     func() time.Time

	uiEvents chan events.Event

	lastError string
}

// New creates a watch model for the API at apiURL.
func New(apiURL, token string) *Model {
	return &Model{
		apiURL:   apiURL,
		token:    token,
		eventLog: make([]events.Event, 0),
		uiEvents: make(chan events.Event, 100),
		spinner:  spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		theme:    NewDefaultTheme(),
		now:      time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.token, m.uiEvents),
		receiveNextEvent(m.uiEvents),
		func() tea.Msg { return fetchStatus(m.apiURL, m.token) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.tail, cmd = m.tail.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.tail.Width = max(msg.Width-8, 10)
		m.tail.Height = max(msg.Height-12, 3)
		m.tail.SetContent(renderEventLines(m.eventLog, m.theme))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.pulse.Decay(m.now())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)

		// newest first
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.tail.SetContent(renderEventLines(m.eventLog, m.theme))
		m.pulse.OnEvent(m.now())
		m.applyEvent(e)

		m.connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.uiEvents)

	case statusMsg:
		m.status = m.status.merge(UIStatus(msg))
		m.connected = true
		m.lastError = ""
		return m, m.pollStatus()

	case sseDisconnectedMsg:
		m.connected = false
		m.lastError = msg.reason + ", reconnecting..."
		// The pending receiveNextEvent keeps reading from the shared channel.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.token, m.uiEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, m.pollStatus()
	}

	return m, nil
}

// applyEvent folds supervisor transitions into the status panel between polls.
func (m *Model) applyEvent(e events.Event) {
	if e.Type != events.TypeUIState {
		return
	}
	var st UIStatus
	if err := json.Unmarshal(e.Data, &st); err != nil {
		m.lastError = fmt.Sprintf("bad %s payload: %v", e.Type, err)
		return
	}
	m.status = m.status.merge(st)
}

func (m Model) pollStatus() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return fetchStatus(m.apiURL, m.token)
	})
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to deviceui..."
	}

	header := renderHeader(m.status, m.connected, m.spinner.View(), m.pulse, m.theme, m.now(), m.width)
	tail := renderEventStream(m.tail.View(), m.theme, m.width)

	parts := []string{header, tail}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(" ! "+m.lastError))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Scroll events"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

package watch

import (
	"bufio"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/goccy/go-json"

	"github.com/mattjoyce/deviceui/internal/events"
)

type eventMsg events.Event

type statusMsg UIStatus

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{ reason string }
type reconnectMsg struct{}

// subscribeToEvents follows /v1/events/stream and feeds events into ch until
// the connection drops.
func subscribeToEvents(apiURL, token string, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, apiURL+"/v1/events/stream", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Accept", "text/event-stream")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{reason: err.Error()}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return sseDisconnectedMsg{reason: "event stream: " + resp.Status}
		}

		var (
			id   int64
			typ  string
			data strings.Builder
		)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if data.Len() > 0 {
					ch <- events.Event{
						ID:   id,
						Type: typ,
						At:   time.Now(),
						Data: []byte(data.String()),
					}
				}
				id, typ = 0, ""
				data.Reset()
			case strings.HasPrefix(line, ":"):
				// keep-alive
			case strings.HasPrefix(line, "id: "):
				if n, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
					id = n
				}
			case strings.HasPrefix(line, "event: "):
				typ = line[7:]
			case strings.HasPrefix(line, "data: "):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(line[6:])
			}
		}

		return sseDisconnectedMsg{reason: "event stream closed"}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchStatus queries /v1/ui/status.
func fetchStatus(apiURL, token string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, apiURL+"/v1/ui/status", nil)
	if err != nil {
		return errMsg(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errMsg(fmt.Errorf("ui status: %s", resp.Status))
	}

	var st UIStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return errMsg(fmt.Errorf("decode ui status: %w", err))
	}
	return statusMsg(st)
}

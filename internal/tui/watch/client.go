package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/bootrelay/internal/events"
)

type noticeMsg events.Notice

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	WorkerState   string `json:"worker_state"`
	QueueDepth    int    `json:"queue_depth"`
	Worker        struct {
		Worker     string `json:"worker"`
		BootHandle int64  `json:"boot_handle"`
		Mailbox    int    `json:"mailbox"`
	} `json:"worker"`
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// subscribeToEvents follows GET /events, resuming after lastID, and feeds
// notices into ch. It returns sseDisconnectedMsg when the stream ends.
func subscribeToEvents(apiURL, apiKey string, lastID int64, ch chan<- events.Notice) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("events stream: %s", resp.Status))
		}

		readSSE(resp.Body, func(n events.Notice) { ch <- n })
		return sseDisconnectedMsg{}
	}
}

// readSSE parses server-sent event frames until r is exhausted.
func readSSE(r io.Reader, emit func(events.Notice)) {
	scanner := bufio.NewScanner(r)
	var cur events.Notice
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(cur.Data) > 0 {
				cur.At = time.Now()
				emit(cur)
			}
			cur = events.Notice{}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			cur.Data = json.RawMessage(line[6:])
		}
	}
}

func receiveNextNotice(ch <-chan events.Notice) tea.Cmd {
	return func() tea.Msg {
		return noticeMsg(<-ch)
	}
}

// fetchHealth queries /healthz, which needs no key.
func fetchHealth(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(apiURL + "/healthz")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}

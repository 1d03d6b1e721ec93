package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/bootrelay/internal/api"
	"github.com/mattjoyce/bootrelay/internal/relay"
	"github.com/mattjoyce/bootrelay/internal/source"
	"github.com/mattjoyce/bootrelay/internal/tui/watch"
)

// relayClient talks to a running relay's HTTP API.
type relayClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newRelayClient(baseURL, apiKey string) *relayClient {
	return &relayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// apiError carries the status and error body of a non-2xx response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.Status, e.Message)
}

func (c *relayClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e api.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return &apiError{Status: resp.StatusCode, Message: e.Error}
		}
		return &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *relayClient) health() (relay.Health, error) {
	var h relay.Health
	err := c.do(http.MethodGet, "/healthz", nil, &h)
	return h, err
}

func (c *relayClient) start(dispatcherHandle, callbackHandle int64) (api.StartResponse, error) {
	var resp api.StartResponse
	err := c.do(http.MethodPost, "/start", []int64{dispatcherHandle, callbackHandle}, &resp)
	return resp, err
}

func (c *relayClient) sendEvent(kind string, req api.SubmitRequest, wait bool) (api.SubmitResponse, error) {
	path := "/events/" + url.PathEscape(kind)
	if wait {
		path += "?wait=true"
	}
	var resp api.SubmitResponse
	err := c.do(http.MethodPost, path, req, &resp)
	return resp, err
}

// waitFor extends the client timeout for calls that block on a dispatch.
func (c *relayClient) waitFor(d time.Duration) *relayClient {
	c.http.Timeout = d
	return c
}

func runWorkerStart(args []string) int {
	fs := flag.NewFlagSet("worker start", flag.ContinueOnError)
	apiURL := fs.String("api-url", envOr(envAPIURL, defaultAPIURL), "Relay API URL")
	apiKey := fs.String("api-key", os.Getenv(envAPIKey), "API Bearer Token")
	jsonOut := fs.Bool("json", false, "Output the API response as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: bootrelay worker start [--api-url URL] [--api-key KEY] [--] <dispatcher-handle> <callback-handle>")
		return 1
	}

	handles := make([]int64, 2)
	for i, raw := range fs.Args() {
		h, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid handle %q: must be a 64-bit integer\n", raw)
			return 1
		}
		handles[i] = h
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or BOOTRELAY_API_KEY env var.")
		return 1
	}

	resp, err := newRelayClient(*apiURL, *apiKey).start(handles[0], handles[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Start failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Printf("Worker start accepted (dispatcher=%d callback=%d)\n", handles[0], handles[1])
	return 0
}

// attrFlag collects repeated --attr KEY=VALUE flags.
type attrFlag map[string]string

func (a attrFlag) String() string {
	parts := make([]string, 0, len(a))
	for k, v := range a {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (a attrFlag) Set(value string) error {
	k, v, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("expected KEY=VALUE, got %q", value)
	}
	a[strings.TrimSpace(k)] = v
	return nil
}

func runEventSend(args []string) int {
	fs := flag.NewFlagSet("event send", flag.ContinueOnError)
	apiURL := fs.String("api-url", envOr(envAPIURL, defaultAPIURL), "Relay API URL")
	apiKey := fs.String("api-key", os.Getenv(envAPIKey), "API Bearer Token")
	sourceName := fs.String("source", "cli", "Event source name")
	wait := fs.Bool("wait", false, "Wait for the dispatch outcome")
	timeout := fs.Duration("timeout", 60*time.Second, "Client timeout when waiting")
	jsonOut := fs.Bool("json", false, "Output the API response as JSON")
	attrs := attrFlag{}
	fs.Var(attrs, "attr", "Event attribute KEY=VALUE (repeatable)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: bootrelay event send [flags] <action>")
		return 1
	}

	action := fs.Arg(0)
	kind, ok := source.KindFor(action)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unhandled broadcast action: %s\n", action)
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or BOOTRELAY_API_KEY env var.")
		return 1
	}

	if _, exists := attrs["action"]; !exists {
		attrs["action"] = action
	}
	client := newRelayClient(*apiURL, *apiKey)
	if *wait {
		client = client.waitFor(*timeout)
	}

	resp, err := client.sendEvent(kind, api.SubmitRequest{Source: *sourceName, Attributes: attrs}, *wait)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusGatewayTimeout {
			fmt.Fprintln(os.Stderr, "Timed out waiting for the worker; the event stays queued.")
			return 1
		}
		fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("event %s (%s): %s\n", resp.EventID, resp.Kind, resp.Disposition)
		if resp.Outcome != "" {
			fmt.Printf("outcome: %s callback=%d\n", resp.Outcome, resp.CallbackHandle)
			if resp.Message != "" {
				fmt.Printf("message: %s\n", resp.Message)
			}
		}
	}

	if *wait && resp.Outcome != "success" {
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", envOr(envAPIURL, defaultAPIURL), "Relay API URL")
	apiKey := fs.String("api-key", os.Getenv(envAPIKey), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or BOOTRELAY_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

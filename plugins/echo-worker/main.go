// echo-worker is a minimal bootrelay worker. It acknowledges every event sent
// to its callback handles and logs it to stderr.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/bootrelay/internal/log"
	"github.com/mattjoyce/bootrelay/internal/protocol"
	"github.com/mattjoyce/bootrelay/internal/workerkit"
)

type echoResult struct {
	Handled   bool   `json:"handled"`
	EventID   string `json:"event_id"`
	EventKind string `json:"event_kind"`
	Handle    int64  `json:"handle"`
}

func main() {
	handles := flag.String("handles", "100", "comma-separated callback handles to serve")
	failKinds := flag.String("fail-kinds", "", "comma-separated event kinds to answer with an error")
	delay := flag.Duration("ready-delay", 0, "pause before announcing ready")
	level := flag.String("log-level", "INFO", "log level")
	flag.Parse()

	log.SetupTo(os.Stderr, *level, "json")
	logger := log.WithComponent("echo-worker")

	ids, err := parseHandles(*handles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "echo-worker: %v\n", err)
		os.Exit(2)
	}
	failing := make(map[string]bool)
	for _, k := range strings.Split(*failKinds, ",") {
		if k = strings.TrimSpace(k); k != "" {
			failing[k] = true
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := workerkit.New(os.Stdin, os.Stdout, logger)
	for _, h := range ids {
		rt.Register(h, echo(h, failing))
	}

	if *delay > 0 {
		select {
		case <-time.After(*delay):
		case <-ctx.Done():
			return
		}
	}

	logger.Info("serving", "handles", ids, "boot_handle", os.Getenv("BOOTRELAY_HANDLE"))
	if err := rt.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("serve failed", "error", err)
		os.Exit(1)
	}
}

func echo(handle int64, failing map[string]bool) workerkit.Callback {
	return func(_ context.Context, ev protocol.Event) (any, error) {
		b, _ := json.Marshal(ev)
		log.WithEvent(ev.ID, ev.Kind).Info("event received", "handle", handle, "event", string(b))
		if failing[ev.Kind] {
			return nil, fmt.Errorf("configured to fail %s", ev.Kind)
		}
		return echoResult{Handled: true, EventID: ev.ID, EventKind: ev.Kind, Handle: handle}, nil
	}
}

func parseHandles(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid handle %q: %w", part, err)
		}
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one handle is required")
	}
	return out, nil
}

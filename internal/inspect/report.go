// Package inspect renders what happened to one event: how long it waited in
// the deferred queue, which callback handle served it, and the outcome.
package inspect

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/bootrelay/internal/journal"
	"github.com/mattjoyce/bootrelay/internal/state"
)

// ErrNotFound means the journal holds no dispatch for the event.
var ErrNotFound = errors.New("event not found in dispatch journal")

// Report is the structured form of an event report.
type Report struct {
	EventID    string        `json:"event_id"`
	Kind       string        `json:"kind"`
	Source     string        `json:"source,omitempty"`
	EventAt    time.Time     `json:"event_at"`
	Dispatches []Dispatch    `json:"dispatches"`
	Handles    state.Handles `json:"current_handles"`
}

// Dispatch is one journal entry for the event.
type Dispatch struct {
	CallbackHandle int64     `json:"callback_handle"`
	Outcome        string    `json:"outcome"`
	Message        string    `json:"message,omitempty"`
	DispatchedAt   time.Time `json:"dispatched_at"`
	CompletedAt    time.Time `json:"completed_at"`
	Waited         string    `json:"waited"`
	Took           string    `json:"took"`
	// StaleCallback is set when the handle has since been replaced by a
	// newer start command.
	StaleCallback bool `json:"stale_callback,omitempty"`
}

// BuildReport renders a terminal-friendly report for an event.
func BuildReport(ctx context.Context, db *sql.DB, eventID string) (string, error) {
	report, err := gatherReportData(ctx, db, eventID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Event Report\n")
	fmt.Fprintf(&out, "Event ID    : %s\n", report.EventID)
	fmt.Fprintf(&out, "Kind        : %s\n", report.Kind)
	if report.Source != "" {
		fmt.Fprintf(&out, "Source      : %s\n", report.Source)
	}
	fmt.Fprintf(&out, "Created     : %s\n", report.EventAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "Handles now : dispatcher=%d callback=%d\n", report.Handles.Dispatcher, report.Handles.Callback)
	fmt.Fprintf(&out, "\n")

	for i, d := range report.Dispatches {
		fmt.Fprintf(&out, "[%d] %s\n", i+1, d.Outcome)
		callback := fmt.Sprintf("%d", d.CallbackHandle)
		if d.StaleCallback {
			callback += " (since replaced)"
		}
		fmt.Fprintf(&out, "    callback   : %s\n", callback)
		fmt.Fprintf(&out, "    dispatched : %s (waited %s)\n", d.DispatchedAt.Format(time.RFC3339), d.Waited)
		fmt.Fprintf(&out, "    completed  : %s (took %s)\n", d.CompletedAt.Format(time.RFC3339), d.Took)
		if d.Message != "" {
			fmt.Fprintf(&out, "    message    : %s\n", d.Message)
		}
	}
	return out.String(), nil
}

// BuildJSONReport returns the report as indented JSON.
func BuildJSONReport(ctx context.Context, db *sql.DB, eventID string) ([]byte, error) {
	report, err := gatherReportData(ctx, db, eventID)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(report, "", "  ")
}

func gatherReportData(ctx context.Context, db *sql.DB, eventID string) (*Report, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, fmt.Errorf("event id is required")
	}

	entries, err := journal.New(db).ForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}

	handles, err := state.NewSQLiteStore(db).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load handles: %w", err)
	}

	first := entries[0]
	report := &Report{
		EventID:    first.EventID,
		Kind:       first.EventKind,
		Source:     first.EventSource,
		EventAt:    first.EventAt,
		Handles:    handles,
		Dispatches: make([]Dispatch, 0, len(entries)),
	}
	for _, e := range entries {
		report.Dispatches = append(report.Dispatches, Dispatch{
			CallbackHandle: e.CallbackHandle,
			Outcome:        e.Outcome,
			Message:        e.Message,
			DispatchedAt:   e.DispatchedAt,
			CompletedAt:    e.CompletedAt,
			Waited:         span(e.EventAt, e.DispatchedAt),
			Took:           span(e.DispatchedAt, e.CompletedAt),
			StaleCallback:  handles.Callback != 0 && handles.Callback != e.CallbackHandle,
		})
	}
	return report, nil
}

func span(from, to time.Time) string {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return "-"
	}
	return to.Sub(from).Round(time.Millisecond).String()
}

package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/bootrelay/internal/journal"
	"github.com/mattjoyce/bootrelay/internal/state"
	"github.com/mattjoyce/bootrelay/internal/storage"
)

func TestBuildReportRendersDispatch(t *testing.T) {
	t.Parallel()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	err = journal.New(db).Record(ctx, journal.Entry{
		EventID:        "ev-1",
		EventKind:      "boot_completed",
		EventSource:    "signal",
		CallbackHandle: 100,
		Outcome:        "error",
		Message:        "callback failed",
		EventAt:        created,
		DispatchedAt:   created.Add(1500 * time.Millisecond),
		CompletedAt:    created.Add(1750 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := state.NewSQLiteStore(db).Save(ctx, state.Handles{Dispatcher: 1, Callback: 200}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := BuildReport(ctx, db, "ev-1")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	for _, want := range []string{
		"Event ID    : ev-1",
		"Kind        : boot_completed",
		"Source      : signal",
		"Handles now : dispatcher=1 callback=200",
		"[1] error",
		"callback   : 100 (since replaced)",
		"(waited 1.5s)",
		"(took 250ms)",
		"message    : callback failed",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}

	data, err := BuildJSONReport(ctx, db, "ev-1")
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if len(report.Dispatches) != 1 || !report.Dispatches[0].StaleCallback {
		t.Fatalf("unexpected dispatches: %+v", report.Dispatches)
	}
	if report.Handles.Callback != 200 {
		t.Fatalf("current callback = %d, want 200", report.Handles.Callback)
	}
}

func TestBuildReportUnknownEvent(t *testing.T) {
	t.Parallel()

	db, err := storage.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	_, err = BuildReport(context.Background(), db, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("BuildReport() error = %v, want ErrNotFound", err)
	}

	_, err = BuildReport(context.Background(), db, "  ")
	if err == nil || !strings.Contains(err.Error(), "event id is required") {
		t.Fatalf("BuildReport() error = %v", err)
	}
}

func TestSpan(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		from, to time.Time
		want     string
	}{
		{from: base, to: base.Add(2 * time.Second), want: "2s"},
		{from: base, to: base.Add(1234567 * time.Microsecond), want: "1.235s"},
		{from: time.Time{}, to: base, want: "-"},
		{from: base.Add(time.Second), to: base, want: "-"},
	}
	for _, tt := range tests {
		if got := span(tt.from, tt.to); got != tt.want {
			t.Fatalf("span(%v, %v) = %q, want %q", tt.from, tt.to, got, tt.want)
		}
	}
}

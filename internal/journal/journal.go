// Package journal records the outcome of every dispatch for later inspection.
// It is write-behind bookkeeping only; nothing is ever replayed from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// Fixed width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

	maxMessageBytes = 8 * 1024
	defaultLimit    = 50
	maxLimit        = 1000
)

// Entry is one dispatch outcome.
type Entry struct {
	ID             string    `json:"id"`
	EventID        string    `json:"event_id"`
	EventKind      string    `json:"event_kind"`
	EventSource    string    `json:"event_source,omitempty"`
	CallbackHandle int64     `json:"callback_handle"`
	Outcome        string    `json:"outcome"`
	Message        string    `json:"message,omitempty"`
	EventAt        time.Time `json:"event_at"`
	DispatchedAt   time.Time `json:"dispatched_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Journal writes entries to the dispatch_log table.
type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record appends e, assigning an ID when it has none.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.EventID == "" {
		return fmt.Errorf("event id is empty")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if len(e.Message) > maxMessageBytes {
		e.Message = e.Message[:maxMessageBytes]
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}

	var msg any
	if e.Message != "" {
		msg = e.Message
	}
	var source any
	if e.EventSource != "" {
		source = e.EventSource
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO dispatch_log(
  id, event_id, event_kind, event_source, callback_handle, outcome, message, event_at, dispatched_at, completed_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.EventID, e.EventKind, source, e.CallbackHandle, e.Outcome, msg,
		formatTime(e.EventAt), formatTime(e.DispatchedAt), formatTime(e.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert dispatch_log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return j.query(ctx, `
SELECT id, event_id, event_kind, event_source, callback_handle, outcome, message, event_at, dispatched_at, completed_at
FROM dispatch_log
ORDER BY completed_at DESC, rowid DESC
LIMIT ?;
`, limit)
}

// ForEvent returns every entry recorded for one event, oldest first.
func (j *Journal) ForEvent(ctx context.Context, eventID string) ([]Entry, error) {
	return j.query(ctx, `
SELECT id, event_id, event_kind, event_source, callback_handle, outcome, message, event_at, dispatched_at, completed_at
FROM dispatch_log
WHERE event_id = ?
ORDER BY completed_at ASC, rowid ASC;
`, eventID)
}

// Prune deletes entries completed before cutoff and reports how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, "DELETE FROM dispatch_log WHERE completed_at < ?;", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune dispatch_log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query dispatch_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			source                           sql.NullString
			msg                              sql.NullString
			eventAt, dispatchedAt, completed string
			entry                            Entry
		)
		if err := rows.Scan(&entry.ID, &entry.EventID, &entry.EventKind, &source, &entry.CallbackHandle,
			&entry.Outcome, &msg, &eventAt, &dispatchedAt, &completed); err != nil {
			return nil, fmt.Errorf("scan dispatch_log: %w", err)
		}
		entry.EventSource = source.String
		entry.Message = msg.String
		entry.EventAt = parseTime(eventAt)
		entry.DispatchedAt = parseTime(dispatchedAt)
		entry.CompletedAt = parseTime(completed)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read dispatch_log: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteStore keeps handles in the handle_store table.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save overwrites both handles in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, h Handles) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for key, value := range map[string]int64{
		KeyDispatcher: h.Dispatcher,
		KeyCallback:   h.Callback,
	} {
		_, err := tx.ExecContext(ctx, `
INSERT INTO handle_store(namespace, key, value, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(namespace, key) DO UPDATE SET
  value = excluded.value,
  updated_at = excluded.updated_at;
`, Namespace, key, value, now)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Load returns the persisted handles; absent keys read back as zero.
func (s *SQLiteStore) Load(ctx context.Context) (Handles, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM handle_store WHERE namespace = ?;", Namespace)
	if err != nil {
		return Handles{}, fmt.Errorf("read handles: %w", err)
	}
	defer rows.Close()

	var h Handles
	for rows.Next() {
		var (
			key   string
			value int64
		)
		if err := rows.Scan(&key, &value); err != nil {
			return Handles{}, fmt.Errorf("scan handle: %w", err)
		}
		switch key {
		case KeyDispatcher:
			h.Dispatcher = value
		case KeyCallback:
			h.Callback = value
		}
	}
	if err := rows.Err(); err != nil {
		return Handles{}, fmt.Errorf("read handles: %w", err)
	}
	return h, nil
}

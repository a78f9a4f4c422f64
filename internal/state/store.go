// Package state persists the cross-run sync state: delta cursors per
// (user, folder) and the idempotency ledger of already-processed
// (message, purpose) pairs.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Cursor is the stored delta-sync checkpoint for one (user, folder).
type Cursor struct {
	Token      string // "" when cleared or never established
	LastSyncAt time.Time
}

// Store wraps the sqlite database holding sync cursors and processed
// markers.
type Store struct {
	DB *sql.DB
}

// Open opens or creates the state database at dbPath and applies the
// schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

// GetCursor loads the cursor for (userID, folder). Returns nil when no
// row exists yet, i.e. this folder has never completed a sync.
func (s *Store) GetCursor(ctx context.Context, userID, folder string) (*Cursor, error) {
	var token sql.NullString
	var lastSync sql.NullInt64

	err := s.DB.QueryRowContext(ctx, `
		SELECT continuation_token, last_sync_at
		FROM sync_cursors
		WHERE user_id = ? AND folder = ?
	`, userID, folder).Scan(&token, &lastSync)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load cursor: %w", err)
	}

	cur := &Cursor{Token: token.String}
	if lastSync.Valid {
		cur.LastSyncAt = time.Unix(lastSync.Int64, 0)
	}
	return cur, nil
}

// SaveCursor upserts the continuation token for (userID, folder) and
// stamps last_sync_at. The token is opaque and stored verbatim.
func (s *Store) SaveCursor(ctx context.Context, userID, folder, token string) error {
	now := time.Now().Unix()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sync_cursors (user_id, folder, continuation_token, last_sync_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, folder) DO UPDATE SET
			continuation_token = excluded.continuation_token,
			last_sync_at = excluded.last_sync_at,
			updated_at = excluded.updated_at
	`, userID, folder, token, now, now)

	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// ClearCursor nulls the continuation token for (userID, folder) without
// deleting the row, so the last-sync history survives. A missing row is
// fine; clearing it is a no-op.
func (s *Store) ClearCursor(ctx context.Context, userID, folder string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE sync_cursors
		SET continuation_token = NULL, updated_at = ?
		WHERE user_id = ? AND folder = ?
	`, time.Now().Unix(), userID, folder)

	if err != nil {
		return fmt.Errorf("failed to clear cursor: %w", err)
	}
	return nil
}

// filterChunkSize keeps each marker query comfortably under sqlite's
// bind-variable limit.
const filterChunkSize = 500

// FilterUnprocessed returns the subset of ids that has no processed
// marker for the given purpose. An empty input returns an empty slice
// without touching the database. Large inputs are queried in chunks.
func (s *Store) FilterUnprocessed(ctx context.Context, ids []string, purpose string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	processed := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += filterChunkSize {
		end := start + filterChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := s.loadMarked(ctx, ids[start:end], purpose, processed); err != nil {
			return nil, err
		}
	}

	var unprocessed []string
	for _, id := range ids {
		if !processed[id] {
			unprocessed = append(unprocessed, id)
		}
	}
	return unprocessed, nil
}

// loadMarked records into processed every id of the chunk that already
// carries a marker for purpose.
func (s *Store) loadMarked(ctx context.Context, ids []string, purpose string, processed map[string]bool) error {
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, purpose)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT message_id FROM processed_markers
		WHERE purpose = ? AND message_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to query markers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan marker: %w", err)
		}
		processed[id] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read markers: %w", err)
	}
	return nil
}

// MarkProcessed records that messageID has been handled for purpose.
// A marker that already exists is success, not an error, so concurrent
// or retried runs can mark redundantly.
func (s *Store) MarkProcessed(ctx context.Context, messageID, purpose string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_markers (message_id, purpose, processed_at)
		VALUES (?, ?, ?)
	`, messageID, purpose, time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to mark processed: %w", err)
	}
	return nil
}

// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides syncable snapshot persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/weft/internal/syncable"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS syncables (
			type       TEXT NOT NULL,
			id         TEXT NOT NULL,
			doc        TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			PRIMARY KEY (type, id)
		);

		CREATE INDEX IF NOT EXISTS idx_syncables_type ON syncables(type);

		CREATE TABLE IF NOT EXISTS change_log (
			uid          TEXT PRIMARY KEY,
			change_type  TEXT NOT NULL,
			actor_type   TEXT NOT NULL,
			actor_id     TEXT NOT NULL,
			processed_at TEXT NOT NULL,
			error        TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_change_log_processed
			ON change_log(processed_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// LoadAll returns every persisted syncable record. Order follows the primary
// key, which keeps startup loads deterministic.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]*syncable.Syncable, error) {
	query := `
		SELECT doc
		FROM syncables
		ORDER BY type, id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying syncables: %w", err)
	}
	defer rows.Close()

	var records []*syncable.Syncable
	for rows.Next() {
		var docJSON string
		if err := rows.Scan(&docJSON); err != nil {
			return nil, fmt.Errorf("scanning syncable row: %w", err)
		}

		var doc map[string]any
		if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
			return nil, fmt.Errorf("decoding syncable doc: %w", err)
		}
		rec, err := syncable.FromDoc(doc)
		if err != nil {
			return nil, fmt.Errorf("rebuilding syncable: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating syncable rows: %w", err)
	}

	return records, nil
}

// Upsert writes a snapshot, replacing any previous version of the identity.
func (s *SQLiteStore) Upsert(ctx context.Context, rec *syncable.Syncable) error {
	doc, err := rec.Doc()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", rec.Ref(), err)
	}
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", rec.Ref(), err)
	}

	query := `
		INSERT INTO syncables (type, id, doc, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (type, id) DO UPDATE SET
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.Type,
		string(rec.ID),
		string(docJSON),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting syncable: %w", err)
	}

	s.logger.Debug("persisted syncable", "ref", rec.Ref().String())
	return nil
}

// Delete removes a snapshot. Returns ErrNotFound when the identity was never
// persisted.
func (s *SQLiteStore) Delete(ctx context.Context, ref syncable.Ref) error {
	query := `DELETE FROM syncables WHERE type = ? AND id = ?`

	result, err := s.db.ExecContext(ctx, query, ref.Type, string(ref.ID))
	if err != nil {
		return fmt.Errorf("deleting syncable: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted syncable", "ref", ref.String())
	return nil
}

// AppendChange records one processed change. Duplicate UIDs are ignored so a
// redelivered packet does not fail the write path.
func (s *SQLiteStore) AppendChange(ctx context.Context, rec *ChangeRecord) error {
	query := `
		INSERT INTO change_log (uid, change_type, actor_type, actor_id, processed_at, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (uid) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.UID,
		rec.ChangeType,
		rec.ActorType,
		rec.ActorID,
		rec.ProcessedAt.UTC().Format(time.RFC3339),
		nullString(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("appending change record: %w", err)
	}
	return nil
}

// ListChanges returns the most recent change records, newest first.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListChanges(ctx context.Context, limit int) ([]*ChangeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT uid, change_type, actor_type, actor_id, processed_at, error
		FROM change_log
		ORDER BY processed_at DESC, uid
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying change log: %w", err)
	}
	defer rows.Close()

	var records []*ChangeRecord
	for rows.Next() {
		var rec ChangeRecord
		var processedAtStr string
		var errStr sql.NullString

		if err := rows.Scan(&rec.UID, &rec.ChangeType, &rec.ActorType, &rec.ActorID, &processedAtStr, &errStr); err != nil {
			return nil, fmt.Errorf("scanning change record: %w", err)
		}

		rec.ProcessedAt, err = time.Parse(time.RFC3339, processedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing processed_at: %w", err)
		}
		if errStr.Valid {
			rec.Error = errStr.String
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating change records: %w", err)
	}

	return records, nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)

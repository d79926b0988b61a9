package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store keeps the fetch history in SQLite
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the database at dbPath, creating its directory if needed, and
// runs migrations. ":memory:" opens a private in-memory database.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("history store opened", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// RecordFetch inserts rec and sets its ID
func (s *Store) RecordFetch(rec *FetchRecord) error {
	const query = `
		INSERT INTO fetches (
			source_url, fetched_at, origin, mirror_count, last_check, duration_ms, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var lastCheck sql.NullTime
	if !rec.LastCheck.IsZero() {
		lastCheck = sql.NullTime{Time: rec.LastCheck.UTC(), Valid: true}
	}

	result, err := s.db.Exec(
		query,
		rec.SourceURL, rec.FetchedAt.UTC(), rec.Origin, rec.MirrorCount,
		lastCheck, rec.Duration.Milliseconds(), rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert fetch record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	return nil
}

// ListFetches returns the most recent records, newest first. An empty
// sourceURL lists every source; limit <= 0 means no limit.
func (s *Store) ListFetches(sourceURL string, limit int) ([]FetchRecord, error) {
	query := `
		SELECT id, source_url, fetched_at, origin, mirror_count, last_check, duration_ms, error_message
		FROM fetches
	`
	var args []any
	if sourceURL != "" {
		query += " WHERE source_url = ?"
		args = append(args, sourceURL)
	}
	query += " ORDER BY fetched_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetches: %w", err)
	}
	defer rows.Close()

	var records []FetchRecord
	for rows.Next() {
		var (
			rec        FetchRecord
			lastCheck  sql.NullTime
			durationMs int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.SourceURL, &rec.FetchedAt, &rec.Origin, &rec.MirrorCount,
			&lastCheck, &durationMs, &rec.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fetch record: %w", err)
		}
		if lastCheck.Valid {
			rec.LastCheck = lastCheck.Time
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fetch records: %w", err)
	}

	return records, nil
}

// PruneFetches deletes records older than before and returns how many were removed.
func (s *Store) PruneFetches(before time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM fetches WHERE fetched_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune fetch records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

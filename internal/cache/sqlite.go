package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"sift/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS evaluation_cache (
	key         TEXT PRIMARY KEY,
	evaluation  TEXT NOT NULL,
	inserted_at INTEGER NOT NULL
);`

// SQLiteStore persists cache contents between CLI runs.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the cache database at path. ":memory:" is accepted.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load restores persisted rows into c, skipping rows older than the cache TTL.
func (s *SQLiteStore) Load(ctx context.Context, c *Cache) (int, error) {
	query := `SELECT key, evaluation, inserted_at FROM evaluation_cache ORDER BY inserted_at`
	args := []interface{}{}
	if ttl := c.TTL(); ttl > 0 {
		query = `SELECT key, evaluation, inserted_at FROM evaluation_cache WHERE inserted_at >= ? ORDER BY inserted_at`
		args = append(args, time.Now().Add(-ttl).UnixNano())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to query cache rows: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			key, raw string
			nanos    int64
		)
		if err := rows.Scan(&key, &raw, &nanos); err != nil {
			return 0, fmt.Errorf("failed to scan cache row: %w", err)
		}
		var eval models.AIEvaluation
		if err := json.Unmarshal([]byte(raw), &eval); err != nil {
			log.Warnf("Skipping corrupt cache row %s: %v", key, err)
			continue
		}
		entries = append(entries, Entry{Key: key, Value: eval, InsertedAt: time.Unix(0, nanos)})
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating cache rows: %w", err)
	}

	loaded := c.Restore(entries)
	log.Debugf("Loaded %d cached evaluations", loaded)
	return loaded, nil
}

// Save replaces the persisted rows with the live contents of c.
func (s *SQLiteStore) Save(ctx context.Context, c *Cache) error {
	entries := c.Snapshot()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM evaluation_cache`); err != nil {
		return fmt.Errorf("failed to clear cache table: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO evaluation_cache (key, evaluation, inserted_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare cache insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		raw, err := json.Marshal(e.Value)
		if err != nil {
			return fmt.Errorf("failed to encode cache entry %s: %w", e.Key, err)
		}
		if _, err := stmt.ExecContext(ctx, e.Key, string(raw), e.InsertedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert cache entry %s: %w", e.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache transaction: %w", err)
	}
	log.Debugf("Saved %d cached evaluations", len(entries))
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package gateway

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteDedup persists processed keys so duplicates are still rejected after
// a bridge restart. The inflight set stays in memory: it only guards
// concurrent delivery within one process.
type sqliteDedup struct {
	db  *sql.DB
	ttl time.Duration

	mu       sync.Mutex
	inflight map[string]bool
}

// NewSQLiteDedup opens (and migrates) the dedup database at path.
func NewSQLiteDedup(path string, ttl time.Duration) (DedupStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open dedup db: %w", err)
	}
	// Serialized access keeps the single-writer model simple.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS processed_updates (
			key TEXT PRIMARY KEY,
			processed_at INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate dedup db: %w", err)
	}
	return &sqliteDedup{db: db, ttl: ttl, inflight: make(map[string]bool)}, nil
}

func (d *sqliteDedup) Reserve(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().Unix()
	if d.ttl > 0 {
		cutoff := now - int64(d.ttl/time.Second)
		if _, err := d.db.Exec(`DELETE FROM processed_updates WHERE processed_at < ?`, cutoff); err != nil {
			// Pruning is best-effort; a stale row only delays reprocessing.
			_ = err
		}
	}

	var found string
	err := d.db.QueryRow(`SELECT key FROM processed_updates WHERE key = ?`, key).Scan(&found)
	if err == nil {
		return false
	}
	if d.inflight[key] {
		return false
	}
	d.inflight[key] = true
	return true
}

func (d *sqliteDedup) Finish(key string, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, key)
	if success {
		_, _ = d.db.Exec(
			`INSERT OR REPLACE INTO processed_updates (key, processed_at) VALUES (?, ?)`,
			key, time.Now().Unix(),
		)
	}
}

func (d *sqliteDedup) Close() error { return d.db.Close() }

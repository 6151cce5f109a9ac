// Package registry tracks topics that were already broadcast, so a story
// resurfacing days later is recognized across flush cycles. This is distinct
// from intra-cycle cluster matching: records here outlive the cluster buffer
// and expire on a fixed retention window.
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"loopcast/internal/fingerprint"
)

// TTL is how long a published topic stays eligible for follow-up matching.
const TTL = 72 * time.Hour

// TopicRecord is a previously broadcast topic.
type TopicRecord struct {
	Title      string
	Summary    string
	RecordedAt time.Time
}

// Registry is the SQLite-backed cross-cycle topic history.
type Registry struct {
	mu  sync.Mutex
	db  *sql.DB
	ttl time.Duration
}

// Open creates or opens the registry database under dataDir.
func Open(dataDir string) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, "topics.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	r := &Registry{db: db, ttl: TTL}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS topics (
		hash INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		summary TEXT NOT NULL,
		recorded_at INTEGER NOT NULL
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return r, nil
}

// Close closes the database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

// IsDuplicate scans the registry for a record within the length-dependent
// fingerprint distance of text and returns the first match. The fingerprint
// alone decides here; no collaborator confirmation is involved.
func (r *Registry) IsDuplicate(text string) (*TopicRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := fingerprint.Hash(text)
	threshold := fingerprint.Threshold(text)

	rows, err := r.db.Query(`SELECT hash, title, summary, recorded_at FROM topics`)
	if err != nil {
		return nil, fmt.Errorf("failed to query topics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stored int64
		var rec TopicRecord
		var recordedAt int64
		if err := rows.Scan(&stored, &rec.Title, &rec.Summary, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		if fingerprint.Distance(uint64(stored), hash) < threshold {
			rec.RecordedAt = time.Unix(recordedAt, 0)
			return &rec, nil
		}
	}
	return nil, rows.Err()
}

// Record upserts a topic keyed by the fingerprint of text.
func (r *Registry) Record(text, title, summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := fingerprint.Hash(text)
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO topics (hash, title, summary, recorded_at) VALUES (?, ?, ?, ?)`,
		int64(hash), title, summary, time.Now().Unix())
	return err
}

// Prune removes records older than the retention window and returns the
// number removed. Run at startup and periodically thereafter.
func (r *Registry) Prune() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.ttl).Unix()
	res, err := r.db.Exec(`DELETE FROM topics WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune topics: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// setTTL overrides the retention window. Tests only.
func (r *Registry) setTTL(ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ttl = ttl
}

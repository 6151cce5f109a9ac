// Package cluster provides the persistent buffer of topic clusters and the
// processed-link set used for source-level deduplication.
package cluster

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"loopcast/internal/core"
	"loopcast/internal/fingerprint"
)

// DefaultLinkRetention bounds how long processed links are remembered.
const DefaultLinkRetention = 72 * time.Hour

// Store is the SQLite-backed cluster buffer. All operations run under one
// mutex so multi-step read-modify-store sequences are atomic relative to
// each other; callers never hold cluster state across operations.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the cluster buffer database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "clusters.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS clusters (
			category TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (category, id)
		);`,
		`CREATE TABLE IF NOT EXISTS processed_links (
			link TEXT PRIMARY KEY,
			seen_at INTEGER NOT NULL
		);`,
	}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put upserts a cluster keyed by (category, id).
func (s *Store) Put(c core.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize cluster: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO clusters (category, id, data, created_at) VALUES (?, ?, ?, ?)`,
		c.MainItem.Category, c.ID, string(data), c.CreatedAt,
	)
	return err
}

// ListByCategory returns all buffered clusters of one category.
func (s *Store) ListByCategory(category string) ([]core.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(category)
}

func (s *Store) listLocked(category string) ([]core.Cluster, error) {
	rows, err := s.db.Query(
		`SELECT data FROM clusters WHERE category = ? ORDER BY created_at, id`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []core.Cluster
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		var c core.Cluster
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("failed to deserialize cluster: %w", err)
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// FindSimilar returns the category's clusters whose fingerprint lies within
// threshold Hamming distance of hash.
func (s *Store) FindSimilar(category string, hash uint64, threshold int) ([]core.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clusters, err := s.listLocked(category)
	if err != nil {
		return nil, err
	}
	var similar []core.Cluster
	for _, c := range clusters {
		if fingerprint.Distance(c.Fingerprint, hash) < threshold {
			similar = append(similar, c)
		}
	}
	return similar, nil
}

// Stats returns per-category cluster counts and oldest creation timestamps.
func (s *Store) Stats() (map[string]core.CategoryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT category, COUNT(*), MIN(created_at) FROM clusters GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]core.CategoryStats)
	for rows.Next() {
		var category string
		var cs core.CategoryStats
		if err := rows.Scan(&category, &cs.Count, &cs.OldestCreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats[category] = cs
	}
	return stats, rows.Err()
}

// Remove deletes the named clusters from a category. Used only as the
// acknowledgment after confirmed downstream delivery.
func (s *Store) Remove(category string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM clusters WHERE category = ? AND id = ?`, category, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to remove cluster %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// HasProcessedLink reports whether link was already ingested recently.
func (s *Store) HasProcessedLink(link string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM processed_links WHERE link = ?`, link).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check link: %w", err)
	}
	return n > 0, nil
}

// MarkLinkProcessed records link with the current timestamp.
func (s *Store) MarkLinkProcessed(link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO processed_links (link, seen_at) VALUES (?, ?)`,
		link, time.Now().Unix())
	return err
}

// PruneLinks removes processed links older than retention and returns the
// number removed.
func (s *Store) PruneLinks(retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention).Unix()
	res, err := s.db.Exec(`DELETE FROM processed_links WHERE seen_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune links: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

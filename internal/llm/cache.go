package llm

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultCacheTTL is how long a cached response stays valid.
const DefaultCacheTTL = 7 * 24 * time.Hour

// Cache is the SQLite-backed response cache, keyed by prompt content hash.
type Cache struct {
	mu  sync.Mutex
	db  *sql.DB
	ttl time.Duration
}

// OpenCache creates or opens the response cache under dataDir.
func OpenCache(dataDir string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, "llm_cache.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS responses (
		prompt_hash TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &Cache{db: db, ttl: ttl}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached content for key when present and younger than the
// TTL.
func (c *Cache) Get(key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl).Unix()
	var content string
	err := c.db.QueryRow(
		`SELECT content FROM responses WHERE prompt_hash = ? AND created_at > ?`,
		key, cutoff).Scan(&content)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cache: %w", err)
	}
	return content, true, nil
}

// Put stores content under key, replacing any stale entry.
func (c *Cache) Put(key, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO responses (prompt_hash, content, created_at) VALUES (?, ?, ?)`,
		key, content, time.Now().Unix())
	return err
}

// GC deletes entries older than the TTL and returns the number removed.
// Intended to run on a periodic background sweep.
func (c *Cache) GC() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl).Unix()
	res, err := c.db.Exec(`DELETE FROM responses WHERE created_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to collect cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

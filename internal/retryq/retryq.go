// Package retryq persists delivery actions that failed against the content
// store and replays them on a timer until they succeed.
package retryq

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"loopcast/internal/contentstore"
	"loopcast/internal/logger"
)

// Action kinds. The tag is part of the persisted format.
const (
	KindUploadAudio = "upload_audio"
	KindPushItem    = "push_item"
	KindMarkURL     = "mark_url"
)

// Action is one queued delivery attempt. Exactly one of the variant fields
// is populated, selected by Kind.
type Action struct {
	Kind string `json:"kind"`

	// KindUploadAudio
	Filename  string `json:"filename,omitempty"`
	LocalPath string `json:"local_path,omitempty"`

	// KindPushItem
	Payload *contentstore.Payload `json:"payload,omitempty"`

	// KindMarkURL
	URL      string `json:"url,omitempty"`
	Category string `json:"category,omitempty"`
}

// UploadAudio builds an action that re-uploads audio cached at localPath.
func UploadAudio(filename, localPath string) Action {
	return Action{Kind: KindUploadAudio, Filename: filename, LocalPath: localPath}
}

// PushItem builds an action that re-pushes an item payload.
func PushItem(payload contentstore.Payload) Action {
	return Action{Kind: KindPushItem, Payload: &payload}
}

// MarkURL builds an action that re-marks a source URL.
func MarkURL(url, category string) Action {
	return Action{Kind: KindMarkURL, URL: url, Category: category}
}

// Executor performs the underlying delivery calls. Implemented by the
// content-store client; faked in tests.
type Executor interface {
	UploadFile(ctx context.Context, data []byte, filename, mimeType string) (string, error)
	PushItem(ctx context.Context, item contentstore.Payload) error
	MarkURL(ctx context.Context, url, category string) error
}

// Queue is the SQLite-backed retry log. Sweeps attempt every pending action;
// actions are independent and carry no ordering guarantee between them.
type Queue struct {
	mu       sync.Mutex
	db       *sql.DB
	exec     Executor
	audioDir string
}

// Open creates or opens the retry queue under dataDir. Audio bytes awaiting
// re-upload are cached under dataDir/audio_cache.
func Open(dataDir string, exec Executor) (*Queue, error) {
	audioDir := filepath.Join(dataDir, "audio_cache")
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio cache: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, "retry.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &Queue{db: db, exec: exec, audioDir: audioDir}, nil
}

// Close closes the database connection.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue persists an action under a fresh key.
func (q *Queue) Enqueue(action Action) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to serialize action: %w", err)
	}
	id := uuid.NewString()
	if _, err := q.db.Exec(`INSERT INTO actions (id, data) VALUES (?, ?)`, id, string(data)); err != nil {
		return fmt.Errorf("failed to enqueue action: %w", err)
	}
	logger.Info("enqueued retry action", "id", id, "kind", action.Kind)
	return nil
}

// Pending returns the number of queued actions.
func (q *Queue) Pending() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM actions`).Scan(&n)
	return n, err
}

// CacheAudio saves audio bytes to local disk for a later UploadAudio replay
// and returns the cache path.
func (q *Queue) CacheAudio(data []byte, filename string) (string, error) {
	path := filepath.Join(q.audioDir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to cache audio: %w", err)
	}
	return path, nil
}

// Sweep attempts every pending action once. Success removes the entry (and
// any cached file); failure leaves it for the next sweep.
func (q *Queue) Sweep(ctx context.Context) error {
	q.mu.Lock()
	rows, err := q.db.Query(`SELECT id, data FROM actions`)
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("failed to query actions: %w", err)
	}
	type entry struct {
		id     string
		action Action
	}
	var entries []entry
	for rows.Next() {
		var e entry
		var data string
		if err := rows.Scan(&e.id, &data); err != nil {
			rows.Close()
			q.mu.Unlock()
			return fmt.Errorf("failed to scan action: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &e.action); err != nil {
			logger.Warn("dropping unreadable retry action", "id", e.id, "error", err.Error())
			continue
		}
		entries = append(entries, e)
	}
	rows.Close()
	q.mu.Unlock()

	for _, e := range entries {
		if err := q.execute(ctx, e.action); err != nil {
			logger.Warn("retry action failed, keeping", "id", e.id, "kind", e.action.Kind, "error", err.Error())
			continue
		}
		q.mu.Lock()
		_, err := q.db.Exec(`DELETE FROM actions WHERE id = ?`, e.id)
		q.mu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to remove action %s: %w", e.id, err)
		}
		if e.action.Kind == KindUploadAudio && e.action.LocalPath != "" {
			_ = os.Remove(e.action.LocalPath)
		}
		logger.Info("retry action succeeded", "id", e.id, "kind", e.action.Kind)
	}
	return nil
}

func (q *Queue) execute(ctx context.Context, action Action) error {
	switch action.Kind {
	case KindUploadAudio:
		data, err := os.ReadFile(action.LocalPath)
		if err != nil {
			return fmt.Errorf("failed to read cached audio: %w", err)
		}
		_, err = q.exec.UploadFile(ctx, data, action.Filename, "audio/mpeg")
		return err
	case KindPushItem:
		if action.Payload == nil {
			return fmt.Errorf("push action missing payload")
		}
		return q.exec.PushItem(ctx, *action.Payload)
	case KindMarkURL:
		return q.exec.MarkURL(ctx, action.URL, action.Category)
	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

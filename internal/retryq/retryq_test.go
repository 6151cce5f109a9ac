package retryq

import (
	"context"
	"fmt"
	"os"
	"testing"

	"loopcast/internal/contentstore"
)

// flakyExecutor fails each call a configured number of times, then succeeds.
type flakyExecutor struct {
	failures int
	uploads  []string
	pushes   []contentstore.Payload
	marks    []string
}

func (f *flakyExecutor) attempt() error {
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("transient failure")
	}
	return nil
}

func (f *flakyExecutor) UploadFile(_ context.Context, _ []byte, filename, _ string) (string, error) {
	if err := f.attempt(); err != nil {
		return "", err
	}
	f.uploads = append(f.uploads, filename)
	return "/audio/" + filename, nil
}

func (f *flakyExecutor) PushItem(_ context.Context, item contentstore.Payload) error {
	if err := f.attempt(); err != nil {
		return err
	}
	f.pushes = append(f.pushes, item)
	return nil
}

func (f *flakyExecutor) MarkURL(_ context.Context, url, _ string) error {
	if err := f.attempt(); err != nil {
		return err
	}
	f.marks = append(f.marks, url)
	return nil
}

func newTestQueue(t *testing.T, exec Executor) *Queue {
	t.Helper()
	q, err := Open(t.TempDir(), exec)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestSweepFailThenSucceed(t *testing.T) {
	exec := &flakyExecutor{failures: 1}
	q := newTestQueue(t, exec)

	path, err := q.CacheAudio([]byte("pcm bytes"), "episode.mp3")
	if err != nil {
		t.Fatalf("CacheAudio failed: %v", err)
	}
	if err := q.Enqueue(UploadAudio("episode.mp3", path)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// First sweep fails; the entry and the cached file survive.
	if err := q.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n, _ := q.Pending(); n != 1 {
		t.Fatalf("expected 1 pending after failed sweep, got %d", n)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cached audio removed after failed sweep: %v", err)
	}

	// Second sweep succeeds; the entry and the cached file are gone.
	if err := q.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n, _ := q.Pending(); n != 0 {
		t.Errorf("expected 0 pending after successful sweep, got %d", n)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("cached audio should be deleted after success, stat err: %v", err)
	}
	if len(exec.uploads) != 1 || exec.uploads[0] != "episode.mp3" {
		t.Errorf("unexpected uploads: %v", exec.uploads)
	}
}

func TestSweepExecutesAllVariants(t *testing.T) {
	exec := &flakyExecutor{}
	q := newTestQueue(t, exec)

	path, err := q.CacheAudio([]byte("pcm"), "a.mp3")
	if err != nil {
		t.Fatalf("CacheAudio failed: %v", err)
	}
	actions := []Action{
		UploadAudio("a.mp3", path),
		PushItem(contentstore.Payload{Title: "Tech Digest"}),
		MarkURL("https://example.com/x", "Tech"),
	}
	for _, a := range actions {
		if err := q.Enqueue(a); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	if err := q.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n, _ := q.Pending(); n != 0 {
		t.Errorf("expected empty queue, got %d pending", n)
	}
	if len(exec.pushes) != 1 || exec.pushes[0].Title != "Tech Digest" {
		t.Errorf("push not executed: %v", exec.pushes)
	}
	if len(exec.marks) != 1 || exec.marks[0] != "https://example.com/x" {
		t.Errorf("mark not executed: %v", exec.marks)
	}
}

func TestSweepKeepsIndependentActions(t *testing.T) {
	// One action fails forever, another succeeds; the failure must not block
	// the rest of the queue.
	exec := &flakyExecutor{failures: 1}
	q := newTestQueue(t, exec)

	if err := q.Enqueue(MarkURL("https://example.com/1", "Tech")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(MarkURL("https://example.com/2", "Tech")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := q.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	// The single injected failure hit one action; the other went through.
	if n, _ := q.Pending(); n != 1 {
		t.Errorf("expected 1 pending, got %d", n)
	}
	if len(exec.marks) != 1 {
		t.Errorf("expected 1 successful mark, got %d", len(exec.marks))
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	exec := &flakyExecutor{}

	q, err := Open(dir, exec)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := q.Enqueue(PushItem(contentstore.Payload{Title: "persisted"})); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	q.Close()

	q2, err := Open(dir, exec)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer q2.Close()

	if n, _ := q2.Pending(); n != 1 {
		t.Fatalf("expected persisted action after reopen, got %d", n)
	}
	if err := q2.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(exec.pushes) != 1 || exec.pushes[0].Title != "persisted" {
		t.Errorf("persisted action not replayed: %v", exec.pushes)
	}
}

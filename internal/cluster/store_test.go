package cluster

import (
	"testing"
	"time"

	"loopcast/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testItem(title, category string) core.PendingItem {
	return core.PendingItem{
		Title:       title,
		Link:        "https://example.com/" + title,
		Description: "description of " + title,
		Category:    category,
		SourceName:  "Example Wire",
		Timestamp:   time.Now().Unix(),
	}
}

func TestPutAndListByCategory(t *testing.T) {
	s := newTestStore(t)

	c := core.NewCluster(testItem("one", "Tech"))
	if err := s.Put(c); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.ListByCategory("Tech")
	if err != nil {
		t.Fatalf("ListByCategory failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(got))
	}
	if got[0].ID != c.ID || got[0].MainItem.Title != "one" {
		t.Errorf("round-trip mismatch: %+v", got[0])
	}
	if len(got[0].RelatedItems) != 0 {
		t.Errorf("new cluster should have no related items, got %d", len(got[0].RelatedItems))
	}
}

func TestPutUpsertsByCategoryAndID(t *testing.T) {
	s := newTestStore(t)

	c := core.NewCluster(testItem("one", "Tech"))
	if err := s.Put(c); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	c.AddRelated(testItem("one followup", "Tech"))
	if err := s.Put(c); err != nil {
		t.Fatalf("Put (update) failed: %v", err)
	}

	got, err := s.ListByCategory("Tech")
	if err != nil {
		t.Fatalf("ListByCategory failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("upsert should not duplicate, got %d clusters", len(got))
	}
	if len(got[0].RelatedItems) != 1 {
		t.Errorf("expected 1 related item after update, got %d", len(got[0].RelatedItems))
	}
}

func TestFindSimilarRespectsCategory(t *testing.T) {
	s := newTestStore(t)

	item := testItem("same headline either way", "Tech")
	other := item
	other.Category = "Economy"
	other.Link = "https://example.com/other"

	if err := s.Put(core.NewCluster(item)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(core.NewCluster(other)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	hash := core.ItemFingerprint(item)
	similar, err := s.FindSimilar("Tech", hash, 10)
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}
	for _, c := range similar {
		if c.MainItem.Category != "Tech" {
			t.Errorf("FindSimilar returned cluster from category %q", c.MainItem.Category)
		}
	}
	if len(similar) != 1 {
		t.Errorf("expected exactly the Tech cluster, got %d", len(similar))
	}
}

func TestFindSimilarThreshold(t *testing.T) {
	s := newTestStore(t)

	item := testItem("quarterly earnings beat analyst expectations", "Economy")
	if err := s.Put(core.NewCluster(item)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	unrelated := testItem("local sports team wins championship final", "Economy")
	similar, err := s.FindSimilar("Economy", core.ItemFingerprint(unrelated), 3)
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}
	if len(similar) != 0 {
		t.Errorf("unrelated text should not pass a tight threshold, got %d matches", len(similar))
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)

	older := core.NewCluster(testItem("old", "Tech"))
	older.CreatedAt = time.Now().Add(-2 * time.Hour).Unix()
	newer := core.NewCluster(testItem("new", "Tech"))

	if err := s.Put(older); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(newer); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	cs, ok := stats["Tech"]
	if !ok {
		t.Fatal("expected Tech in stats")
	}
	if cs.Count != 2 {
		t.Errorf("expected count 2, got %d", cs.Count)
	}
	if cs.OldestCreatedAt != older.CreatedAt {
		t.Errorf("expected oldest %d, got %d", older.CreatedAt, cs.OldestCreatedAt)
	}
}

func TestRemoveOnlyNamedClusters(t *testing.T) {
	s := newTestStore(t)

	keep := core.NewCluster(testItem("keep", "Tech"))
	drop := core.NewCluster(testItem("drop", "Tech"))
	for _, c := range []core.Cluster{keep, drop} {
		if err := s.Put(c); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	if err := s.Remove("Tech", []string{drop.ID}); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	got, err := s.ListByCategory("Tech")
	if err != nil {
		t.Fatalf("ListByCategory failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != keep.ID {
		t.Errorf("expected only %s retained, got %+v", keep.ID, got)
	}
}

func TestProcessedLinks(t *testing.T) {
	s := newTestStore(t)

	link := "https://example.com/article"
	seen, err := s.HasProcessedLink(link)
	if err != nil {
		t.Fatalf("HasProcessedLink failed: %v", err)
	}
	if seen {
		t.Error("unseen link reported as processed")
	}

	if err := s.MarkLinkProcessed(link); err != nil {
		t.Fatalf("MarkLinkProcessed failed: %v", err)
	}
	seen, err = s.HasProcessedLink(link)
	if err != nil {
		t.Fatalf("HasProcessedLink failed: %v", err)
	}
	if !seen {
		t.Error("marked link not reported as processed")
	}

	// Fresh entries survive a prune; zero-retention removes everything.
	if n, err := s.PruneLinks(DefaultLinkRetention); err != nil || n != 0 {
		t.Errorf("PruneLinks(retention) = %d, %v; want 0, nil", n, err)
	}
	if n, err := s.PruneLinks(-time.Second); err != nil || n != 1 {
		t.Errorf("PruneLinks(-1s) = %d, %v; want 1, nil", n, err)
	}
	seen, _ = s.HasProcessedLink(link)
	if seen {
		t.Error("pruned link still reported as processed")
	}
}

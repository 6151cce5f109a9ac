package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"loopcast/internal/cluster"
	"loopcast/internal/contentstore"
	"loopcast/internal/core"
	"loopcast/internal/retryq"
)

const rssFixture = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Example Wire</title>
    <item>
      <title>First story</title>
      <link>https://example.com/a</link>
      <description><![CDATA[<p>Body &amp; details</p>]]></description>
      <pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
    </item>
    <item>
      <title>No link</title>
      <description>dropped</description>
    </item>
  </channel>
</rss>`

const atomFixture = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example Atom</title>
  <entry>
    <title>Atom story</title>
    <link rel="alternate" href="https://example.com/b"/>
    <summary>Atom summary</summary>
    <published>2026-08-31T10:00:00Z</published>
  </entry>
</feed>`

func TestParseFeedRSS(t *testing.T) {
	items, err := parseFeed([]byte(rssFixture), "example.com")
	if err != nil {
		t.Fatalf("parseFeed failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item (linkless dropped), got %d", len(items))
	}
	it := items[0]
	if it.Title != "First story" || it.Link != "https://example.com/a" {
		t.Errorf("unexpected item: %+v", it)
	}
	if it.SourceName != "example.com" {
		t.Errorf("source name = %q", it.SourceName)
	}
	if it.Published.IsZero() {
		t.Error("pubDate not parsed")
	}
}

func TestParseFeedAtom(t *testing.T) {
	items, err := parseFeed([]byte(atomFixture), "example.com")
	if err != nil {
		t.Fatalf("parseFeed failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(items))
	}
	if items[0].Link != "https://example.com/b" || items[0].Description != "Atom summary" {
		t.Errorf("unexpected entry: %+v", items[0])
	}
	if items[0].Published.UTC().Format("2006-01-02") != "2026-08-31" {
		t.Errorf("published = %v", items[0].Published)
	}
}

func TestNormalizeContent(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"<![CDATA[<p>Body &amp; details</p>]]>", "Body & details"},
		{"<div><p>One</p><p>Two</p><script>alert(1)</script></div>", "One Two"},
		{"plain   text\n\nwith &amp; entity", "plain text with & entity"},
		{"a < b and c > d", "a < b and c > d"},
	}
	for _, c := range cases {
		if got := NormalizeContent(c.in); got != c.want {
			t.Errorf("NormalizeContent(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestClampText(t *testing.T) {
	got := ClampText(strings.Repeat("x", 50), 10)
	if got != strings.Repeat("x", 10)+"..." {
		t.Errorf("ClampText = %q", got)
	}
}

type scriptedGateway struct {
	resp string
	err  error
}

func (g *scriptedGateway) Complete(context.Context, string, bool) (string, error) {
	return g.resp, g.err
}

func TestAnalyzeClassifiesItem(t *testing.T) {
	gw := &scriptedGateway{resp: "```json\n{\"category\": \"Tech\", \"summary\": \"Two sentences.\", \"title\": \"Rewritten\", \"score\": 8}\n```"}
	a := NewAnalyzer(gw, []string{"Tech", "Other"})

	item, err := a.Analyze(context.Background(), RawItem{
		Title: "raw", Link: "https://example.com/a", SourceName: "wire",
		Published: time.Now(),
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if item == nil {
		t.Fatal("expected an item")
	}
	if item.Title != "Rewritten" || item.Category != "Tech" || item.Description != "Two sentences." {
		t.Errorf("unexpected item: %+v", item)
	}
}

func TestAnalyzeDropsAdvertisementsAndGarbage(t *testing.T) {
	ad := &scriptedGateway{resp: `{"category": "Advertisement", "summary": "s", "title": "Buy now"}`}
	item, err := NewAnalyzer(ad, nil).Analyze(context.Background(), RawItem{Title: "ad"})
	if err != nil || item != nil {
		t.Errorf("advertisement must be dropped silently, got %+v, %v", item, err)
	}

	garbage := &scriptedGateway{resp: "not json at all"}
	item, err = NewAnalyzer(garbage, nil).Analyze(context.Background(), RawItem{Title: "x"})
	if err != nil || item != nil {
		t.Errorf("unparseable analysis must be dropped silently, got %+v, %v", item, err)
	}
}

func TestFilterToday(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	items := []RawItem{
		{Link: "a", Published: now.Add(-2 * time.Hour)},
		{Link: "b", Published: now.Add(-30 * time.Hour)},
		{Link: "c"}, // no timestamp
	}
	got := filterToday(items, now)
	if len(got) != 1 || got[0].Link != "a" {
		t.Errorf("filterToday = %+v", got)
	}
}

func TestCycleDueWithSchedule(t *testing.T) {
	r := &Runner{schedule: []string{"08:30", "18:00"}}
	at := func(hhmm string) time.Time {
		ts, _ := time.Parse("2006-01-02 15:04", "2026-08-31 "+hhmm)
		return ts
	}

	r.now = func() time.Time { return at("08:30") }
	due, stamp := r.cycleDue("")
	if !due {
		t.Error("08:30 should be due")
	}
	// Same minute must not fire twice.
	if again, _ := r.cycleDue(stamp); again {
		t.Error("same minute must not run twice")
	}

	r.now = func() time.Time { return at("09:00") }
	if due, _ := r.cycleDue(stamp); due {
		t.Error("09:00 is not on the schedule")
	}
}

func TestCycleDueWithoutSchedule(t *testing.T) {
	r := &Runner{now: time.Now}
	if due, _ := r.cycleDue(""); !due {
		t.Error("interval mode runs on every tick")
	}
}

// --- RunCycle wiring ---

type fixedSource struct{ items []RawItem }

func (s fixedSource) Fetch(context.Context) ([]RawItem, error) { return s.items, nil }

type fakePipe struct {
	pushed []core.PendingItem
	tried  int
	regens int
	tryErr error
}

func (p *fakePipe) PushWithClustering(_ context.Context, item core.PendingItem) (bool, error) {
	p.pushed = append(p.pushed, item)
	return true, nil
}
func (p *fakePipe) TryProcess(context.Context) error           { p.tried++; return p.tryErr }
func (p *fakePipe) ProcessRegenerations(context.Context) error { p.regens++; return nil }

type fakeDedup struct {
	known   []string
	marked  []string
	markErr error
}

func (d *fakeDedup) CheckURLs(_ context.Context, urls []string) ([]string, error) {
	return d.known, nil
}
func (d *fakeDedup) MarkURL(_ context.Context, url, _ string) error {
	if d.markErr != nil {
		return d.markErr
	}
	d.marked = append(d.marked, url)
	return nil
}

type nopExecutor struct{}

func (nopExecutor) UploadFile(context.Context, []byte, string, string) (string, error) {
	return "", nil
}
func (nopExecutor) PushItem(context.Context, contentstore.Payload) error { return nil }
func (nopExecutor) MarkURL(context.Context, string, string) error        { return nil }

func TestRunCycle(t *testing.T) {
	dir := t.TempDir()
	links, err := cluster.Open(dir)
	if err != nil {
		t.Fatalf("opening link store: %v", err)
	}
	defer links.Close()
	retry, err := retryq.Open(dir, nopExecutor{})
	if err != nil {
		t.Fatalf("opening retry queue: %v", err)
	}
	defer retry.Close()

	now := time.Now()
	src := fixedSource{items: []RawItem{
		{Title: "new", Link: "https://example.com/new", Description: "fresh story", SourceName: "wire", Published: now},
		{Title: "known", Link: "https://example.com/known", Published: now},
		{Title: "dupe", Link: "https://example.com/new", Published: now},
		{Title: "stale", Link: "https://example.com/old", Published: now.Add(-48 * time.Hour)},
	}}
	gw := &scriptedGateway{resp: `{"category": "Tech", "summary": "Analyzed.", "title": "New Story", "score": 7}`}
	pipe := &fakePipe{}
	dedup := &fakeDedup{known: []string{"https://example.com/known"}}

	r := NewRunner([]Source{src}, NewAnalyzer(gw, []string{"Tech"}), pipe, dedup, links, retry, nil, nil, time.Hour, nil)
	if err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if pipe.regens != 1 {
		t.Errorf("regeneration pass must run first, ran %d times", pipe.regens)
	}
	if len(pipe.pushed) != 1 || pipe.pushed[0].Title != "New Story" {
		t.Fatalf("expected exactly the fresh item pushed, got %+v", pipe.pushed)
	}
	if pipe.tried != 1 {
		t.Errorf("flush must be attempted once, got %d", pipe.tried)
	}
	if len(dedup.marked) != 1 || dedup.marked[0] != "https://example.com/new" {
		t.Errorf("processed link must be marked remotely: %v", dedup.marked)
	}
	if done, _ := links.HasProcessedLink("https://example.com/new"); !done {
		t.Error("processed link must be recorded locally")
	}

	// A second cycle over the same feed pushes nothing new.
	if err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("second RunCycle failed: %v", err)
	}
	if len(pipe.pushed) != 1 {
		t.Errorf("local link log must prevent reprocessing, pushed %d", len(pipe.pushed))
	}
}

func TestRunCycleDefersFailedMarkURL(t *testing.T) {
	dir := t.TempDir()
	links, _ := cluster.Open(dir)
	defer links.Close()
	retry, _ := retryq.Open(dir, nopExecutor{})
	defer retry.Close()

	now := time.Now()
	src := fixedSource{items: []RawItem{
		{Title: "new", Link: "https://example.com/new", Published: now},
	}}
	gw := &scriptedGateway{resp: `{"category": "Tech", "summary": "s", "title": "T", "score": 5}`}
	dedup := &fakeDedup{markErr: fmt.Errorf("store down")}

	r := NewRunner([]Source{src}, NewAnalyzer(gw, nil), &fakePipe{}, dedup, links, retry, nil, nil, time.Hour, nil)
	if err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	pending, _ := retry.Pending()
	if pending != 1 {
		t.Errorf("failed MarkURL must land in the retry queue, got %d actions", pending)
	}
}

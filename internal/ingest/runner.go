package ingest

import (
	"context"
	"time"

	"loopcast/internal/cluster"
	"loopcast/internal/core"
	"loopcast/internal/llm"
	"loopcast/internal/logger"
	"loopcast/internal/registry"
	"loopcast/internal/retryq"
)

// Background maintenance cadences.
const (
	DefaultInterval    = 60 * time.Minute
	scheduleResolution = time.Minute
	sweepInterval      = 5 * time.Minute
	gcInterval         = time.Hour
	pruneInterval      = 6 * time.Hour
)

// Broadcaster is the production pipeline surface the runner drives.
type Broadcaster interface {
	PushWithClustering(ctx context.Context, item core.PendingItem) (bool, error)
	TryProcess(ctx context.Context) error
	ProcessRegenerations(ctx context.Context) error
}

// Deduper answers which URLs the content store has already seen.
type Deduper interface {
	CheckURLs(ctx context.Context, urls []string) ([]string, error)
	MarkURL(ctx context.Context, url, category string) error
}

// Runner owns the outer loop: fetch, analyze, cluster, flush, plus the
// periodic maintenance tickers.
type Runner struct {
	sources  []Source
	analyzer *Analyzer
	pipe     Broadcaster
	dedup    Deduper
	links    *cluster.Store
	retry    *retryq.Queue
	cache    *llm.Cache
	registry *registry.Registry

	interval time.Duration
	schedule []string // "HH:MM" wall-clock triggers; overrides interval

	now func() time.Time
}

// NewRunner wires the ingest loop. An empty schedule falls back to the
// interval (defaulting to one hour).
func NewRunner(sources []Source, analyzer *Analyzer, pipe Broadcaster, dedup Deduper, links *cluster.Store, retry *retryq.Queue, cache *llm.Cache, reg *registry.Registry, interval time.Duration, schedule []string) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		sources:  sources,
		analyzer: analyzer,
		pipe:     pipe,
		dedup:    dedup,
		links:    links,
		retry:    retry,
		cache:    cache,
		registry: reg,
		interval: interval,
		schedule: schedule,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled. The first cycle fires immediately;
// afterwards the schedule (or interval) decides. Cycle failures are logged
// and retried on the next tick with the buffered data intact.
func (r *Runner) Run(ctx context.Context) {
	if n, err := r.registry.Prune(); err != nil {
		logger.Error("startup registry prune failed", err)
	} else if n > 0 {
		logger.Info("pruned expired topics", "count", n)
	}

	tickInterval := r.interval
	if len(r.schedule) > 0 {
		tickInterval = scheduleResolution
	}
	cycle := time.NewTicker(tickInterval)
	sweep := time.NewTicker(sweepInterval)
	gc := time.NewTicker(gcInterval)
	prune := time.NewTicker(pruneInterval)
	defer cycle.Stop()
	defer sweep.Stop()
	defer gc.Stop()
	defer prune.Stop()

	var lastRun string
	runCycle := func() {
		if err := r.RunCycle(ctx); err != nil {
			logger.Error("cycle failed, will retry next tick", err)
		}
	}

	logger.Info("ingest loop starting", "sources", len(r.sources), "schedule", len(r.schedule) > 0)
	runCycle()
	lastRun = r.now().Format("2006-01-02:15:04")

	for {
		select {
		case <-ctx.Done():
			logger.Info("ingest loop stopping")
			return
		case <-cycle.C:
			due, stamp := r.cycleDue(lastRun)
			if !due {
				continue
			}
			lastRun = stamp
			runCycle()
		case <-sweep.C:
			if err := r.retry.Sweep(ctx); err != nil {
				logger.Warn("retry sweep failed", "error", err.Error())
			}
		case <-gc.C:
			if n, err := r.cache.GC(); err != nil {
				logger.Warn("cache gc failed", "error", err.Error())
			} else if n > 0 {
				logger.Info("cache gc removed entries", "count", n)
			}
		case <-prune.C:
			if _, err := r.registry.Prune(); err != nil {
				logger.Warn("registry prune failed", "error", err.Error())
			}
			if _, err := r.links.PruneLinks(cluster.DefaultLinkRetention); err != nil {
				logger.Warn("link prune failed", "error", err.Error())
			}
		}
	}
}

// cycleDue decides whether a ticker fire should start a cycle. With a
// schedule, the current HH:MM must match a configured time and not have run
// already this minute; without one, every interval tick runs.
func (r *Runner) cycleDue(lastRun string) (bool, string) {
	now := r.now()
	stamp := now.Format("2006-01-02:15:04")
	if len(r.schedule) == 0 {
		return true, stamp
	}
	hhmm := now.Format("15:04")
	for _, t := range r.schedule {
		if t == hhmm && stamp != lastRun {
			return true, stamp
		}
	}
	return false, lastRun
}

// RunCycle executes one full pass: pending regenerations, fetch, today
// filter, dedup, analysis, clustering, flush.
func (r *Runner) RunCycle(ctx context.Context) error {
	if err := r.pipe.ProcessRegenerations(ctx); err != nil {
		logger.Error("regeneration pass failed", err)
	}

	now := r.now()
	var candidates []RawItem
	for _, src := range r.sources {
		items, err := src.Fetch(ctx)
		if err != nil {
			logger.Warn("feed fetch failed", "error", err.Error())
			continue
		}
		candidates = append(candidates, items...)
	}
	if len(candidates) == 0 {
		logger.Info("no items found in any feed")
		return nil
	}

	today := filterToday(candidates, now)
	logger.Info("fetched items", "total", len(candidates), "today", len(today))
	if len(today) == 0 {
		return nil
	}

	fresh, err := r.dropKnown(ctx, today)
	if err != nil {
		return err
	}
	logger.Info("new unique items", "count", len(fresh))

	for _, raw := range fresh {
		item, err := r.analyzer.Analyze(ctx, raw)
		if err != nil {
			logger.Warn("analysis failed, skipping item", "title", raw.Title, "error", err.Error())
			continue
		}
		if item == nil {
			continue
		}

		if _, err := r.pipe.PushWithClustering(ctx, *item); err != nil {
			logger.Warn("clustering failed, skipping item", "title", item.Title, "error", err.Error())
			continue
		}
		if err := r.links.MarkLinkProcessed(item.Link); err != nil {
			logger.Warn("failed to mark link locally", "link", item.Link, "error", err.Error())
		}
		if err := r.dedup.MarkURL(ctx, item.Link, item.Category); err != nil {
			logger.Warn("mark url failed, deferring to retry queue", "link", item.Link)
			if qerr := r.retry.Enqueue(retryq.MarkURL(item.Link, item.Category)); qerr != nil {
				logger.Error("failed to enqueue mark url", qerr)
			}
		}
	}

	return r.pipe.TryProcess(ctx)
}

// filterToday keeps items published on the same local day as now. Items
// without a timestamp are dropped.
func filterToday(items []RawItem, now time.Time) []RawItem {
	y, m, d := now.Date()
	var out []RawItem
	for _, it := range items {
		if it.Published.IsZero() {
			continue
		}
		iy, im, id := it.Published.In(now.Location()).Date()
		if iy == y && im == m && id == d {
			out = append(out, it)
		}
	}
	return out
}

// dropKnown removes items the content store or the local link log has seen,
// and collapses same-link duplicates across feeds.
func (r *Runner) dropKnown(ctx context.Context, items []RawItem) ([]RawItem, error) {
	urls := make([]string, len(items))
	for i, it := range items {
		urls[i] = it.Link
	}
	existing, err := r.dedup.CheckURLs(ctx, urls)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, u := range existing {
		known[u] = true
	}

	seen := make(map[string]bool)
	var out []RawItem
	for _, it := range items {
		if known[it.Link] || seen[it.Link] {
			continue
		}
		if done, err := r.links.HasProcessedLink(it.Link); err == nil && done {
			continue
		}
		seen[it.Link] = true
		out = append(out, it)
	}
	return out, nil
}

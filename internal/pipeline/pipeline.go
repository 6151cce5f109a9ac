// Package pipeline drives the broadcast production flow: incoming items are
// clustered against the pending buffer, buffered categories are flushed into
// episodes once they accumulate enough distinct stories, and finished
// episodes are delivered downstream with a durable retry fallback.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"loopcast/internal/cluster"
	"loopcast/internal/config"
	"loopcast/internal/contentstore"
	"loopcast/internal/core"
	"loopcast/internal/editorial"
	"loopcast/internal/logger"
	"loopcast/internal/registry"
	"loopcast/internal/retryq"
	"loopcast/internal/tts"
)

// candidateThreshold is the Hamming-distance cutoff for the coarse
// similarity filter; confirmation is the gateway's job.
const candidateThreshold = 10

// Defaults for the flush thresholds.
const (
	DefaultMinClusters        = 10
	DefaultMaxWait            = 6 * time.Hour
	DefaultMinEpisodeClusters = 3
)

// Publisher is the downstream content-store surface the aggregator uses.
type Publisher interface {
	PushItem(ctx context.Context, item contentstore.Payload) error
	PushItemMultipart(ctx context.Context, item contentstore.Payload, audio []byte, filename string) error
	FetchPendingJobs(ctx context.Context) ([]contentstore.Payload, error)
	CompleteJob(ctx context.Context, id, audioURL, summary string, durationSec int64) error
	UploadFile(ctx context.Context, data []byte, filename, mimeType string) (string, error)
}

// Renderer turns a finished script into packaged audio.
type Renderer interface {
	Render(ctx context.Context, script, voiceRef string) (*tts.Audio, error)
}

// Completer is the generation gateway.
type Completer interface {
	Complete(ctx context.Context, prompt string, skipCache bool) (string, error)
}

// Options tune the aggregator's flush behavior.
type Options struct {
	MinClusters        int
	MaxWait            time.Duration
	MinEpisodeClusters int
	TraceDir           string
}

// Aggregator owns the clustering buffer and the production flow.
type Aggregator struct {
	clusters *cluster.Store
	registry *registry.Registry
	gateway  Completer
	renderer Renderer
	store    Publisher
	retry    *retryq.Queue
	hosts    []config.Host
	opts     Options
	now      func() time.Time
}

// New wires an aggregator. Renderer may be nil to produce script-only
// episodes.
func New(clusters *cluster.Store, reg *registry.Registry, gateway Completer, renderer Renderer, store Publisher, retry *retryq.Queue, hosts []config.Host, opts Options) *Aggregator {
	if opts.MinClusters <= 0 {
		opts.MinClusters = DefaultMinClusters
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.MinEpisodeClusters <= 0 {
		opts.MinEpisodeClusters = DefaultMinEpisodeClusters
	}
	return &Aggregator{
		clusters: clusters,
		registry: reg,
		gateway:  gateway,
		renderer: renderer,
		store:    store,
		retry:    retry,
		hosts:    hosts,
		opts:     opts,
		now:      time.Now,
	}
}

// PushWithClustering files an item into the pending buffer: a coarse
// fingerprint filter proposes candidate clusters, the gateway confirms, and
// the item lands as a new cluster, a merged member, or a discarded
// duplicate. Returns true when a new cluster was created.
func (a *Aggregator) PushWithClustering(ctx context.Context, item core.PendingItem) (bool, error) {
	hash := core.ItemFingerprint(item)

	candidates, err := a.clusters.FindSimilar(item.Category, hash, candidateThreshold)
	if err != nil {
		return false, fmt.Errorf("similarity lookup failed: %w", err)
	}
	if len(candidates) == 0 {
		logger.Info("new cluster", "title", item.Title, "category", item.Category)
		return true, a.clusters.Put(core.NewCluster(item))
	}

	// Fast path: an exact title match anywhere in a candidate skips gateway
	// verification.
	var matched *core.Cluster
	exactTitle := false
	for i := range candidates {
		if candidates[i].HasTitle(item.Title) {
			matched = &candidates[i]
			exactTitle = true
			logger.Info("fast-track title match", "title", item.Title)
			break
		}
	}

	if matched == nil {
		for i := range candidates {
			same, err := a.verifySameTopic(ctx, item, &candidates[i])
			if err != nil {
				return false, err
			}
			if same {
				matched = &candidates[i]
				break
			}
		}
	}

	if matched == nil {
		logger.Info("new cluster (verified distinct)", "title", item.Title)
		return true, a.clusters.Put(core.NewCluster(item))
	}

	if exactTitle || matched.HasTitle(item.Title) {
		if matched.HasExactItem(item) {
			logger.Info("discarding exact duplicate", "title", item.Title)
			return false, nil
		}
		// Same headline, different body: keep it as corroboration without
		// paying for a re-summarization.
		matched.AddRelated(item)
		return false, a.clusters.Put(*matched)
	}

	title, summary, err := a.mergeIntoCluster(ctx, matched, item)
	if err != nil {
		return false, err
	}
	matched.AddRelated(item)
	if title != "" {
		matched.SetMergedSummary(title, summary)
	}
	logger.Info("merged into cluster", "title", item.Title, "cluster", matched.MainItem.Title)
	return false, a.clusters.Put(*matched)
}

// verifySameTopic asks the gateway whether the item reports the cluster's
// event. Any YES in the answer counts.
func (a *Aggregator) verifySameTopic(ctx context.Context, item core.PendingItem, c *core.Cluster) (bool, error) {
	prompt := verifyPrompt(item, c)
	resp, err := a.gateway.Complete(ctx, prompt, false)
	if err != nil {
		return false, fmt.Errorf("topic verification failed: %w", err)
	}
	return strings.Contains(strings.ToUpper(strings.TrimSpace(resp)), "YES"), nil
}

type mergeResult struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// mergeIntoCluster produces a combined title and summary for the cluster
// plus the new item, vetted by the editor loop.
func (a *Aggregator) mergeIntoCluster(ctx context.Context, c *core.Cluster, item core.PendingItem) (string, string, error) {
	base := mergePrompt(c, item)

	draft, err := editorial.Loop{}.Run(
		func(feedback []string) (string, error) {
			prompt := base
			for _, f := range feedback {
				prompt += "\n\nEditor feedback on your previous draft: " + f + "\nKeep more of the specifics and merge again."
			}
			resp, err := a.gateway.Complete(ctx, prompt, false)
			if err != nil {
				return "", err
			}
			var m mergeResult
			if err := json.Unmarshal([]byte(jsonObject(resp)), &m); err != nil || m.Title == "" {
				// Unusable output keeps the cluster's current framing.
				m = mergeResult{Title: c.MainItem.Title, Summary: c.Summary()}
			}
			encoded, _ := json.Marshal(m)
			return string(encoded), nil
		},
		func(draft string) (bool, string, error) {
			var m mergeResult
			if err := json.Unmarshal([]byte(draft), &m); err != nil {
				return true, "", nil
			}
			return a.reviewSummary(ctx, m.Title, m.Summary)
		},
	)
	if err != nil {
		return "", "", fmt.Errorf("summary merge failed: %w", err)
	}

	var m mergeResult
	if err := json.Unmarshal([]byte(draft), &m); err != nil {
		return "", "", nil
	}
	return m.Title, m.Summary, nil
}

type reviewVerdict struct {
	Pass     bool   `json:"pass"`
	Critique string `json:"critique"`
}

// reviewSummary quality-checks a merged summary. Unparseable verdicts pass:
// the reviewer is advisory.
func (a *Aggregator) reviewSummary(ctx context.Context, title, summary string) (bool, string, error) {
	resp, err := a.gateway.Complete(ctx, reviewSummaryPrompt(title, summary), false)
	if err != nil {
		return false, "", err
	}
	var v reviewVerdict
	if err := json.Unmarshal([]byte(jsonObject(resp)), &v); err != nil {
		return true, "", nil
	}
	return v.Pass, v.Critique, nil
}

// TryProcess flushes every category that is ready: enough clusters, or the
// oldest one has waited past the deadline. A processing error aborts the
// whole cycle so the buffered data survives for the next tick.
func (a *Aggregator) TryProcess(ctx context.Context) error {
	stats, err := a.clusters.Stats()
	if err != nil {
		return fmt.Errorf("failed to read buffer stats: %w", err)
	}
	now := a.now()

	var flush []string
	for category, st := range stats {
		wait := now.Sub(time.Unix(st.OldestCreatedAt, 0))
		if st.Count >= a.opts.MinClusters || wait > a.opts.MaxWait {
			logger.Info("flush triggered", "category", category, "clusters", st.Count, "wait", wait.Truncate(time.Second).String())
			flush = append(flush, category)
		}
	}
	sort.Strings(flush)

	for _, category := range flush {
		clusters, err := a.clusters.ListByCategory(category)
		if err != nil {
			return fmt.Errorf("failed to load clusters for %s: %w", category, err)
		}
		if len(clusters) == 0 {
			continue
		}
		if len(clusters) < a.opts.MinEpisodeClusters {
			logger.Info("postponing flush, too few clusters", "category", category, "clusters", len(clusters))
			continue
		}

		ids := make([]string, len(clusters))
		for i, c := range clusters {
			ids[i] = c.ID
		}

		published, err := a.processClusters(ctx, category, clusters)
		if err != nil {
			return fmt.Errorf("processing %s failed, aborting cycle: %w", category, err)
		}
		if !published {
			logger.Info("flush postponed, data retained", "category", category)
			continue
		}
		if err := a.clusters.Remove(category, ids); err != nil {
			logger.Error("failed to remove published clusters", err, "category", category)
		}
	}
	return nil
}

// processClusters screens the clusters against the topic registry, produces
// the episode, and delivers it. Returns whether the clusters were consumed.
func (a *Aggregator) processClusters(ctx context.Context, category string, clusters []core.Cluster) (bool, error) {
	var sourceText strings.Builder
	var sources []contentstore.SourceInfo
	var items []BroadcastItem
	unique := 0

	for idx, c := range clusters {
		summary := c.Summary()
		combined := c.MainItem.Title + " " + summary
		sourceName := c.MainItem.SourceName
		if sourceName == "" {
			sourceName = "Unknown"
		}

		prev, err := a.registry.IsDuplicate(combined)
		if err != nil {
			logger.Warn("registry lookup failed, treating as new", "title", c.MainItem.Title, "error", err.Error())
		}

		if prev != nil {
			update, err := a.checkForUpdates(ctx, &c, summary, prev)
			if err != nil {
				logger.Warn("update check failed, skipping", "title", c.MainItem.Title, "error", err.Error())
				continue
			}
			if update == "" {
				logger.Info("skipping already-covered topic", "title", c.MainItem.Title)
				continue
			}
			unique++
			if err := a.registry.Record(combined, c.MainItem.Title, summary); err != nil {
				return false, fmt.Errorf("failed to record follow-up topic: %w", err)
			}
			fmt.Fprintf(&sourceText, "### Story %d (follow-up)\nSource: %s\nTitle: %s\nSummary: %s\n\n---\n\n",
				idx+1, sourceName, c.MainItem.Title, update)
			sources = append(sources, contentstore.SourceInfo{
				URL:     c.MainItem.Link,
				Title:   "[Update] " + c.MainItem.Title,
				Summary: update,
			})
			items = append(items, BroadcastItem{
				ID:         idx + 1,
				Title:      "[Update] " + c.MainItem.Title,
				Summary:    update,
				SourceName: sourceName,
				URL:        c.MainItem.Link,
				IsUpdate:   true,
			})
		} else {
			if err := a.registry.Record(combined, c.MainItem.Title, summary); err != nil {
				return false, fmt.Errorf("failed to record topic: %w", err)
			}
			unique++
			fmt.Fprintf(&sourceText, "### Story %d\nSource: %s\nTitle: %s\nSummary: %s\n\n---\n\n",
				idx+1, sourceName, c.MainItem.Title, summary)
			sources = append(sources, contentstore.SourceInfo{
				URL:     c.MainItem.Link,
				Title:   c.MainItem.Title,
				Summary: summary,
			})
			items = append(items, BroadcastItem{
				ID:         idx + 1,
				Title:      c.MainItem.Title,
				Summary:    summary,
				SourceName: sourceName,
				URL:        c.MainItem.Link,
			})
		}

		for _, related := range c.RelatedItems {
			sources = append(sources, contentstore.SourceInfo{
				URL:     related.Link,
				Title:   related.Title,
				Summary: related.Description,
			})
		}
	}

	if unique < a.opts.MinEpisodeClusters {
		logger.Info("postponing, too few unique topics after dedup", "category", category, "unique", unique)
		return false, nil
	}
	if sourceText.Len() == 0 {
		return false, nil
	}

	ep, err := a.ProduceEpisode(ctx, category, sourceText.String(), items, false)
	if err != nil {
		return false, err
	}
	if ep.Skipped {
		logger.Warn("episode generation skipped", "category", category)
		return false, nil
	}

	title := ep.Title
	if title == "" {
		title = fmt.Sprintf("%s News Digest: %d stories", category, unique)
	}
	var firstURL string
	if len(sources) > 0 {
		firstURL = sources[0].URL
	}
	payload := contentstore.Payload{
		Title:       title,
		Summary:     ep.Script,
		OriginalURL: firstURL,
		PublishTime: a.now().Unix(),
		Sources:     sources,
		Category:    category,
	}

	if ep.Audio == nil {
		if err := a.store.PushItem(ctx, payload); err != nil {
			a.deferDelivery(payload, nil, "")
		}
		return true, nil
	}

	payload.DurationSec = int64(ep.Audio.DurationSec)
	filename := fmt.Sprintf("digest_%s.%s", uuid.NewString(), ep.Audio.Format)
	if err := a.store.PushItemMultipart(ctx, payload, ep.Audio.Data, filename); err != nil {
		logger.Error("delivery failed, deferring to retry queue", err, "category", category)
		a.deferDelivery(payload, ep.Audio.Data, filename)
	} else {
		logger.Info("published digest", "category", category, "title", title)
	}
	return true, nil
}

// deferDelivery parks a failed delivery in the durable retry queue. The
// audio lands in the local cache so the upload can be replayed after a
// restart.
func (a *Aggregator) deferDelivery(payload contentstore.Payload, audio []byte, filename string) {
	if len(audio) > 0 {
		localPath, err := a.retry.CacheAudio(audio, filename)
		if err != nil {
			logger.Error("failed to cache audio for retry", err)
		} else if err := a.retry.Enqueue(retryq.UploadAudio(filename, localPath)); err != nil {
			logger.Error("failed to enqueue audio upload", err)
		}
		// The store serves uploads at a path derived from the filename, so
		// the re-pushed item can reference the audio before the upload
		// action has replayed.
		payload.AudioURL = "/audio/" + filename
	}
	if err := a.retry.Enqueue(retryq.PushItem(payload)); err != nil {
		logger.Error("failed to enqueue item push", err)
	}
}

type updateVerdict struct {
	HasUpdate     bool   `json:"has_update"`
	UpdateSummary string `json:"update_summary"`
}

// checkForUpdates decides whether a previously covered topic carries
// substantial new information. Empty string means discard.
func (a *Aggregator) checkForUpdates(ctx context.Context, c *core.Cluster, summary string, prev *registry.TopicRecord) (string, error) {
	resp, err := a.gateway.Complete(ctx, updateCheckPrompt(c, summary, prev), false)
	if err != nil {
		return "", err
	}
	var v updateVerdict
	if err := json.Unmarshal([]byte(jsonObject(resp)), &v); err != nil {
		return "", nil
	}
	if !v.HasUpdate {
		return "", nil
	}
	return v.UpdateSummary, nil
}

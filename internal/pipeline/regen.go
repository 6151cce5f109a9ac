package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"loopcast/internal/logger"
	"loopcast/internal/retryq"
)

// ProcessRegenerations drains the content store's pending regeneration jobs:
// each job's stored summary is rewritten through the single-shot flow
// (bypassing the response cache), re-voiced, and completed.
func (a *Aggregator) ProcessRegenerations(ctx context.Context) error {
	jobs, err := a.store.FetchPendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}
	logger.Info("processing regeneration jobs", "count", len(jobs))

	for _, job := range jobs {
		category := "Other"
		if before, _, found := strings.Cut(job.Title, " - "); found {
			category = before
		}
		logger.Info("regenerating item", "id", job.ID, "category", category)

		ep, err := a.ProduceEpisode(ctx, category, job.Summary, nil, true)
		if err != nil {
			return fmt.Errorf("regeneration of %s failed: %w", job.ID, err)
		}
		if ep.Skipped {
			logger.Warn("regeneration skipped by gateway", "id", job.ID)
			continue
		}

		var audioURL string
		if ep.Audio != nil {
			filename := fmt.Sprintf("regen_%s.%s", uuid.NewString(), ep.Audio.Format)
			audioURL, err = a.store.UploadFile(ctx, ep.Audio.Data, filename, "audio/"+ep.Audio.Format)
			if err != nil {
				logger.Error("regen audio upload failed, deferring", err, "id", job.ID)
				if localPath, cerr := a.retry.CacheAudio(ep.Audio.Data, filename); cerr == nil {
					if qerr := a.retry.Enqueue(retryq.UploadAudio(filename, localPath)); qerr != nil {
						logger.Error("failed to enqueue audio upload", qerr)
					}
				}
				audioURL = ""
			}
		}

		var duration int64
		if ep.Audio != nil {
			duration = int64(ep.Audio.DurationSec)
		}
		if err := a.store.CompleteJob(ctx, job.ID, audioURL, ep.Script, duration); err != nil {
			return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
		}
	}
	return nil
}

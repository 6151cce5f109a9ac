package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"loopcast/internal/config"
	"loopcast/internal/editorial"
	"loopcast/internal/holiday"
	"loopcast/internal/logger"
	"loopcast/internal/trace"
	"loopcast/internal/tts"
)

// Segment and summary size guards, in runes.
const (
	maxSegmentRunes    = 5000
	maxSummaryRunes    = 180
	maxContextRunes    = 100
	fallbackGroupSize  = 4
	planRetries        = 3
	minUsableScriptLen = 10
)

// BroadcastItem is one story slated for an episode.
type BroadcastItem struct {
	ID         int
	Title      string
	Summary    string
	SourceName string
	URL        string
	IsUpdate   bool
}

// Episode is a finished production: script, optional title and audio.
type Episode struct {
	Title   string
	Script  string
	Audio   *tts.Audio
	Skipped bool
}

// ProduceEpisode writes and voices one episode. With items the structured
// flow runs (plan, compress, per-group segments, title extraction); without
// items a single-shot prompt covers regeneration and legacy input. A script
// under ten runes or containing SKIP yields Episode{Skipped: true}.
func (a *Aggregator) ProduceEpisode(ctx context.Context, category, sourceText string, items []BroadcastItem, isRegen bool) (*Episode, error) {
	host, found := config.HostFor(a.hosts, category)
	if !found {
		host = config.Host{Name: "your host"}
	}
	greeting := holiday.Greeting(a.now())

	rec := trace.NewRecorder(category, a.opts.TraceDir)
	rec.Step("start", fmt.Sprintf("producing episode for [%s], regen=%v", category, isRegen))

	var script, title string
	if len(items) > 0 {
		groups := a.planStructure(ctx, rec, items)
		if err := a.compressSummaries(ctx, items); err != nil {
			logger.Warn("summary compression failed", "error", err.Error())
		}

		byID := make(map[int]BroadcastItem, len(items))
		for _, it := range items {
			byID[it.ID] = it
		}

		var segments []string
		var prevContext string
		for gi, ids := range groups {
			var group []BroadcastItem
			for _, id := range ids {
				if it, ok := byID[id]; ok {
					group = append(group, it)
				}
			}
			if len(group) == 0 {
				continue
			}
			segment, err := a.generateSegment(ctx, rec, category, host.Name, group, prevContext, greeting, gi == 0, gi == len(groups)-1)
			if err != nil {
				return nil, err
			}
			prevContext = lastSentence(segment)
			segments = append(segments, segment)
		}
		script = strings.Join(segments, "\n\n")
		title = a.extractTitle(ctx, rec, items, category)
	} else {
		prompt := simplePrompt(category, host.Name, sourceText, greeting, isRegen, a.now())
		resp, err := a.gateway.Complete(ctx, prompt, isRegen)
		if err != nil {
			return nil, fmt.Errorf("episode generation failed: %w", err)
		}
		rec.LLMStep("single-shot generation", "regen/legacy one-shot prompt", prompt, resp)
		script = resp
	}

	trimmed := strings.TrimSpace(script)
	if strings.Contains(trimmed, "SKIP") || len([]rune(trimmed)) < minUsableScriptLen {
		rec.Step("result", "gateway indicated SKIP or produced an empty script")
		if _, err := rec.Save(); err != nil {
			logger.Error("failed to save trace", err)
		}
		return &Episode{Skipped: true}, nil
	}

	// Single-shot prompts carry the title on the first line.
	body := trimmed
	if title == "" && strings.HasPrefix(body, "TITLE:") {
		if nl := strings.Index(body, "\n"); nl > 0 {
			title = strings.TrimSpace(strings.TrimPrefix(body[:nl], "TITLE:"))
			body = strings.TrimSpace(body[nl+1:])
		}
	}

	ep := &Episode{Title: title, Script: body}
	if a.renderer != nil {
		audio, err := a.renderer.Render(ctx, body, host.Voice)
		if err != nil {
			return nil, fmt.Errorf("audio rendering failed: %w", err)
		}
		rec.Step("audio", fmt.Sprintf("rendered %s, %.0fs", audio.Format, audio.DurationSec))
		ep.Audio = audio
	}

	if _, err := rec.Save(); err != nil {
		logger.Error("failed to save trace", err)
	}
	return ep, nil
}

// planStructure asks the gateway to order and group the items, validating
// that the plan covers every ID exactly once with no empty groups. After
// three bad plans it falls back to fixed chunks in original order.
func (a *Aggregator) planStructure(ctx context.Context, rec *trace.Recorder, items []BroadcastItem) [][]int {
	prompt := planPrompt(items)
	want := make(map[int]bool, len(items))
	for _, it := range items {
		want[it.ID] = true
	}

	for attempt := 1; attempt <= planRetries; attempt++ {
		resp, err := a.gateway.Complete(ctx, prompt, false)
		if err != nil {
			logger.Warn("structure planning call failed", "attempt", attempt, "error", err.Error())
			break
		}
		rec.LLMStep("structure planning", fmt.Sprintf("attempt %d", attempt), prompt, resp)

		var groups [][]int
		if err := json.Unmarshal([]byte(jsonArray(resp)), &groups); err == nil {
			if problem := validatePlan(groups, want); problem == "" {
				logger.Info("structure planned", "groups", len(groups))
				return groups
			} else {
				logger.Warn("invalid structure plan", "attempt", attempt, "problem", problem)
			}
		} else {
			logger.Warn("unparseable structure plan", "attempt", attempt)
		}

		prompt += "\n\nWarning: your previous output was invalid. Make sure you: " +
			"output a JSON 2D array like [[3,1],[2]], include every given ID exactly once, " +
			"add no other IDs, and leave no group empty."
	}

	logger.Warn("structure planning exhausted, using fixed grouping")
	return chunkIDs(items, fallbackGroupSize)
}

func validatePlan(groups [][]int, want map[int]bool) string {
	seen := make(map[int]bool)
	total := 0
	for _, g := range groups {
		if len(g) == 0 {
			return "empty group"
		}
		for _, id := range g {
			if !want[id] {
				return fmt.Sprintf("unknown ID %d", id)
			}
			if seen[id] {
				return fmt.Sprintf("duplicate ID %d", id)
			}
			seen[id] = true
			total++
		}
	}
	if total != len(want) {
		return fmt.Sprintf("covered %d of %d IDs", total, len(want))
	}
	return ""
}

func chunkIDs(items []BroadcastItem, size int) [][]int {
	var groups [][]int
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		group := make([]int, 0, end-start)
		for _, it := range items[start:end] {
			group = append(group, it.ID)
		}
		groups = append(groups, group)
	}
	return groups
}

// compressSummaries shortens any summary past the rune budget through a
// dedicated entity-preserving prompt.
func (a *Aggregator) compressSummaries(ctx context.Context, items []BroadcastItem) error {
	for i := range items {
		if len([]rune(items[i].Summary)) <= maxSummaryRunes {
			continue
		}
		logger.Info("compressing summary", "title", items[i].Title, "runes", len([]rune(items[i].Summary)))
		resp, err := a.gateway.Complete(ctx, compressPrompt(items[i].Summary), false)
		if err != nil {
			return err
		}
		items[i].Summary = strings.TrimSpace(resp)
	}
	return nil
}

// generateSegment writes one segment through the writer/editor loop. Drafts
// past the rune guard are rejected with feedback; an exhausted loop truncates.
func (a *Aggregator) generateSegment(ctx context.Context, rec *trace.Recorder, category, hostName string, group []BroadcastItem, prevContext, greeting string, isFirst, isLast bool) (string, error) {
	base := segmentPrompt(category, hostName, group, prevContext, greeting, isFirst, isLast, a.now())

	attempt := 0
	draft, err := editorial.Loop{}.Run(
		func(feedback []string) (string, error) {
			attempt++
			prompt := base
			for _, f := range feedback {
				prompt += "\n\nEditor feedback: " + f + "\nRewrite the segment accordingly."
			}
			resp, err := a.gateway.Complete(ctx, prompt, false)
			if err != nil {
				return "", err
			}
			rec.LLMStep("segment generation", fmt.Sprintf("group of %d, attempt %d", len(group), attempt), prompt, resp)
			return resp, nil
		},
		func(draft string) (bool, string, error) {
			if len([]rune(draft)) > maxSegmentRunes {
				return false, "the previous draft ran far too long, likely repeating itself; cover only this segment's stories, concisely", nil
			}
			return a.reviewSegment(ctx, rec, draft, prevContext)
		},
	)
	if err != nil {
		return "", fmt.Errorf("segment generation failed: %w", err)
	}

	if runes := []rune(draft); len(runes) > maxSegmentRunes {
		logger.Warn("truncating oversized segment", "runes", len(runes))
		draft = string(runes[:maxSegmentRunes])
	}
	return draft, nil
}

// reviewSegment runs the producer critique over a draft. Drafts under the
// usable minimum fail without a gateway call; unparseable verdicts pass.
func (a *Aggregator) reviewSegment(ctx context.Context, rec *trace.Recorder, draft, prevContext string) (bool, string, error) {
	if len([]rune(strings.TrimSpace(draft))) < minUsableScriptLen {
		return false, "content too short", nil
	}
	prompt := reviewSegmentPrompt(draft, prevContext)
	resp, err := a.gateway.Complete(ctx, prompt, false)
	if err != nil {
		return false, "", err
	}
	rec.LLMStep("segment review", "producer critique", prompt, resp)

	var v reviewVerdict
	if err := json.Unmarshal([]byte(jsonObject(resp)), &v); err != nil {
		return true, "", nil
	}
	return v.Pass, v.Critique, nil
}

// extractTitle derives an episode title from the top stories. Unstructured
// or oversized answers fall back to a generic briefing title.
func (a *Aggregator) extractTitle(ctx context.Context, rec *trace.Recorder, items []BroadcastItem, category string) string {
	fallback := category + " News Briefing"

	resp, err := a.gateway.Complete(ctx, titlePrompt(items, category), false)
	if err != nil {
		logger.Warn("title extraction failed", "error", err.Error())
		return fallback
	}
	rec.LLMStep("title extraction", "episode title from top stories", titlePrompt(items, category), resp)

	var out struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(jsonObject(resp)), &out); err == nil && out.Title != "" {
		return strings.TrimSpace(out.Title)
	}

	raw := strings.TrimSpace(resp)
	if len(raw) > 100 || strings.Contains(raw, "\n") {
		logger.Warn("unstructured title output, using fallback")
		return fallback
	}
	return raw
}

// lastSentence extracts the final sentence of a segment, capped for prompt
// threading into the next group.
func lastSentence(text string) string {
	parts := strings.FieldsFunc(text, isTerminal)
	for i := len(parts) - 1; i >= 0; i-- {
		s := strings.TrimSpace(parts[i])
		if s == "" {
			continue
		}
		runes := []rune(s)
		if len(runes) > maxContextRunes {
			runes = runes[:maxContextRunes]
		}
		return string(runes)
	}
	return ""
}

func isTerminal(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return true
	}
	return false
}

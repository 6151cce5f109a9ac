package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"loopcast/internal/core"
	"loopcast/internal/logger"
)

// analysisContextRunes bounds how much of a description reaches the
// classification prompt.
const analysisContextRunes = 1000

// Completer is the generation gateway surface the ingest side needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, skipCache bool) (string, error)
}

// Analyzer classifies raw items into configured categories.
type Analyzer struct {
	gateway    Completer
	categories []string
}

// NewAnalyzer creates an analyzer over the configured category set.
func NewAnalyzer(gateway Completer, categories []string) *Analyzer {
	if len(categories) == 0 {
		categories = []string{"Tech", "Economy", "Politics", "Gaming", "Other"}
	}
	return &Analyzer{gateway: gateway, categories: categories}
}

type itemAnalysis struct {
	Category string `json:"category"`
	Summary  string `json:"summary"`
	Title    string `json:"title"`
	Score    int    `json:"score"`
}

// Analyze classifies one item. Advertisements and items whose analysis
// cannot be parsed return (nil, nil): both are dropped, not errors.
func (a *Analyzer) Analyze(ctx context.Context, item RawItem) (*core.PendingItem, error) {
	prompt := fmt.Sprintf(
		"Analyze this news item.\nTitle: %s\nContent: %s\n\n"+
			"Task:\n"+
			"1. Classify into ONE of: [%s]. Use \"Advertisement\" if it is promotional content.\n"+
			"2. Summarize in 2 sentences, keeping names and figures.\n"+
			"3. Rewrite the title for broadcast: clear and specific.\n"+
			"4. Score newsworthiness 1-10.\n"+
			"Output JSON only: { \"category\": \"...\", \"summary\": \"...\", \"title\": \"...\", \"score\": 8 }",
		item.Title, ClampText(item.Description, analysisContextRunes), strings.Join(a.categories, ", "))

	resp, err := a.gateway.Complete(ctx, prompt, false)
	if err != nil {
		return nil, fmt.Errorf("item analysis failed: %w", err)
	}

	var analysis itemAnalysis
	if err := json.Unmarshal([]byte(jsonObject(resp)), &analysis); err != nil || analysis.Title == "" {
		logger.Warn("unparseable item analysis, skipping", "title", item.Title)
		return nil, nil
	}
	if strings.EqualFold(analysis.Category, "Advertisement") {
		logger.Info("discarding advertisement", "title", analysis.Title)
		return nil, nil
	}

	return &core.PendingItem{
		Title:       analysis.Title,
		Link:        item.Link,
		Description: analysis.Summary,
		Category:    analysis.Category,
		SourceName:  item.SourceName,
		Timestamp:   item.Published.Unix(),
	}, nil
}

// jsonObject cuts the widest {...} span out of a gateway response.
func jsonObject(s string) string {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "`"))
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

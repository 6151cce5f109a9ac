// Package core defines the shared domain types passed between the ingest
// boundary, the cluster buffer, and the production pipeline.
package core

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"loopcast/internal/fingerprint"
)

// PendingItem is a single ingested content item awaiting clustering.
// Immutable once created.
type PendingItem struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	Category    string `json:"category"`
	SourceName  string `json:"source_name,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// Cluster groups items believed to report the same topic. The fingerprint is
// computed once from the main item at creation and intentionally never
// recomputed after merges; it is a coarse-filter approximation only.
type Cluster struct {
	ID            string        `json:"id"`
	MainItem      PendingItem   `json:"main_item"`
	RelatedItems  []PendingItem `json:"related_items"`
	Fingerprint   uint64        `json:"fingerprint"`
	MergedSummary string        `json:"merged_summary,omitempty"`
	CreatedAt     int64         `json:"created_at"`
}

// NewCluster creates a singleton cluster around item.
func NewCluster(item PendingItem) Cluster {
	return Cluster{
		ID:          uuid.NewString(),
		MainItem:    item,
		Fingerprint: ItemFingerprint(item),
		CreatedAt:   time.Now().Unix(),
	}
}

// ItemFingerprint hashes the item's title and description together.
func ItemFingerprint(item PendingItem) uint64 {
	return fingerprint.Hash(item.Title + " " + item.Description)
}

// AddRelated appends item to the cluster's related items.
func (c *Cluster) AddRelated(item PendingItem) {
	c.RelatedItems = append(c.RelatedItems, item)
}

// SetMergedSummary overwrites the cluster's title and summary with a merged
// version produced by the generation collaborator.
func (c *Cluster) SetMergedSummary(title, summary string) {
	c.MainItem.Title = title
	c.MergedSummary = summary
}

// Summary returns the merged summary when present, otherwise the main item's
// description.
func (c *Cluster) Summary() string {
	if c.MergedSummary != "" {
		return c.MergedSummary
	}
	return c.MainItem.Description
}

// HasTitle reports whether any item in the cluster carries the given title,
// compared case-insensitively after trimming.
func (c *Cluster) HasTitle(title string) bool {
	title = strings.TrimSpace(title)
	if strings.EqualFold(strings.TrimSpace(c.MainItem.Title), title) {
		return true
	}
	for _, r := range c.RelatedItems {
		if strings.EqualFold(strings.TrimSpace(r.Title), title) {
			return true
		}
	}
	return false
}

// HasExactItem reports whether the cluster already contains an item with the
// same title (case-insensitive) and identical description.
func (c *Cluster) HasExactItem(item PendingItem) bool {
	match := func(other PendingItem) bool {
		return strings.EqualFold(strings.TrimSpace(other.Title), strings.TrimSpace(item.Title)) &&
			strings.TrimSpace(other.Description) == strings.TrimSpace(item.Description)
	}
	if match(c.MainItem) {
		return true
	}
	for _, r := range c.RelatedItems {
		if match(r) {
			return true
		}
	}
	return false
}

// CategoryStats summarizes the buffered clusters of one category.
type CategoryStats struct {
	Count           int
	OldestCreatedAt int64
}

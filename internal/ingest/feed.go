// Package ingest pulls items from syndicated feeds, classifies them through
// the generation gateway, and hands them to the production pipeline on a
// fixed interval or wall-clock schedule.
package ingest

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RawItem is one feed entry before analysis.
type RawItem struct {
	Title       string
	Link        string
	Description string
	SourceName  string
	Published   time.Time
}

// Source supplies candidate items for one cycle.
type Source interface {
	Fetch(ctx context.Context) ([]RawItem, error)
}

// FeedSource fetches and parses one RSS or Atom feed.
type FeedSource struct {
	URL    string
	client *http.Client
}

// NewFeedSource creates a source for feedURL.
func NewFeedSource(feedURL string) *FeedSource {
	return &FeedSource{
		URL:    feedURL,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type rssDoc struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

type atomDoc struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// Fetch downloads and parses the feed, trying RSS first and Atom second.
func (f *FeedSource) Fetch(ctx context.Context) ([]RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed request: %w", err)
	}
	req.Header.Set("User-Agent", "LoopCast Feed Reader/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}
	return parseFeed(data, sourceNameFromURL(f.URL))
}

// parseFeed decodes feed XML in either syndication format.
func parseFeed(data []byte, sourceName string) ([]RawItem, error) {
	var rss rssDoc
	if err := xml.Unmarshal(data, &rss); err == nil && len(rss.Channel.Items) > 0 {
		items := make([]RawItem, 0, len(rss.Channel.Items))
		for _, it := range rss.Channel.Items {
			if it.Link == "" {
				continue
			}
			items = append(items, RawItem{
				Title:       strings.TrimSpace(it.Title),
				Link:        it.Link,
				Description: it.Description,
				SourceName:  sourceName,
				Published:   parseFeedDate(it.PubDate),
			})
		}
		return items, nil
	}

	var atom atomDoc
	if err := xml.Unmarshal(data, &atom); err != nil {
		return nil, fmt.Errorf("feed is neither RSS nor Atom: %w", err)
	}
	items := make([]RawItem, 0, len(atom.Entries))
	for _, entry := range atom.Entries {
		link := atomEntryLink(entry)
		if link == "" {
			continue
		}
		desc := entry.Summary
		if desc == "" {
			desc = entry.Content
		}
		published := entry.Published
		if published == "" {
			published = entry.Updated
		}
		items = append(items, RawItem{
			Title:       strings.TrimSpace(entry.Title),
			Link:        link,
			Description: desc,
			SourceName:  sourceName,
			Published:   parseFeedDate(published),
		})
	}
	return items, nil
}

func atomEntryLink(entry atomEntry) string {
	for _, l := range entry.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(entry.Links) > 0 {
		return entry.Links[0].Href
	}
	return ""
}

// feedDateFormats covers the date styles feeds use in the wild.
var feedDateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseFeedDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range feedDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func sourceNameFromURL(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return strings.TrimPrefix(u.Host, "www.")
}

// Package contentstore is the HTTP client for the downstream content store,
// where finished episodes and their audio are published.
package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"loopcast/internal/logger"
)

// SourceInfo is one upstream source attached to a published item.
type SourceInfo struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Payload is the content-store item schema.
type Payload struct {
	ID          string       `json:"id,omitempty"`
	Title       string       `json:"title"`
	Summary     string       `json:"summary,omitempty"`
	OriginalURL string       `json:"original_url,omitempty"`
	CoverImage  string       `json:"cover_image_url,omitempty"`
	AudioURL    string       `json:"audio_url,omitempty"`
	PublishTime int64        `json:"publish_time,omitempty"`
	DurationSec int64        `json:"duration_sec,omitempty"`
	Sources     []SourceInfo `json:"sources,omitempty"`
	Category    string       `json:"category,omitempty"`
}

// Client talks to the content store. JSON calls use a short timeout; file
// uploads get a longer one.
type Client struct {
	baseURL    string
	authKey    string
	httpClient *http.Client
	uploader   *http.Client
}

// NewClient creates a content-store client.
func NewClient(baseURL, authKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		authKey:    authKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		uploader:   &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) do(ctx context.Context, client *http.Client, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Store-Key", c.authKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, msg)
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	resp, err := c.do(ctx, c.httpClient, http.MethodPost, path, bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PushItem publishes a text-only item.
func (c *Client) PushItem(ctx context.Context, item Payload) error {
	return c.postJSON(ctx, "/api/internal/items", item, nil)
}

// PushItemMultipart publishes an item together with its audio file in one
// atomic request. The store fills audio_url from the uploaded part.
func (c *Client) PushItemMultipart(ctx context.Context, item Payload, audio []byte, filename string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	meta, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := w.WriteField("item", string(meta)); err != nil {
		return fmt.Errorf("failed to write item field: %w", err)
	}
	if len(audio) > 0 {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			return fmt.Errorf("failed to create file part: %w", err)
		}
		if _, err := part.Write(audio); err != nil {
			return fmt.Errorf("failed to write audio: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize form: %w", err)
	}

	resp, err := c.do(ctx, c.uploader, http.MethodPost, "/api/internal/items/multipart", &buf, w.FormDataContentType())
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// FetchPendingJobs returns items flagged for regeneration.
func (c *Client) FetchPendingJobs(ctx context.Context) ([]Payload, error) {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, "/api/internal/jobs/pending", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var jobs []Payload
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("failed to decode pending jobs: %w", err)
	}
	return jobs, nil
}

// CompleteJob finishes a regeneration job with the produced audio and script.
func (c *Client) CompleteJob(ctx context.Context, id, audioURL, summary string, durationSec int64) error {
	return c.postJSON(ctx, "/api/internal/jobs/"+id+"/complete", map[string]any{
		"audio_url":    audioURL,
		"summary":      summary,
		"duration_sec": durationSec,
	}, nil)
}

// CheckURLs returns the subset of urls the store already knows. The call is
// cheap, so transient failures are retried a few times before surfacing.
func (c *Client) CheckURLs(ctx context.Context, urls []string) ([]string, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var result struct {
			Existing []string `json:"existing"`
		}
		lastErr = c.postJSON(ctx, "/api/internal/dedup/check", map[string]any{"urls": urls}, &result)
		if lastErr == nil {
			return result.Existing, nil
		}
		logger.Warn("url check failed, retrying", "attempt", attempt, "error", lastErr.Error())
	}
	return nil, lastErr
}

// MarkURL records a source URL as handled under a category.
func (c *Client) MarkURL(ctx context.Context, url, category string) error {
	return c.postJSON(ctx, "/api/internal/dedup/mark", map[string]any{
		"url":      url,
		"category": category,
	}, nil)
}

// UploadFile uploads raw bytes and returns the served URL.
func (c *Client) UploadFile(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	resp, err := c.do(ctx, c.uploader, http.MethodPost, "/api/internal/upload", &buf, w.FormDataContentType())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("upload response missing url")
	}
	return result.URL, nil
}

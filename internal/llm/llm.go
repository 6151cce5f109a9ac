// Package llm is the gateway to the external text-generation collaborator.
// It wraps an OpenAI-compatible chat endpoint with a content-addressed
// response cache and scrubs reasoning prefixes from responses.
package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loopcast/internal/logger"
)

const (
	// DefaultTimeout bounds a single generation call.
	DefaultTimeout = 120 * time.Second
	// thinkEndMarker terminates a model's internal reasoning prefix. The
	// prefix is audit-logged, never returned to callers.
	thinkEndMarker = "</think>"
)

// Completer is the generation interface consumed by the pipeline.
type Completer interface {
	Complete(ctx context.Context, prompt string, skipCache bool) (string, error)
}

// Client calls the generation collaborator over HTTP.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	cache      *Cache
	audit      *auditLog
}

// Option configures a Client.
type Option func(*Client)

// WithCache attaches a response cache.
func WithCache(cache *Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithAuditLog writes stripped reasoning prefixes to path.
func WithAuditLog(path string) Option {
	return func(c *Client) { c.audit = newAuditLog(path) }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a generation client for an OpenAI-compatible endpoint.
func NewClient(baseURL, model, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt and returns the scrubbed response text. Cached
// responses short-circuit the network call; skipCache bypasses both the
// cache read and the cache write (used for regeneration prompts that must
// produce fresh output).
func (c *Client) Complete(ctx context.Context, prompt string, skipCache bool) (string, error) {
	key := PromptKey(prompt)

	if !skipCache && c.cache != nil {
		if content, ok, err := c.cache.Get(key); err != nil {
			logger.Warn("cache read failed", "error", err.Error())
		} else if ok {
			logger.Debug("generation cache hit", "key", key[:12])
			return content, nil
		}
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("generation endpoint returned %d: %s", resp.StatusCode, msg)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("generation response has no choices")
	}

	content := c.stripReasoning(parsed.Choices[0].Message.Content)

	if !skipCache && c.cache != nil {
		if err := c.cache.Put(key, content); err != nil {
			logger.Warn("cache write failed", "error", err.Error())
		}
	}
	return content, nil
}

// stripReasoning removes everything up to and including the reasoning end
// marker. The removed prefix goes to the audit log.
func (c *Client) stripReasoning(text string) string {
	idx := strings.Index(text, thinkEndMarker)
	if idx < 0 {
		return strings.TrimSpace(text)
	}
	if c.audit != nil {
		c.audit.write(text[:idx])
	}
	return strings.TrimSpace(text[idx+len(thinkEndMarker):])
}

// PromptKey returns the content-address of a prompt.
func PromptKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

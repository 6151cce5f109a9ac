// Package trace records a per-episode production trail: every pipeline step
// and every prompt/response exchange, rendered as a markdown report for
// post-hoc review of what the models were asked and what they answered.
package trace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"loopcast/internal/logger"
)

// entry is a single recorded step.
type entry struct {
	at       time.Time
	name     string
	details  string
	prompt   string
	response string
}

// Recorder accumulates steps for one pipeline invocation. It is created per
// episode and passed explicitly; it is not safe for concurrent use.
type Recorder struct {
	label   string
	dir     string
	started time.Time
	entries []entry
}

// NewRecorder creates a recorder labeled for one episode. Reports are
// written under dir by Save.
func NewRecorder(label, dir string) *Recorder {
	return &Recorder{
		label:   label,
		dir:     dir,
		started: time.Now(),
	}
}

// Step records a plain pipeline step and mirrors it to the logger.
func (r *Recorder) Step(name, details string) {
	r.entries = append(r.entries, entry{at: time.Now(), name: name, details: details})
	logger.Debug("trace step", "label", r.label, "step", name, "details", details)
}

// LLMStep records a step that involved a model exchange. The full prompt and
// response are kept for the report; only their sizes reach the logger.
func (r *Recorder) LLMStep(name, details, prompt, response string) {
	r.entries = append(r.entries, entry{
		at:       time.Now(),
		name:     name,
		details:  details,
		prompt:   prompt,
		response: response,
	})
	logger.Debug("trace llm step",
		"label", r.label,
		"step", name,
		"prompt_runes", len([]rune(prompt)),
		"response_runes", len([]rune(response)))
}

// Save renders the markdown report and writes it under the recorder's
// directory, returning the file path.
func (r *Recorder) Save() (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create trace dir: %w", err)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("trace-%s-%s.md",
		sanitize(r.label), r.started.Format("20060102-150405")))
	if err := os.WriteFile(path, []byte(r.render()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write trace report: %w", err)
	}
	logger.Info("trace report saved", "path", path, "steps", len(r.entries))
	return path, nil
}

func (r *Recorder) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Production Trace: %s\n\n", r.label)
	fmt.Fprintf(&b, "Started: %s\n\n", r.started.Format(time.RFC3339))

	for i, e := range r.entries {
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, e.name)
		fmt.Fprintf(&b, "_%s_\n\n", e.at.Format("15:04:05"))
		if e.details != "" {
			fmt.Fprintf(&b, "%s\n\n", e.details)
		}
		if e.prompt != "" {
			fmt.Fprintf(&b, "### Prompt\n\n```\n%s\n```\n\n", e.prompt)
		}
		if e.response != "" {
			fmt.Fprintf(&b, "### Response\n\n```\n%s\n```\n\n", e.response)
		}
	}
	return b.String()
}

// sanitize keeps the label filesystem-safe.
func sanitize(label string) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		default:
			return '_'
		}
	}, label)
}

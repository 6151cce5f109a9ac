// Package editorial implements the bounded writer/editor loop shared by
// summary merging and segment generation: draft, critique against a rubric,
// and regenerate with the critique as feedback, up to a fixed attempt budget.
package editorial

import (
	"fmt"

	"loopcast/internal/logger"
)

// DefaultMaxAttempts is the writer's retry budget.
const DefaultMaxAttempts = 3

// GenerateFunc produces a draft. feedback holds every critique collected so
// far, oldest first.
type GenerateFunc func(feedback []string) (string, error)

// ReviewFunc judges a draft, returning pass/fail and a critique.
type ReviewFunc func(draft string) (ok bool, critique string, err error)

// Loop is the bounded draft/critique state machine.
type Loop struct {
	MaxAttempts int
}

// Run drives the loop until a draft passes review or the budget is spent.
// On exhaustion the last draft is force-accepted; generation errors abort,
// review errors are treated as a pass (the reviewer is advisory).
func (l Loop) Run(generate GenerateFunc, review ReviewFunc) (string, error) {
	maxAttempts := l.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var feedback []string
	var draft string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var err error
		draft, err = generate(feedback)
		if err != nil {
			return "", fmt.Errorf("draft attempt %d failed: %w", attempt, err)
		}

		ok, critique, err := review(draft)
		if err != nil {
			// Deliberate: a failed critique call does not fail the draft.
			// The reviewer improves quality but is never load-bearing, so a
			// transport error degrades to accepting what the writer produced.
			logger.Warn("review failed, accepting draft", "attempt", attempt, "error", err.Error())
			return draft, nil
		}
		if ok {
			return draft, nil
		}
		if attempt == maxAttempts {
			logger.Warn("review budget exhausted, accepting last draft", "critique", critique)
			return draft, nil
		}
		logger.Info("draft rejected, regenerating", "attempt", attempt, "critique", critique)
		feedback = append(feedback, critique)
	}
	return draft, nil
}

// File: internal/safety/validator.go
package safety

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nullvane/deskhand/api/schemas"
	"github.com/nullvane/deskhand/internal/config"
)

const (
	// DefaultMaxClickDistance is the fallback jump limit in pixels between
	// consecutive clicks evaluated against the same capture.
	DefaultMaxClickDistance = 50.0
	// MaxTypedTextLength caps a single type_text payload.
	MaxTypedTextLength = 10000
	// MaxWaitSeconds caps a single wait action after normalization.
	MaxWaitSeconds = 30.0
)

// allowedKinds is the closed set of action kinds the validator will ever
// accept. Everything else, including abort and unknown kinds, is rejected.
var allowedKinds = map[schemas.ActionKind]struct{}{
	schemas.ActionClick:           {},
	schemas.ActionDoubleClick:     {},
	schemas.ActionTypeText:        {},
	schemas.ActionKeyCombo:        {},
	schemas.ActionWait:            {},
	schemas.ActionOpenApplication: {},
	schemas.ActionDone:            {},
}

// typedTextDenylist holds destructive shell fragments that must never be
// typed into the desktop, matched case-insensitively as substrings.
var typedTextDenylist = []string{
	"rm -rf",
	"del /f /s /q",
	"format c:",
	"shutdown",
	"reboot",
	"reg delete",
	"rd /s /q",
	"drop database",
	"drop table",
}

// dangerousChords holds key combinations that close, lock, or escape the
// session, matched after chord normalization.
var dangerousChords = map[string]struct{}{
	"alt+f4":       {},
	"ctrl+alt+del": {},
	"win+r":        {},
	"f10":          {},
}

// Validator gates every proposed action before it reaches the executor. It
// is a pure function of its inputs: no I/O, no clock reads (the evaluation
// time is a parameter), so verdicts are reproducible in tests.
type Validator struct {
	safeMode         bool
	maxClickDistance float64
	rateLimitActions int
	rateLimitWindow  time.Duration
}

var _ schemas.Validator = (*Validator)(nil)

// New builds a Validator from the safety configuration, substituting
// defaults for non-positive limits.
func New(cfg config.SafetyConfig) *Validator {
	v := &Validator{
		safeMode:         cfg.SafeMode,
		maxClickDistance: cfg.MaxClickDistance,
		rateLimitActions: cfg.RateLimitActions,
		rateLimitWindow:  cfg.RateLimitWindow,
	}
	if v.maxClickDistance <= 0 {
		v.maxClickDistance = DefaultMaxClickDistance
	}
	if v.rateLimitWindow <= 0 {
		v.rateLimitWindow = time.Minute
	}
	return v
}

// Validate applies the safety rules in order and returns the first failure,
// or an accepted verdict carrying the normalized action. The kind allow-set
// and the screen-bounds rules always run; the distance, content, and rate
// rules are waived when safe mode is off.
func (v *Validator) Validate(p *schemas.ActionProposal, history []schemas.HistoryEntry, bounds schemas.Bounds, now time.Time) schemas.SafetyVerdict {
	// 1. The action kind must be in the closed allow-set.
	if _, ok := allowedKinds[p.Kind]; !ok {
		return reject(schemas.FailureUnsafeContent, fmt.Sprintf("action kind %q is not permitted", p.Kind))
	}

	// 2. Click targets must lie inside the captured screen. Out-of-bounds
	// coordinates are rejected outright, never clamped into range.
	if p.Kind.RequiresTarget() && !bounds.Contains(p.X, p.Y) {
		return reject(schemas.FailureOutOfBounds, fmt.Sprintf(
			"click target (%.0f, %.0f) is outside the %dx%d screen", p.X, p.Y, bounds.Width, bounds.Height))
	}

	if v.safeMode {
		// 3. A click may not jump further than the configured distance from
		// the previous click unless a fresh capture has been taken since;
		// large blind jumps are the signature of hallucinated coordinates.
		if p.Kind.RequiresTarget() {
			if prev, ok := lastAcceptedClick(history); ok && p.CaptureGeneration <= prev.CaptureGeneration {
				dist := math.Hypot(p.X-float64(prev.X), p.Y-float64(prev.Y))
				if dist > v.maxClickDistance {
					return reject(schemas.FailureOutOfBounds, fmt.Sprintf(
						"click distance %.0fpx from previous click exceeds %.0fpx without a fresh capture", dist, v.maxClickDistance))
				}
			}
		}

		// 4. Content screening: typed text must be bounded and free of
		// destructive patterns; key chords must not match the blocked set.
		switch p.Kind {
		case schemas.ActionTypeText:
			if len(p.Text) > MaxTypedTextLength {
				return reject(schemas.FailureUnsafeContent, fmt.Sprintf(
					"typed text length %d exceeds the %d character limit", len(p.Text), MaxTypedTextLength))
			}
			lower := strings.ToLower(p.Text)
			for _, pattern := range typedTextDenylist {
				if strings.Contains(lower, pattern) {
					return reject(schemas.FailureUnsafeContent, fmt.Sprintf("typed text contains blocked pattern %q", pattern))
				}
			}
		case schemas.ActionKeyCombo:
			chord := NormalizeChord(p.Text)
			if _, blocked := dangerousChords[chord]; blocked {
				return reject(schemas.FailureUnsafeContent, fmt.Sprintf("key combination %q is blocked", chord))
			}
		}

		// 5. Rolling rate limit over the recent accepted actions. This is
		// the only soft rejection: the controller cools down and retries
		// the same proposal.
		if v.rateLimitActions > 0 {
			recent := 0
			for _, e := range history {
				if e.Accepted && now.Sub(e.At) < v.rateLimitWindow {
					recent++
				}
			}
			if recent >= v.rateLimitActions {
				verdict := reject(schemas.FailureRateLimited, fmt.Sprintf(
					"%d actions in the last %s reached the limit of %d", recent, v.rateLimitWindow, v.rateLimitActions))
				verdict.Soft = true
				return verdict
			}
		}
	}

	return schemas.SafetyVerdict{
		Accepted:   true,
		Normalized: normalize(p),
	}
}

// NormalizeChord canonicalizes a key chord for comparison: parts are split
// on '+', trimmed, and lowercased, so "Ctrl + Alt + Del" and "ctrl+alt+del"
// compare equal.
func NormalizeChord(chord string) string {
	parts := strings.Split(chord, "+")
	for i, part := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(part))
	}
	return strings.Join(parts, "+")
}

// lastAcceptedClick scans the history newest-first for the most recent
// accepted click or double click.
func lastAcceptedClick(history []schemas.HistoryEntry) (schemas.HistoryEntry, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		e := history[i]
		if e.Accepted && (e.Kind == schemas.ActionClick || e.Kind == schemas.ActionDoubleClick) {
			return e, true
		}
	}
	return schemas.HistoryEntry{}, false
}

// normalize converts an accepted proposal into executor form: coordinates
// rounded to whole pixels, wait durations clamped to [0, MaxWaitSeconds],
// typed text stripped of a trailing newline the model tends to append.
func normalize(p *schemas.ActionProposal) *schemas.NormalizedAction {
	n := &schemas.NormalizedAction{
		Kind: p.Kind,
		X:    int(math.Round(p.X)),
		Y:    int(math.Round(p.Y)),
		Text: strings.TrimRight(p.Text, "\r\n"),
	}
	if p.Kind == schemas.ActionWait {
		secs := p.DurationSeconds
		if secs < 0 {
			secs = 0
		}
		if secs > MaxWaitSeconds {
			secs = MaxWaitSeconds
		}
		n.Duration = time.Duration(secs * float64(time.Second))
	}
	return n
}

func reject(kind schemas.FailureKind, reason string) schemas.SafetyVerdict {
	return schemas.SafetyVerdict{
		Accepted: false,
		Reason:   reason,
		Kind:     kind,
	}
}

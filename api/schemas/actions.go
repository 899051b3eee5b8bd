package schemas

import "time"

// ActionKind is an enumeration of every action the inference capability may
// propose. The values double as the wire vocabulary the model is instructed
// to answer with, so they are lowercase snake_case.
type ActionKind string

const (
	ActionClick           ActionKind = "click"            // Single left click at target coordinates.
	ActionDoubleClick     ActionKind = "double_click"     // Double left click at target coordinates.
	ActionTypeText        ActionKind = "type_text"        // Types the text payload into the focused element.
	ActionKeyCombo        ActionKind = "key_combo"        // Presses a key or chord, e.g. "enter", "ctrl+c".
	ActionWait            ActionKind = "wait"             // Pauses for the given duration.
	ActionOpenApplication ActionKind = "open_application" // Launches an application by name.
	ActionDone            ActionKind = "done"             // The command is complete; no device I/O.
	ActionAbort           ActionKind = "abort"            // Model-requested abort; always rejected by the validator.
)

// RequiresTarget reports whether the kind carries screen coordinates.
func (k ActionKind) RequiresTarget() bool {
	return k == ActionClick || k == ActionDoubleClick
}

// RequiresText reports whether the kind carries a mandatory text payload.
func (k ActionKind) RequiresText() bool {
	return k == ActionTypeText || k == ActionKeyCombo || k == ActionOpenApplication
}

// Bounds describes the geometry of the captured screen. Coordinates are valid
// when 0 <= x < Width and 0 <= y < Height.
type Bounds struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains reports whether the point lies inside the bounds.
func (b Bounds) Contains(x, y float64) bool {
	return x >= 0 && y >= 0 && x < float64(b.Width) && y < float64(b.Height)
}

// ScreenState is one captured screen image plus its geometry. It is created
// once per perception step and never mutated. Generation increases with every
// capture in the session; the validator uses it to detect whether a capture
// intervened between two clicks.
type ScreenState struct {
	PNG        []byte    `json:"-"`
	Bounds     Bounds    `json:"bounds"`
	CapturedAt time.Time `json:"captured_at"`
	Generation uint64    `json:"generation"`
}

// ActionProposal is the structured decision returned by the inference
// capability for one perception step. Immutable once produced. Coordinates
// stay in model units (possibly fractional) until normalization.
type ActionProposal struct {
	Kind ActionKind `json:"action"`
	X    float64    `json:"x,omitempty"`
	Y    float64    `json:"y,omitempty"`
	// Text carries the payload for type_text, the chord for key_combo and
	// the application name for open_application.
	Text string `json:"text,omitempty"`
	// DurationSeconds applies to wait proposals only.
	DurationSeconds float64 `json:"duration,omitempty"`
	// Rationale is the model's stated reasoning. Advisory only; never used
	// for control flow.
	Rationale string `json:"rationale,omitempty"`
	// Raw preserves the verbatim model output for the audit trail.
	Raw string `json:"raw,omitempty"`
	// CaptureGeneration records which screen capture the proposal was made
	// against.
	CaptureGeneration uint64 `json:"capture_generation"`
}

// NormalizedAction is an accepted proposal after validator normalization:
// coordinates rounded to device pixels, wait duration clamped, text trimmed.
type NormalizedAction struct {
	Kind     ActionKind    `json:"action"`
	X        int           `json:"x,omitempty"`
	Y        int           `json:"y,omitempty"`
	Text     string        `json:"text,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// SafetyVerdict is the validator's ruling on one proposal.
type SafetyVerdict struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	// Kind classifies a rejection using the failure taxonomy.
	Kind FailureKind `json:"kind,omitempty"`
	// Soft marks a rate-limit rejection: the controller cools down and
	// retries the same proposal instead of re-querying inference.
	Soft       bool              `json:"soft,omitempty"`
	Normalized *NormalizedAction `json:"normalized,omitempty"`
}

// ActionOutcome reports what the executor did with an accepted action.
type ActionOutcome struct {
	Applied bool          `json:"applied"`
	Kind    FailureKind   `json:"kind,omitempty"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// HistoryEntry is one completed evaluation step kept in the session's ring
// buffer and fed back into prompts and validator decisions.
type HistoryEntry struct {
	Kind              ActionKind  `json:"action"`
	X                 int         `json:"x,omitempty"`
	Y                 int         `json:"y,omitempty"`
	Text              string      `json:"text,omitempty"`
	Accepted          bool        `json:"accepted"`
	RejectReason      string      `json:"reject_reason,omitempty"`
	RejectKind        FailureKind `json:"reject_kind,omitempty"`
	CaptureGeneration uint64      `json:"capture_generation"`
	At                time.Time   `json:"at"`
}

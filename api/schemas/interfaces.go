package schemas

import (
	"context"
	"time"
)

// -- Perception --

// PerceptionProvider captures the current screen. Stateless apart from the
// session generation counter: two captures of an unchanged desktop still
// produce distinct generations.
type PerceptionProvider interface {
	// Capture grabs the configured display and returns it as a PNG with its
	// geometry and a fresh generation number.
	Capture(ctx context.Context) (*ScreenState, error)
}

// -- Inference --

// ProposalRequest carries everything the inference capability sees for one
// step: the screen, the command, the verbatim rule set and the bounded
// recent history (including rejection reasons, so the model can
// self-correct).
type ProposalRequest struct {
	Screen  *ScreenState
	Command string
	Rules   string
	History []HistoryEntry
}

// Proposer is the single dependency-inverted boundary around the
// non-deterministic "AI decides the action" step. Production backs it with a
// local vision model endpoint; tests back it with scripted fakes.
type Proposer interface {
	// Propose returns the model's next action for the request, or an
	// AgentError kinded FailureInferenceUnavailable / FailureInferenceMalformed.
	Propose(ctx context.Context, req ProposalRequest) (*ActionProposal, error)
}

// -- Safety --

// Validator is the pure safety gate in front of all device I/O. No I/O, no
// clock reads; the evaluation time is a parameter so verdicts are
// reproducible.
type Validator interface {
	Validate(p *ActionProposal, history []HistoryEntry, bounds Bounds, now time.Time) SafetyVerdict
}

// -- Execution --

// Executor applies validated actions to the desktop. Implementations must
// check the emergency-stop flag before any device I/O and report Aborted
// without touching the device once it is set.
type Executor interface {
	Apply(ctx context.Context, action *NormalizedAction) ActionOutcome
}

// -- Connectivity --

// ConnectivityMonitor reports external network reachability for commands
// that target network-dependent applications.
type ConnectivityMonitor interface {
	// IsReachable performs one synchronous probe with a short timeout.
	IsReachable(ctx context.Context) bool
	// WaitUntilReachable blocks with capped exponential backoff between
	// probes until reachable, maxWait elapses, or ctx is canceled. Returns
	// true only on reachability.
	WaitUntilReachable(ctx context.Context, maxWait time.Duration) bool
}

// -- Queue --

// CommandQueue delivers pending commands in sequence order and persists the
// processed marker. The command file itself is never mutated.
type CommandQueue interface {
	// Commands yields pending commands, earliest Seq first, skipping
	// everything at or below the persisted marker.
	Commands() <-chan Command
	// MarkDone advances the persisted marker past seq.
	MarkDone(seq int64) error
}

// -- Audit --

// AuditSink appends records to the audit trail.
type AuditSink interface {
	Record(rec *AuditRecord) error
}

// -- Rules --

// RuleSource serves the active safety/behavior rule text embedded verbatim
// into every inference request.
type RuleSource interface {
	Current() string
}

package schemas

import "time"

// CommandStatus tracks a command through its lifecycle. Terminal statuses are
// never left: a completed or failed command stays that way.
type CommandStatus string

const (
	StatusPending    CommandStatus = "pending"     // Read from the queue, not yet started.
	StatusInProgress CommandStatus = "in_progress" // The controller is driving its step loop.
	StatusCompleted  CommandStatus = "completed"   // The model reported done.
	StatusFailed     CommandStatus = "failed"      // Terminal failure; FailureKind carries the class.
)

// Terminal reports whether the status permits no further transitions.
func (s CommandStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Command is one line of user-authored natural-language instruction. Seq is
// the physical line number in the command file and orders processing; the
// persisted marker records the highest terminally processed Seq so restarts
// never redo work.
type Command struct {
	ID            string        `json:"id"`
	Text          string        `json:"text"`
	Seq           int64         `json:"seq"`
	Status        CommandStatus `json:"status"`
	FailureKind   FailureKind   `json:"failure_kind,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	EnqueuedAt    time.Time     `json:"enqueued_at"`
}

package schemas

import "time"

// AuditRecordType distinguishes the two record shapes on the audit trail.
type AuditRecordType string

const (
	// AuditStep records one proposal/verdict/outcome triple. Outcome is nil
	// when the verdict rejected the proposal.
	AuditStep AuditRecordType = "step"
	// AuditStatus records a command status transition, including the
	// failure kind and reason for terminal failures.
	AuditStatus AuditRecordType = "status"
)

// AuditRecord is one line of the append-only JSONL audit trail. Records are
// written at the moment the event happens and never rewritten; a later status
// record supersedes an earlier one.
type AuditRecord struct {
	Type        AuditRecordType `json:"type"`
	Time        time.Time       `json:"time"`
	CommandID   string          `json:"command_id"`
	CommandSeq  int64           `json:"command_seq"`
	CommandText string          `json:"command_text"`

	// Step fields, set when Type == AuditStep.
	Step     int             `json:"step,omitempty"`
	Proposal *ActionProposal `json:"proposal,omitempty"`
	Verdict  *SafetyVerdict  `json:"verdict,omitempty"`
	Outcome  *ActionOutcome  `json:"outcome,omitempty"`

	// Status fields, set when Type == AuditStatus.
	Status      CommandStatus `json:"status,omitempty"`
	FailureKind FailureKind   `json:"failure_kind,omitempty"`
	Reason      string        `json:"reason,omitempty"`
}

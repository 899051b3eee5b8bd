// File: internal/audit/writer.go
package audit

import (
	"fmt"
	"io"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nullvane/deskhand/api/schemas"
)

// Rotation settings for the audit trail. The trail is evidence, so it keeps
// more backups than the application log.
const (
	maxSizeMB  = 25
	maxBackups = 10
)

// Writer appends audit records to a JSONL trail, one record per line,
// rotated by lumberjack. Records are written in event order; the file is
// never rewritten.
type Writer struct {
	mu  sync.Mutex
	out io.WriteCloser
}

var _ schemas.AuditSink = (*Writer)(nil)

// NewWriter opens (creating if necessary) the audit trail at path.
func NewWriter(path string) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("audit trail path is required")
	}
	return &Writer{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		},
	}, nil
}

// Record appends one record to the trail. A zero Time is stamped with the
// current UTC time.
func (w *Writer) Record(rec *schemas.AuditRecord) error {
	if rec == nil {
		return fmt.Errorf("audit record is nil")
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(line); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// Close releases the underlying sink.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Close()
}

// StepRecord builds the audit record for one evaluated proposal. Outcome is
// nil when the verdict rejected the proposal.
func StepRecord(cmd schemas.Command, step int, proposal *schemas.ActionProposal, verdict *schemas.SafetyVerdict, outcome *schemas.ActionOutcome) *schemas.AuditRecord {
	return &schemas.AuditRecord{
		Type:        schemas.AuditStep,
		CommandID:   cmd.ID,
		CommandSeq:  cmd.Seq,
		CommandText: cmd.Text,
		Step:        step,
		Proposal:    proposal,
		Verdict:     verdict,
		Outcome:     outcome,
	}
}

// StatusRecord builds the audit record for a command status transition.
// Kind and reason are empty except for terminal failures.
func StatusRecord(cmd schemas.Command, status schemas.CommandStatus, kind schemas.FailureKind, reason string) *schemas.AuditRecord {
	return &schemas.AuditRecord{
		Type:        schemas.AuditStatus,
		CommandID:   cmd.ID,
		CommandSeq:  cmd.Seq,
		CommandText: cmd.Text,
		Status:      status,
		FailureKind: kind,
		Reason:      reason,
	}
}

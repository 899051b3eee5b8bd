// File: cmd/history.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nullvane/deskhand/api/schemas"
	"github.com/nullvane/deskhand/internal/audit"
)

// newHistoryCmd creates the `history` command, a read-only view over the
// audit trail.
func newHistoryCmd() *cobra.Command {
	var (
		limit      int
		failedOnly bool
	)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Shows recent entries from the audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := audit.Read(cfg.Queue.AuditFile, audit.Filter{Limit: limit, FailedOnly: failedOnly})
			if err != nil {
				return fmt.Errorf("failed to read the audit trail: %w", err)
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No audit records found.")
				return nil
			}
			for _, rec := range records {
				fmt.Fprintln(cmd.OutOrStdout(), formatAuditRecord(rec))
			}
			return nil
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of records to show.")
	historyCmd.Flags().BoolVar(&failedOnly, "failed", false, "Show only failed command statuses.")
	return historyCmd
}

// formatAuditRecord renders one trail record as a single console line.
func formatAuditRecord(rec schemas.AuditRecord) string {
	ts := rec.Time.Local().Format("2006-01-02 15:04:05")

	switch rec.Type {
	case schemas.AuditStatus:
		line := fmt.Sprintf("%s  #%-3d %-12s %s", ts, rec.CommandSeq, rec.Status, rec.CommandText)
		if rec.Status == schemas.StatusFailed {
			line += fmt.Sprintf("  [%s: %s]", rec.FailureKind, rec.Reason)
		}
		return line

	case schemas.AuditStep:
		line := fmt.Sprintf("%s  #%-3d step %-2d     %s", ts, rec.CommandSeq, rec.Step, formatProposal(rec.Proposal))
		switch {
		case rec.Verdict == nil:
			return line
		case rec.Verdict.Accepted && rec.Outcome != nil && rec.Outcome.Applied:
			line += fmt.Sprintf("  -> applied in %s", rec.Outcome.Elapsed.Round(time.Millisecond))
		case rec.Verdict.Accepted && rec.Outcome != nil:
			line += fmt.Sprintf("  -> %s: %s", rec.Outcome.Kind, rec.Outcome.Error)
		case rec.Verdict.Soft:
			line += "  -> rate limited"
		default:
			line += fmt.Sprintf("  -> rejected (%s)", rec.Verdict.Reason)
		}
		return line

	default:
		return fmt.Sprintf("%s  #%-3d %s", ts, rec.CommandSeq, rec.CommandText)
	}
}

// formatProposal renders a proposal's essentials: the kind plus whichever
// payload that kind carries.
func formatProposal(p *schemas.ActionProposal) string {
	if p == nil {
		return "(no proposal)"
	}
	switch p.Kind {
	case schemas.ActionClick, schemas.ActionDoubleClick:
		return fmt.Sprintf("%s (%.0f, %.0f)", p.Kind, p.X, p.Y)
	case schemas.ActionTypeText:
		text := p.Text
		if len(text) > 40 {
			text = text[:40] + "..."
		}
		return fmt.Sprintf("type %q", text)
	case schemas.ActionKeyCombo:
		return fmt.Sprintf("keys %s", p.Text)
	case schemas.ActionOpenApplication:
		return fmt.Sprintf("open %q", p.Text)
	case schemas.ActionWait:
		return fmt.Sprintf("wait %.1fs", p.DurationSeconds)
	default:
		return string(p.Kind)
	}
}

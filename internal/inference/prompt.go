// File: internal/inference/prompt.go
package inference

import (
	"fmt"
	"strings"

	"github.com/nullvane/deskhand/api/schemas"
)

// defaultHistoryWindow bounds the recent-action block when no window is
// configured.
const defaultHistoryWindow = 5

// historyTextLimit truncates typed payloads in the history block; the model
// needs to know what was typed, not all ten thousand characters of it.
const historyTextLimit = 80

// buildPrompt assembles the generation prompt: role, the active rule set
// verbatim, the recent actions of this command (with rejection reasons, so
// the model can self-correct), and the user command.
func buildPrompt(req schemas.ProposalRequest, window int) string {
	if window <= 0 {
		window = defaultHistoryWindow
	}

	var sb strings.Builder
	sb.WriteString("You are an AI desktop automation assistant. You can see the current desktop screenshot and need to decide what action to take based on the user's command.\n\n")

	sb.WriteString("RULES AND GUIDELINES:\n")
	sb.WriteString(req.Rules)
	sb.WriteString("\n\n")

	history := req.History
	if len(history) > window {
		history = history[len(history)-window:]
	}
	if len(history) > 0 {
		sb.WriteString("RECENT ACTIONS (oldest first):\n")
		for _, e := range history {
			sb.WriteString("- ")
			sb.WriteString(formatHistoryEntry(e))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("USER COMMAND: ")
	sb.WriteString(req.Command)
	sb.WriteString("\n\n")

	sb.WriteString(`Analyze the screenshot and determine the appropriate action to fulfill the user's command. Consider:
1. What UI elements are visible on the screen
2. Where should I click or what should I type to accomplish the task
3. What is the most logical next step
4. If a recent action was rejected, choose a different one instead of repeating it

Respond ONLY with valid JSON in the exact format specified in the rules. Do not include any other text or explanation outside the JSON.`)

	return sb.String()
}

// formatHistoryEntry renders one past step as a single prompt line.
func formatHistoryEntry(e schemas.HistoryEntry) string {
	var what string
	switch {
	case e.Kind.RequiresTarget():
		what = fmt.Sprintf("%s at (%d, %d)", e.Kind, e.X, e.Y)
	case e.Kind.RequiresText():
		text := e.Text
		if len(text) > historyTextLimit {
			text = text[:historyTextLimit] + "..."
		}
		what = fmt.Sprintf("%s %q", e.Kind, text)
	default:
		what = string(e.Kind)
	}

	if e.Accepted {
		return what + ": executed"
	}
	return fmt.Sprintf("%s: REJECTED (%s)", what, e.RejectReason)
}

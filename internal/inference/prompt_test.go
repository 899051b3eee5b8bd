// File: internal/inference/prompt_test.go
package inference

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nullvane/deskhand/api/schemas"
)

func TestBuildPromptEmbedsRulesVerbatim(t *testing.T) {
	t.Parallel()

	rules := "1. Never click outside the visible screen area\n2. NEVER use key combination: Alt+F4\n"
	prompt := buildPrompt(schemas.ProposalRequest{
		Command: "open the calculator",
		Rules:   rules,
	}, 5)

	assert.Contains(t, prompt, "RULES AND GUIDELINES:\n"+rules)
	assert.Contains(t, prompt, "USER COMMAND: open the calculator")
	assert.Contains(t, prompt, "Respond ONLY with valid JSON")
	assert.NotContains(t, prompt, "RECENT ACTIONS", "no history block without history")
}

func TestBuildPromptWindowsHistory(t *testing.T) {
	t.Parallel()

	var history []schemas.HistoryEntry
	for i := 1; i <= 8; i++ {
		history = append(history, schemas.HistoryEntry{
			Kind:     schemas.ActionTypeText,
			Text:     fmt.Sprintf("step-%d", i),
			Accepted: true,
		})
	}

	prompt := buildPrompt(schemas.ProposalRequest{
		Command: "fill the form",
		Rules:   "none",
		History: history,
	}, 3)

	assert.NotContains(t, prompt, "step-5")
	assert.Contains(t, prompt, "step-6")
	assert.Contains(t, prompt, "step-7")
	assert.Contains(t, prompt, "step-8")
}

func TestBuildPromptShowsRejections(t *testing.T) {
	t.Parallel()

	prompt := buildPrompt(schemas.ProposalRequest{
		Command: "close the window",
		Rules:   "none",
		History: []schemas.HistoryEntry{
			{Kind: schemas.ActionClick, X: 10, Y: 20, Accepted: true},
			{Kind: schemas.ActionKeyCombo, Text: "alt+f4", Accepted: false, RejectReason: `key combination "alt+f4" is blocked`},
		},
	}, 5)

	assert.Contains(t, prompt, "click at (10, 20): executed")
	assert.Contains(t, prompt, `REJECTED (key combination "alt+f4" is blocked)`)
}

func TestBuildPromptTruncatesTypedText(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 2*historyTextLimit)
	prompt := buildPrompt(schemas.ProposalRequest{
		Command: "write the report",
		Rules:   "none",
		History: []schemas.HistoryEntry{
			{Kind: schemas.ActionTypeText, Text: long, Accepted: true},
		},
	}, 5)

	assert.Contains(t, prompt, strings.Repeat("a", historyTextLimit)+"...")
	assert.NotContains(t, prompt, long)
}

func TestFormatHistoryEntry(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		entry schemas.HistoryEntry
		want  string
	}{
		{
			name:  "click",
			entry: schemas.HistoryEntry{Kind: schemas.ActionClick, X: 960, Y: 540, Accepted: true},
			want:  "click at (960, 540): executed",
		},
		{
			name:  "typed text quoted",
			entry: schemas.HistoryEntry{Kind: schemas.ActionTypeText, Text: "hello", Accepted: true},
			want:  `type_text "hello": executed`,
		},
		{
			name:  "bare kind",
			entry: schemas.HistoryEntry{Kind: schemas.ActionWait, Accepted: true},
			want:  "wait: executed",
		},
		{
			name:  "rejected",
			entry: schemas.HistoryEntry{Kind: schemas.ActionDoubleClick, X: 1, Y: 2, Accepted: false, RejectReason: "outside the screen"},
			want:  "double_click at (1, 2): REJECTED (outside the screen)",
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, formatHistoryEntry(tt.entry))
		})
	}
}

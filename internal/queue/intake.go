// File: internal/queue/intake.go
package queue

import (
	"fmt"
	"strings"
)

// maxCommandLength caps a single command line. Anything longer is almost
// certainly a paste accident, and the model would truncate it anyway.
const maxCommandLength = 500

// dangerPatterns are command-text fragments that are never acted on, no
// matter what the model or the rules would make of them. Matching is
// case-insensitive substring.
var dangerPatterns = []string{
	"rm -rf",
	"del /f /s /q",
	"format c:",
	"shutdown /s",
	"reboot",
	"reg delete",
	"rd /s /q",
	"drop database",
	"drop table",
	"kill -9",
	"taskkill /f",
}

// vetCommand screens raw command text before any model involvement. It
// returns ok=false with a reason when the command must be failed unread:
// too short to mean anything, too long to be deliberate, or matching the
// danger list.
func vetCommand(text string) (string, bool) {
	if len(strings.Fields(text)) < 2 {
		return "command is too short to be actionable", false
	}
	if len(text) > maxCommandLength {
		return fmt.Sprintf("command length %d exceeds the %d character limit", len(text), maxCommandLength), false
	}

	lower := strings.ToLower(text)
	for _, pattern := range dangerPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Sprintf("command contains blocked pattern %q", pattern), false
		}
	}
	return "", true
}

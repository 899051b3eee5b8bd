// File: internal/inference/parse.go
package inference

import (
	"regexp"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/nullvane/deskhand/api/schemas"
)

// A regex to robustly extract a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// knownKinds is the wire vocabulary the model is instructed to use. Abort
// is parseable on purpose: the validator is the one that refuses it.
var knownKinds = map[schemas.ActionKind]struct{}{
	schemas.ActionClick:           {},
	schemas.ActionDoubleClick:     {},
	schemas.ActionTypeText:        {},
	schemas.ActionKeyCombo:        {},
	schemas.ActionWait:            {},
	schemas.ActionOpenApplication: {},
	schemas.ActionDone:            {},
	schemas.ActionAbort:           {},
}

// wireDecision mirrors the JSON shape the RESPONSE FORMAT rules ask for.
// Pointer fields distinguish "absent" from "zero" during validation.
type wireDecision struct {
	Action      *string   `json:"action"`
	Coordinates []float64 `json:"coordinates"`
	Text        *string   `json:"text"`
	Key         *string   `json:"key"`
	Duration    *float64  `json:"duration"`
	Reasoning   string    `json:"reasoning"`
}

// parseProposal extracts the JSON decision from the model's raw text and
// validates it per action kind. Models wrap JSON in markdown fences, lead
// with prose, or both; extraction tries the fenced block first, then the
// outermost brace pair, then gives up malformed.
func parseProposal(response string) (*schemas.ActionProposal, error) {
	response = strings.TrimSpace(response)

	var jsonStr string
	if matches := jsonBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		jsonStr = strings.TrimSpace(matches[1])
	} else {
		first := strings.Index(response, "{")
		last := strings.LastIndex(response, "}")
		if first != -1 && last > first {
			jsonStr = response[first : last+1]
		} else {
			jsonStr = response
		}
	}
	if jsonStr == "" {
		return nil, schemas.NewError(schemas.FailureInferenceMalformed, "no JSON found in model response")
	}

	var decision wireDecision
	if err := json.Unmarshal([]byte(jsonStr), &decision); err != nil {
		return nil, schemas.WrapError(schemas.FailureInferenceMalformed, err, "failed to unmarshal model response")
	}

	if decision.Action == nil || strings.TrimSpace(*decision.Action) == "" {
		return nil, schemas.NewError(schemas.FailureInferenceMalformed, "model response missing required 'action' field")
	}
	kind := schemas.ActionKind(strings.ToLower(strings.TrimSpace(*decision.Action)))
	if _, ok := knownKinds[kind]; !ok {
		return nil, schemas.NewError(schemas.FailureInferenceMalformed, "model proposed unknown action %q", *decision.Action)
	}

	proposal := &schemas.ActionProposal{
		Kind:      kind,
		Rationale: decision.Reasoning,
	}

	switch kind {
	case schemas.ActionClick, schemas.ActionDoubleClick:
		if len(decision.Coordinates) != 2 {
			return nil, schemas.NewError(schemas.FailureInferenceMalformed, "%s proposal needs coordinates [x, y], got %d values", kind, len(decision.Coordinates))
		}
		proposal.X = decision.Coordinates[0]
		proposal.Y = decision.Coordinates[1]

	case schemas.ActionTypeText:
		if decision.Text == nil || *decision.Text == "" {
			return nil, schemas.NewError(schemas.FailureInferenceMalformed, "type_text proposal needs a non-empty 'text' field")
		}
		proposal.Text = *decision.Text

	case schemas.ActionKeyCombo:
		// The rules ask for "key"; tolerate models that put the chord in
		// "text" instead.
		switch {
		case decision.Key != nil && *decision.Key != "":
			proposal.Text = *decision.Key
		case decision.Text != nil && *decision.Text != "":
			proposal.Text = *decision.Text
		default:
			return nil, schemas.NewError(schemas.FailureInferenceMalformed, "key_combo proposal needs a non-empty 'key' field")
		}

	case schemas.ActionOpenApplication:
		if decision.Text == nil || *decision.Text == "" {
			return nil, schemas.NewError(schemas.FailureInferenceMalformed, "open_application proposal needs the application name in 'text'")
		}
		proposal.Text = *decision.Text

	case schemas.ActionWait:
		// A missing duration defaults to one second; an explicit
		// non-positive one is malformed.
		secs := 1.0
		if decision.Duration != nil {
			secs = *decision.Duration
			if secs <= 0 {
				return nil, schemas.NewError(schemas.FailureInferenceMalformed, "wait proposal needs a positive duration, got %v", secs)
			}
		}
		proposal.DurationSeconds = secs
	}

	return proposal, nil
}

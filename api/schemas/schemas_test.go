package schemas_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullvane/deskhand/api/schemas"
)

func TestActionKindHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, schemas.ActionClick.RequiresTarget())
	assert.True(t, schemas.ActionDoubleClick.RequiresTarget())
	assert.False(t, schemas.ActionTypeText.RequiresTarget())
	assert.False(t, schemas.ActionDone.RequiresTarget())

	assert.True(t, schemas.ActionTypeText.RequiresText())
	assert.True(t, schemas.ActionKeyCombo.RequiresText())
	assert.True(t, schemas.ActionOpenApplication.RequiresText())
	assert.False(t, schemas.ActionWait.RequiresText())
}

func TestBoundsContains(t *testing.T) {
	t.Parallel()
	b := schemas.Bounds{Width: 1920, Height: 1080}

	testCases := []struct {
		name string
		x, y float64
		want bool
	}{
		{"center", 960, 540, true},
		{"origin", 0, 0, true},
		{"last valid pixel", 1919, 1079, true},
		{"width edge is exclusive", 1920, 540, false},
		{"height edge is exclusive", 960, 1080, false},
		{"negative x", -1, 540, false},
		{"negative y", 960, -0.5, false},
		{"fractional inside", 1919.9, 1079.9, true},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, b.Contains(tt.x, tt.y))
		})
	}
}

func TestCommandStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, schemas.StatusPending.Terminal())
	assert.False(t, schemas.StatusInProgress.Terminal())
	assert.True(t, schemas.StatusCompleted.Terminal())
	assert.True(t, schemas.StatusFailed.Terminal())
}

func TestAgentErrorKindMatching(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := schemas.WrapError(schemas.FailureInferenceUnavailable, cause, "endpoint %s", "http://localhost:11434")

	// The cause survives wrapping.
	require.ErrorIs(t, err, cause)

	// Kind matching via errors.Is against a bare kinded error.
	assert.True(t, errors.Is(err, &schemas.AgentError{Kind: schemas.FailureInferenceUnavailable}))
	assert.False(t, errors.Is(err, &schemas.AgentError{Kind: schemas.FailureTimeout}))

	// Kind matching survives further fmt wrapping.
	wrapped := fmt.Errorf("step 3: %w", err)
	assert.Equal(t, schemas.FailureInferenceUnavailable, schemas.KindOf(wrapped))
}

func TestKindOfUnclassified(t *testing.T) {
	t.Parallel()

	// Plain errors collapse onto the executor class so the audit trail
	// never carries an empty kind.
	assert.Equal(t, schemas.FailureExecutor, schemas.KindOf(errors.New("boom")))
}

func TestNewErrorMessage(t *testing.T) {
	t.Parallel()

	err := schemas.NewError(schemas.FailureOutOfBounds, "click (%d,%d) outside %dx%d", 2000, 50, 1920, 1080)
	assert.Contains(t, err.Error(), "out_of_bounds")
	assert.Contains(t, err.Error(), "click (2000,50) outside 1920x1080")
	assert.Nil(t, errors.Unwrap(err))
}

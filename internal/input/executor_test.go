// File: internal/input/executor_test.go
package input

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nullvane/deskhand/api/schemas"
	"github.com/nullvane/deskhand/internal/config"
	"github.com/nullvane/deskhand/internal/session"
)

// -- Test Setup Helpers --

// fakeDriver records every device call instead of touching the desktop.
type fakeDriver struct {
	mu       sync.Mutex
	calls    []string
	x, y     int
	width    int
	height   int
	glideDur time.Duration
	failWith error
	// block, when non-nil, makes Glide hang until the channel closes.
	block chan struct{}
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{width: 1920, height: 1080}
}

func (d *fakeDriver) Glide(x, y int, duration time.Duration) error {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	d.calls = append(d.calls, fmt.Sprintf("glide(%d,%d)", x, y))
	d.x, d.y = x, y
	d.glideDur = duration
	return nil
}

func (d *fakeDriver) Click(double bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	if double {
		d.calls = append(d.calls, "double_click")
	} else {
		d.calls = append(d.calls, "click")
	}
	return nil
}

func (d *fakeDriver) TypeText(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	d.calls = append(d.calls, "type("+text+")")
	return nil
}

func (d *fakeDriver) TapKeys(keys []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	d.calls = append(d.calls, fmt.Sprintf("tap(%v)", keys))
	return nil
}

func (d *fakeDriver) Position() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.x, d.y
}

func (d *fakeDriver) ScreenSize() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width, d.height
}

func (d *fakeDriver) OpenApplication(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	d.calls = append(d.calls, "open("+name+")")
	return nil
}

func (d *fakeDriver) recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *fakeDriver) moveTo(x, y int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.x, d.y = x, y
}

func newTestExecutor(t *testing.T, driver Driver, sess *session.Session, cfg config.AutomationConfig) *Executor {
	t.Helper()
	exec, err := New(cfg, driver, sess, zaptest.NewLogger(t))
	require.NoError(t, err)
	return exec
}

// -- Test Cases: Executor --

func TestNewValidation(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	sess := session.New(10)

	_, err := New(config.AutomationConfig{}, nil, sess, logger)
	require.Error(t, err)

	_, err = New(config.AutomationConfig{}, newFakeDriver(), nil, logger)
	require.Error(t, err)

	_, err = New(config.AutomationConfig{}, newFakeDriver(), sess, nil)
	require.Error(t, err)
}

func TestApplyClick(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	exec := newTestExecutor(t, driver, session.New(10), config.AutomationConfig{})

	outcome := exec.Apply(context.Background(), &schemas.NormalizedAction{
		Kind: schemas.ActionClick, X: 500, Y: 300,
	})

	require.True(t, outcome.Applied)
	assert.Empty(t, outcome.Kind)
	assert.Equal(t, []string{"glide(500,300)", "click"}, driver.recorded())
	assert.Equal(t, glideMax, driver.glideDur, "an 800px hop is clamped to the slowest glide")
}

func TestApplyDoubleClick(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	exec := newTestExecutor(t, driver, session.New(10), config.AutomationConfig{})

	outcome := exec.Apply(context.Background(), &schemas.NormalizedAction{
		Kind: schemas.ActionDoubleClick, X: 10, Y: 10,
	})

	require.True(t, outcome.Applied)
	assert.Equal(t, []string{"glide(10,10)", "double_click"}, driver.recorded())
}

func TestApplyTypeText(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	exec := newTestExecutor(t, driver, session.New(10), config.AutomationConfig{})

	outcome := exec.Apply(context.Background(), &schemas.NormalizedAction{
		Kind: schemas.ActionTypeText, Text: "hello world",
	})

	require.True(t, outcome.Applied)
	assert.Equal(t, []string{"type(hello world)"}, driver.recorded())
}

func TestApplyKeyComboSplitsChord(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	exec := newTestExecutor(t, driver, session.New(10), config.AutomationConfig{})

	outcome := exec.Apply(context.Background(), &schemas.NormalizedAction{
		Kind: schemas.ActionKeyCombo, Text: "ctrl+shift+t",
	})

	require.True(t, outcome.Applied)
	assert.Equal(t, []string{"tap([ctrl shift t])"}, driver.recorded())
}

func TestApplyOpenApplication(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	exec := newTestExecutor(t, driver, session.New(10), config.AutomationConfig{})

	outcome := exec.Apply(context.Background(), &schemas.NormalizedAction{
		Kind: schemas.ActionOpenApplication, Text: "calculator",
	})

	require.True(t, outcome.Applied)
	assert.Equal(t, []string{"open(calculator)"}, driver.recorded())
}

func TestApplyDoneTouchesNothing(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	exec := newTestExecutor(t, driver, session.New(10), config.AutomationConfig{})

	outcome := exec.Apply(context.Background(), &schemas.NormalizedAction{Kind: schemas.ActionDone})

	require.True(t, outcome.Applied)
	assert.Empty(t, driver.recorded())
}

func TestApplyWait(t *testing.T) {
	t.Parallel()

	t.Run("sleeps the duration", func(t *testing.T) {
		t.Parallel()
		driver := newFakeDriver()
		exec := newTestExecutor(t, driver, session.New(10), config.AutomationConfig{})

		start := time.Now()
		outcome := exec.Apply(context.Background(), &schemas.NormalizedAction{
			Kind: schemas.ActionWait, Duration: 60 * time.Millisecond,
		})

		require.True(t, outcome.Applied)
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
		assert.Empty(t, driver.recorded())
	})

	t.Run("canceled mid-sleep", func(t *testing.T) {
		t.Parallel()
		driver := newFakeDriver()
		exec := newTestExecutor(t, driver, session.New(10), config.AutomationConfig{})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		start := time.Now()
		outcome := exec.Apply(ctx, &schemas.NormalizedAction{
			Kind: schemas.ActionWait, Duration: 10 * time.Second,
		})

		require.False(t, outcome.Applied)
		assert.Equal(t, schemas.FailureAborted, outcome.Kind)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestApplyEmergencyStopShortCircuits(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	sess := session.New(10)
	exec := newTestExecutor(t, driver, sess, config.AutomationConfig{})

	sess.RequestStop("pointer entered failsafe corner at (0, 0)")

	outcome := exec.Apply(context.Background(), &schemas.NormalizedAction{
		Kind: schemas.ActionClick, X: 500, Y: 300,
	})

	require.False(t, outcome.Applied)
	assert.Equal(t, schemas.FailureAborted, outcome.Kind)
	assert.Empty(t, driver.recorded(), "no device event may follow the stop flag")
}

func TestApplyDriverFailure(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	driver.failWith = errors.New("device is gone")
	exec := newTestExecutor(t, driver, session.New(10), config.AutomationConfig{})

	outcome := exec.Apply(context.Background(), &schemas.NormalizedAction{
		Kind: schemas.ActionTypeText, Text: "hi there",
	})

	require.False(t, outcome.Applied)
	assert.Equal(t, schemas.FailureExecutor, outcome.Kind)
	assert.Contains(t, outcome.Error, "device is gone")
}

func TestApplyDispatchDeadline(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	driver.block = make(chan struct{})
	t.Cleanup(func() { close(driver.block) })

	exec := newTestExecutor(t, driver, session.New(10), config.AutomationConfig{
		DispatchTimeout: 50 * time.Millisecond,
	})

	outcome := exec.Apply(context.Background(), &schemas.NormalizedAction{
		Kind: schemas.ActionClick, X: 5, Y: 5,
	})

	require.False(t, outcome.Applied)
	assert.Equal(t, schemas.FailureExecutor, outcome.Kind)
	assert.Contains(t, outcome.Error, "dispatch deadline")
}

func TestApplyPacesConsecutiveActions(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	exec := newTestExecutor(t, driver, session.New(10), config.AutomationConfig{
		MinActionInterval: 120 * time.Millisecond,
	})

	start := time.Now()
	first := exec.Apply(context.Background(), &schemas.NormalizedAction{Kind: schemas.ActionTypeText, Text: "ab"})
	second := exec.Apply(context.Background(), &schemas.NormalizedAction{Kind: schemas.ActionTypeText, Text: "cd"})

	require.True(t, first.Applied)
	require.True(t, second.Applied)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond,
		"the second device event waits out the pacing interval")
}

func TestGlideDuration(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name           string
		fromX, fromY   int
		toX, toY       int
		want           time.Duration
	}{
		{name: "no travel still glides", fromX: 5, fromY: 5, toX: 5, toY: 5, want: glideMin},
		{name: "short hop floors at the minimum", fromX: 0, fromY: 0, toX: 30, toY: 40, want: glideMin},
		{name: "medium travel scales linearly", fromX: 0, fromY: 0, toX: 200, toY: 50, want: 250 * time.Millisecond},
		{name: "cross-screen travel caps at the maximum", fromX: 0, fromY: 0, toX: 1900, toY: 1000, want: glideMax},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, glideDuration(tt.fromX, tt.fromY, tt.toX, tt.toY))
		})
	}
}

// File: internal/input/executor.go
package input

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nullvane/deskhand/api/schemas"
	"github.com/nullvane/deskhand/internal/config"
	"github.com/nullvane/deskhand/internal/session"
)

const (
	// glideMin and glideMax clamp pointer travel time: short hops stay
	// deliberate, long ones stay quick.
	glideMin = 100 * time.Millisecond
	glideMax = 500 * time.Millisecond

	// defaultMinActionInterval paces device events when not configured.
	defaultMinActionInterval = 100 * time.Millisecond

	// defaultDispatchTimeout bounds one driver call. A hung call fails the
	// command, not the process.
	defaultDispatchTimeout = 10 * time.Second
)

// Executor applies validated actions to the desktop through a Driver. It is
// the only writer to the device: the emergency-stop flag is checked before
// anything reaches the driver, and a rate gate paces consecutive events.
type Executor struct {
	driver          Driver
	sess            *session.Session
	limiter         *rate.Limiter
	dispatchTimeout time.Duration
	logger          *zap.Logger
}

var _ schemas.Executor = (*Executor)(nil)

// New wires the executor. All dependencies are required.
func New(cfg config.AutomationConfig, driver Driver, sess *session.Session, logger *zap.Logger) (*Executor, error) {
	if driver == nil {
		return nil, fmt.Errorf("driver is required")
	}
	if sess == nil {
		return nil, fmt.Errorf("session is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	interval := cfg.MinActionInterval
	if interval <= 0 {
		interval = defaultMinActionInterval
	}
	timeout := cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}

	return &Executor{
		driver:          driver,
		sess:            sess,
		limiter:         rate.NewLimiter(rate.Every(interval), 1),
		dispatchTimeout: timeout,
		logger:          logger.Named("executor"),
	}, nil
}

// Apply performs one normalized action and reports what happened. It never
// returns an error; failures are carried in the outcome so the controller
// can classify them.
func (e *Executor) Apply(ctx context.Context, action *schemas.NormalizedAction) schemas.ActionOutcome {
	start := time.Now()

	if action == nil {
		return e.failed(start, schemas.FailureExecutor, "nil action")
	}
	if e.sess.Stopped() {
		return e.failed(start, schemas.FailureAborted, "emergency stop is set")
	}

	switch action.Kind {
	case schemas.ActionDone:
		// Loop termination signal; no device I/O.
		return schemas.ActionOutcome{Applied: true, Elapsed: time.Since(start)}

	case schemas.ActionWait:
		if err := sleepCtx(ctx, action.Duration); err != nil {
			return e.failed(start, schemas.FailureAborted, err.Error())
		}
		e.logger.Debug("Wait finished.", zap.Duration("duration", action.Duration))
		return schemas.ActionOutcome{Applied: true, Elapsed: time.Since(start)}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return e.failed(start, schemas.FailureAborted, err.Error())
	}
	// A corner hit during the pacing wait must not reach the device.
	if e.sess.Stopped() {
		return e.failed(start, schemas.FailureAborted, "emergency stop is set")
	}

	done := make(chan error, 1)
	go func() { done <- e.dispatch(action) }()

	timer := time.NewTimer(e.dispatchTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			e.logger.Error("Driver call failed.",
				zap.String("kind", string(action.Kind)), zap.Error(err))
			return e.failed(start, schemas.FailureExecutor, err.Error())
		}
	case <-ctx.Done():
		return e.failed(start, schemas.FailureAborted, ctx.Err().Error())
	case <-timer.C:
		e.logger.Warn("Driver call exceeded the dispatch deadline.",
			zap.String("kind", string(action.Kind)), zap.Duration("deadline", e.dispatchTimeout))
		return e.failed(start, schemas.FailureExecutor,
			fmt.Sprintf("driver call exceeded the %s dispatch deadline", e.dispatchTimeout))
	}

	e.logger.Debug("Action applied.",
		zap.String("kind", string(action.Kind)), zap.Duration("elapsed", time.Since(start)))
	return schemas.ActionOutcome{Applied: true, Elapsed: time.Since(start)}
}

// dispatch maps one device-touching action onto driver calls.
func (e *Executor) dispatch(action *schemas.NormalizedAction) error {
	switch action.Kind {
	case schemas.ActionClick, schemas.ActionDoubleClick:
		fromX, fromY := e.driver.Position()
		if err := e.driver.Glide(action.X, action.Y, glideDuration(fromX, fromY, action.X, action.Y)); err != nil {
			return err
		}
		return e.driver.Click(action.Kind == schemas.ActionDoubleClick)

	case schemas.ActionTypeText:
		return e.driver.TypeText(action.Text)

	case schemas.ActionKeyCombo:
		return e.driver.TapKeys(strings.Split(action.Text, "+"))

	case schemas.ActionOpenApplication:
		return e.driver.OpenApplication(action.Text)

	default:
		return fmt.Errorf("unexecutable action kind %q", action.Kind)
	}
}

func (e *Executor) failed(start time.Time, kind schemas.FailureKind, msg string) schemas.ActionOutcome {
	return schemas.ActionOutcome{
		Applied: false,
		Kind:    kind,
		Error:   msg,
		Elapsed: time.Since(start),
	}
}

// glideDuration scales pointer travel with Manhattan distance, one
// millisecond per pixel, clamped to [glideMin, glideMax].
func glideDuration(fromX, fromY, toX, toY int) time.Duration {
	dist := math.Abs(float64(toX-fromX)) + math.Abs(float64(toY-fromY))
	d := time.Duration(dist) * time.Millisecond
	if d < glideMin {
		return glideMin
	}
	if d > glideMax {
		return glideMax
	}
	return d
}

// sleepCtx is a cancelable sleep. Wait actions use it so an emergency stop
// or shutdown interrupts the pause immediately.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// File: internal/input/failsafe.go
package input

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nullvane/deskhand/internal/config"
	"github.com/nullvane/deskhand/internal/session"
)

const (
	// failsafePollInterval is how often the watch samples the pointer.
	failsafePollInterval = 100 * time.Millisecond

	// DefaultFailsafeMargin is the edge size of the abort corners in pixels.
	DefaultFailsafeMargin = 10
)

// CornerWatch is the classic automation failsafe: slam the pointer into any
// screen corner and the agent stops. The watch only sets the emergency-stop
// flag; all state mutation happens at the executor's and controller's
// cooperative checkpoints.
type CornerWatch struct {
	driver Driver
	sess   *session.Session
	margin int
	poll   time.Duration
	logger *zap.Logger
}

// NewCornerWatch wires the watch. All dependencies are required.
func NewCornerWatch(cfg config.AutomationConfig, driver Driver, sess *session.Session, logger *zap.Logger) (*CornerWatch, error) {
	if driver == nil {
		return nil, fmt.Errorf("driver is required")
	}
	if sess == nil {
		return nil, fmt.Errorf("session is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	margin := cfg.FailsafeMargin
	if margin <= 0 {
		margin = DefaultFailsafeMargin
	}

	return &CornerWatch{
		driver: driver,
		sess:   sess,
		margin: margin,
		poll:   failsafePollInterval,
		logger: logger.Named("failsafe"),
	}, nil
}

// Run polls the pointer until ctx is canceled or a corner is hit. After
// setting the flag it returns nil: the flag is terminal for the process, so
// there is nothing left to watch.
func (w *CornerWatch) Run(ctx context.Context) error {
	w.logger.Info("Failsafe corner watch armed.", zap.Int("margin_px", w.margin))

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			x, y := w.driver.Position()
			width, height := w.driver.ScreenSize()
			if !inCorner(x, y, width, height, w.margin) {
				continue
			}
			w.sess.RequestStop(fmt.Sprintf("pointer entered failsafe corner at (%d, %d)", x, y))
			w.logger.Warn("Emergency stop: pointer entered a failsafe corner.",
				zap.Int("x", x), zap.Int("y", y))
			return nil
		}
	}
}

// inCorner reports whether the point lies in any of the four margin-sized
// corner squares.
func inCorner(x, y, width, height, margin int) bool {
	nearX := x < margin || x >= width-margin
	nearY := y < margin || y >= height-margin
	return nearX && nearY
}

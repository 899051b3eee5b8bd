// File: internal/screen/provider.go
package screen

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"time"

	"github.com/kbinani/screenshot"
	"go.uber.org/zap"

	"github.com/nullvane/deskhand/api/schemas"
	"github.com/nullvane/deskhand/internal/config"
)

// Capture entry points are aliased for stubbing in tests; CI has no display.
var (
	numActiveDisplays = screenshot.NumActiveDisplays
	captureDisplay    = screenshot.CaptureDisplay
)

// Provider captures the configured display as a PNG. It is stateless per
// call: two captures share nothing, and the caller stamps the session's
// generation counter onto the returned state.
type Provider struct {
	display int
	archive *Archive
	logger  *zap.Logger
}

var _ schemas.PerceptionProvider = (*Provider)(nil)

// NewProvider builds a Provider for cfg.Display. When cfg.ArchiveDir is set
// every capture is also archived with a keep-most-recent retention policy.
func NewProvider(cfg config.ScreenConfig, logger *zap.Logger) (*Provider, error) {
	if cfg.Display < 0 {
		return nil, schemas.NewError(schemas.FailureExecutor, "display index %d is negative", cfg.Display)
	}

	p := &Provider{
		display: cfg.Display,
		logger:  logger.Named("screen"),
	}

	if cfg.ArchiveDir != "" {
		archive, err := NewArchive(cfg.ArchiveDir, cfg.Keep, logger)
		if err != nil {
			return nil, err
		}
		p.archive = archive
	}
	return p, nil
}

// Capture grabs the display and encodes it to PNG. Failures are classified
// executor failures; the controller retries them like any other step fault.
func (p *Provider) Capture(ctx context.Context) (*schemas.ScreenState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if n := numActiveDisplays(); p.display >= n {
		return nil, schemas.NewError(schemas.FailureExecutor, "display %d not available (%d active)", p.display, n)
	}

	img, err := captureDisplay(p.display)
	if err != nil {
		return nil, schemas.WrapError(schemas.FailureExecutor, err, "failed to capture display %d", p.display)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, schemas.WrapError(schemas.FailureExecutor, err, "failed to encode capture")
	}

	now := time.Now()
	state := &schemas.ScreenState{
		PNG:        buf.Bytes(),
		Bounds:     boundsOf(img.Bounds()),
		CapturedAt: now,
	}

	if p.archive != nil {
		// Archiving is best effort; a full disk must not stall the agent.
		if err := p.archive.Save(buf.Bytes(), now); err != nil {
			p.logger.Warn("Failed to archive capture.", zap.Error(err))
		}
	}

	p.logger.Debug("Captured screen.",
		zap.Int("display", p.display),
		zap.Int("width", state.Bounds.Width),
		zap.Int("height", state.Bounds.Height),
		zap.Int("png_bytes", len(state.PNG)))
	return state, nil
}

func boundsOf(r image.Rectangle) schemas.Bounds {
	return schemas.Bounds{Width: r.Dx(), Height: r.Dy()}
}

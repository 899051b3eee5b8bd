// File: internal/netmon/monitor.go
package netmon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/nullvane/deskhand/api/schemas"
	"github.com/nullvane/deskhand/internal/config"
)

// Backoff schedule between probes while waiting for connectivity: strict
// doubling from one second, capped at thirty.
const (
	initialProbeInterval = time.Second
	maxProbeInterval     = 30 * time.Second
)

var errUnreachable = errors.New("probe endpoint unreachable")

// Monitor answers one question: can the desktop reach the internet right
// now. Network-dependent commands wait on it before their first capture;
// offline commands never consult it.
type Monitor struct {
	probeURL string
	maxWait  time.Duration
	client   *http.Client
	logger   *zap.Logger
}

var _ schemas.ConnectivityMonitor = (*Monitor)(nil)

// New builds a Monitor from the network configuration.
func New(cfg config.NetworkConfig, logger *zap.Logger) *Monitor {
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		probeURL: cfg.ProbeURL,
		maxWait:  cfg.MaxWait,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.Named("netmon"),
	}
}

// IsReachable performs a single probe. Reachable means the probe endpoint
// answered 200 within the probe timeout; any error or other status is
// unreachable.
func (m *Monitor) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		m.logger.Warn("Invalid probe URL.", zap.String("url", m.probeURL), zap.Error(err))
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.CopyN(io.Discard, resp.Body, 512)

	return resp.StatusCode == http.StatusOK
}

// WaitUntilReachable blocks until the endpoint answers, maxWait elapses, or
// ctx is canceled, probing on the doubling schedule. A non-positive maxWait
// falls back to the configured maximum. Status transitions are logged once
// per transition, never per probe.
func (m *Monitor) WaitUntilReachable(ctx context.Context, maxWait time.Duration) bool {
	if maxWait <= 0 {
		maxWait = m.maxWait
	}

	m.logger.Info("Checking internet connectivity.", zap.String("probe_url", m.probeURL))
	if m.IsReachable(ctx) {
		return true
	}

	m.logger.Info("Waiting for internet connectivity.", zap.Duration("max_wait", maxWait))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialProbeInterval
	b.Multiplier = 2
	b.MaxInterval = maxProbeInterval
	b.MaxElapsedTime = maxWait
	b.RandomizationFactor = 0

	operation := func() error {
		if m.IsReachable(ctx) {
			return nil
		}
		return errUnreachable
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		m.logger.Warn("Internet connectivity not restored in time.",
			zap.Duration("max_wait", maxWait), zap.Error(err))
		return false
	}

	m.logger.Info("Internet connectivity restored.")
	return true
}

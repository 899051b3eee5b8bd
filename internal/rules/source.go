// File: internal/rules/source.go
package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/nullvane/deskhand/api/schemas"
)

// debounceDelay batches the burst of filesystem events an editor save
// produces into one reload.
const debounceDelay = 200 * time.Millisecond

// Source serves the active safety rule set. The rule file is created with
// defaults on first run and hot-reloaded while Watch runs, so rules can be
// tuned without restarting the agent.
type Source struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	current string
}

var _ schemas.RuleSource = (*Source)(nil)

// New loads the rule file at path, creating it with DefaultRules when it
// does not exist.
func New(path string, logger *zap.Logger) (*Source, error) {
	if path == "" {
		return nil, fmt.Errorf("rules file path is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rules path %q: %w", path, err)
	}

	s := &Source{
		path:   abs,
		logger: logger.Named("rules"),
	}

	content, err := os.ReadFile(abs)
	switch {
	case err == nil:
		s.current = string(content)
	case os.IsNotExist(err):
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create rules directory: %w", err)
		}
		if err := os.WriteFile(abs, []byte(DefaultRules), 0o644); err != nil {
			return nil, fmt.Errorf("failed to seed rules file: %w", err)
		}
		s.current = DefaultRules
		s.logger.Info("Seeded rules file with defaults.", zap.String("path", abs))
	default:
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	return s, nil
}

// Current returns the active rule set verbatim.
func (s *Source) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Watch blocks until ctx is canceled, reloading the rule set whenever the
// file changes. The parent directory is watched rather than the file itself
// so editors that replace the file atomically do not break the watch.
func (s *Source) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rules watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch rules directory: %w", err)
	}
	s.logger.Debug("Watching rules file for changes.", zap.String("path", s.path))

	var (
		debounce *time.Timer
		reloadC  <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
				reloadC = debounce.C
			} else {
				debounce.Reset(debounceDelay)
			}

		case <-reloadC:
			debounce = nil
			reloadC = nil
			s.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Rules watcher error.", zap.Error(err))
		}
	}
}

// reload swaps in the on-disk content, keeping the previous rule set when
// the file is momentarily unreadable mid-replace.
func (s *Source) reload() {
	content, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn("Failed to reload rules; keeping previous rule set.", zap.Error(err))
		return
	}

	s.mu.Lock()
	changed := s.current != string(content)
	s.current = string(content)
	s.mu.Unlock()

	if changed {
		s.logger.Info("Rule set reloaded.", zap.Int("bytes", len(content)))
	}
}

// File: internal/screen/archive.go
package screen

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	archivePrefix = "screenshot_"
	archiveSuffix = ".png"
	// archiveTimeLayout sorts lexicographically in chronological order, which
	// is what the pruner relies on.
	archiveTimeLayout = "20060102_150405.000"
)

// DefaultKeep bounds the archive when no retention is configured.
const DefaultKeep = 50

// Archive persists captures to a directory, pruning down to the newest N
// files after every save.
type Archive struct {
	dir    string
	keep   int
	logger *zap.Logger
}

// NewArchive creates dir if needed. A non-positive keep falls back to
// DefaultKeep.
func NewArchive(dir string, keep int, logger *zap.Logger) (*Archive, error) {
	if keep <= 0 {
		keep = DefaultKeep
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot archive %q: %w", dir, err)
	}
	return &Archive{
		dir:    dir,
		keep:   keep,
		logger: logger.Named("screen.archive"),
	}, nil
}

// Save writes one capture and prunes the archive to the retention bound.
func (a *Archive) Save(pngBytes []byte, at time.Time) error {
	name := archivePrefix + at.Format(archiveTimeLayout) + archiveSuffix
	path := filepath.Join(a.dir, name)

	// Collisions happen when two captures land in the same millisecond;
	// suffix until free rather than overwrite.
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(a.dir, fmt.Sprintf("%s%s_%d%s", archivePrefix, at.Format(archiveTimeLayout), i, archiveSuffix))
	}

	if err := os.WriteFile(path, pngBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write capture: %w", err)
	}
	return a.prune()
}

// prune removes the oldest archived captures beyond the keep bound. Files
// not matching the archive naming scheme are left alone.
func (a *Archive) prune() error {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return fmt.Errorf("failed to list archive: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, archivePrefix) && strings.HasSuffix(name, archiveSuffix) {
			names = append(names, name)
		}
	}
	if len(names) <= a.keep {
		return nil
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-a.keep] {
		if err := os.Remove(filepath.Join(a.dir, name)); err != nil {
			a.logger.Warn("Failed to prune archived capture.", zap.String("file", name), zap.Error(err))
		}
	}
	return nil
}

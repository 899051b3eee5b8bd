// File: internal/queue/marker.go
package queue

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Marker persists the highest terminally processed sequence number. The file
// is append-only, one integer per line; the reader takes the maximum, so a
// torn write can only lose progress, never invent it.
type Marker struct {
	mu   sync.Mutex
	path string
	last int64
}

// LoadMarker reads the marker file and returns the persisted high-water
// mark. A missing file means nothing has been processed yet. Malformed
// lines are skipped.
func LoadMarker(path string) (*Marker, error) {
	if path == "" {
		return nil, fmt.Errorf("marker path is required")
	}

	m := &Marker{path: path}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("failed to open marker file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		seq, err := strconv.ParseInt(strings.TrimSpace(scanner.Text()), 10, 64)
		if err != nil {
			continue
		}
		if seq > m.last {
			m.last = seq
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read marker file: %w", err)
	}
	return m, nil
}

// Last returns the highest sequence number recorded so far.
func (m *Marker) Last() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Advance records seq as terminally processed. Out-of-order or repeated
// calls at or below the current mark are no-ops.
func (m *Marker) Advance(seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seq <= m.last {
		return nil
	}

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open marker file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", seq); err != nil {
		return fmt.Errorf("failed to append to marker file: %w", err)
	}

	m.last = seq
	return nil
}

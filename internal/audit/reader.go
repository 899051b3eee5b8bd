// File: internal/audit/reader.go
package audit

import (
	"bufio"
	"fmt"
	"os"

	json "github.com/json-iterator/go"

	"github.com/nullvane/deskhand/api/schemas"
)

// maxLineBytes bounds a single audit line; step records embed the verbatim
// model output, which can run long.
const maxLineBytes = 1 << 20

// Filter narrows what Read returns.
type Filter struct {
	// Limit keeps only the newest N records after filtering; zero keeps all.
	Limit int
	// FailedOnly keeps only status records for failed commands.
	FailedOnly bool
}

// Read loads records from the current audit trail file, oldest first. A
// missing file yields no records; nothing has run yet. Malformed lines are
// skipped; the trail may interleave partial writes after a crash and the
// readable remainder is still useful.
func Read(path string, filter Filter) ([]schemas.AuditRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}
	defer f.Close()

	var records []schemas.AuditRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec schemas.AuditRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if filter.FailedOnly && !(rec.Type == schemas.AuditStatus && rec.Status == schemas.StatusFailed) {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}

	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[len(records)-filter.Limit:]
	}
	return records, nil
}

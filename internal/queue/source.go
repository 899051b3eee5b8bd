// File: internal/queue/source.go
package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/nullvane/deskhand/api/schemas"
	"github.com/nullvane/deskhand/internal/config"
)

// uuidNewString is aliased for mocking in tests.
var uuidNewString = uuid.NewString

// commandsTemplate seeds a fresh command file so users see the contract
// before they type anything.
const commandsTemplate = `# deskhand command queue.
#
# One natural-language command per line, for example:
#   open the calculator and compute 2+2
#
# Lines starting with '#' and blank lines are ignored. The file is
# append-only; processed lines are tracked in the marker file next to it,
# never rewritten here.
`

// outBuffer decouples the tailer from the controller's pace. The controller
// drains one command at a time, so a small buffer is plenty.
const outBuffer = 16

// Source tails the append-only command file and turns its lines into
// pending commands, earliest first. Seq is the physical line number:
// comments and blank lines consume positions without producing commands,
// which keeps the persisted marker stable across restarts.
type Source struct {
	commandsFile string
	marker       *Marker
	logger       *zap.Logger
	out          chan schemas.Command
}

var _ schemas.CommandQueue = (*Source)(nil)

// New prepares the command source: the command file is created with a
// commented template when absent, and the processed marker is loaded so
// already handled lines are skipped.
func New(cfg config.QueueConfig, logger *zap.Logger) (*Source, error) {
	if cfg.CommandsFile == "" {
		return nil, fmt.Errorf("commands file path is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	log := logger.Named("queue")

	if _, err := os.Stat(cfg.CommandsFile); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat command file: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(cfg.CommandsFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create command file directory: %w", err)
		}
		if err := os.WriteFile(cfg.CommandsFile, []byte(commandsTemplate), 0o644); err != nil {
			return nil, fmt.Errorf("failed to seed command file: %w", err)
		}
		log.Info("Seeded command file with a template.", zap.String("path", cfg.CommandsFile))
	}

	marker, err := LoadMarker(cfg.MarkerFile)
	if err != nil {
		return nil, err
	}
	if last := marker.Last(); last > 0 {
		log.Info("Resuming after persisted marker.", zap.Int64("last_seq", last))
	}

	return &Source{
		commandsFile: cfg.CommandsFile,
		marker:       marker,
		logger:       log,
		out:          make(chan schemas.Command, outBuffer),
	}, nil
}

// Commands yields pending commands in sequence order. The channel is closed
// when Run returns.
func (s *Source) Commands() <-chan schemas.Command {
	return s.out
}

// MarkDone advances the persisted marker past seq.
func (s *Source) MarkDone(seq int64) error {
	return s.marker.Advance(seq)
}

// Run tails the command file from the start and feeds the output channel
// until ctx is canceled. It blocks; run it on its own goroutine.
func (s *Source) Run(ctx context.Context) error {
	t, err := tail.TailFile(s.commandsFile, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: 0},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail command file: %w", err)
	}
	defer func() {
		t.Stop()
		t.Cleanup()
	}()
	defer close(s.out)

	s.logger.Info("Watching command file.", zap.String("path", s.commandsFile))

	var seq int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-t.Lines:
			if !ok {
				s.logger.Info("Command file tailer channel closed.")
				return nil
			}
			if line.Err != nil {
				s.logger.Warn("Error reading from command file", zap.Error(line.Err))
				continue
			}

			seq++
			cmd, ok := s.intake(seq, line.Text)
			if !ok {
				continue
			}

			select {
			case s.out <- cmd:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// intake decides what one physical line becomes: nothing (comment, blank,
// already processed), a pending command, or a command pre-marked to fail
// intake screening. Screened commands are still emitted so the controller
// fails them in order, with an audit record, without an inference call.
func (s *Source) intake(seq int64, raw string) (schemas.Command, bool) {
	text := strings.TrimSpace(raw)
	if text == "" || strings.HasPrefix(text, "#") {
		return schemas.Command{}, false
	}
	if seq <= s.marker.Last() {
		s.logger.Debug("Skipping already processed command.",
			zap.Int64("seq", seq), zap.Int64("marker", s.marker.Last()))
		return schemas.Command{}, false
	}

	cmd := schemas.Command{
		ID:         uuidNewString(),
		Text:       text,
		Seq:        seq,
		Status:     schemas.StatusPending,
		EnqueuedAt: time.Now().UTC(),
	}

	if reason, ok := vetCommand(text); !ok {
		cmd.FailureKind = schemas.FailureUnsafeContent
		cmd.FailureReason = reason
		s.logger.Warn("Command failed intake screening.",
			zap.Int64("seq", seq), zap.String("reason", reason))
	}

	s.logger.Debug("Command queued.", zap.Int64("seq", seq), zap.String("id", cmd.ID))
	return cmd, true
}

// Append adds one command line to the command file. Used by the enqueue
// CLI; the running agent picks it up through the tailer.
func Append(path, text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("command text is empty")
	}
	if strings.ContainsAny(text, "\r\n") {
		return 0, fmt.Errorf("command text must be a single line")
	}
	if reason, ok := vetCommand(text); !ok {
		return 0, fmt.Errorf("refusing to enqueue: %s", reason)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create command file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open command file: %w", err)
	}
	defer f.Close()

	// Line numbers are the sequence positions, so count what is already
	// there to report the new command's Seq.
	existing, err := io.ReadAll(f)
	if err != nil {
		return 0, fmt.Errorf("failed to read command file: %w", err)
	}

	payload := text + "\n"
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		payload = "\n" + payload
	}
	if _, err := f.WriteString(payload); err != nil {
		return 0, fmt.Errorf("failed to append command: %w", err)
	}

	seq := int64(bytes.Count(existing, []byte("\n"))) + 1
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		seq++
	}
	return seq, nil
}

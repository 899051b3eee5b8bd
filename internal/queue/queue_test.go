// File: internal/queue/queue_test.go
package queue

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nullvane/deskhand/api/schemas"
	"github.com/nullvane/deskhand/internal/config"
)

// -- Test Setup Helpers --

func testQueueConfig(t *testing.T) config.QueueConfig {
	t.Helper()
	dir := t.TempDir()
	return config.QueueConfig{
		CommandsFile: filepath.Join(dir, "commands.txt"),
		MarkerFile:   filepath.Join(dir, "commands.processed"),
	}
}

// startSource runs the tailer and wires shutdown into test cleanup.
func startSource(t *testing.T, cfg config.QueueConfig) *Source {
	t.Helper()
	src, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Error("tailer did not stop")
		}
	})
	return src
}

func receive(t *testing.T, ch <-chan schemas.Command) schemas.Command {
	t.Helper()
	select {
	case cmd := <-ch:
		return cmd
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a command")
		return schemas.Command{}
	}
}

func expectNoCommand(t *testing.T, ch <-chan schemas.Command) {
	t.Helper()
	select {
	case cmd := <-ch:
		t.Fatalf("unexpected command: %+v", cmd)
	case <-time.After(300 * time.Millisecond):
	}
}

// -- Test Cases: Marker --

func TestLoadMarker(t *testing.T) {
	t.Parallel()

	t.Run("missing file means nothing processed", func(t *testing.T) {
		t.Parallel()
		m, err := LoadMarker(filepath.Join(t.TempDir(), "absent"))
		require.NoError(t, err)
		assert.Zero(t, m.Last())
	})

	t.Run("reader takes the maximum", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "marker")
		require.NoError(t, os.WriteFile(path, []byte("7\n3\n12\n5\n"), 0o644))

		m, err := LoadMarker(path)
		require.NoError(t, err)
		assert.Equal(t, int64(12), m.Last())
	})

	t.Run("malformed lines are skipped", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "marker")
		require.NoError(t, os.WriteFile(path, []byte("4\nnot-a-number\n\n9\ntorn"), 0o644))

		m, err := LoadMarker(path)
		require.NoError(t, err)
		assert.Equal(t, int64(9), m.Last())
	})

	t.Run("empty path is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := LoadMarker("")
		require.Error(t, err)
	})
}

func TestMarkerAdvance(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "marker")
	m, err := LoadMarker(path)
	require.NoError(t, err)

	require.NoError(t, m.Advance(3))
	assert.Equal(t, int64(3), m.Last())

	// Lower or repeated sequence numbers never regress the mark.
	require.NoError(t, m.Advance(2))
	require.NoError(t, m.Advance(3))
	assert.Equal(t, int64(3), m.Last())

	require.NoError(t, m.Advance(8))

	reloaded, err := LoadMarker(path)
	require.NoError(t, err)
	assert.Equal(t, int64(8), reloaded.Last())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "3\n8\n", string(data), "the marker file is append-only")
}

// -- Test Cases: Intake Screening --

func TestVetCommand(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		text string
		ok   bool
	}{
		{name: "plain command", text: "open the calculator", ok: true},
		{name: "two words suffice", text: "open calculator", ok: true},
		{name: "single word", text: "calculator", ok: false},
		{name: "overlong", text: strings.TrimSpace(strings.Repeat("open calculator ", 32)), ok: false},
		{name: "unix wipe", text: "please run rm -rf in my home directory", ok: false},
		{name: "windows wipe", text: "run del /f /s /q on temp", ok: false},
		{name: "shutdown switch", text: "execute shutdown /s now", ok: false},
		{name: "case insensitive", text: "DROP TABLE users right away", ok: false},
		{name: "kill dash nine", text: "kill -9 every process", ok: false},
		{name: "near miss is allowed", text: "remove the -rf suffix from that filename", ok: true},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reason, ok := vetCommand(tt.text)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

// -- Test Cases: Source --

func TestNewSeedsCommandFile(t *testing.T) {
	t.Parallel()

	cfg := testQueueConfig(t)
	_, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.CommandsFile)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "#"))
}

func TestNewKeepsExistingCommandFile(t *testing.T) {
	t.Parallel()

	cfg := testQueueConfig(t)
	require.NoError(t, os.WriteFile(cfg.CommandsFile, []byte("open the calculator\n"), 0o644))

	_, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.CommandsFile)
	require.NoError(t, err)
	assert.Equal(t, "open the calculator\n", string(data))
}

func TestRunEmitsCommandsInSequence(t *testing.T) {
	t.Parallel()

	cfg := testQueueConfig(t)
	content := "# header comment\nopen the calculator\n\ntype hello world\n"
	require.NoError(t, os.WriteFile(cfg.CommandsFile, []byte(content), 0o644))

	src := startSource(t, cfg)

	first := receive(t, src.Commands())
	assert.Equal(t, int64(2), first.Seq, "comments and blanks consume sequence positions")
	assert.Equal(t, "open the calculator", first.Text)
	assert.Equal(t, schemas.StatusPending, first.Status)
	assert.NotEmpty(t, first.ID)
	assert.Empty(t, first.FailureKind)

	second := receive(t, src.Commands())
	assert.Equal(t, int64(4), second.Seq)
	assert.Equal(t, "type hello world", second.Text)

	// Lines appended while the agent runs are picked up by the tailer.
	f, err := os.OpenFile(cfg.CommandsFile, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("close the calculator\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	third := receive(t, src.Commands())
	assert.Equal(t, int64(5), third.Seq)
	assert.Equal(t, "close the calculator", third.Text)
}

func TestRunSkipsAtOrBelowMarker(t *testing.T) {
	t.Parallel()

	cfg := testQueueConfig(t)
	require.NoError(t, os.WriteFile(cfg.CommandsFile, []byte("open the calculator\ntype hello there\nclose the calculator\n"), 0o644))
	require.NoError(t, os.WriteFile(cfg.MarkerFile, []byte("2\n"), 0o644))

	src := startSource(t, cfg)

	cmd := receive(t, src.Commands())
	assert.Equal(t, int64(3), cmd.Seq)
	expectNoCommand(t, src.Commands())
}

func TestRunMarksScreenedCommands(t *testing.T) {
	t.Parallel()

	cfg := testQueueConfig(t)
	require.NoError(t, os.WriteFile(cfg.CommandsFile, []byte("calculator\nplease run rm -rf somewhere\nopen the calculator\n"), 0o644))

	src := startSource(t, cfg)

	tooShort := receive(t, src.Commands())
	assert.Equal(t, int64(1), tooShort.Seq)
	assert.Equal(t, schemas.FailureUnsafeContent, tooShort.FailureKind)
	assert.NotEmpty(t, tooShort.FailureReason)

	dangerous := receive(t, src.Commands())
	assert.Equal(t, schemas.FailureUnsafeContent, dangerous.FailureKind)
	assert.Contains(t, dangerous.FailureReason, "rm -rf")

	clean := receive(t, src.Commands())
	assert.Empty(t, clean.FailureKind)
	assert.Empty(t, clean.FailureReason)
}

func TestRestartResumesAfterMarker(t *testing.T) {
	t.Parallel()

	cfg := testQueueConfig(t)
	require.NoError(t, os.WriteFile(cfg.CommandsFile, []byte("open the calculator\ntype hello there\n"), 0o644))

	src, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	first := receive(t, src.Commands())
	require.Equal(t, int64(1), first.Seq)
	require.NoError(t, src.MarkDone(first.Seq))

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tailer did not stop")
	}

	// A fresh process over the same files must not redo line 1.
	restarted := startSource(t, cfg)
	cmd := receive(t, restarted.Commands())
	assert.Equal(t, int64(2), cmd.Seq)
	expectNoCommand(t, restarted.Commands())
}

// -- Test Cases: Append --

func TestAppend(t *testing.T) {
	t.Parallel()

	t.Run("appends with the right sequence", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "commands.txt")
		require.NoError(t, os.WriteFile(path, []byte("# header\nopen the calculator\n"), 0o644))

		seq, err := Append(path, "type hello world")
		require.NoError(t, err)
		assert.Equal(t, int64(3), seq)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "# header\nopen the calculator\ntype hello world\n", string(data))
	})

	t.Run("creates the file when absent", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "commands.txt")

		seq, err := Append(path, "open the calculator")
		require.NoError(t, err)
		assert.Equal(t, int64(1), seq)
	})

	t.Run("terminates a torn last line first", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "commands.txt")
		require.NoError(t, os.WriteFile(path, []byte("open the calculator"), 0o644))

		seq, err := Append(path, "type hello world")
		require.NoError(t, err)
		assert.Equal(t, int64(2), seq)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "open the calculator\ntype hello world\n", string(data))
	})

	t.Run("rejects what intake would fail anyway", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "commands.txt")

		_, err := Append(path, "")
		require.Error(t, err)

		_, err = Append(path, "two\nlines")
		require.Error(t, err)

		_, err = Append(path, "run rm -rf on everything")
		require.Error(t, err)

		_, err = Append(path, "calculator")
		require.Error(t, err)
	})
}

// File: internal/session/session.go
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nullvane/deskhand/api/schemas"
)

// DefaultHistorySize bounds the action ring when no size is configured.
const DefaultHistorySize = 10

// uuidNewString is aliased for mocking in tests.
var uuidNewString = uuid.NewString

// Session is the mutable context of one agent run: the bounded ring of
// recently evaluated actions, the per-command step and rejection counters,
// the screen-capture generation counter, and the terminal emergency-stop
// flag. One Session exists per process; commands reset the per-command
// state through BeginCommand.
//
// All methods are safe for concurrent use. The stop flag is the only field
// written from outside the controller goroutine (the failsafe watch), so it
// is kept on an atomic for lock-free reads on the execution hot path.
type Session struct {
	id          string
	startedAt   time.Time
	historySize int

	mu          sync.Mutex
	history     []schemas.HistoryEntry
	steps       int
	hardRejects int
	stopReason  string

	generation atomic.Uint64
	stopped    atomic.Bool
	stopOnce   sync.Once
	stopC      chan struct{}
}

// New creates a Session with the given history ring capacity. A
// non-positive size falls back to DefaultHistorySize.
func New(historySize int) *Session {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Session{
		id:          uuidNewString(),
		startedAt:   time.Now(),
		historySize: historySize,
		history:     make([]schemas.HistoryEntry, 0, historySize),
		stopC:       make(chan struct{}),
	}
}

// ID returns the unique identifier of this run.
func (s *Session) ID() string { return s.id }

// StartedAt returns the process start time of this run.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// BeginCommand resets the per-command state: the step counter, the
// consecutive hard-rejection counter, and the action ring. The generation
// counter and the stop flag survive across commands.
func (s *Session) BeginCommand() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = 0
	s.hardRejects = 0
	s.history = s.history[:0]
}

// NextStep increments the per-command step counter and returns its new
// value. Every proposal obtained from inference consumes a step, accepted
// or not.
func (s *Session) NextStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps++
	return s.steps
}

// Steps returns the number of steps consumed by the current command.
func (s *Session) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// RecordAction appends an evaluated proposal to the history ring, evicting
// the oldest entry when the ring is full, and maintains the consecutive
// hard-rejection counter: an accepted entry resets it, a rejected entry
// increments it. Soft (rate-limit) rejections must not be recorded; the
// controller retries those in place without consuming history.
func (s *Session) RecordAction(e schemas.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == s.historySize {
		copy(s.history, s.history[1:])
		s.history = s.history[:len(s.history)-1]
	}
	s.history = append(s.history, e)
	if e.Accepted {
		s.hardRejects = 0
	} else {
		s.hardRejects++
	}
}

// HardRejections returns the current count of consecutive hard rejections
// for the command in progress.
func (s *Session) HardRejections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hardRejects
}

// History returns a copy of the action ring, oldest first.
func (s *Session) History() []schemas.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Recent returns a copy of the newest k entries, oldest first. A
// non-positive or oversized k returns the whole ring.
func (s *Session) Recent(k int) []schemas.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k <= 0 || k > len(s.history) {
		k = len(s.history)
	}
	out := make([]schemas.HistoryEntry, k)
	copy(out, s.history[len(s.history)-k:])
	return out
}

// NextGeneration advances the screen-capture generation counter and
// returns the new value. The controller stamps each fresh ScreenState with
// it so the validator can tell whether a capture intervened between two
// proposals.
func (s *Session) NextGeneration() uint64 {
	return s.generation.Add(1)
}

// Generation returns the most recently issued capture generation.
func (s *Session) Generation() uint64 {
	return s.generation.Load()
}

// RequestStop sets the terminal emergency-stop flag. The first reason wins;
// later calls are no-ops. The flag is never cleared for the lifetime of the
// process.
func (s *Session) RequestStop(reason string) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopReason = reason
		s.mu.Unlock()
		s.stopped.Store(true)
		close(s.stopC)
	})
}

// StopC is closed when the emergency stop is requested. Select on it to
// interrupt idle waits and cooldowns.
func (s *Session) StopC() <-chan struct{} {
	return s.stopC
}

// Stopped reports whether the emergency stop has been requested.
func (s *Session) Stopped() bool {
	return s.stopped.Load()
}

// StopReason returns the reason recorded by the first RequestStop call, or
// an empty string when no stop was requested.
func (s *Session) StopReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopReason
}

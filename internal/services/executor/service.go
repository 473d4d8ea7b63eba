// Package executor runs external binaries on behalf of dump and restore
// operations.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// DefaultStderrTailBytes bounds how much trailing stderr is kept per run.
const DefaultStderrTailBytes = 32 * 1024

// ErrBinaryNotFound indicates the requested binary is not on PATH. Surfaced
// on the first invocation attempt rather than at startup.
var ErrBinaryNotFound = errors.New("binary not found on PATH")

// ProcessError reports a child process that exited non-zero.
type ProcessError struct {
	Binary     string
	ExitCode   int
	StderrTail string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Binary, e.ExitCode, e.StderrTail)
}

// Command describes one external process invocation. Secrets go into Env,
// never into Args, so they stay out of the process list.
type Command struct {
	Name   string
	Args   []string
	Env    []string  // appended to os.Environ()
	Stdout io.Writer // nil discards standard output
}

// Result holds the observable outcome of a finished process.
type Result struct {
	ExitCode   int
	StderrTail string
	Duration   time.Duration
	Cancelled  bool
}

// Service defines the interface for running external processes.
type Service interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Impl implements the executor Service using os/exec.
type Impl struct {
	tailBytes int
	logger    zerolog.Logger
}

// New creates a new executor service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		tailBytes: DefaultStderrTailBytes,
		logger:    logger,
	}
}

// Run spawns the binary and blocks until it exits or ctx is cancelled.
// Cancellation kills the child; the call returns a Cancelled result with
// whatever stderr was captured. A returned error means the process could not
// be started at all (e.g. missing binary); process-level failures are
// reported through Result.ExitCode.
func (s *Impl) Run(ctx context.Context, cmd Command) (*Result, error) {
	start := time.Now()

	s.logger.Debug().
		Str("binary", cmd.Name).
		Strs("args", cmd.Args).
		Msg("starting external process")

	tail := newTailBuffer(s.tailBytes)

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stderr = tail
	if cmd.Stdout != nil {
		c.Stdout = cmd.Stdout
	}

	runErr := c.Run()

	result := &Result{
		StderrTail: tail.String(),
		Duration:   time.Since(start),
	}

	if runErr == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		result.Cancelled = true
		result.ExitCode = -1
		s.logger.Warn().
			Str("binary", cmd.Name).
			Dur("duration", result.Duration).
			Msg("process cancelled")
		return result, nil
	}

	var execErr *exec.Error
	if errors.As(runErr, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%q: %w", cmd.Name, ErrBinaryNotFound)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		s.logger.Debug().
			Str("binary", cmd.Name).
			Int("exit_code", result.ExitCode).
			Msg("process exited non-zero")
		return result, nil
	}

	return nil, fmt.Errorf("failed to run %q: %w", cmd.Name, runErr)
}

// tailBuffer is an io.Writer keeping only the last max bytes written.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

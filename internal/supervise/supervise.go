// Package supervise runs an external command under a hard wall-clock timeout.
// On timeout the process group gets SIGTERM, then SIGKILL once the grace period lapses.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// DefaultKillGrace is the delay between SIGTERM and SIGKILL.
	DefaultKillGrace = 5 * time.Second
	// DefaultStderrLimit bounds the captured stderr tail.
	DefaultStderrLimit = 4 << 10
)

// ErrTimeout is returned when the command outlives Command.Timeout.
var ErrTimeout = errors.New("process timed out")

// Command describes one supervised run.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
	// KillGrace defaults to DefaultKillGrace.
	KillGrace time.Duration
	// StderrLimit defaults to DefaultStderrLimit.
	StderrLimit int
}

// Result describes how the process ended.
type Result struct {
	ExitCode int
	// Signal is set when the process was terminated by a signal.
	Signal   string
	Stderr   string
	Duration time.Duration
}

// ExitError is returned for a non-zero exit.
type ExitError struct {
	Result Result
}

func (e *ExitError) Error() string {
	if e.Result.Signal != "" {
		return fmt.Sprintf("process killed by %s", e.Result.Signal)
	}
	return fmt.Sprintf("process exited with code %d", e.Result.ExitCode)
}

// Run starts c and waits for it. The returned error is nil on exit 0, ErrTimeout
// (wrapped) when the timeout fired, the context error when ctx was canceled,
// *ExitError on a non-zero exit, or a start failure.
func Run(ctx context.Context, c Command) (Result, error) {
	grace := c.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	limit := c.StderrLimit
	if limit <= 0 {
		limit = DefaultStderrLimit
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	defer cancel()

	stderr := newTailBuffer(limit)
	// #nosec G204 -- the crawl command is operator configuration, not user input
	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return signalGroup(cmd, sigTerm) }
	cmd.WaitDelay = grace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", c.Path, err)
	}
	waitErr := cmd.Wait()

	res := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Signal:   exitSignal(cmd.ProcessState),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}

	if runCtx.Err() != nil {
		// Reap anything the group leader left behind.
		_ = signalGroup(cmd, sigKill)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("%w after %s", ErrTimeout, c.Timeout)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) || res.ExitCode != 0 {
			return res, &ExitError{Result: res}
		}
		return res, fmt.Errorf("wait %s: %w", c.Path, waitErr)
	}
	return res, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
	cut   bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.cut = true
	}
	return len(p), nil
}

// String returns the tail as valid UTF-8. A character split by the cut is
// dropped and other invalid bytes become U+FFFD.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buf
	if !t.cut {
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}
	for i := 0; i < utf8.UTFMax && len(b) > 0 && !utf8.RuneStart(b[0]); i++ {
		b = b[1:]
	}
	return "..." + strings.ToValidUTF8(string(b), "\uFFFD")
}

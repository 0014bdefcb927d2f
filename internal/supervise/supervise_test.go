//go:build unix

package supervise

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sh(script string) Command {
	return Command{Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestRun_Success(t *testing.T) {
	res, err := Run(context.Background(), sh("echo hi; echo warn >&2"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "warn", res.Stderr)
}

func TestRun_NonZeroExit(t *testing.T) {
	_, err := Run(context.Background(), sh("echo 'license expired' >&2; exit 3"))
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Result.ExitCode)
	assert.Equal(t, "license expired", exitErr.Result.Stderr)
}

func TestRun_StartFailure(t *testing.T) {
	_, err := Run(context.Background(), Command{Path: "/nonexistent/crawler"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestRun_TimeoutTerminates(t *testing.T) {
	c := sh("exec sleep 30")
	c.Timeout = 100 * time.Millisecond
	c.KillGrace = 2 * time.Second

	start := time.Now()
	res, err := Run(context.Background(), c)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "terminated", res.Signal)
	assert.Less(t, time.Since(start), 2*time.Second, "SIGTERM should end a cooperative process before the grace period")
}

func TestRun_TimeoutKillsAfterGrace(t *testing.T) {
	c := sh(`trap '' TERM; while :; do sleep 0.05; done`)
	c.Timeout = 100 * time.Millisecond
	c.KillGrace = 300 * time.Millisecond

	start := time.Now()
	res, err := Run(context.Background(), c)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "killed", res.Signal)
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestRun_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	c := sh("exec sleep 30")
	c.Timeout = time.Minute
	_, err := Run(ctx, c)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(8)
	_, _ = b.Write([]byte("0123"))
	assert.Equal(t, "0123", b.String())
	_, _ = b.Write([]byte(strings.Repeat("x", 6) + "yz"))
	assert.Equal(t, "...xxxxxxyz", b.String())
}

func TestRun_MultibyteStderrTailIsValidUTF8(t *testing.T) {
	script := `i=0; while [ $i -lt 3000 ]; do printf 'é' >&2; i=$((i+1)); done; exit 1`
	_, err := Run(context.Background(), sh(script))

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	stderr := exitErr.Result.Stderr
	assert.True(t, utf8.ValidString(stderr))
	assert.True(t, strings.HasPrefix(stderr, "...é"))
	assert.LessOrEqual(t, len(stderr), DefaultStderrLimit+len("..."))
}

func TestTailBuffer_CutsOnCharacterBoundary(t *testing.T) {
	b := newTailBuffer(5)
	_, _ = b.Write([]byte("aéé"))
	_, _ = b.Write([]byte("é"))
	assert.Equal(t, "...éé", b.String())

	raw := newTailBuffer(16)
	_, _ = raw.Write([]byte("ok\xff"))
	assert.Equal(t, "ok\uFFFD", raw.String())
}

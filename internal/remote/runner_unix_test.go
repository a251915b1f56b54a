//go:build unix

package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"camsync/internal/log"
)

func TestExecRunner_Run(t *testing.T) {
	r := NewExecRunner(5*time.Second, time.Second, log.Nop())

	out, err := r.Run(context.Background(), "sh", "-c", "printf hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestExecRunner_RunFailure(t *testing.T) {
	r := NewExecRunner(5*time.Second, time.Second, log.Nop())

	_, err := r.Run(context.Background(), "sh", "-c", "echo 'No such file or directory' >&2; exit 2")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 2, cmdErr.ExitCode)
	assert.Equal(t, "No such file or directory", cmdErr.Stderr)
	assert.True(t, isNoSuchFile(err))
}

func TestExecRunner_RunTimeout(t *testing.T) {
	r := NewExecRunner(50*time.Millisecond, time.Second, log.Nop())

	start := time.Now()
	_, err := r.Run(context.Background(), "sh", "-c", "sleep 10")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "タイムアウトが原因であること: %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecRunner_StartAndWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewExecRunner(time.Second, time.Second, log.Nop())

	p, err := r.Start("sh", "-c", "exit 0")
	require.NoError(t, err)
	assert.Greater(t, p.PID, 0)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("プロセスが終了しませんでした")
	}
	assert.NoError(t, p.Err())

	require.NoError(t, r.Close())
	assert.Equal(t, 0, r.Running())
}

func TestExecRunner_CloseTerminatesProcesses(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewExecRunner(time.Second, 200*time.Millisecond, log.Nop())

	p1, err := r.Start("sleep", "30")
	require.NoError(t, err)
	// SIGTERMを無視するプロセスはSIGKILLで終了させる
	p2, err := r.Start("sh", "-c", "trap '' TERM; sleep 30")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Running())

	start := time.Now()
	require.NoError(t, r.Close())
	assert.Less(t, time.Since(start), 5*time.Second)

	for _, p := range []*Process{p1, p2} {
		select {
		case <-p.Done():
		default:
			t.Errorf("プロセス %d が終了していません", p.PID)
		}
	}
	assert.Equal(t, 0, r.Running())

	_, err = r.Start("sleep", "1")
	assert.ErrorIs(t, err, ErrRunnerClosed)
}

package supervisor

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errpkg "github.com/veranemoloko/mobile-transfer/internal/errors"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func shell(script string) Command {
	return Command{Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestSupervisor_RunCapturesOutputAndExitCode(t *testing.T) {
	sup := New(shell("printf 'one\\ntw'; printf 'o\\n'; echo oops >&2; exit 3"), newTestLogger())

	var pid int
	var mu sync.Mutex
	var chunks strings.Builder
	receipt, err := sup.Run(context.Background(), func(p int) {
		pid = p
	}, func(chunk string) {
		mu.Lock()
		chunks.WriteString(chunk)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.NotZero(t, pid)
	assert.Equal(t, pid, receipt.PID)
	assert.Equal(t, 3, receipt.ExitCode)
	assert.Equal(t, "one\ntwo\n", receipt.Stdout)
	assert.Equal(t, "oops\n", receipt.Stderr)
	assert.Contains(t, chunks.String(), "oops")
	assert.False(t, sup.Terminated())

	session := sup.Session()
	assert.False(t, session.Running)
	assert.True(t, session.Exited)
	assert.Equal(t, 3, session.ExitCode)
}

func TestSupervisor_TerminateRunningProcess(t *testing.T) {
	sup := New(shell("exec sleep 30"), newTestLogger())

	started := make(chan struct{})
	result := make(chan *Receipt, 1)
	go func() {
		receipt, err := sup.Run(context.Background(), func(int) { close(started) }, nil)
		assert.NoError(t, err)
		result <- receipt
	}()

	<-started
	assert.True(t, sup.Session().Running)
	sup.Terminate()
	sup.Terminate()

	select {
	case receipt := <-result:
		assert.NotEqual(t, 0, receipt.ExitCode)
	case <-time.After(5 * time.Second):
		t.Fatal("process was not terminated")
	}
	assert.True(t, sup.Terminated())

	// after exit this is a no-op
	sup.Terminate()
}

func TestSupervisor_ContextCancelTerminates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sup := New(shell("exec sleep 30"), newTestLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = sup.Run(ctx, func(int) { cancel() }, nil)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop the process")
	}
	assert.True(t, sup.Terminated())
}

func TestSupervisor_TerminateBeforeAndAfter(t *testing.T) {
	sup := New(shell("exit 0"), newTestLogger())
	sup.Terminate()

	_, err := sup.Run(context.Background(), nil, nil)
	assert.ErrorIs(t, err, errpkg.ErrProcessTerminated)

	finished := New(shell("exit 0"), newTestLogger())
	receipt, err := finished.Run(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, receipt.ExitCode)

	finished.Terminate()
	assert.False(t, finished.Terminated())
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	sup := New(Command{Path: "/nonexistent/engine"}, newTestLogger())
	_, err := sup.Run(context.Background(), nil, nil)
	assert.ErrorIs(t, err, errpkg.ErrProcessSpawn)
}

func TestSupervisor_NotReusable(t *testing.T) {
	sup := New(shell("exit 0"), newTestLogger())
	_, err := sup.Run(context.Background(), nil, nil)
	require.NoError(t, err)

	_, err = sup.Run(context.Background(), nil, nil)
	assert.Error(t, err)
}

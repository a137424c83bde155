// Package supervisor runs one long-running external process, streams its output
// and lets callers terminate it.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	errpkg "github.com/veranemoloko/mobile-transfer/internal/errors"
)

// Command describes the process to spawn.
type Command struct {
	Path string
	Args []string
	// Env replaces the inherited environment when non-nil.
	Env []string
	Dir string
}

// Receipt is produced once the process has exited.
type Receipt struct {
	PID      int
	ExitCode int
	Stdout   string
	Stderr   string
}

// Session is a point-in-time view of the supervised process.
type Session struct {
	PID      int  `json:"pid"`
	Running  bool `json:"running"`
	Exited   bool `json:"exited"`
	ExitCode int  `json:"exit_code"`
}

const readBufferSize = 4096

// Supervisor owns exactly one process. It is not reusable.
type Supervisor struct {
	cmd    Command
	logger *slog.Logger

	mu         sync.Mutex
	used       bool
	proc       *os.Process
	session    Session
	terminated bool

	outputMu sync.Mutex
}

func New(cmd Command, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cmd: cmd, logger: logger}
}

// Run spawns the process, reports its pid through onStart before blocking, and
// delivers stdout and stderr chunks to onOutput as they arrive. onOutput is never
// called concurrently. A non-zero exit is not an error; inspect the receipt.
// Cancelling ctx terminates the process.
func (s *Supervisor) Run(ctx context.Context, onStart func(pid int), onOutput func(chunk string)) (*Receipt, error) {
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return nil, fmt.Errorf("supervisor for %s already used", s.cmd.Path)
	}
	s.used = true
	if s.terminated {
		s.mu.Unlock()
		return nil, errpkg.ErrProcessTerminated
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := exec.Command(s.cmd.Path, s.cmd.Args...)
	c.Dir = s.cmd.Dir
	if s.cmd.Env != nil {
		c.Env = s.cmd.Env
	}
	configureProcess(c)

	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", errpkg.ErrProcessSpawn, err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", errpkg.ErrProcessSpawn, err)
	}

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errpkg.ErrProcessSpawn, s.cmd.Path, err)
	}

	pid := c.Process.Pid
	s.mu.Lock()
	s.proc = c.Process
	s.session = Session{PID: pid, Running: true}
	killNow := s.terminated
	s.mu.Unlock()

	s.logger.Debug("process started", "path", s.cmd.Path, "pid", pid)
	if killNow {
		s.Terminate()
	}
	if onStart != nil {
		onStart(pid)
	}

	stop := context.AfterFunc(ctx, s.Terminate)
	defer stop()

	var outBuf, errBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go s.pump(&wg, stdout, &outBuf, onOutput)
	go s.pump(&wg, stderr, &errBuf, onOutput)
	wg.Wait()

	waitErr := c.Wait()
	exitCode := c.ProcessState.ExitCode()

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		s.logger.Warn("process wait failed", "pid", pid, "error", waitErr)
	}

	s.mu.Lock()
	s.session.Running = false
	s.session.Exited = true
	s.session.ExitCode = exitCode
	s.mu.Unlock()

	s.logger.Debug("process exited", "pid", pid, "exit_code", exitCode)

	return &Receipt{
		PID:      pid,
		ExitCode: exitCode,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
	}, nil
}

func (s *Supervisor) pump(wg *sync.WaitGroup, r io.Reader, capture *bytes.Buffer, onOutput func(string)) {
	defer wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			s.outputMu.Lock()
			capture.WriteString(chunk)
			if onOutput != nil {
				onOutput(chunk)
			}
			s.outputMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Terminate kills the process. It may be called any number of times, before
// start, while running, or after exit; once the process has exited it does nothing.
func (s *Supervisor) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Exited {
		return
	}
	s.terminated = true
	if s.proc == nil {
		return
	}
	if err := killProcess(s.proc); err != nil {
		s.logger.Debug("terminate signal not delivered", "pid", s.proc.Pid, "error", err)
	}
}

// Terminated reports whether termination was requested before the process exited.
func (s *Supervisor) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// Session returns the current process state.
func (s *Supervisor) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

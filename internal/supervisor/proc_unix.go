//go:build unix

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// The engine runs in its own process group so that helpers it forks die with it.
func configureProcess(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcess(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return p.Kill()
}

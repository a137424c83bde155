//go:build !unix

package supervisor

import (
	"os"
	"os/exec"
)

func configureProcess(c *exec.Cmd) {}

func killProcess(p *os.Process) error {
	return p.Kill()
}

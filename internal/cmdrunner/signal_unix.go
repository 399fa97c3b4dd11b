//go:build !windows

package cmdrunner

import (
	"os"
	"syscall"
)

func terminateGraceful(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

func killForced(p *os.Process) error {
	return p.Kill()
}

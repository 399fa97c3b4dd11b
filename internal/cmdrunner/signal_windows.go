//go:build windows

package cmdrunner

import (
	"os"
	"os/exec"
	"strconv"
)

// terminateGraceful has no portable equivalent of SIGTERM on Windows; the
// process is left for killForced's tree-kill.
func terminateGraceful(p *os.Process) error {
	return nil
}

// killForced uses taskkill's process-tree kill since os.Process.Kill does
// not terminate children spawned by the process itself.
func killForced(p *os.Process) error {
	cmd := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(p.Pid))
	return cmd.Run()
}

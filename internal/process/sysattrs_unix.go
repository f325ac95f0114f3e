//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setDetached puts the child in its own session so that stopping the panel
// does not take the bots down with it.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

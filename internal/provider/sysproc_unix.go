//go:build !windows

package provider

import (
	"os/exec"
	"syscall"
)

// setProcGroup puts the child in its own process group so a timeout kill
// reaches provider-spawned grandchildren too.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcGroup signals the whole process group.
func killProcGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

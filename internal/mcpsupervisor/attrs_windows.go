//go:build windows

package mcpsupervisor

import (
	"os/exec"
	"syscall"
)

const createNoWindow = 0x08000000

func configureStdioAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNoWindow}
}

//go:build !windows

package mcpsupervisor

import "os/exec"

func configureStdioAttrs(cmd *exec.Cmd) {}

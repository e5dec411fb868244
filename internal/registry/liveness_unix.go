//go:build !windows

package registry

import (
	"os"
	"syscall"
)

// processAlive probes pid by sending signal 0, which the kernel validates
// without actually delivering anything.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

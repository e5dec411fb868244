//go:build windows

package registry

import "os"

// processAlive on Windows relies on os.FindProcess itself opening a
// handle to the process; Signal(0) is not supported by the Windows
// implementation of os.Process, so existence is all FindProcess can tell
// us without a direct syscall.
func processAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

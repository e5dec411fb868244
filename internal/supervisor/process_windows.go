//go:build windows

package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
	"unsafe"

	winjob "github.com/kolesnikovae/go-winjob"
	"golang.org/x/sys/windows"
)

// applyEnv prepends libraryPath to PATH after stripping the \\?\ UNC
// prefix (Go's os/exec does not expect it), and sets the process's working
// directory to the normalized directory when it exists, working around
// upstream wide-path handling bugs in some backends.
func applyEnv(cmd *exec.Cmd, libraryPath string) {
	if libraryPath == "" {
		return
	}
	dir := strings.TrimPrefix(libraryPath, `\\?\`)
	cmd.Env = prependPathEnv(cmd.Env, "PATH", dir)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		cmd.Dir = dir
	}
}

// adjustModelPathArg replaces the value following -m with its 8.3 short
// path form, when the OS can produce one, working around wide-path bugs in
// some backend binaries.
func adjustModelPathArg(args []string, modelPath string) []string {
	short, err := shortPathName(modelPath)
	if err != nil || short == "" {
		return args
	}
	out := make([]string, len(args))
	copy(out, args)
	for i, a := range out {
		if a == modelPath {
			out[i] = short
		}
	}
	return out
}

func shortPathName(long string) (string, error) {
	p, err := syscall.UTF16PtrFromString(long)
	if err != nil {
		return "", err
	}
	buf := make([]uint16, 260)
	n, err := getShortPathName(p, &buf[0], uint32(len(buf)))
	if err != nil {
		return "", err
	}
	if n > uint32(len(buf)) {
		buf = make([]uint16, n)
		if _, err := getShortPathName(p, &buf[0], uint32(len(buf))); err != nil {
			return "", err
		}
	}
	return syscall.UTF16ToString(buf), nil
}

var (
	modkernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procGetShortPathName = modkernel32.NewProc("GetShortPathNameW")
)

func getShortPathName(long *uint16, short *uint16, size uint32) (uint32, error) {
	r1, _, err := procGetShortPathName.Call(
		uintptr(unsafe.Pointer(long)),
		uintptr(unsafe.Pointer(short)),
		uintptr(size),
	)
	if r1 == 0 {
		return 0, err
	}
	return uint32(r1), nil
}

// configureProcAttrs sets CREATE_NO_WINDOW and CREATE_NEW_PROCESS_GROUP so
// the backend doesn't pop a console and runs in its own process group.
func configureProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NO_WINDOW | windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// terminateSession creates a job object, assigns the process to it here at
// unload time, and terminates the job; processes the backend started
// before this call are not in the job. Windows has no reliable graceful
// equivalent to SIGTERM for console-less child processes, so this always
// goes straight to a forceful kill.
func terminateSession(sess *Session, done <-chan struct{}) error {
	proc := sess.cmd.Process
	if proc == nil {
		return nil
	}
	job, err := winjob.Create(winjob.WithKillOnJobClose())
	if err != nil {
		if killErr := proc.Kill(); killErr != nil {
			return killErr
		}
		<-done
		return nil
	}
	defer job.Close()

	if err := job.Assign(proc); err != nil {
		if killErr := proc.Kill(); killErr != nil {
			return killErr
		}
		<-done
		return nil
	}
	if err := job.Terminate(1); err != nil {
		return fmt.Errorf("terminating job object for pid %d: %w", proc.Pid, err)
	}

	select {
	case <-done:
	case <-time.After(unloadGracePeriod):
	}
	return nil
}

const unloadGracePeriod = 5 * time.Second
